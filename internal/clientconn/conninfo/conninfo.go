// Copyright 2023 MeerkatDB Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package conninfo provides access to connection-specific information.
package conninfo

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/meerkatdb/meerkatdb/internal/util/resource"
)

// lastID is the ID of the most recently created ConnInfo.
var lastID atomic.Int64

// ConnInfo represents client connection information.
//
// It is mutable and safe for concurrent use.
type ConnInfo struct {
	ID   int64          // unique for the lifetime of the process
	Peer netip.AddrPort // invalid for Unix domain sockets

	token *resource.Token

	rw            sync.RWMutex
	username      string // protected by rw
	authDB        string // protected by rw
	authenticated bool   // protected by rw
	conv          int32  // protected by rw
	metadataRecv  bool   // protected by rw
}

// New creates a new ConnInfo with a process-unique ID.
func New() *ConnInfo {
	connInfo := &ConnInfo{
		ID:    lastID.Add(1),
		token: resource.NewToken(),
	}
	resource.Track(connInfo, connInfo.token)

	return connInfo
}

// Close frees resources.
func (ci *ConnInfo) Close() {
	resource.Untrack(ci, ci.token)
}

// Auth returns the authenticated username and authentication database.
// Both are empty until SetAuth is called.
func (ci *ConnInfo) Auth() (username, authDB string) {
	ci.rw.RLock()
	defer ci.rw.RUnlock()

	return ci.username, ci.authDB
}

// Authenticated reports whether the connection completed authentication.
func (ci *ConnInfo) Authenticated() bool {
	ci.rw.RLock()
	defer ci.rw.RUnlock()

	return ci.authenticated
}

// SetAuth marks the connection as authenticated
// for the given username and authentication database.
func (ci *ConnInfo) SetAuth(username, authDB string) {
	ci.rw.Lock()
	defer ci.rw.Unlock()

	ci.username = username
	ci.authDB = authDB
	ci.authenticated = true
}

// Logout clears the authentication state.
func (ci *ConnInfo) Logout() {
	ci.rw.Lock()
	defer ci.rw.Unlock()

	ci.username = ""
	ci.authDB = ""
	ci.authenticated = false
}

// Conv returns the ID of the SCRAM conversation in progress, or zero.
func (ci *ConnInfo) Conv() int32 {
	ci.rw.RLock()
	defer ci.rw.RUnlock()

	return ci.conv
}

// SetConv stores the ID of the SCRAM conversation in progress.
// Zero clears it.
func (ci *ConnInfo) SetConv(id int32) {
	ci.rw.Lock()
	defer ci.rw.Unlock()

	ci.conv = id
}

// MetadataRecv reports whether client metadata was received already.
func (ci *ConnInfo) MetadataRecv() bool {
	ci.rw.RLock()
	defer ci.rw.RUnlock()

	return ci.metadataRecv
}

// SetMetadataRecv marks client metadata as received.
func (ci *ConnInfo) SetMetadataRecv() {
	ci.rw.Lock()
	defer ci.rw.Unlock()

	ci.metadataRecv = true
}
