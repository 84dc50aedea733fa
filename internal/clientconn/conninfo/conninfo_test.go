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

package conninfo

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtx(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		peer netip.AddrPort
	}{
		"InvalidPeer": {},
		"ValidPeer": {
			peer: netip.MustParseAddrPort("127.0.0.8:1234"),
		},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			connInfo := New()
			t.Cleanup(connInfo.Close)

			connInfo.Peer = tc.peer

			ctx := Ctx(context.Background(), connInfo)
			actual := Get(ctx)
			assert.Same(t, connInfo, actual)
		})
	}

	// if context is not set or something wrong is set in context, Get panics
	for name, tc := range map[string]struct {
		ctx context.Context
	}{
		"EmptyContext": {
			ctx: context.Background(),
		},
		"WrongValueType": {
			ctx: context.WithValue(context.Background(), connInfoKey, "wrong value type"),
		},
		"NilValue": {
			ctx: context.WithValue(context.Background(), connInfoKey, nil),
		},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Panics(t, func() {
				Get(tc.ctx)
			})
		})
	}
}

func TestAuthState(t *testing.T) {
	t.Parallel()

	connInfo := New()
	t.Cleanup(connInfo.Close)

	require.False(t, connInfo.Authenticated())

	username, authDB := connInfo.Auth()
	assert.Empty(t, username)
	assert.Empty(t, authDB)

	connInfo.SetConv(42)
	assert.Equal(t, int32(42), connInfo.Conv())

	connInfo.SetAuth("meerkat", "admin")
	connInfo.SetConv(0)

	require.True(t, connInfo.Authenticated())
	assert.Zero(t, connInfo.Conv())

	username, authDB = connInfo.Auth()
	assert.Equal(t, "meerkat", username)
	assert.Equal(t, "admin", authDB)

	connInfo.Logout()

	require.False(t, connInfo.Authenticated())

	username, authDB = connInfo.Auth()
	assert.Empty(t, username)
	assert.Empty(t, authDB)
}

func TestMetadataRecv(t *testing.T) {
	t.Parallel()

	connInfo := New()
	t.Cleanup(connInfo.Close)

	require.False(t, connInfo.MetadataRecv())

	connInfo.SetMetadataRecv()

	require.True(t, connInfo.MetadataRecv())
}
