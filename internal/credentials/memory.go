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

package credentials

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"
)

// memory is the in-process credential store used by default and in tests.
type memory struct {
	rw    sync.RWMutex
	creds map[memoryKey]Credential
}

// memoryKey identifies a user within an authentication database.
type memoryKey struct {
	username string
	authDB   string
}

// NewMemory creates an empty in-memory credential store.
func NewMemory() Provider {
	return &memory{
		creds: make(map[memoryKey]Credential),
	}
}

// Lookup implements the Provider interface.
func (m *memory) Lookup(ctx context.Context, username, authDB string) (*Credential, error) {
	m.rw.RLock()
	defer m.rw.RUnlock()

	cred, ok := m.creds[memoryKey{username: username, authDB: authDB}]
	if !ok {
		return nil, ErrNotFound
	}

	return copyCredential(&cred), nil
}

// Store implements the Provider interface.
func (m *memory) Store(ctx context.Context, cred *Credential) error {
	m.rw.Lock()
	defer m.rw.Unlock()

	key := memoryKey{username: cred.Username, authDB: cred.AuthDB}
	if _, ok := m.creds[key]; ok {
		return ErrAlreadyExists
	}

	m.creds[key] = *copyCredential(cred)

	return nil
}

// Delete implements the Provider interface.
func (m *memory) Delete(ctx context.Context, username, authDB string) error {
	m.rw.Lock()
	defer m.rw.Unlock()

	key := memoryKey{username: username, authDB: authDB}
	if _, ok := m.creds[key]; !ok {
		return ErrNotFound
	}

	delete(m.creds, key)

	return nil
}

// List implements the Provider interface.
func (m *memory) List(ctx context.Context, authDB string) ([]string, error) {
	m.rw.RLock()
	defer m.rw.RUnlock()

	res := make([]string, 0, len(m.creds))

	for key := range m.creds {
		if key.authDB == authDB {
			res = append(res, key.username)
		}
	}

	slices.Sort(res)

	return res, nil
}

// Close implements the Provider interface.
func (m *memory) Close() {}

// Describe implements prometheus.Collector.
func (m *memory) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

// Collect implements prometheus.Collector.
func (m *memory) Collect(ch chan<- prometheus.Metric) {
	m.rw.RLock()
	defer m.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "users"),
			"The current number of stored credentials.",
			nil, prometheus.Labels{"store": "memory"},
		),
		prometheus.GaugeValue,
		float64(len(m.creds)),
	)
}

// copyCredential returns a deep copy that does not alias the key slices.
func copyCredential(cred *Credential) *Credential {
	c := *cred
	c.StoredKey = slices.Clone(cred.StoredKey)
	c.ServerKey = slices.Clone(cred.ServerKey)
	c.Salt = slices.Clone(cred.Salt)

	return &c
}

// check interfaces
var (
	_ Provider = (*memory)(nil)
)
