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

package cursor

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/util/debugbuild"
	"github.com/meerkatdb/meerkatdb/internal/util/resource"
)

// Parts of Prometheus metric names.
const (
	namespace = "meerkatdb"
	subsystem = "cursors"
)

// DefaultIdleTimeout is how long an unused cursor is kept
// before CleanupExpired removes it.
const DefaultIdleTimeout = 10 * time.Minute

// Global last cursor ID.
var lastCursorID atomic.Int64

func init() {
	// to make debugging easier
	if !debugbuild.Enabled {
		lastCursorID.Store(rand.Int63())
	}
}

// Registry stores cursors.
//
//nolint:vet // for readability
type Registry struct {
	rw sync.RWMutex
	m  map[int64]*Cursor

	l *zap.Logger

	created int64 // protected by rw
	expired int64 // protected by rw
}

// NewRegistry creates a new Registry.
func NewRegistry(l *zap.Logger) *Registry {
	return &Registry{
		m: map[int64]*Cursor{},
		l: l,
	}
}

// NewParams represent parameters for NewCursor.
//
//nolint:vet // for readability
type NewParams struct {
	DB         string
	Collection string
	Documents  []bsoncore.Document
	BatchSize  int32
	ConnID     int64
}

// NewCursor creates and stores a new cursor positioned at the first document.
//
// Cursor IDs are non-zero, positive, and unique within the process lifetime.
func (r *Registry) NewCursor(params *NewParams) *Cursor {
	r.rw.Lock()
	defer r.rw.Unlock()

	// sequential IDs after a random start keep collisions with stale client state unlikely
	var id int64
	for id <= 0 || r.m[id] != nil {
		id = lastCursorID.Add(1)
	}

	now := time.Now()

	c := &Cursor{
		ID:         id,
		DB:         params.DB,
		Collection: params.Collection,
		ConnID:     params.ConnID,
		BatchSize:  params.BatchSize,
		docs:       params.Documents,
		created:    now,
		lastUsed:   now,
		token:      resource.NewToken(),
	}
	resource.Track(c, c.token)

	r.m[id] = c
	r.created++

	r.l.Debug(
		"Cursor created",
		zap.Int64("id", id),
		zap.String("db", params.DB),
		zap.String("collection", params.Collection),
		zap.Int("documents", len(params.Documents)),
	)

	return c
}

// Get returns the stored cursor by ID, or nil.
func (r *Registry) Get(id int64) *Cursor {
	r.rw.RLock()
	defer r.rw.RUnlock()

	return r.m[id]
}

// Advance returns up to n documents from the cursor's position and moves the position.
// n values less than one mean all remaining documents.
//
// An exhausted cursor is removed from the registry before Advance returns.
// The second return value is false if no cursor with that ID exists.
func (r *Registry) Advance(id int64, n int) ([]bsoncore.Document, bool) {
	r.rw.Lock()
	defer r.rw.Unlock()

	c := r.m[id]
	if c == nil {
		return nil, false
	}

	c.lastUsed = time.Now()

	rest := len(c.docs) - c.pos
	if n < 1 || n > rest {
		n = rest
	}

	batch := c.docs[c.pos : c.pos+n]
	c.pos += n

	if c.pos == len(c.docs) {
		r.remove(c)
	}

	return batch, true
}

// Close removes the cursor with the given ID.
// It returns false if no such cursor exists.
func (r *Registry) Close(id int64) bool {
	r.rw.Lock()
	defer r.rw.Unlock()

	c := r.m[id]
	if c == nil {
		return false
	}

	r.remove(c)

	return true
}

// CloseAll removes all cursors owned by the given connection
// and returns the number of removed cursors.
func (r *Registry) CloseAll(connID int64) int {
	r.rw.Lock()
	defer r.rw.Unlock()

	var closed int

	for _, c := range r.m {
		if c.ConnID == connID {
			r.remove(c)
			closed++
		}
	}

	return closed
}

// CloseNamespace removes all cursors for the given database,
// or only those for the given collection if it is not empty.
// It returns the number of removed cursors.
func (r *Registry) CloseNamespace(db, collection string) int {
	r.rw.Lock()
	defer r.rw.Unlock()

	var closed int

	for _, c := range r.m {
		if c.DB == db && (collection == "" || c.Collection == collection) {
			r.remove(c)
			closed++
		}
	}

	return closed
}

// CleanupExpired removes cursors that were not used for longer than olderThan
// and returns the number of removed cursors.
func (r *Registry) CleanupExpired(olderThan time.Duration) int {
	r.rw.Lock()
	defer r.rw.Unlock()

	var expired int

	for _, c := range r.m {
		if time.Since(c.lastUsed) > olderThan {
			r.remove(c)
			r.expired++
			expired++
		}
	}

	if expired > 0 {
		r.l.Debug("Expired cursors removed", zap.Int("expired", expired), zap.Int("total", len(r.m)))
	}

	return expired
}

// remove deletes the cursor from the registry.
// The caller must hold the write lock.
func (r *Registry) remove(c *Cursor) {
	delete(r.m, c.ID)
	resource.Untrack(c, c.token)

	r.l.Debug("Cursor removed", zap.Int64("id", c.ID), zap.Int("total", len(r.m)))
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(r, ch)
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.rw.RLock()
	current, created, expired := len(r.m), r.created, r.expired
	r.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "current"),
			"The current number of cursors.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(current),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "created_total"),
			"Total number of created cursors.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(created),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "expired_total"),
			"Total number of cursors removed by the idle cleanup.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(expired),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*Registry)(nil)
)
