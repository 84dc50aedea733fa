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

package memory

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/meerkatdb/meerkatdb/internal/backends"
)

const (
	namespace = "meerkatdb"
	subsystem = "memory"
)

// backend implements backends.Backend interface.
type backend struct {
	l *zap.Logger

	// rw guards dbs and everything reachable from it.
	rw  sync.RWMutex
	dbs map[string]*dbData
}

// NewBackendParams represents the parameters of NewBackend function.
type NewBackendParams struct {
	L *zap.Logger
}

// NewBackend creates a new memory backend.
func NewBackend(params *NewBackendParams) (backends.Backend, error) {
	return backends.BackendContract(&backend{
		l:   params.L,
		dbs: map[string]*dbData{},
	}), nil
}

// Close implements backends.Backend interface.
func (b *backend) Close() {}

// Database implements backends.Backend interface.
func (b *backend) Database(name string) (backends.Database, error) {
	return newDatabase(b, name), nil
}

// ListDatabases implements backends.Backend interface.
func (b *backend) ListDatabases(ctx context.Context, params *backends.ListDatabasesParams) (*backends.ListDatabasesResult, error) {
	b.rw.RLock()
	defer b.rw.RUnlock()

	names := maps.Keys(b.dbs)
	slices.Sort(names)

	res := &backends.ListDatabasesResult{
		Databases: make([]backends.DatabaseInfo, 0, len(names)),
	}

	for _, name := range names {
		var size int64
		for _, coll := range b.dbs[name].colls {
			size += coll.size()
		}

		res.Databases = append(res.Databases, backends.DatabaseInfo{
			Name: name,
			Size: size,
		})
	}

	return res, nil
}

// DropDatabase implements backends.Backend interface.
func (b *backend) DropDatabase(ctx context.Context, params *backends.DropDatabaseParams) error {
	b.rw.Lock()
	defer b.rw.Unlock()

	if _, ok := b.dbs[params.Name]; !ok {
		return backends.NewError(backends.ErrorCodeDatabaseDoesNotExist, nil)
	}

	delete(b.dbs, params.Name)

	b.l.Debug("Database dropped", zap.String("db", params.Name))

	return nil
}

// Describe implements prometheus.Collector.
func (b *backend) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(b, ch)
}

// Collect implements prometheus.Collector.
func (b *backend) Collect(ch chan<- prometheus.Metric) {
	b.rw.RLock()
	defer b.rw.RUnlock()

	var colls, docs int
	for _, db := range b.dbs {
		colls += len(db.colls)

		for _, coll := range db.colls {
			docs += len(coll.docs)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "databases"),
			"The current number of databases.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(b.dbs)),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "collections"),
			"The current number of collections in all databases.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(colls),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "documents"),
			"The current number of documents in all collections.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(docs),
	)
}

// check interfaces
var (
	_ backends.Backend = (*backend)(nil)
)
