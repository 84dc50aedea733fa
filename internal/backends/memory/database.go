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

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/meerkatdb/meerkatdb/internal/backends"
)

// database implements backends.Database interface.
type database struct {
	b    *backend
	name string
}

// newDatabase creates a new Database.
func newDatabase(b *backend, name string) backends.Database {
	return backends.DatabaseContract(&database{
		b:    b,
		name: name,
	})
}

// Collection implements backends.Database interface.
func (db *database) Collection(name string) (backends.Collection, error) {
	return newCollection(db.b, db.name, name), nil
}

// ListCollections implements backends.Database interface.
func (db *database) ListCollections(ctx context.Context, params *backends.ListCollectionsParams) (*backends.ListCollectionsResult, error) {
	db.b.rw.RLock()
	defer db.b.rw.RUnlock()

	res := new(backends.ListCollectionsResult)

	d := db.b.dbs[db.name]
	if d == nil {
		return res, nil
	}

	names := maps.Keys(d.colls)
	slices.Sort(names)

	res.Collections = make([]backends.CollectionInfo, 0, len(names))
	for _, name := range names {
		res.Collections = append(res.Collections, backends.CollectionInfo{Name: name})
	}

	return res, nil
}

// CreateCollection implements backends.Database interface.
func (db *database) CreateCollection(ctx context.Context, params *backends.CreateCollectionParams) error {
	db.b.rw.Lock()
	defer db.b.rw.Unlock()

	d := db.b.dbs[db.name]
	if d == nil {
		d = &dbData{colls: map[string]*collData{}}
		db.b.dbs[db.name] = d
	}

	if _, ok := d.colls[params.Name]; ok {
		return backends.NewError(backends.ErrorCodeCollectionAlreadyExists, nil)
	}

	d.colls[params.Name] = newCollData()

	return nil
}

// DropCollection implements backends.Database interface.
func (db *database) DropCollection(ctx context.Context, params *backends.DropCollectionParams) error {
	db.b.rw.Lock()
	defer db.b.rw.Unlock()

	d := db.b.dbs[db.name]
	if d == nil {
		return backends.NewError(backends.ErrorCodeCollectionDoesNotExist, nil)
	}

	if _, ok := d.colls[params.Name]; !ok {
		return backends.NewError(backends.ErrorCodeCollectionDoesNotExist, nil)
	}

	delete(d.colls, params.Name)

	// the database itself is gone once its last collection is dropped
	if len(d.colls) == 0 {
		delete(db.b.dbs, db.name)
	}

	return nil
}

// Stats implements backends.Database interface.
func (db *database) Stats(ctx context.Context, params *backends.DatabaseStatsParams) (*backends.DatabaseStatsResult, error) {
	db.b.rw.RLock()
	defer db.b.rw.RUnlock()

	d := db.b.dbs[db.name]
	if d == nil {
		return nil, backends.NewError(backends.ErrorCodeDatabaseDoesNotExist, nil)
	}

	res := &backends.DatabaseStatsResult{
		CountCollections: int64(len(d.colls)),
	}

	for _, coll := range d.colls {
		res.CountDocuments += int64(len(coll.docs))
		res.SizeTotal += coll.size()
	}

	return res, nil
}

// check interfaces
var (
	_ backends.Database = (*database)(nil)
)
