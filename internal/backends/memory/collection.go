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
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"golang.org/x/exp/slices"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/observability"
)

// collection implements backends.Collection.
//
// Collection objects are stateless: all state lives in the backend,
// so the database and collection may appear and disappear between calls.
type collection struct {
	b      *backend
	dbName string
	name   string
}

// newCollection creates a new Collection.
func newCollection(b *backend, dbName, name string) backends.Collection {
	return backends.CollectionContract(&collection{
		b:      b,
		dbName: dbName,
		name:   name,
	})
}

// lookup returns the collection data, or nil if the database or collection does not exist.
// The caller must hold the backend lock.
func (c *collection) lookup() *collData {
	db := c.b.dbs[c.dbName]
	if db == nil {
		return nil
	}

	return db.colls[c.name]
}

// create returns the collection data, creating the database and collection as needed.
// The caller must hold the backend lock for writing.
func (c *collection) create() *collData {
	db := c.b.dbs[c.dbName]
	if db == nil {
		db = &dbData{colls: map[string]*collData{}}
		c.b.dbs[c.dbName] = db
	}

	data := db.colls[c.name]
	if data == nil {
		data = newCollData()
		db.colls[c.name] = data
	}

	return data
}

// Query implements backends.Collection interface.
func (c *collection) Query(ctx context.Context, params *backends.QueryParams) (*backends.QueryResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.RLock()
	defer c.b.rw.RUnlock()

	data := c.lookup()
	if data == nil {
		return new(backends.QueryResult), nil
	}

	docs, err := filterDocuments(data.docs, params.Filter)
	if err != nil {
		return nil, err
	}

	if len(params.Sort) > 0 {
		keys, err := parseSort(params.Sort)
		if err != nil {
			return nil, err
		}

		// the stored slice must keep its insertion order
		docs = slices.Clone(docs)
		sortDocuments(docs, keys)
	}

	docs = skipLimit(docs, params.Skip, params.Limit)

	if len(params.Projection) > 0 {
		projected := make([]bsoncore.Document, len(docs))

		for i, doc := range docs {
			if projected[i], err = projectDocument(doc, params.Projection); err != nil {
				return nil, err
			}
		}

		docs = projected
	}

	return &backends.QueryResult{Docs: docs}, nil
}

// skipLimit applies skip and limit to the documents; limit 0 means no limit.
func skipLimit(docs []bsoncore.Document, skip, limit int64) []bsoncore.Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}

		docs = docs[skip:]
	}

	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}

	return docs
}

// InsertAll implements backends.Collection interface.
func (c *collection) InsertAll(ctx context.Context, params *backends.InsertAllParams) (*backends.InsertAllResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.Lock()
	defer c.b.rw.Unlock()

	data := c.create()

	for i, doc := range params.Docs {
		// rebuilding also copies the bytes, so whole wire buffers are not kept alive
		doc, id, err := ensureID(doc)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		key := valueKey(id)

		if _, ok := data.ids[key]; ok {
			err := fmt.Errorf("duplicate _id value %s", id.String())
			return nil, backends.NewErrorWithArgument(backends.ErrorCodeInsertDuplicateID, err, int32(i))
		}

		data.ids[key] = struct{}{}
		data.docs = append(data.docs, doc)
	}

	return new(backends.InsertAllResult), nil
}

// UpdateAll implements backends.Collection interface.
func (c *collection) UpdateAll(ctx context.Context, params *backends.UpdateAllParams) (*backends.UpdateAllResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.Lock()
	defer c.b.rw.Unlock()

	var res backends.UpdateAllResult

	if data := c.lookup(); data != nil {
		for i, doc := range data.docs {
			matches, err := matchDocument(doc, params.Filter)
			if err != nil {
				return nil, err
			}

			if !matches {
				continue
			}

			res.Matched++

			updated, err := applyUpdate(doc, params.Update)
			if err != nil {
				return nil, err
			}

			if !bytes.Equal(doc, updated) {
				data.docs[i] = updated
				res.Modified++
			}

			if !params.Multi {
				break
			}
		}
	}

	if res.Matched == 0 && params.Upsert {
		doc, id, err := buildUpsert(params.Filter, params.Update)
		if err != nil {
			return nil, err
		}

		data := c.create()

		key := valueKey(id)

		if _, ok := data.ids[key]; ok {
			err := fmt.Errorf("duplicate _id value %s", id.String())
			return nil, backends.NewErrorWithArgument(backends.ErrorCodeInsertDuplicateID, err, id)
		}

		data.ids[key] = struct{}{}
		data.docs = append(data.docs, doc)

		res.UpsertedID = id
	}

	return &res, nil
}

// DeleteAll implements backends.Collection interface.
func (c *collection) DeleteAll(ctx context.Context, params *backends.DeleteAllParams) (*backends.DeleteAllResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.Lock()
	defer c.b.rw.Unlock()

	var res backends.DeleteAllResult

	data := c.lookup()
	if data == nil {
		return &res, nil
	}

	kept := make([]bsoncore.Document, 0, len(data.docs))

	// collected first so an error leaves the collection unchanged
	var deleted []string

	for _, doc := range data.docs {
		if params.Limit > 0 && int64(res.Deleted) >= params.Limit {
			kept = append(kept, doc)
			continue
		}

		matches, err := matchDocument(doc, params.Filter)
		if err != nil {
			return nil, err
		}

		if !matches {
			kept = append(kept, doc)
			continue
		}

		if id, err := doc.LookupErr("_id"); err == nil {
			deleted = append(deleted, valueKey(id))
		}

		res.Deleted++
	}

	data.docs = kept

	for _, key := range deleted {
		delete(data.ids, key)
	}

	return &res, nil
}

// Count implements backends.Collection interface.
func (c *collection) Count(ctx context.Context, params *backends.CountParams) (*backends.CountResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.RLock()
	defer c.b.rw.RUnlock()

	var res backends.CountResult

	data := c.lookup()
	if data == nil {
		return &res, nil
	}

	docs, err := filterDocuments(data.docs, params.Filter)
	if err != nil {
		return nil, err
	}

	res.Count = int64(len(docs))

	return &res, nil
}

// Distinct implements backends.Collection interface.
func (c *collection) Distinct(ctx context.Context, params *backends.DistinctParams) (*backends.DistinctResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.RLock()
	defer c.b.rw.RUnlock()

	var res backends.DistinctResult

	data := c.lookup()
	if data == nil {
		return &res, nil
	}

	docs, err := filterDocuments(data.docs, params.Filter)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}

	for _, doc := range docs {
		for _, v := range lookupPathValues(doc, params.Key) {
			vals := []bsoncore.Value{v}

			// arrays contribute their elements, not themselves
			if arr, ok := v.ArrayOK(); ok {
				if elems, err := bsoncore.Document(arr).Values(); err == nil {
					vals = elems
				}
			}

			for _, val := range vals {
				key := valueKey(val)

				if _, ok := seen[key]; ok {
					continue
				}

				seen[key] = struct{}{}
				res.Values = append(res.Values, val)
			}
		}
	}

	slices.SortFunc(res.Values, compareValues)

	return &res, nil
}

// Aggregate implements backends.Collection interface.
func (c *collection) Aggregate(ctx context.Context, params *backends.AggregateParams) (*backends.AggregateResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.RLock()
	defer c.b.rw.RUnlock()

	var docs []bsoncore.Document

	if data := c.lookup(); data != nil {
		// stages sort and replace documents in place, so they get their own slice
		docs = slices.Clone(data.docs)
	}

	docs, err := runPipeline(docs, params.Pipeline)
	if err != nil {
		return nil, err
	}

	return &backends.AggregateResult{Docs: docs}, nil
}

// Stats implements backends.Collection interface.
func (c *collection) Stats(ctx context.Context, params *backends.CollectionStatsParams) (*backends.CollectionStatsResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.RLock()
	defer c.b.rw.RUnlock()

	data := c.lookup()
	if data == nil {
		return nil, backends.NewError(backends.ErrorCodeCollectionDoesNotExist, nil)
	}

	return &backends.CollectionStatsResult{
		CountDocuments: int64(len(data.docs)),
		SizeTotal:      data.size(),
	}, nil
}

// ListIndexes implements backends.Collection interface.
func (c *collection) ListIndexes(ctx context.Context, params *backends.ListIndexesParams) (*backends.ListIndexesResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.RLock()
	defer c.b.rw.RUnlock()

	data := c.lookup()
	if data == nil {
		return nil, backends.NewError(backends.ErrorCodeCollectionDoesNotExist, nil)
	}

	res := backends.ListIndexesResult{
		Indexes: slices.Clone(data.indexes),
	}

	slices.SortFunc(res.Indexes, func(a, b backends.IndexInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	return &res, nil
}

// CreateIndexes implements backends.Collection interface.
func (c *collection) CreateIndexes(ctx context.Context, params *backends.CreateIndexesParams) (*backends.CreateIndexesResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.Lock()
	defer c.b.rw.Unlock()

	data := c.create()

	for _, index := range params.Indexes {
		index := index

		exists := slices.ContainsFunc(data.indexes, func(i backends.IndexInfo) bool {
			return i.Name == index.Name
		})
		if exists {
			return nil, backends.NewError(
				backends.ErrorCodeIndexAlreadyExists,
				fmt.Errorf("index %q already exists", index.Name),
			)
		}

		data.indexes = append(data.indexes, index)
	}

	return new(backends.CreateIndexesResult), nil
}

// DropIndexes implements backends.Collection interface.
func (c *collection) DropIndexes(ctx context.Context, params *backends.DropIndexesParams) (*backends.DropIndexesResult, error) {
	defer observability.FuncCall(ctx)()

	c.b.rw.Lock()
	defer c.b.rw.Unlock()

	data := c.lookup()
	if data == nil {
		return nil, backends.NewError(backends.ErrorCodeCollectionDoesNotExist, nil)
	}

	for _, name := range params.Indexes {
		name := name

		i := slices.IndexFunc(data.indexes, func(index backends.IndexInfo) bool {
			return index.Name == name
		})
		if i < 0 {
			return nil, backends.NewError(
				backends.ErrorCodeIndexDoesNotExist,
				fmt.Errorf("index %q does not exist", name),
			)
		}

		data.indexes = slices.Delete(data.indexes, i, i+1)
	}

	return new(backends.DropIndexesResult), nil
}

// check interfaces
var (
	_ backends.Collection = (*collection)(nil)
)
