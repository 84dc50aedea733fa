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

package backends

import (
	"context"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/observability"
)

// Collection is a generic interface for all backends for accessing collections.
//
// Collection object is expected to be stateless and temporary;
// all state should be in the Backend that created Database instance that created this Collection instance.
// Handler can create and destroy Collection objects on the fly.
// Creating a Collection object does not imply the creation of the collection itself.
//
// Collection methods should be thread-safe.
//
// See collectionContract and its methods for additional details.
type Collection interface {
	Query(context.Context, *QueryParams) (*QueryResult, error)
	InsertAll(context.Context, *InsertAllParams) (*InsertAllResult, error)
	UpdateAll(context.Context, *UpdateAllParams) (*UpdateAllResult, error)
	DeleteAll(context.Context, *DeleteAllParams) (*DeleteAllResult, error)

	Count(context.Context, *CountParams) (*CountResult, error)
	Distinct(context.Context, *DistinctParams) (*DistinctResult, error)
	Aggregate(context.Context, *AggregateParams) (*AggregateResult, error)

	Stats(context.Context, *CollectionStatsParams) (*CollectionStatsResult, error)

	ListIndexes(context.Context, *ListIndexesParams) (*ListIndexesResult, error)
	CreateIndexes(context.Context, *CreateIndexesParams) (*CreateIndexesResult, error)
	DropIndexes(context.Context, *DropIndexesParams) (*DropIndexesResult, error)
}

// collectionContract implements Collection interface.
type collectionContract struct {
	c Collection
}

// CollectionContract wraps Collection and enforces its contract.
//
// All backend implementations should use that function when they create new Collection instances.
// The handler should not use that function.
//
// See collectionContract and its methods for additional details.
func CollectionContract(c Collection) Collection {
	return &collectionContract{
		c: c,
	}
}

// QueryParams represents the parameters of Collection.Query method.
//
// Filter, Sort, and Projection may be nil or empty documents; both mean "no-op".
type QueryParams struct {
	Filter     bsoncore.Document
	Sort       bsoncore.Document
	Projection bsoncore.Document
	Skip       int64
	Limit      int64
}

// QueryResult represents the results of Collection.Query method.
type QueryResult struct {
	Docs []bsoncore.Document
}

// Query returns documents matching the given parameters,
// filtered, sorted, skipped, limited, and projected in that order.
//
// If the database or collection does not exist, the result is valid and empty.
func (cc *collectionContract) Query(ctx context.Context, params *QueryParams) (*QueryResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Query(ctx, params)
	checkError(err, ErrorCodeUnsupportedOperation)

	return res, err
}

// InsertAllParams represents the parameters of Collection.InsertAll method.
type InsertAllParams struct {
	Docs []bsoncore.Document
}

// InsertAllResult represents the results of Collection.InsertAll method.
type InsertAllResult struct{}

// InsertAll inserts all documents into the collection one by one, stopping at the first error.
// Inserted documents are not rolled back in that case.
//
// All documents are expected to be valid and have _id fields set by the caller.
// Both database and collection are created automatically if needed.
//
// If a document's _id collides with an existing one,
// an error with ErrorCodeInsertDuplicateID is returned,
// and its argument is the int32 index of the failed document in Docs.
func (cc *collectionContract) InsertAll(ctx context.Context, params *InsertAllParams) (*InsertAllResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.InsertAll(ctx, params)
	checkError(err, ErrorCodeInsertDuplicateID)

	return res, err
}

// UpdateAllParams represents the parameters of Collection.UpdateAll method.
//
// Update is either a replacement document (no keys start with '$')
// or a document of update operators (all keys start with '$'); the caller ensures that.
type UpdateAllParams struct {
	Filter bsoncore.Document
	Update bsoncore.Document
	Multi  bool
	Upsert bool
}

// UpdateAllResult represents the results of Collection.UpdateAll method.
//
// UpsertedID is set (has a non-zero type) only if a document was inserted.
type UpdateAllResult struct {
	Matched    int32
	Modified   int32
	UpsertedID bsoncore.Value
}

// UpdateAll updates documents matching the filter; one call handles one update statement.
//
// Without Multi, at most one matching document is updated.
// With Upsert, a new document is built and inserted when nothing matches;
// both database and collection are created automatically in that case.
func (cc *collectionContract) UpdateAll(ctx context.Context, params *UpdateAllParams) (*UpdateAllResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.UpdateAll(ctx, params)
	checkError(err, ErrorCodeUnsupportedOperation, ErrorCodeInsertDuplicateID)

	return res, err
}

// DeleteAllParams represents the parameters of Collection.DeleteAll method.
//
// Limit must be 0 (delete all matching documents) or 1 (delete at most one).
type DeleteAllParams struct {
	Filter bsoncore.Document
	Limit  int64
}

// DeleteAllResult represents the results of Collection.DeleteAll method.
type DeleteAllResult struct {
	Deleted int32
}

// DeleteAll deletes documents matching the filter; one call handles one delete statement.
//
// If the database or collection does not exist, the result is valid and reports zero deletions.
func (cc *collectionContract) DeleteAll(ctx context.Context, params *DeleteAllParams) (*DeleteAllResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.DeleteAll(ctx, params)
	checkError(err, ErrorCodeUnsupportedOperation)

	return res, err
}

// CountParams represents the parameters of Collection.Count method.
type CountParams struct {
	Filter bsoncore.Document
}

// CountResult represents the results of Collection.Count method.
type CountResult struct {
	Count int64
}

// Count returns the number of documents matching the filter.
//
// If the database or collection does not exist, the result is valid and zero.
func (cc *collectionContract) Count(ctx context.Context, params *CountParams) (*CountResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Count(ctx, params)
	checkError(err, ErrorCodeUnsupportedOperation)

	return res, err
}

// DistinctParams represents the parameters of Collection.Distinct method.
type DistinctParams struct {
	Key    string
	Filter bsoncore.Document
}

// DistinctResult represents the results of Collection.Distinct method.
//
// Values are unique and sorted.
type DistinctResult struct {
	Values []bsoncore.Value
}

// Distinct returns unique values of the given key in documents matching the filter.
//
// Array values are unwound: each array element is considered separately.
// If the database or collection does not exist, the result is valid and empty.
func (cc *collectionContract) Distinct(ctx context.Context, params *DistinctParams) (*DistinctResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Distinct(ctx, params)
	checkError(err, ErrorCodeUnsupportedOperation)

	return res, err
}

// AggregateParams represents the parameters of Collection.Aggregate method.
type AggregateParams struct {
	Pipeline []bsoncore.Document
}

// AggregateResult represents the results of Collection.Aggregate method.
type AggregateResult struct {
	Docs []bsoncore.Document
}

// Aggregate passes documents through the given pipeline of stages.
//
// If the database or collection does not exist, stages run over an empty set of documents.
func (cc *collectionContract) Aggregate(ctx context.Context, params *AggregateParams) (*AggregateResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Aggregate(ctx, params)
	checkError(err, ErrorCodeUnsupportedOperation)

	return res, err
}

// CollectionStatsParams represents the parameters of Collection.Stats method.
type CollectionStatsParams struct{}

// CollectionStatsResult represents the results of Collection.Stats method.
type CollectionStatsResult struct {
	CountDocuments int64
	SizeTotal      int64
}

// Stats returns statistics about the existing collection.
func (cc *collectionContract) Stats(ctx context.Context, params *CollectionStatsParams) (*CollectionStatsResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Stats(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist)

	return res, err
}

// IndexInfo represents information about a single index.
type IndexInfo struct {
	Name   string
	Key    []IndexKeyPair
	Unique bool
}

// IndexKeyPair consists of a field name and a sort order that are part of the index.
type IndexKeyPair struct {
	Field      string
	Descending bool
}

// ListIndexesParams represents the parameters of Collection.ListIndexes method.
type ListIndexesParams struct{}

// ListIndexesResult represents the results of Collection.ListIndexes method.
//
// Indexes are sorted by name.
type ListIndexesResult struct {
	Indexes []IndexInfo
}

// ListIndexes returns information about indexes in the existing collection.
func (cc *collectionContract) ListIndexes(ctx context.Context, params *ListIndexesParams) (*ListIndexesResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.ListIndexes(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist)

	return res, err
}

// CreateIndexesParams represents the parameters of Collection.CreateIndexes method.
type CreateIndexesParams struct {
	Indexes []IndexInfo
}

// CreateIndexesResult represents the results of Collection.CreateIndexes method.
type CreateIndexesResult struct{}

// CreateIndexes creates the given indexes; none of them should already exist under that name.
//
// The caller resolves indexes that already exist with the same name and key
// (those should not be passed at all) and conflicting definitions.
// Both database and collection are created automatically if needed.
func (cc *collectionContract) CreateIndexes(ctx context.Context, params *CreateIndexesParams) (*CreateIndexesResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.CreateIndexes(ctx, params)
	checkError(err, ErrorCodeIndexAlreadyExists)

	return res, err
}

// DropIndexesParams represents the parameters of Collection.DropIndexes method.
//
// Indexes are index names; the caller resolves key documents and "*" into names
// and never passes the _id_ index.
type DropIndexesParams struct {
	Indexes []string
}

// DropIndexesResult represents the results of Collection.DropIndexes method.
type DropIndexesResult struct{}

// DropIndexes drops the given existing indexes in the existing collection, stopping at the first error.
// Dropped indexes are not restored in that case.
func (cc *collectionContract) DropIndexes(ctx context.Context, params *DropIndexesParams) (*DropIndexesResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.DropIndexes(ctx, params)
	checkError(err, ErrorCodeCollectionDoesNotExist, ErrorCodeIndexDoesNotExist)

	return res, err
}

// check interfaces
var (
	_ Collection = (*collectionContract)(nil)
)
