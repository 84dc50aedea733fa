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

package handler

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgCreateIndexes implements `createIndexes` command.
func (h *Handler) MsgCreateIndexes(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "createIndexes")
	if err != nil {
		return nil, err
	}

	specs, err := getDocumentsParam(document, "indexes")
	if err != nil {
		return nil, err
	}

	if len(specs) == 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"Must specify at least one index to create",
			"indexes",
		)
	}

	requested := make([]backends.IndexInfo, len(specs))

	for i, spec := range specs {
		index, err := indexFromSpec(spec)
		if err != nil {
			return nil, err
		}

		requested[i] = *index
	}

	var existing []backends.IndexInfo

	createdCollection := false
	numIndexesBefore := int32(1) // the implicit _id_ index of a collection created by this command

	list, err := coll.ListIndexes(ctx, new(backends.ListIndexesParams))

	switch {
	case err == nil:
		existing = list.Indexes
		numIndexesBefore = int32(len(existing))

	case backends.ErrorCodeIs(err, backends.ErrorCodeCollectionDoesNotExist):
		createdCollection = true

	default:
		return nil, backendError(err, dbName, collName)
	}

	var toCreate []backends.IndexInfo

	for _, index := range requested {
		conflict, exists := resolveIndex(existing, &index)
		if conflict != nil {
			return nil, conflict
		}

		if exists {
			continue
		}

		// duplicates within one request
		duplicate := slices.ContainsFunc(toCreate, func(other backends.IndexInfo) bool {
			return other.Name == index.Name || slices.Equal(other.Key, index.Key)
		})
		if duplicate {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrIndexKeySpecsConflict,
				fmt.Sprintf("Identical index specified more than once: %s", index.Name),
				"indexes",
			)
		}

		toCreate = append(toCreate, index)
	}

	if len(toCreate) > 0 {
		if _, err = coll.CreateIndexes(ctx, &backends.CreateIndexesParams{Indexes: toCreate}); err != nil {
			if backends.ErrorCodeIs(err, backends.ErrorCodeIndexAlreadyExists) {
				return nil, handlererrors.NewCommandErrorMsgWithArgument(
					handlererrors.ErrIndexKeySpecsConflict,
					"An index with the same name already exists",
					"indexes",
				)
			}

			return nil, backendError(err, dbName, collName)
		}
	}

	rb := bsoncore.NewDocumentBuilder().
		AppendInt32("numIndexesBefore", numIndexesBefore).
		AppendInt32("numIndexesAfter", numIndexesBefore+int32(len(toCreate)))

	if createdCollection {
		rb.AppendBoolean("createdCollectionAutomatically", true)
	}

	if len(toCreate) == 0 {
		rb.AppendString("note", "all indexes already exist")
	}

	rb.AppendDouble("ok", 1)

	return wire.NewOpMsg(rb.Build())
}

// indexFromSpec converts a single createIndexes specification document into an index definition.
// A missing name is generated from the key pattern the way drivers do.
func indexFromSpec(spec bsoncore.Document) (*backends.IndexInfo, error) {
	key, err := getRequiredParam[bsoncore.Document](spec, "key")
	if err != nil {
		return nil, err
	}

	pairs, err := indexKeyPairs(key)
	if err != nil {
		return nil, err
	}

	if len(pairs) == 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrCannotCreateIndex,
			"Must specify at least one field for the index key",
			"key",
		)
	}

	generated := make([]string, 0, 2*len(pairs))
	for _, pair := range pairs {
		direction := "1"
		if pair.Descending {
			direction = "-1"
		}

		generated = append(generated, pair.Field, direction)
	}

	name, err := getOptionalParam(spec, "name", strings.Join(generated, "_"))
	if err != nil {
		return nil, err
	}

	if name == "" {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrCannotCreateIndex,
			"The index name cannot be empty",
			"name",
		)
	}

	unique, err := getOptionalParam(spec, "unique", false)
	if err != nil {
		return nil, err
	}

	return &backends.IndexInfo{
		Name:   name,
		Key:    pairs,
		Unique: unique,
	}, nil
}

// indexKeyPairs converts a {field: direction} key pattern into index key pairs.
func indexKeyPairs(key bsoncore.Document) ([]backends.IndexKeyPair, error) {
	elements, err := key.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	pairs := make([]backends.IndexKeyPair, len(elements))

	for i, e := range elements {
		field, err := e.KeyErr()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		var direction int64

		switch v := e.Value(); v.Type {
		case bsontype.Double:
			direction = int64(v.Double())
		case bsontype.Int32:
			direction = int64(v.Int32())
		case bsontype.Int64:
			direction = v.Int64()
		default:
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrCannotCreateIndex,
				fmt.Sprintf("Values in the index key pattern must be 1 or -1; found %s: %s", field, aliasType(v.Type)),
				"key",
			)
		}

		if direction != 1 && direction != -1 {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrCannotCreateIndex,
				fmt.Sprintf("Values in the index key pattern must be 1 or -1; found %s: %s", field, strconv.FormatInt(direction, 10)),
				"key",
			)
		}

		pairs[i] = backends.IndexKeyPair{
			Field:      field,
			Descending: direction == -1,
		}
	}

	return pairs, nil
}

// resolveIndex compares a requested index against existing ones.
// It reports whether an identical index already exists,
// or returns an error for a conflicting definition.
func resolveIndex(existing []backends.IndexInfo, index *backends.IndexInfo) (error, bool) {
	for i := range existing {
		sameName := existing[i].Name == index.Name
		sameKey := slices.Equal(existing[i].Key, index.Key)

		switch {
		case sameName && sameKey:
			return nil, true

		case sameName:
			return handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrIndexKeySpecsConflict,
				fmt.Sprintf("An existing index has the same name as the requested index. "+
					"Requested index: %s, existing index: %s", index.Name, existing[i].Name),
				"indexes",
			), false

		case sameKey:
			return handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrIndexKeySpecsConflict,
				fmt.Sprintf("Index already exists with a different name: %s", existing[i].Name),
				"indexes",
			), false
		}
	}

	return nil, false
}
