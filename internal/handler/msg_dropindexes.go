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

// MsgDropIndexes implements `dropIndexes` command.
func (h *Handler) MsgDropIndexes(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "dropIndexes")
	if err != nil {
		return nil, err
	}

	before, err := coll.ListIndexes(ctx, new(backends.ListIndexesParams))
	if err != nil {
		if backends.ErrorCodeIs(err, backends.ErrorCodeCollectionDoesNotExist) {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrNamespaceNotFound,
				fmt.Sprintf("ns not found %s.%s", dbName, collName),
				"dropIndexes",
			)
		}

		return nil, lazyerrors.Error(err)
	}

	toDrop, err := indexesToDrop(document, before.Indexes)
	if err != nil {
		return nil, err
	}

	if _, err = coll.DropIndexes(ctx, &backends.DropIndexesParams{Indexes: toDrop}); err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendInt32("nIndexesWas", int32(len(before.Indexes)))

	if len(toDrop) == len(before.Indexes)-1 {
		res.AppendString("msg", "non-_id indexes dropped for collection")
	}

	return wire.NewOpMsg(res.AppendDouble("ok", 1).Build())
}

// indexesToDrop returns names of existing indexes matching the `index` argument,
// which may be a single name, the "*" wildcard, an array of names, or a key document.
func indexesToDrop(document bsoncore.Document, existing []backends.IndexInfo) ([]string, error) {
	v, err := document.LookupErr("index")
	if err != nil {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"BSON field 'dropIndexes.index' is missing but a required field",
			"dropIndexes",
		)
	}

	switch v.Type {
	case bsontype.String:
		return resolveDropNames([]string{v.StringValue()}, existing)

	case bsontype.Array:
		values, err := v.Array().Values()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		names := make([]string, len(values))

		for i, av := range values {
			s, ok := av.StringValueOK()
			if !ok {
				return nil, handlererrors.NewCommandErrorMsgWithArgument(
					handlererrors.ErrTypeMismatch,
					fmt.Sprintf(
						"BSON field 'dropIndexes.index' is the wrong type '%s', expected types '[string, object]'",
						aliasType(av.Type),
					),
					"dropIndexes",
				)
			}

			names[i] = s
		}

		return resolveDropNames(names, existing)

	case bsontype.EmbeddedDocument:
		key, err := indexKeyPairs(v.Document())
		if err != nil {
			return nil, err
		}

		if len(key) == 1 && key[0].Field == "_id" && !key[0].Descending {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrInvalidOptions,
				"cannot drop _id index",
				"dropIndexes",
			)
		}

		for _, index := range existing {
			if slices.Equal(index.Key, key) {
				return []string{index.Name}, nil
			}
		}

		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrIndexNotFound,
			fmt.Sprintf("can't find index with key: %s", formatIndexKey(key)),
			"dropIndexes",
		)

	default:
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrTypeMismatch,
			fmt.Sprintf(
				"BSON field 'dropIndexes.index' is the wrong type '%s', expected types '[string, object]'",
				aliasType(v.Type),
			),
			"dropIndexes",
		)
	}
}

// resolveDropNames expands the "*" wildcard and checks that every named index exists
// and that the _id index is not dropped.
func resolveDropNames(names []string, existing []backends.IndexInfo) ([]string, error) {
	var toDrop []string

	for _, name := range names {
		switch name {
		case "*":
			for _, index := range existing {
				if index.Name != "_id_" {
					toDrop = append(toDrop, index.Name)
				}
			}

		case "_id_":
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrInvalidOptions,
				"cannot drop _id index",
				"dropIndexes",
			)

		default:
			if !slices.ContainsFunc(existing, func(index backends.IndexInfo) bool { return index.Name == name }) {
				return nil, handlererrors.NewCommandErrorMsgWithArgument(
					handlererrors.ErrIndexNotFound,
					fmt.Sprintf("index not found with name [%s]", name),
					"dropIndexes",
				)
			}

			toDrop = append(toDrop, name)
		}
	}

	return toDrop, nil
}

// formatIndexKey renders an index key the way it appears in shell output,
// for example `{ a: 1, b: -1 }`.
func formatIndexKey(key []backends.IndexKeyPair) string {
	pairs := make([]string, len(key))

	for i, pair := range key {
		order := int64(1)
		if pair.Descending {
			order = -1
		}

		pairs[i] = pair.Field + ": " + strconv.FormatInt(order, 10)
	}

	return "{ " + strings.Join(pairs, ", ") + " }"
}
