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

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgListIndexes implements `listIndexes` command.
func (h *Handler) MsgListIndexes(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "listIndexes")
	if err != nil {
		return nil, err
	}

	res, err := coll.ListIndexes(ctx, new(backends.ListIndexesParams))
	if err != nil {
		if backends.ErrorCodeIs(err, backends.ErrorCodeCollectionDoesNotExist) {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrNamespaceNotFound,
				fmt.Sprintf("ns does not exist: %s.%s", dbName, collName),
				"listIndexes",
			)
		}

		return nil, backendError(err, dbName, collName)
	}

	firstBatch := bsoncore.NewArrayBuilder()

	for _, index := range res.Indexes {
		firstBatch.AppendDocument(indexDocument(&index))
	}

	reply := bsoncore.NewDocumentBuilder().
		AppendDocument("cursor", bsoncore.NewDocumentBuilder().
			AppendInt64("id", 0).
			AppendString("ns", dbName+"."+collName).
			AppendArray("firstBatch", firstBatch.Build()).
			Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(reply)
}

// indexDocument renders a single index the way listIndexes reports it.
func indexDocument(index *backends.IndexInfo) bsoncore.Document {
	key := bsoncore.NewDocumentBuilder()

	for _, pair := range index.Key {
		direction := int32(1)
		if pair.Descending {
			direction = -1
		}

		key.AppendInt32(pair.Field, direction)
	}

	b := bsoncore.NewDocumentBuilder().
		AppendInt32("v", 2).
		AppendDocument("key", key.Build()).
		AppendString("name", index.Name)

	if index.Unique {
		b.AppendBoolean("unique", true)
	}

	return b.Build()
}
