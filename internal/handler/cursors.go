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

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/clientconn/conninfo"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/cursor"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// firstBatchReply builds a find or aggregate response document.
//
// Up to batchSize documents go into the first batch.
// Documents that do not fit are parked in a new cursor owned by the current connection,
// and the cursor ID is reported to the client; zero means the result is complete.
func (h *Handler) firstBatchReply(ctx context.Context, dbName, collName string, docs []bsoncore.Document, batchSize int64, singleBatch bool) (*wire.OpMsg, error) {
	var cursorID int64

	batch := docs

	if !singleBatch && int64(len(docs)) > batchSize {
		batch = docs[:batchSize]

		c := h.cursors.NewCursor(&cursor.NewParams{
			DB:         dbName,
			Collection: collName,
			Documents:  docs[batchSize:],
			BatchSize:  int32(batchSize),
			ConnID:     conninfo.Get(ctx).ID,
		})

		cursorID = c.ID
	}

	res := bsoncore.NewDocumentBuilder().
		AppendDocument("cursor", bsoncore.NewDocumentBuilder().
			AppendArray("firstBatch", batchArray(batch)).
			AppendInt64("id", cursorID).
			AppendString("ns", dbName+"."+collName).
			Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}

// batchArray converts documents into a BSON array of documents.
func batchArray(docs []bsoncore.Document) bsoncore.Array {
	b := bsoncore.NewArrayBuilder()

	for _, doc := range docs {
		b.AppendDocument(doc)
	}

	return b.Build()
}
