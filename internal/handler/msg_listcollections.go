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

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgListCollections implements `listCollections` command.
func (h *Handler) MsgListCollections(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	nameOnly, err := getOptionalParam(document, "nameOnly", false)
	if err != nil {
		return nil, err
	}

	db, err := h.b.Database(dbName)
	if err != nil {
		return nil, backendError(err, dbName, "")
	}

	res, err := db.ListCollections(ctx, new(backends.ListCollectionsParams))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	collections := bsoncore.NewArrayBuilder()

	for _, c := range res.Collections {
		d := bsoncore.NewDocumentBuilder().
			AppendString("name", c.Name)

		if !nameOnly {
			d.AppendString("type", "collection")
		}

		collections.AppendDocument(d.Build())
	}

	reply := bsoncore.NewDocumentBuilder().
		AppendDocument("cursor", bsoncore.NewDocumentBuilder().
			AppendInt64("id", 0).
			AppendString("ns", dbName+".$cmd.listCollections").
			AppendArray("firstBatch", collections.Build()).
			Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(reply)
}
