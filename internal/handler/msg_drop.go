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

// MsgDrop implements `drop` command.
func (h *Handler) MsgDrop(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, collName, err := namespaceParams(document, "drop")
	if err != nil {
		return nil, err
	}

	// Cursors over the dropped collection become invalid either way;
	// closing them first keeps the registry from pinning their batches.
	h.cursors.CloseNamespace(dbName, collName)

	db, err := h.b.Database(dbName)
	if err != nil {
		return nil, backendError(err, dbName, collName)
	}

	if err = db.DropCollection(ctx, &backends.DropCollectionParams{Name: collName}); err != nil {
		return nil, backendError(err, dbName, collName)
	}

	return wire.NewOpMsg(bsoncore.NewDocumentBuilder().
		AppendString("ns", dbName+"."+collName).
		AppendDouble("ok", 1).
		Build())
}
