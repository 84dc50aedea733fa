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

// MsgCount implements `count` command.
func (h *Handler) MsgCount(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "count")
	if err != nil {
		return nil, err
	}

	query, err := getOptionalParam[bsoncore.Document](document, "query", nil)
	if err != nil {
		return nil, err
	}

	res, err := coll.Count(ctx, &backends.CountParams{Filter: query})
	if err != nil {
		return nil, backendError(err, dbName, collName)
	}

	reply := bsoncore.NewDocumentBuilder().
		AppendInt32("n", int32(res.Count)).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(reply)
}
