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

// MsgListDatabases implements `listDatabases` command.
func (h *Handler) MsgListDatabases(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	nameOnly, err := getOptionalParam(document, "nameOnly", false)
	if err != nil {
		return nil, err
	}

	res, err := h.b.ListDatabases(ctx, new(backends.ListDatabasesParams))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var totalSize int64

	databases := bsoncore.NewArrayBuilder()

	for _, db := range res.Databases {
		totalSize += db.Size

		d := bsoncore.NewDocumentBuilder().
			AppendString("name", db.Name)

		if !nameOnly {
			d.AppendInt64("sizeOnDisk", db.Size).
				AppendBoolean("empty", db.Size == 0)
		}

		databases.AppendDocument(d.Build())
	}

	reply := bsoncore.NewDocumentBuilder().
		AppendArray("databases", databases.Build())

	if !nameOnly {
		reply.AppendInt64("totalSize", totalSize).
			AppendInt64("totalSizeMb", totalSize/1024/1024)
	}

	return wire.NewOpMsg(reply.AppendDouble("ok", 1).Build())
}
