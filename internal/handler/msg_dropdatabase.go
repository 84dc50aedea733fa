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

// MsgDropDatabase implements `dropDatabase` command.
func (h *Handler) MsgDropDatabase(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	h.cursors.CloseNamespace(dbName, "")

	err = h.b.DropDatabase(ctx, &backends.DropDatabaseParams{Name: dbName})

	res := bsoncore.NewDocumentBuilder()

	switch {
	case err == nil:
		res.AppendString("dropped", dbName)
	case backends.ErrorCodeIs(err, backends.ErrorCodeDatabaseDoesNotExist):
		// dropping a non-existing database is not an error
	default:
		return nil, backendError(err, dbName, "")
	}

	return wire.NewOpMsg(res.AppendDouble("ok", 1).Build())
}
