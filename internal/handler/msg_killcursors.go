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

	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgKillCursors implements `killCursors` command.
func (h *Handler) MsgKillCursors(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, collName, err := namespaceParams(document, "killCursors")
	if err != nil {
		return nil, err
	}

	arr, err := getRequiredParam[bsoncore.Array](document, "cursors")
	if err != nil {
		return nil, err
	}

	values, err := arr.Values()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	ns := dbName + "." + collName

	killed := bsoncore.NewArrayBuilder()
	notFound := bsoncore.NewArrayBuilder()

	for i, v := range values {
		id, ok := v.Int64OK()
		if !ok {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrTypeMismatch,
				fmt.Sprintf("BSON field 'cursors.%d' is the wrong type '%s', expected type 'long'", i, aliasType(v.Type)),
				"cursors",
			)
		}

		c := h.cursors.Get(id)
		if c == nil || c.Namespace() != ns || !h.cursors.Close(id) {
			notFound.AppendInt64(id)
			continue
		}

		killed.AppendInt64(id)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendArray("cursorsKilled", killed.Build()).
		AppendArray("cursorsNotFound", notFound.Build()).
		AppendArray("cursorsAlive", bsoncore.NewArrayBuilder().Build()).
		AppendArray("cursorsUnknown", bsoncore.NewArrayBuilder().Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
