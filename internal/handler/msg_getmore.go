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

// MsgGetMore implements `getMore` command.
func (h *Handler) MsgGetMore(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	v, err := document.LookupErr("getMore")
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	// the cursor ID is a strict int64; drivers never send other numeric types here
	cursorID, ok := v.Int64OK()
	if !ok {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrTypeMismatch,
			fmt.Sprintf("BSON field 'getMore.getMore' is the wrong type '%s', expected type 'long'", aliasType(v.Type)),
			"getMore",
		)
	}

	collName, err := getRequiredParam[string](document, "collection")
	if err != nil {
		return nil, err
	}

	batchSize, err := getWholeNumberParam(document, "batchSize", 0)
	if err != nil {
		return nil, err
	}

	if batchSize < 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			fmt.Sprintf("BatchSize value must be non-negative, but received: %d", batchSize),
			"batchSize",
		)
	}

	ns := dbName + "." + collName

	c := h.cursors.Get(cursorID)
	if c == nil || c.Namespace() != ns {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrCursorNotFound,
			fmt.Sprintf("cursor id %d not found", cursorID),
			"getMore",
		)
	}

	docs, ok := h.cursors.Advance(cursorID, int(batchSize))
	if !ok {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrCursorNotFound,
			fmt.Sprintf("cursor id %d not found", cursorID),
			"getMore",
		)
	}

	nextID := cursorID
	if h.cursors.Get(cursorID) == nil {
		nextID = 0
	}

	res := bsoncore.NewDocumentBuilder().
		AppendDocument("cursor", bsoncore.NewDocumentBuilder().
			AppendArray("nextBatch", batchArray(docs)).
			AppendInt64("id", nextID).
			AppendString("ns", ns).
			Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
