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
	"strconv"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgDistinct implements `distinct` command.
func (h *Handler) MsgDistinct(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "distinct")
	if err != nil {
		return nil, err
	}

	key, err := getRequiredParam[string](document, "key")
	if err != nil {
		return nil, err
	}

	if key == "" {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"FieldPath cannot be constructed with empty string",
			"key",
		)
	}

	query, err := getOptionalParam[bsoncore.Document](document, "query", nil)
	if err != nil {
		return nil, err
	}

	res, err := coll.Distinct(ctx, &backends.DistinctParams{
		Key:    key,
		Filter: query,
	})
	if err != nil {
		return nil, backendError(err, dbName, collName)
	}

	idx, b := bsoncore.AppendArrayStart(nil)

	for i, v := range res.Values {
		b = bsoncore.AppendValueElement(b, strconv.Itoa(i), v)
	}

	values, err := bsoncore.AppendArrayEnd(b, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	reply := bsoncore.NewDocumentBuilder().
		AppendArray("values", values).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(reply)
}
