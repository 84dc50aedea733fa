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

// MsgDelete implements `delete` command.
//
// Statements run in order, stopping at the first error.
func (h *Handler) MsgDelete(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "delete")
	if err != nil {
		return nil, err
	}

	if _, err = getOptionalParam(document, "ordered", true); err != nil {
		return nil, err
	}

	deletes, err := getDocumentsParam(document, "deletes")
	if err != nil {
		return nil, err
	}

	if len(deletes) == 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"Write batch sizes must be between 1 and 100,000. Got 0 operations.",
			"deletes",
		)
	}

	var deleted int32

	var writeErrors handlererrors.WriteErrors

	for i, d := range deletes {
		q, err := getOptionalParam[bsoncore.Document](d, "q", nil)
		if err != nil {
			return nil, err
		}

		limit, err := getWholeNumberParam(d, "limit", 0)
		if err != nil {
			return nil, err
		}

		if limit != 0 && limit != 1 {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrFailedToParse,
				fmt.Sprintf("The limit field in delete objects must be 0 or 1. Got %d", limit),
				"limit",
			)
		}

		res, err := coll.DeleteAll(ctx, &backends.DeleteAllParams{
			Filter: q,
			Limit:  limit,
		})
		if err != nil {
			writeErrors.Append(backendError(err, dbName, collName), int32(i))
			break
		}

		deleted += res.Deleted
	}

	rb := bsoncore.NewDocumentBuilder().
		AppendInt32("n", deleted)

	if writeErrors.Len() > 0 {
		v, err := writeErrors.Document().LookupErr("writeErrors")
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		rb.AppendArray("writeErrors", v.Array())
	}

	rb.AppendDouble("ok", 1)

	return wire.NewOpMsg(rb.Build())
}
