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

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgUpdate implements `update` command.
//
// Statements run in order, stopping at the first error.
func (h *Handler) MsgUpdate(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "update")
	if err != nil {
		return nil, err
	}

	if _, err = getOptionalParam(document, "ordered", true); err != nil {
		return nil, err
	}

	updates, err := getDocumentsParam(document, "updates")
	if err != nil {
		return nil, err
	}

	if len(updates) == 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"Write batch sizes must be between 1 and 100,000. Got 0 operations.",
			"updates",
		)
	}

	var matched, modified, upsertedCount int32

	upserted := bsoncore.NewArrayBuilder()

	var writeErrors handlererrors.WriteErrors

	for i, u := range updates {
		q, err := getOptionalParam[bsoncore.Document](u, "q", nil)
		if err != nil {
			return nil, err
		}

		if v, err := u.LookupErr("u"); err == nil && v.Type == bsontype.Array {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrNotImplemented,
				"Aggregation pipelines in update statements are not supported",
				"u",
			)
		}

		upd, err := getRequiredParam[bsoncore.Document](u, "u")
		if err != nil {
			return nil, err
		}

		multi, err := getOptionalParam(u, "multi", false)
		if err != nil {
			return nil, err
		}

		upsert, err := getOptionalParam(u, "upsert", false)
		if err != nil {
			return nil, err
		}

		res, err := coll.UpdateAll(ctx, &backends.UpdateAllParams{
			Filter: q,
			Update: upd,
			Multi:  multi,
			Upsert: upsert,
		})
		if err != nil {
			writeErrors.Append(backendError(err, dbName, collName), int32(i))
			break
		}

		matched += res.Matched
		modified += res.Modified

		if res.UpsertedID.Type != 0 {
			idx, b := bsoncore.AppendDocumentStart(nil)
			b = bsoncore.AppendInt32Element(b, "index", int32(i))
			b = bsoncore.AppendValueElement(b, "_id", res.UpsertedID)

			if b, err = bsoncore.AppendDocumentEnd(b, idx); err != nil {
				return nil, lazyerrors.Error(err)
			}

			upserted.AppendDocument(b)
			upsertedCount++
		}
	}

	rb := bsoncore.NewDocumentBuilder().
		AppendInt32("n", matched+upsertedCount).
		AppendInt32("nModified", modified)

	if upsertedCount > 0 {
		rb.AppendArray("upserted", upserted.Build())
	}

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
