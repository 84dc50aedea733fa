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
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgInsert implements `insert` command.
//
// Documents are inserted in order, stopping at the first error;
// the failed write is reported in the writeErrors array.
func (h *Handler) MsgInsert(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "insert")
	if err != nil {
		return nil, err
	}

	if _, err = getOptionalParam(document, "ordered", true); err != nil {
		return nil, err
	}

	raw, err := getDocumentsParam(document, "documents")
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			"Write batch sizes must be between 1 and 100,000. Got 0 operations.",
			"documents",
		)
	}

	docs := make([]bsoncore.Document, len(raw))

	for i, d := range raw {
		if docs[i], err = ensureID(d); err != nil {
			return nil, err
		}
	}

	n := int32(len(docs))

	var writeErrors handlererrors.WriteErrors

	if _, err = coll.InsertAll(ctx, &backends.InsertAllParams{Docs: docs}); err != nil {
		var be *backends.Error
		if !errors.As(err, &be) || be.Code() != backends.ErrorCodeInsertDuplicateID {
			return nil, backendError(err, dbName, collName)
		}

		// documents before the failed one were inserted
		index, _ := backends.ErrorArgument(err).(int32)
		n = index

		id, _ := docs[index].LookupErr("_id")

		writeErrors.Append(handlererrors.NewCommandErrorMsg(
			handlererrors.ErrDuplicateKeyInsert,
			fmt.Sprintf(
				"E11000 duplicate key error collection: %s.%s index: _id_ dup key: { _id: %s }",
				dbName, collName, id.String(),
			),
		), index)
	}

	rb := bsoncore.NewDocumentBuilder().
		AppendInt32("n", n)

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

// ensureID returns the document with an _id field,
// prepending a generated ObjectID if the field is absent.
func ensureID(doc bsoncore.Document) (bsoncore.Document, error) {
	_, err := doc.LookupErr("_id")
	if err == nil {
		return doc, nil
	}

	if !errors.Is(err, bsoncore.ErrElementNotFound) {
		return nil, lazyerrors.Error(err)
	}

	elements, err := doc.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	idx, b := bsoncore.AppendDocumentStart(nil)
	b = bsoncore.AppendObjectIDElement(b, "_id", primitive.NewObjectID())

	for _, e := range elements {
		b = append(b, e...)
	}

	b, err = bsoncore.AppendDocumentEnd(b, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return b, nil
}
