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
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgAggregate implements `aggregate` command.
func (h *Handler) MsgAggregate(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	v, err := document.LookupErr("aggregate")
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	collName, ok := v.StringValueOK()
	if !ok {
		// database-level aggregation (aggregate: 1) is not supported
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrFailedToParse,
			"Invalid command format: the 'aggregate' field must specify a collection name",
			"aggregate",
		)
	}

	pv, err := document.LookupErr("pipeline")
	if err != nil {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrFailedToParse,
			"The 'pipeline' option is required, except for aggregate with the explain argument",
			"pipeline",
		)
	}

	arr, ok := pv.ArrayOK()
	if !ok {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrTypeMismatch,
			"'pipeline' option must be specified as an array",
			"pipeline",
		)
	}

	values, err := arr.Values()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	pipeline := make([]bsoncore.Document, len(values))

	for i, sv := range values {
		stage, ok := sv.DocumentOK()
		if !ok {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrTypeMismatch,
				"Each element of the 'pipeline' array must be an object",
				"pipeline",
			)
		}

		pipeline[i] = stage
	}

	batchSize := int64(defaultBatchSize)

	cursorDoc, err := getOptionalParam[bsoncore.Document](document, "cursor", nil)
	if err != nil {
		return nil, err
	}

	if cursorDoc != nil {
		if batchSize, err = getWholeNumberParam(cursorDoc, "batchSize", defaultBatchSize); err != nil {
			return nil, err
		}

		if batchSize < 0 {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrBadValue,
				"BatchSize value must be non-negative",
				"batchSize",
			)
		}
	}

	db, err := h.b.Database(dbName)
	if err != nil {
		return nil, backendError(err, dbName, collName)
	}

	coll, err := db.Collection(collName)
	if err != nil {
		return nil, backendError(err, dbName, collName)
	}

	res, err := coll.Aggregate(ctx, &backends.AggregateParams{Pipeline: pipeline})
	if err != nil {
		return nil, backendError(err, dbName, collName)
	}

	return h.firstBatchReply(ctx, dbName, collName, res.Docs, batchSize, false)
}
