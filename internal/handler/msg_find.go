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

// defaultBatchSize is the number of documents in the first batch
// when the client does not ask for a specific size.
const defaultBatchSize = 101

// MsgFind implements `find` command.
func (h *Handler) MsgFind(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "find")
	if err != nil {
		return nil, err
	}

	filter, err := getOptionalParam[bsoncore.Document](document, "filter", nil)
	if err != nil {
		return nil, err
	}

	sort, err := getOptionalParam[bsoncore.Document](document, "sort", nil)
	if err != nil {
		return nil, err
	}

	projection, err := getOptionalParam[bsoncore.Document](document, "projection", nil)
	if err != nil {
		return nil, err
	}

	skip, err := getWholeNumberParam(document, "skip", 0)
	if err != nil {
		return nil, err
	}

	if skip < 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			fmt.Sprintf("Skip value must be non-negative, but received: %d", skip),
			"skip",
		)
	}

	limit, err := getWholeNumberParam(document, "limit", 0)
	if err != nil {
		return nil, err
	}

	if limit < 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			fmt.Sprintf("Limit value must be non-negative, but received: %d", limit),
			"limit",
		)
	}

	batchSize, err := getWholeNumberParam(document, "batchSize", defaultBatchSize)
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

	singleBatch, err := getOptionalParam(document, "singleBatch", false)
	if err != nil {
		return nil, err
	}

	res, err := coll.Query(ctx, &backends.QueryParams{
		Filter:     filter,
		Sort:       sort,
		Projection: projection,
		Skip:       skip,
		Limit:      limit,
	})
	if err != nil {
		return nil, backendError(err, dbName, collName)
	}

	return h.firstBatchReply(ctx, dbName, collName, res.Docs, batchSize, singleBatch)
}
