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

// MsgCollStats implements `collStats` command.
func (h *Handler) MsgCollStats(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	coll, dbName, collName, err := h.collection(document, "collStats")
	if err != nil {
		return nil, err
	}

	scale, err := getScaleParam(document, "collStats")
	if err != nil {
		return nil, err
	}

	stats, err := coll.Stats(ctx, new(backends.CollectionStatsParams))
	if err != nil {
		if backends.ErrorCodeIs(err, backends.ErrorCodeCollectionDoesNotExist) {
			// match the shell's behavior for unknown collections
			return wire.NewOpMsg(bsoncore.NewDocumentBuilder().
				AppendString("ns", dbName+"."+collName).
				AppendInt32("size", 0).
				AppendInt32("count", 0).
				AppendInt32("storageSize", 0).
				AppendInt32("nindexes", 0).
				AppendInt32("totalIndexSize", 0).
				AppendInt32("totalSize", 0).
				AppendInt32("scaleFactor", scale).
				AppendDouble("ok", 1).
				Build())
		}

		return nil, lazyerrors.Error(err)
	}

	indexes, err := coll.ListIndexes(ctx, new(backends.ListIndexesParams))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendString("ns", dbName+"."+collName).
		AppendInt64("size", stats.SizeTotal/int64(scale)).
		AppendInt64("count", stats.CountDocuments)

	if stats.CountDocuments > 0 {
		res.AppendInt64("avgObjSize", stats.SizeTotal/stats.CountDocuments)
	}

	res.AppendInt64("storageSize", stats.SizeTotal/int64(scale)).
		AppendInt32("nindexes", int32(len(indexes.Indexes))).
		AppendInt32("totalIndexSize", 0).
		AppendInt64("totalSize", stats.SizeTotal/int64(scale)).
		AppendInt32("scaleFactor", scale).
		AppendDouble("ok", 1)

	return wire.NewOpMsg(res.Build())
}

// getScaleParam returns the validated `scale` argument of collStats and dbStats.
func getScaleParam(document bsoncore.Document, command string) (int32, error) {
	scale, err := getWholeNumberParam(document, "scale", 1)
	if err != nil {
		return 0, err
	}

	if scale < 1 {
		return 0, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrBadValue,
			fmt.Sprintf("scale has to be > 0, got %d", scale),
			command,
		)
	}

	return int32(scale), nil
}
