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

// MsgDBStats implements `dbStats` command.
func (h *Handler) MsgDBStats(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	scale, err := getScaleParam(document, "dbStats")
	if err != nil {
		return nil, err
	}

	db, err := h.b.Database(dbName)
	if err != nil {
		return nil, backendError(err, dbName, "")
	}

	stats, err := db.Stats(ctx, new(backends.DatabaseStatsParams))
	if err != nil {
		if backends.ErrorCodeIs(err, backends.ErrorCodeDatabaseDoesNotExist) {
			stats = new(backends.DatabaseStatsResult)
		} else {
			return nil, lazyerrors.Error(err)
		}
	}

	var avgObjSize float64
	if stats.CountDocuments > 0 {
		avgObjSize = float64(stats.SizeTotal) / float64(stats.CountDocuments)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendString("db", dbName).
		AppendInt64("collections", stats.CountCollections).
		AppendInt32("views", 0).
		AppendInt64("objects", stats.CountDocuments).
		AppendDouble("avgObjSize", avgObjSize).
		AppendDouble("dataSize", float64(stats.SizeTotal)/float64(scale)).
		AppendDouble("totalSize", float64(stats.SizeTotal)/float64(scale)).
		AppendInt32("scaleFactor", scale).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
