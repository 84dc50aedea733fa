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

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgDropAllUsersFromDatabase implements `dropAllUsersFromDatabase` command.
func (h *Handler) MsgDropAllUsersFromDatabase(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	usernames, err := h.Credentials.List(ctx, dbName)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var dropped int32

	for _, username := range usernames {
		if err = h.Credentials.Delete(ctx, username, dbName); err != nil {
			// a concurrent drop is not an error
			if errors.Is(err, credentials.ErrNotFound) {
				continue
			}

			return nil, lazyerrors.Error(err)
		}

		dropped++
	}

	res := bsoncore.NewDocumentBuilder().
		AppendInt32("n", dropped).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
