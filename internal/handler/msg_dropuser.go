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

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgDropUser implements `dropUser` command.
func (h *Handler) MsgDropUser(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	username, err := getRequiredParam[string](document, "dropUser")
	if err != nil {
		return nil, err
	}

	if err = h.Credentials.Delete(ctx, username, dbName); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrUserNotFound,
				fmt.Sprintf("User '%s@%s' not found", username, dbName),
				"dropUser",
			)
		}

		return nil, lazyerrors.Error(err)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
