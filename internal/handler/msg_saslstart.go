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

	"github.com/meerkatdb/meerkatdb/internal/clientconn/conninfo"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/scram"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgSASLStart implements `saslStart` command.
func (h *Handler) MsgSASLStart(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	dbName, err := getRequiredParam[string](document, "$db")
	if err != nil {
		return nil, err
	}

	mechanism, err := getRequiredParam[string](document, "mechanism")
	if err != nil {
		return nil, err
	}

	payload, err := getBinaryParam(document, "payload")
	if err != nil {
		return nil, err
	}

	convID, serverFirst, err := h.scram.Start(ctx, mechanism, dbName, payload)
	if err != nil {
		if errors.Is(err, scram.ErrUnsupportedMechanism) {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrMechanismUnavailable,
				fmt.Sprintf("Unsupported mechanism '%s'", mechanism),
				"mechanism",
			)
		}

		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrAuthenticationFailed,
			"Authentication failed.",
			"saslStart",
		)
	}

	conninfo.Get(ctx).SetConv(convID)

	res := bsoncore.NewDocumentBuilder().
		AppendInt32("conversationId", convID).
		AppendBoolean("done", false).
		AppendBinary("payload", 0, []byte(serverFirst)).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
