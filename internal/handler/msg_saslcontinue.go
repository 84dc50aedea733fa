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

	"github.com/meerkatdb/meerkatdb/internal/clientconn/conninfo"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgSASLContinue implements `saslContinue` command.
func (h *Handler) MsgSASLContinue(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	payload, err := getBinaryParam(document, "payload")
	if err != nil {
		return nil, err
	}

	connInfo := conninfo.Get(ctx)

	convID := connInfo.Conv()
	if convID == 0 {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrAuthenticationFailed,
			"Authentication failed.",
			"saslContinue",
		)
	}

	// drivers echo the conversation ID from the saslStart response
	if id, err := getOptionalParam(document, "conversationId", convID); err != nil || id != convID {
		connInfo.SetConv(0)

		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrAuthenticationFailed,
			"Authentication failed.",
			"saslContinue",
		)
	}

	serverFinal, username, authDB, err := h.scram.Continue(convID, payload)
	if err != nil {
		connInfo.SetConv(0)

		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrAuthenticationFailed,
			"Authentication failed.",
			"saslContinue",
		)
	}

	if username != "" {
		connInfo.SetAuth(username, authDB)
	}

	if serverFinal == "" {
		connInfo.SetConv(0)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendInt32("conversationId", convID).
		AppendBoolean("done", true).
		AppendBinary("payload", 0, []byte(serverFinal)).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
