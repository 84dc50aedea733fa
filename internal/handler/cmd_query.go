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
	"strings"

	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// CmdQuery processes the deprecated OP_QUERY message
// that old drivers still use for the connection handshake.
// Only handshake commands addressed to a $cmd collection are supported.
func (h *Handler) CmdQuery(ctx context.Context, query *wire.OpQuery) (*wire.OpReply, error) {
	q := query.Query()

	name, err := commandName(q)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(query.FullCollectionName, ".$cmd") {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrNotImplemented,
			fmt.Sprintf("CmdQuery: collection %q is not supported", query.FullCollectionName),
			name,
		)
	}

	switch name {
	case "hello", "isMaster", "ismaster":
		res, err := h.hello(ctx, q, name != "hello")
		if err != nil {
			return nil, err
		}

		reply := new(wire.OpReply)
		reply.SetDocuments(res)

		return reply, nil

	default:
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrNotImplemented,
			fmt.Sprintf("CmdQuery: unhandled command %q", name),
			name,
		)
	}
}
