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
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgConnectionStatus implements `connectionStatus` command.
func (h *Handler) MsgConnectionStatus(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	users := bsoncore.NewArrayBuilder()

	if username, authDB := conninfo.Get(ctx).Auth(); username != "" {
		users.AppendDocument(bsoncore.NewDocumentBuilder().
			AppendString("user", username).
			AppendString("db", authDB).
			Build())
	}

	authInfo := bsoncore.NewDocumentBuilder().
		AppendArray("authenticatedUsers", users.Build()).
		AppendArray("authenticatedUserRoles", bsoncore.NewArrayBuilder().Build()).
		Build()

	res := bsoncore.NewDocumentBuilder().
		AppendDocument("authInfo", authInfo).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
