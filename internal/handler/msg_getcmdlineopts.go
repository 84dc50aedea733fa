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
	"os"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgGetCmdLineOpts implements `getCmdLineOpts` command.
func (h *Handler) MsgGetCmdLineOpts(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	argv := bsoncore.NewArrayBuilder()
	for _, arg := range os.Args {
		argv.AppendString(arg)
	}

	res := bsoncore.NewDocumentBuilder().
		AppendArray("argv", argv.Build()).
		AppendDocument("parsed", bsoncore.NewDocumentBuilder().Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
