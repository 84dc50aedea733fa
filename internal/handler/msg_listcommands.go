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
	"sort"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgListCommands implements `listCommands` command.
func (h *Handler) MsgListCommands(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	names := make([]string, 0, len(h.commands))

	for name, cmd := range h.commands {
		if cmd.Help == "" {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	commands := bsoncore.NewDocumentBuilder()

	for _, name := range names {
		commands.AppendDocument(name, bsoncore.NewDocumentBuilder().
			AppendString("help", h.commands[name].Help).
			Build())
	}

	res := bsoncore.NewDocumentBuilder().
		AppendDocument("commands", commands.Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
