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

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/meerkatdb/meerkatdb/internal/clientconn/conninfo"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// command represents a handler for a single command.
type command struct {
	// anonymous indicates that the command does not require authentication.
	anonymous bool

	// Handler processes this command.
	//
	// The passed context is canceled when the client disconnects.
	Handler func(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error)

	// Help is shown in the `listCommands` command output.
	// If empty, that command is hidden, but still can be used.
	Help string
}

// initCommands initializes the commands map for that handler instance.
func (h *Handler) initCommands() {
	h.commands = map[string]*command{
		// sorted alphabetically
		"aggregate": {
			Handler: h.MsgAggregate,
			Help:    "Returns aggregated data.",
		},
		"authenticate": {
			Handler:   h.MsgAuthenticate,
			anonymous: true,
			Help:      "", // hidden
		},
		"buildInfo": {
			Handler:   h.MsgBuildInfo,
			anonymous: true,
			Help:      "Returns a summary of the build information.",
		},
		"buildinfo": { // old lowercase variant
			Handler:   h.MsgBuildInfo,
			anonymous: true,
			Help:      "", // hidden
		},
		"collStats": {
			Handler: h.MsgCollStats,
			Help:    "Returns storage data for a collection.",
		},
		"connectionStatus": {
			Handler:   h.MsgConnectionStatus,
			anonymous: true,
			Help: "Returns information about the current connection, " +
				"specifically the state of authenticated users and their available permissions.",
		},
		"count": {
			Handler: h.MsgCount,
			Help:    "Returns the count of documents that matched the query.",
		},
		"create": {
			Handler: h.MsgCreate,
			Help:    "Creates the collection.",
		},
		"createIndexes": {
			Handler: h.MsgCreateIndexes,
			Help:    "Creates indexes on a collection.",
		},
		"createUser": {
			Handler: h.MsgCreateUser,
			Help:    "Creates a new user.",
		},
		"dbStats": {
			Handler: h.MsgDBStats,
			Help:    "Returns the statistics of the database.",
		},
		"dbstats": { // old lowercase variant
			Handler: h.MsgDBStats,
			Help:    "", // hidden
		},
		"delete": {
			Handler: h.MsgDelete,
			Help:    "Deletes documents matched by the query.",
		},
		"distinct": {
			Handler: h.MsgDistinct,
			Help:    "Returns an array of distinct values for the given field.",
		},
		"drop": {
			Handler: h.MsgDrop,
			Help:    "Drops the collection.",
		},
		"dropAllUsersFromDatabase": {
			Handler: h.MsgDropAllUsersFromDatabase,
			Help:    "Drops all users from the database.",
		},
		"dropDatabase": {
			Handler: h.MsgDropDatabase,
			Help:    "Drops production database.",
		},
		"dropIndexes": {
			Handler: h.MsgDropIndexes,
			Help:    "Drops indexes on a collection.",
		},
		"dropUser": {
			Handler: h.MsgDropUser,
			Help:    "Drops the user.",
		},
		"find": {
			Handler: h.MsgFind,
			Help:    "Returns documents matched by the query.",
		},
		"getCmdLineOpts": {
			Handler:   h.MsgGetCmdLineOpts,
			anonymous: true,
			Help:      "Returns a summary of all runtime and configuration options.",
		},
		"getLog": {
			Handler: h.MsgGetLog,
			Help:    "Returns the most recent logged events from memory.",
		},
		"getMore": {
			Handler: h.MsgGetMore,
			Help:    "Returns the next batch of documents from a cursor.",
		},
		"getParameter": {
			Handler:   h.MsgGetParameter,
			anonymous: true,
			Help:      "Returns the value of the parameter.",
		},
		"hello": {
			Handler:   h.MsgHello,
			anonymous: true,
			Help:      "Returns the role of the MeerkatDB instance.",
		},
		"hostInfo": {
			Handler: h.MsgHostInfo,
			Help:    "Returns a summary of the system information.",
		},
		"insert": {
			Handler: h.MsgInsert,
			Help:    "Inserts documents into the database.",
		},
		"isMaster": {
			Handler:   h.MsgIsMaster,
			anonymous: true,
			Help:      "Returns the role of the MeerkatDB instance.",
		},
		"ismaster": { // old lowercase variant
			Handler:   h.MsgIsMaster,
			anonymous: true,
			Help:      "", // hidden
		},
		"killCursors": {
			Handler: h.MsgKillCursors,
			Help:    "Closes server cursors.",
		},
		"listCollections": {
			Handler: h.MsgListCollections,
			Help:    "Returns the information of the collections and views in the database.",
		},
		"listCommands": {
			Handler:   h.MsgListCommands,
			anonymous: true,
			Help:      "Returns a list of currently supported commands.",
		},
		"listDatabases": {
			Handler: h.MsgListDatabases,
			Help:    "Returns a summary of all the databases.",
		},
		"listIndexes": {
			Handler: h.MsgListIndexes,
			Help:    "Returns a summary of indexes of the specified collection.",
		},
		"logout": {
			Handler:   h.MsgLogout,
			anonymous: true,
			Help:      "Logs out from the current session.",
		},
		"ping": {
			Handler:   h.MsgPing,
			anonymous: true,
			Help:      "Returns a pong response.",
		},
		"saslContinue": {
			Handler:   h.MsgSASLContinue,
			anonymous: true,
			Help:      "", // hidden
		},
		"saslStart": {
			Handler:   h.MsgSASLStart,
			anonymous: true,
			Help:      "", // hidden
		},
		"serverStatus": {
			Handler: h.MsgServerStatus,
			Help:    "Returns an overview of the databases state.",
		},
		"update": {
			Handler: h.MsgUpdate,
			Help:    "Updates documents that are matched by the query.",
		},
		"updateUser": {
			Handler: h.MsgUpdateUser,
			Help:    "Updates the user.",
		},
		"usersInfo": {
			Handler: h.MsgUsersInfo,
			Help:    "Returns information about users.",
		},
		"whatsmyuri": {
			Handler:   h.MsgWhatsMyURI,
			anonymous: true,
			Help:      "Returns peer information.",
		},
	}
}

// Commands returns a map of enabled commands.
func (h *Handler) Commands() map[string]*command {
	return h.commands
}

// commandName returns the name of the command in the document:
// the first key that is not a special $-prefixed field.
func commandName(document bsoncore.Document) (string, error) {
	elements, err := document.Elements()
	if err != nil {
		return "", lazyerrors.Error(err)
	}

	for _, e := range elements {
		key, err := e.KeyErr()
		if err != nil {
			return "", lazyerrors.Error(err)
		}

		if !strings.HasPrefix(key, "$") {
			return key, nil
		}
	}

	return "", handlererrors.NewCommandErrorMsg(
		handlererrors.ErrCommandNotFound,
		"no such command: ''",
	)
}

// HandleOpMsg dispatches a single OP_MSG request to the matching command handler
// and returns the response message.
//
// Command names are matched case-sensitively first;
// a case-insensitive match is accepted for clients using legacy spellings.
// When authentication is required, commands that are not anonymous
// are rejected until the connection authenticates.
func (h *Handler) HandleOpMsg(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	name, err := commandName(document)
	if err != nil {
		return nil, err
	}

	cmd := h.commands[name]

	if cmd == nil {
		lower := strings.ToLower(name)

		for n, c := range h.commands {
			if strings.ToLower(n) == lower {
				cmd = c
				break
			}
		}
	}

	if cmd == nil || cmd.Handler == nil {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrCommandNotFound,
			fmt.Sprintf("no such command: '%s'", name),
			name,
		)
	}

	if h.Auth && !cmd.anonymous && !conninfo.Get(ctx).Authenticated() {
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrUnauthorized,
			fmt.Sprintf("command %s requires authentication", name),
			name,
		)
	}

	ctx, span := otel.Tracer("").Start(ctx, name)
	defer span.End()

	resp, err := cmd.Handler(ctx, msg)
	if err != nil {
		span.SetStatus(otelcodes.Error, "")
	}

	return resp, err
}
