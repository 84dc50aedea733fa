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
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/clientconn/conninfo"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// Wire protocol limits reported to clients during the handshake.
const (
	// maxBsonObjectSize is the maximum size of a single document.
	maxBsonObjectSize = int32(16777216)

	// maxWriteBatchSize is the maximum number of write operations in a single batch.
	maxWriteBatchSize = int32(100000)

	// minWireVersion is the oldest protocol version this server speaks.
	minWireVersion = int32(0)

	// maxWireVersion is the newest protocol version this server speaks.
	maxWireVersion = int32(21)
)

// MsgHello implements `hello` command.
func (h *Handler) MsgHello(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, err
	}

	res, err := h.hello(ctx, document, false)
	if err != nil {
		return nil, err
	}

	return wire.NewOpMsg(res)
}

// MsgIsMaster implements `isMaster` and `ismaster` commands.
func (h *Handler) MsgIsMaster(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, err
	}

	res, err := h.hello(ctx, document, true)
	if err != nil {
		return nil, err
	}

	return wire.NewOpMsg(res)
}

// hello builds the handshake response document shared by hello, isMaster, and OP_QUERY.
// The legacy commands report the primary role under the ismaster key.
func (h *Handler) hello(ctx context.Context, document bsoncore.Document, legacy bool) (bsoncore.Document, error) {
	connInfo := conninfo.Get(ctx)

	if !connInfo.MetadataRecv() {
		if _, err := document.LookupErr("client"); err == nil {
			connInfo.SetMetadataRecv()
		}
	}

	b := bsoncore.NewDocumentBuilder()

	if legacy {
		b.AppendBoolean("ismaster", true)
	} else {
		b.AppendBoolean("isWritablePrimary", true)
	}

	b.AppendInt32("maxBsonObjectSize", maxBsonObjectSize).
		AppendInt32("maxMessageSizeBytes", int32(wire.MaxMsgLen)).
		AppendInt32("maxWriteBatchSize", maxWriteBatchSize).
		AppendDateTime("localTime", time.Now().UnixMilli()).
		AppendInt32("connectionId", int32(connInfo.ID)).
		AppendInt32("minWireVersion", minWireVersion).
		AppendInt32("maxWireVersion", maxWireVersion).
		AppendBoolean("readOnly", false)

	if _, err := document.LookupErr("saslSupportedMechs"); err == nil {
		mechs := bsoncore.NewArrayBuilder().AppendString("SCRAM-SHA-256").Build()
		b.AppendArray("saslSupportedMechs", mechs)
	}

	b.AppendDouble("ok", 1)

	return b.Build(), nil
}
