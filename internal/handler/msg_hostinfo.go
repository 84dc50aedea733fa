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
	"runtime"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgHostInfo implements `hostInfo` command.
func (h *Handler) MsgHostInfo(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	system := bsoncore.NewDocumentBuilder().
		AppendDateTime("currentTime", time.Now().UnixMilli()).
		AppendString("hostname", hostname).
		AppendInt32("cpuAddrSize", int32(strconv.IntSize)).
		AppendInt32("numCores", int32(runtime.NumCPU())).
		AppendString("cpuArch", runtime.GOARCH).
		AppendBoolean("numaEnabled", false).
		Build()

	osDoc := bsoncore.NewDocumentBuilder().
		AppendString("type", runtime.GOOS).
		Build()

	res := bsoncore.NewDocumentBuilder().
		AppendDocument("system", system).
		AppendDocument("os", osDoc).
		AppendDocument("extra", bsoncore.NewDocumentBuilder().Build()).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
