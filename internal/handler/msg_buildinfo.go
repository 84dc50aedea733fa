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
	"strconv"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/build/version"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgBuildInfo implements `buildInfo` command.
func (h *Handler) MsgBuildInfo(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	info := version.Get()

	versionArray := bsoncore.NewArrayBuilder()
	for _, v := range info.MongoDBVersionArray {
		versionArray.AppendInt32(v)
	}

	buildEnvironment := bsoncore.NewDocumentBuilder()

	keys := make([]string, 0, len(info.BuildEnvironment))
	for k := range info.BuildEnvironment {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		buildEnvironment.AppendString(k, info.BuildEnvironment[k])
	}

	res := bsoncore.NewDocumentBuilder().
		AppendString("version", info.MongoDBVersion).
		AppendString("gitVersion", info.Commit).
		AppendArray("modules", bsoncore.NewArrayBuilder().Build()).
		AppendString("sysInfo", "deprecated").
		AppendArray("versionArray", versionArray.Build()).
		AppendInt32("bits", int32(strconv.IntSize)).
		AppendBoolean("debug", info.DebugBuild).
		AppendInt32("maxBsonObjectSize", maxBsonObjectSize).
		AppendDocument("buildEnvironment", buildEnvironment.Build()).
		AppendString("meerkatdbVersion", info.Version).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
