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
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/build/version"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// MsgServerStatus implements `serverStatus` command.
func (h *Handler) MsgServerStatus(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	uptime := time.Since(h.startTime)

	// total + failed counts per command, aggregated over opcodes and arguments
	type commandStat struct {
		total  int64
		failed int64
	}

	stats := map[string]commandStat{}

	for _, commands := range h.ConnMetrics.GetResponses() {
		for command, arguments := range commands {
			s := stats[command]

			for _, m := range arguments {
				s.total += int64(m.Total)

				for _, f := range m.Failures {
					s.failed += int64(f)
				}
			}

			stats[command] = s
		}
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}

	sort.Strings(names)

	commands := bsoncore.NewDocumentBuilder()

	for _, name := range names {
		cb := bsoncore.NewDocumentBuilder().
			AppendInt64("total", stats[name].total)

		if stats[name].failed > 0 {
			cb.AppendInt64("failed", stats[name].failed)
		}

		commands.AppendDocument(name, cb.Build())
	}

	metrics := bsoncore.NewDocumentBuilder().
		AppendDocument("commands", commands.Build()).
		Build()

	res := bsoncore.NewDocumentBuilder().
		AppendString("host", host).
		AppendString("version", version.Get().MongoDBVersion).
		AppendString("process", os.Args[0]).
		AppendInt64("pid", int64(os.Getpid())).
		AppendInt64("uptime", int64(uptime.Seconds())).
		AppendInt64("uptimeMillis", uptime.Milliseconds()).
		AppendInt64("uptimeEstimate", int64(uptime.Seconds())).
		AppendDateTime("localTime", time.Now().UnixMilli()).
		AppendDocument("metrics", metrics).
		AppendDouble("ok", 1).
		Build()

	return wire.NewOpMsg(res)
}
