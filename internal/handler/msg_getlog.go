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
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/build/version"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/logging"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// logRecord is a single log line of the getLog response
// in the format mongosh and drivers expect.
type logRecord struct {
	Timestamp map[string]string `json:"t"`
	Severity  string            `json:"s"`
	Component string            `json:"c"`
	ID        int               `json:"id"`
	Ctx       string            `json:"ctx"`
	Msg       string            `json:"msg"`
}

// newLogRecord returns a log line for the given message.
func newLogRecord(t time.Time, severity, msg string) *logRecord {
	return &logRecord{
		Timestamp: map[string]string{"$date": t.Format(time.RFC3339Nano)},
		Severity:  severity,
		Component: "-",
		Ctx:       "",
		Msg:       msg,
	}
}

// MsgGetLog implements `getLog` command.
func (h *Handler) MsgGetLog(ctx context.Context, msg *wire.OpMsg) (*wire.OpMsg, error) {
	document, err := msg.Document()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	getLog, err := getRequiredParam[string](document, "getLog")
	if err != nil {
		return nil, err
	}

	switch getLog {
	case "*":
		names := bsoncore.NewArrayBuilder().
			AppendString("global").
			AppendString("startupWarnings").
			Build()

		res := bsoncore.NewDocumentBuilder().
			AppendArray("names", names).
			AppendDouble("ok", 1).
			Build()

		return wire.NewOpMsg(res)

	case "global":
		entries := logging.RecentEntries.Get()
		log := bsoncore.NewArrayBuilder()

		for _, e := range entries {
			b, err := json.Marshal(newLogRecord(e.Time, e.Level.CapitalString()[:1], e.Message))
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			log.AppendString(string(b))
		}

		res := bsoncore.NewDocumentBuilder().
			AppendInt32("totalLinesWritten", int32(len(entries))).
			AppendArray("log", log.Build()).
			AppendDouble("ok", 1).
			Build()

		return wire.NewOpMsg(res)

	case "startupWarnings":
		info := version.Get()
		now := time.Now()

		lines := []string{
			fmt.Sprintf("Powered by MeerkatDB %s.", info.Version),
		}

		if info.DebugBuild {
			lines = append(lines, "This is a debug build. The performance will be affected.")
		}

		log := bsoncore.NewArrayBuilder()

		for _, line := range lines {
			b, err := json.Marshal(newLogRecord(now, "I", line))
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			log.AppendString(string(b))
		}

		res := bsoncore.NewDocumentBuilder().
			AppendInt32("totalLinesWritten", int32(len(lines))).
			AppendArray("log", log.Build()).
			AppendDouble("ok", 1).
			Build()

		return wire.NewOpMsg(res)

	default:
		return nil, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrOperationFailed,
			fmt.Sprintf("no RamLog named: %s", getLog),
			"getLog",
		)
	}
}
