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

// Package clientconn provides client connection implementation.
package clientconn

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/clientconn/conninfo"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/handler"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/must"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// conn represents a client connection.
type conn struct {
	netConn       net.Conn
	l             *zap.SugaredLogger
	h             *handler.Handler
	m             *connmetrics.ConnMetrics
	recordsDir    string
	lastRequestID atomic.Int32
}

// newConnOpts represents newConn options.
type newConnOpts struct {
	netConn     net.Conn
	l           *zap.Logger
	handler     *handler.Handler
	connMetrics *connmetrics.ConnMetrics
	recordsDir  string // if empty, no records are created
}

// newConn creates a new client connection for the given net.Conn.
func newConn(opts *newConnOpts) (*conn, error) {
	if opts.handler == nil {
		panic("handler required")
	}

	return &conn{
		netConn:    opts.netConn,
		l:          opts.l.Sugar(),
		h:          opts.handler,
		m:          opts.connMetrics,
		recordsDir: opts.recordsDir,
	}, nil
}

// run runs the client connection until ctx is done, the client disconnects,
// or a fatal error or panic is encountered.
//
// The caller is responsible for closing the underlying net.Conn.
func (c *conn) run(ctx context.Context) (err error) {
	connInfo := conninfo.New()
	defer connInfo.Close()

	if addr, ok := c.netConn.RemoteAddr().(*net.TCPAddr); ok {
		connInfo.Peer = addr.AddrPort()
	}

	ctx = conninfo.Ctx(ctx, connInfo)

	done := make(chan struct{})

	// handle ctx cancellation
	go func() {
		select {
		case <-done:
			// nothing, let goroutine exit
		case <-ctx.Done():
			// unblocks ReadMessage below; any non-zero past value will do
			if e := c.netConn.SetDeadline(time.Unix(0, 0)); e != nil {
				c.l.Warnf("Failed to set deadline: %s", e)
			}
		}
	}()

	defer func() {
		if p := recover(); p != nil {
			// Log human-readable stack trace there (included in the error level automatically).
			c.l.DPanicf("%v\n(err = %v)", p, err)
			err = errors.New("panic")
		}

		if err == nil {
			err = ctx.Err()
		}

		if closed := c.h.Cursors().CloseAll(connInfo.ID); closed > 0 {
			c.l.Infof("Closed %d connection cursors", closed)
		}

		// let the goroutine above exit
		close(done)
	}()

	bufr := bufio.NewReader(c.netConn)

	// if recording is enabled, keep the raw request bytes for replaying
	if c.recordsDir != "" {
		var f *os.File

		if f, err = c.createRecordFile(); err != nil {
			return lazyerrors.Error(err)
		}

		defer func() {
			path := f.Name()
			must.NoError(f.Close())
			must.NoError(os.Rename(path, strings.TrimSuffix(path, ".partial")+".bin"))
		}()

		bufr = bufio.NewReader(io.TeeReader(c.netConn, f))
	}

	bufw := bufio.NewWriter(c.netConn)

	defer func() {
		if e := bufw.Flush(); err == nil {
			err = e
		}

		// c.netConn is closed by the caller
	}()

	for {
		var reqHeader *wire.MsgHeader
		var reqBody wire.MsgBody

		if reqHeader, reqBody, err = wire.ReadMessage(bufr); err != nil {
			return
		}

		c.l.Debugf("Request header: %s", reqHeader)
		c.l.Debugf("Request message:\n%s\n\n\n", reqBody)

		resHeader, resBody, closeConn := c.route(ctx, reqHeader, reqBody)

		if resHeader != nil && resBody != nil {
			c.logResponse(resHeader, resBody, closeConn)

			if err = wire.WriteMessage(bufw, resHeader, resBody); err != nil {
				return
			}

			if err = bufw.Flush(); err != nil {
				return
			}
		}

		if closeConn {
			err = errors.New("fatal error")
			return
		}
	}
}

// createRecordFile creates a partial file for recording incoming messages
// in a fanout subdirectory of the configured records directory.
func (c *conn) createRecordFile() (*os.File, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, lazyerrors.Error(err)
	}

	dir := filepath.Join(c.recordsDir, hex.EncodeToString(b[:1]))
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, lazyerrors.Error(err)
	}

	f, err := os.Create(filepath.Join(dir, hex.EncodeToString(b)+".partial"))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return f, nil
}

// route sends the request to the right handler entry point
// based on the request header's opcode.
//
// The possible returns:
//   - a normal response, closeConn is false;
//   - an error response (the handler returned a protocol error), closeConn is false;
//   - an InternalError response for other errors, closeConn is true;
//   - a nil response for requests that cannot be answered at all, closeConn is true.
//
// Handlers should not panic on bad input, but may do so in "impossible" cases.
// They also should not use recover(). That allows us to use fuzzing.
func (c *conn) route(ctx context.Context, reqHeader *wire.MsgHeader, reqBody wire.MsgBody) (resHeader *wire.MsgHeader, resBody wire.MsgBody, closeConn bool) { //nolint:lll // argument list is too long
	var command, argument, result string

	resHeader = new(wire.MsgHeader)

	defer func() {
		if result == "" {
			result = "panic"
		}

		if argument == "" {
			argument = "unknown"
		}

		c.m.Requests.WithLabelValues(reqHeader.OpCode.String(), command).Inc()
		c.m.Responses.WithLabelValues(resHeader.OpCode.String(), command, argument, result).Inc()
	}()

	var err error

	switch reqHeader.OpCode {
	case wiremessage.OpMsg:
		msg := reqBody.(*wire.OpMsg)

		if doc, e := msg.Document(); e == nil {
			command = commandName(doc)
		}

		resHeader.OpCode = wiremessage.OpMsg

		var res *wire.OpMsg
		if res, err = c.h.HandleOpMsg(ctx, msg); err == nil {
			resBody = res
		}

	case wiremessage.OpQuery:
		query := reqBody.(*wire.OpQuery)

		command = commandName(query.Query())

		resHeader.OpCode = wiremessage.OpReply

		var res *wire.OpReply
		if res, err = c.h.CmdQuery(ctx, query); err == nil {
			resBody = res
		}

	case wiremessage.OpReply, wiremessage.OpUpdate, wiremessage.OpInsert, wiremessage.OpGetMore,
		wiremessage.OpDelete, wiremessage.OpKillCursors, wiremessage.OpCompressed:
		err = lazyerrors.Errorf("unhandled OpCode %s", reqHeader.OpCode)

	default:
		err = lazyerrors.Errorf("unexpected OpCode %s", reqHeader.OpCode)
	}

	if err != nil {
		protoErr, recoverable := handlererrors.ProtocolError(err)
		closeConn = !recoverable
		result = protoErr.Code().String()

		if info := protoErr.Info(); info != nil {
			argument = info.Argument
		}

		switch resHeader.OpCode {
		case wiremessage.OpMsg:
			resBody = must.NotFail(wire.NewOpMsg(protoErr.Document()))

		case wiremessage.OpReply:
			reply := new(wire.OpReply)
			reply.SetDocuments(protoErr.Document())
			resBody = reply

		default:
			// the request's opcode has no response format to carry the error
			closeConn = true
			result = "unhandled"

			c.l.Desugar().Error(
				"Handler error for unhandled request opcode",
				zap.Error(err), zap.Stringer("opcode", reqHeader.OpCode),
			)

			return
		}
	}

	b, err := resBody.MarshalBinary()
	if err != nil {
		result = ""
		panic(err)
	}

	resHeader.MessageLength = int32(wire.MsgHeaderLen + len(b))
	resHeader.RequestID = c.lastRequestID.Add(1)
	resHeader.ResponseTo = reqHeader.RequestID

	if result == "" {
		result = "ok"
	}

	return
}

// logResponse logs the response header and body.
//
// OP_MSG responses that carry an error are logged as warnings,
// or as errors if the connection is closed because of them.
// Everything else is logged as debug.
func (c *conn) logResponse(resHeader *wire.MsgHeader, resBody wire.MsgBody, closeConn bool) {
	level := zap.DebugLevel

	if resHeader.OpCode == wiremessage.OpMsg {
		doc := must.NotFail(resBody.(*wire.OpMsg).Document())

		if v, err := doc.LookupErr("ok"); err == nil {
			if f, ok := v.DoubleOK(); ok && f != 1 {
				if closeConn {
					level = zap.ErrorLevel
				} else {
					level = zap.WarnLevel
				}
			}
		}
	}

	if ce := c.l.Desugar().Check(level, "Response header: "+resHeader.String()); ce != nil {
		ce.Write()
	}

	if ce := c.l.Desugar().Check(level, "Response message:\n"+resBody.String()+"\n\n\n"); ce != nil {
		ce.Write()
	}
}

// commandName returns the first non-$-prefixed key of the request document
// for log and metric labels.
func commandName(doc bsoncore.Document) string {
	elements, err := doc.Elements()
	if err != nil {
		return "unknown"
	}

	for _, e := range elements {
		if key, err := e.KeyErr(); err == nil && !strings.HasPrefix(key, "$") {
			return key
		}
	}

	return "unknown"
}

// Describe implements prometheus.Collector.
func (c *conn) Describe(ch chan<- *prometheus.Desc) {
	c.m.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *conn) Collect(ch chan<- prometheus.Metric) {
	c.m.Collect(ch)
}
