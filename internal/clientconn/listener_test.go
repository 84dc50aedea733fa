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

package clientconn

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"

	"github.com/meerkatdb/meerkatdb/internal/backends/memory"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/handler"
	"github.com/meerkatdb/meerkatdb/internal/util/must"
	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// testClient is a minimal wire protocol client for exercising the full connection loop.
type testClient struct {
	conn net.Conn
	bufr *bufio.Reader
	bufw *bufio.Writer

	lastRequestID int32
}

// startListener runs a listener over in-memory storage
// and returns a connected client.
func startListener(t *testing.T, opts *NewListenerOpts) (*testClient, *Listener, context.CancelFunc, chan error) {
	t.Helper()

	l := testutil.Logger(t)

	b, err := memory.NewBackend(&memory.NewBackendParams{L: l.Named("memory")})
	require.NoError(t, err)

	h, err := handler.New(&handler.NewOpts{
		Backend:     b,
		Credentials: credentials.NewMemory(),
		L:           l,
		ConnMetrics: opts.Metrics.ConnMetrics,
	})
	require.NoError(t, err)

	t.Cleanup(h.Close)

	opts.TCP = "127.0.0.1:0"
	opts.Handler = h
	opts.Logger = l

	lis := NewListener(opts)

	ctx, cancel := context.WithCancel(testutil.Ctx(t))

	done := make(chan error, 1)
	stopped := make(chan struct{})

	go func() {
		done <- lis.Run(ctx)
		close(stopped)
	}()

	conn, err := net.Dial("tcp", lis.TCPAddr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-stopped
	})

	client := &testClient{
		conn: conn,
		bufr: bufio.NewReader(conn),
		bufw: bufio.NewWriter(conn),
	}

	return client, lis, cancel, done
}

// roundTrip sends a message body and returns the response.
func (c *testClient) roundTrip(t *testing.T, body wire.MsgBody, opCode wiremessage.OpCode) (*wire.MsgHeader, wire.MsgBody) {
	t.Helper()

	b := must.NotFail(body.MarshalBinary())

	c.lastRequestID++

	header := &wire.MsgHeader{
		MessageLength: int32(wire.MsgHeaderLen + len(b)),
		RequestID:     c.lastRequestID,
		OpCode:        opCode,
	}

	require.NoError(t, wire.WriteMessage(c.bufw, header, body))
	require.NoError(t, c.bufw.Flush())

	resHeader, resBody, err := wire.ReadMessage(c.bufr)
	require.NoError(t, err)
	assert.Equal(t, c.lastRequestID, resHeader.ResponseTo)

	return resHeader, resBody
}

// command sends an OP_MSG command and returns the response document.
func (c *testClient) command(t *testing.T, doc bsoncore.Document) bsoncore.Document {
	t.Helper()

	msg := must.NotFail(wire.NewOpMsg(doc))

	_, resBody := c.roundTrip(t, msg, wiremessage.OpMsg)

	res, ok := resBody.(*wire.OpMsg)
	require.True(t, ok, "expected OpMsg, got %T", resBody)

	return must.NotFail(res.Document())
}

func TestListenerConnection(t *testing.T) {
	t.Parallel()

	client, _, _, _ := startListener(t, &NewListenerOpts{
		Metrics: connmetrics.NewListenerMetrics(),
	})

	t.Run("Handshake", func(t *testing.T) {
		// old drivers start with the OP_QUERY isMaster handshake
		query := must.NotFail(wire.NewOpQuery(bsoncore.NewDocumentBuilder().
			AppendInt32("isMaster", 1).
			Build()))
		query.FullCollectionName = "admin.$cmd"
		query.NumberToReturn = -1

		resHeader, resBody := client.roundTrip(t, query, wiremessage.OpQuery)
		assert.Equal(t, wiremessage.OpReply, resHeader.OpCode)

		reply, ok := resBody.(*wire.OpReply)
		require.True(t, ok, "expected OpReply, got %T", resBody)

		doc := reply.Document()

		v, err := doc.LookupErr("ismaster")
		require.NoError(t, err)
		assert.True(t, v.Boolean())
	})

	t.Run("Ping", func(t *testing.T) {
		doc := client.command(t, bsoncore.NewDocumentBuilder().
			AppendInt32("ping", 1).
			AppendString("$db", "admin").
			Build())

		v, err := doc.LookupErr("ok")
		require.NoError(t, err)
		assert.Equal(t, float64(1), v.Double())
	})

	t.Run("UnknownCommand", func(t *testing.T) {
		doc := client.command(t, bsoncore.NewDocumentBuilder().
			AppendInt32("sudo", 1).
			AppendString("$db", "admin").
			Build())

		v, err := doc.LookupErr("ok")
		require.NoError(t, err)
		assert.Equal(t, float64(0), v.Double())

		code, err := doc.LookupErr("code")
		require.NoError(t, err)
		assert.Equal(t, int32(59), code.Int32())

		// a command error does not break the connection
		doc = client.command(t, bsoncore.NewDocumentBuilder().
			AppendInt32("ping", 1).
			AppendString("$db", "admin").
			Build())

		v, err = doc.LookupErr("ok")
		require.NoError(t, err)
		assert.Equal(t, float64(1), v.Double())
	})

	t.Run("FindOverSocket", func(t *testing.T) {
		docs := bsoncore.NewArrayBuilder()
		for i := int32(1); i <= 3; i++ {
			docs.AppendDocument(bsoncore.NewDocumentBuilder().AppendInt32("_id", i).Build())
		}

		doc := client.command(t, bsoncore.NewDocumentBuilder().
			AppendString("insert", "values").
			AppendArray("documents", docs.Build()).
			AppendString("$db", "testdb").
			Build())

		n, err := doc.LookupErr("n")
		require.NoError(t, err)
		assert.Equal(t, int32(3), n.Int32())

		doc = client.command(t, bsoncore.NewDocumentBuilder().
			AppendString("find", "values").
			AppendString("$db", "testdb").
			Build())

		cursor, err := doc.LookupErr("cursor")
		require.NoError(t, err)

		batch, err := cursor.Document().LookupErr("firstBatch")
		require.NoError(t, err)

		values, err := batch.Array().Values()
		require.NoError(t, err)
		assert.Len(t, values, 3)
	})
}

func TestListenerRecords(t *testing.T) {
	t.Parallel()

	recordsDir := t.TempDir()

	client, _, cancel, done := startListener(t, &NewListenerOpts{
		Metrics:    connmetrics.NewListenerMetrics(),
		RecordsDir: recordsDir,
	})

	doc := client.command(t, bsoncore.NewDocumentBuilder().
		AppendInt32("ping", 1).
		AppendString("$db", "admin").
		Build())

	v, err := doc.LookupErr("ok")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v.Double())

	// records are renamed into place when the connection ends
	require.NoError(t, client.conn.Close())
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	matches, err := filepath.Glob(filepath.Join(recordsDir, "*", "*.bin"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	records, err := wire.LoadRecords(recordsDir, 100)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	assert.Equal(t, wiremessage.OpMsg, records[0].Header.OpCode)
}

func TestListenerGracefulStop(t *testing.T) {
	t.Parallel()

	client, _, cancel, done := startListener(t, &NewListenerOpts{
		Metrics: connmetrics.NewListenerMetrics(),
	})

	doc := client.command(t, bsoncore.NewDocumentBuilder().
		AppendInt32("ping", 1).
		AppendString("$db", "admin").
		Build())

	v, err := doc.LookupErr("ok")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v.Double())

	// an idle connection does not block the shutdown longer than the grace delay
	cancel()

	start := time.Now()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Less(t, time.Since(start), connGraceDelay+3*time.Second)
}

func TestListenerNoAddresses(t *testing.T) {
	t.Parallel()

	lis := NewListener(&NewListenerOpts{
		Metrics: connmetrics.NewListenerMetrics(),
		Logger:  testutil.Logger(t),
	})

	err := lis.Run(testutil.Ctx(t))
	require.ErrorContains(t, err, "no listen addresses configured")
}
