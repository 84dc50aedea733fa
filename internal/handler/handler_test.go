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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdgscram "github.com/xdg-go/scram"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends/memory"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/conninfo"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/password"
	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// setup returns a handler over in-memory storage and credentials,
// and a context bound to a fresh unauthenticated connection.
func setup(t *testing.T, auth bool) (*Handler, context.Context) {
	t.Helper()

	l := testutil.Logger(t)

	b, err := memory.NewBackend(&memory.NewBackendParams{L: l.Named("memory")})
	require.NoError(t, err)

	h, err := New(&NewOpts{
		Backend:     b,
		Credentials: credentials.NewMemory(),
		L:           l,
		ConnMetrics: connmetrics.NewListenerMetrics().ConnMetrics,
		Auth:        auth,
	})
	require.NoError(t, err)

	t.Cleanup(h.Close)

	connInfo := conninfo.New()
	t.Cleanup(connInfo.Close)

	return h, conninfo.Ctx(testutil.Ctx(t), connInfo)
}

// runCommand sends a single command document to the handler
// and returns the response document.
func runCommand(t *testing.T, ctx context.Context, h *Handler, cmd bsoncore.Document) (bsoncore.Document, error) {
	t.Helper()

	msg, err := wire.NewOpMsg(cmd)
	require.NoError(t, err)

	res, err := h.HandleOpMsg(ctx, msg)
	if err != nil {
		return nil, err
	}

	doc, err := res.Document()
	require.NoError(t, err)

	return doc, nil
}

// requireOK asserts that the response reports success.
func requireOK(t *testing.T, doc bsoncore.Document) {
	t.Helper()

	ok, err := doc.LookupErr("ok")
	require.NoError(t, err)

	v, _ := ok.DoubleOK()
	require.Equal(t, float64(1), v, "expected ok response, got %s", doc.String())
}

// requireCommandError asserts that the error is a command error with the given code.
func requireCommandError(t *testing.T, err error, code handlererrors.ErrorCode) *handlererrors.CommandError {
	t.Helper()

	var ce *handlererrors.CommandError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, code, ce.Code(), "expected %s, got %v", code, err)

	return ce
}

// testDocs returns n documents {_id: 1.., v: "v1.."} for inserting.
func testDocs(n int) bsoncore.Array {
	docs := bsoncore.NewArrayBuilder()

	for i := 1; i <= n; i++ {
		docs.AppendDocument(bsoncore.NewDocumentBuilder().
			AppendInt32("_id", int32(i)).
			AppendString("v", fmt.Sprintf("v%d", i)).
			Build())
	}

	return docs.Build()
}

// insertDocs inserts n documents into the given namespace.
func insertDocs(t *testing.T, ctx context.Context, h *Handler, dbName, collName string, n int) {
	t.Helper()

	doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
		AppendString("insert", collName).
		AppendArray("documents", testDocs(n)).
		AppendString("$db", dbName).
		Build())
	require.NoError(t, err)
	requireOK(t, doc)

	v, err := doc.LookupErr("n")
	require.NoError(t, err)
	require.Equal(t, int32(n), v.Int32())
}

// cursorBatch returns the cursor ID and batch documents of a find or getMore response.
func cursorBatch(t *testing.T, doc bsoncore.Document, batch string) (int64, []bsoncore.Document) {
	t.Helper()

	c, err := doc.LookupErr("cursor")
	require.NoError(t, err)

	id, err := c.Document().LookupErr("id")
	require.NoError(t, err)

	arr, err := c.Document().LookupErr(batch)
	require.NoError(t, err)

	values, err := arr.Array().Values()
	require.NoError(t, err)

	docs := make([]bsoncore.Document, len(values))
	for i, v := range values {
		docs[i] = v.Document()
	}

	return id.Int64(), docs
}

func TestCommandLookup(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, false)

	t.Run("Exact", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("ping", 1).
			AppendString("$db", "testdb").
			Build())
		require.NoError(t, err)
		requireOK(t, doc)
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("HELLO", 1).
			AppendString("$db", "testdb").
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		v, err := doc.LookupErr("isWritablePrimary")
		require.NoError(t, err)
		assert.True(t, v.Boolean())
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("sudo", 1).
			AppendString("$db", "testdb").
			Build())
		ce := requireCommandError(t, err, handlererrors.ErrCommandNotFound)
		assert.Contains(t, ce.Error(), "no such command: 'sudo'")
	})

	t.Run("NoCommand", func(t *testing.T) {
		_, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("$db", "testdb").
			Build())
		requireCommandError(t, err, handlererrors.ErrCommandNotFound)
	})
}

func TestAuthenticationGate(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, true)

	for name, cmd := range h.Commands() {
		name, cmd := name, cmd

		t.Run(name, func(t *testing.T) {
			_, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
				AppendInt32(name, 1).
				AppendString("$db", "admin").
				Build())

			if cmd.anonymous {
				// anonymous commands may still fail on missing parameters,
				// but never because of the missing authentication
				if err != nil {
					var ce *handlererrors.CommandError
					require.ErrorAs(t, err, &ce)
					assert.NotEqual(t, handlererrors.ErrUnauthorized, ce.Code())
				}

				return
			}

			ce := requireCommandError(t, err, handlererrors.ErrUnauthorized)
			assert.Contains(t, ce.Error(), fmt.Sprintf("command %s requires authentication", name))
		})
	}

	t.Run("Authenticated", func(t *testing.T) {
		conninfo.Get(ctx).SetAuth("alice", "admin")

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("listDatabases", 1).
			AppendString("$db", "admin").
			Build())
		require.NoError(t, err)
		requireOK(t, doc)
	})
}

func TestInsertFind(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, false)

	dbName, collName := testutil.DatabaseName(t), testutil.CollectionName(t)

	insertDocs(t, ctx, h, dbName, collName, 3)

	t.Run("FindAll", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("find", collName).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		id, docs := cursorBatch(t, doc, "firstBatch")
		assert.Zero(t, id)
		assert.Len(t, docs, 3)
	})

	t.Run("FindFilter", func(t *testing.T) {
		filter := bsoncore.NewDocumentBuilder().
			AppendDocument("_id", bsoncore.NewDocumentBuilder().AppendInt32("$gt", 1).Build()).
			Build()

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("find", collName).
			AppendDocument("filter", filter).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)

		_, docs := cursorBatch(t, doc, "firstBatch")
		require.Len(t, docs, 2)
	})

	t.Run("FindSort", func(t *testing.T) {
		sort := bsoncore.NewDocumentBuilder().AppendInt32("_id", -1).Build()

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("find", collName).
			AppendDocument("sort", sort).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)

		_, docs := cursorBatch(t, doc, "firstBatch")
		require.Len(t, docs, 3)

		v, err := docs[0].LookupErr("_id")
		require.NoError(t, err)
		assert.Equal(t, int32(3), v.Int32())
	})

	t.Run("DuplicateID", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("insert", collName).
			AppendArray("documents", testDocs(1)).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		n, err := doc.LookupErr("n")
		require.NoError(t, err)
		assert.Zero(t, n.Int32())

		v, err := doc.LookupErr("writeErrors")
		require.NoError(t, err)

		values, err := v.Array().Values()
		require.NoError(t, err)
		require.Len(t, values, 1)

		code, err := values[0].Document().LookupErr("code")
		require.NoError(t, err)
		assert.Equal(t, int32(11000), code.Int32())
	})

	t.Run("GeneratedID", func(t *testing.T) {
		docs := bsoncore.NewArrayBuilder().
			AppendDocument(bsoncore.NewDocumentBuilder().AppendString("v", "no id").Build()).
			Build()

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("insert", collName).
			AppendArray("documents", docs).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		filter := bsoncore.NewDocumentBuilder().AppendString("v", "no id").Build()

		doc, err = runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("find", collName).
			AppendDocument("filter", filter).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)

		_, batch := cursorBatch(t, doc, "firstBatch")
		require.Len(t, batch, 1)

		v, err := batch[0].LookupErr("_id")
		require.NoError(t, err)

		_, ok := v.ObjectIDOK()
		assert.True(t, ok, "expected generated ObjectID _id, got %s", v.String())
	})
}

func TestUpdateDelete(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, false)

	dbName, collName := testutil.DatabaseName(t), testutil.CollectionName(t)

	insertDocs(t, ctx, h, dbName, collName, 3)

	t.Run("Update", func(t *testing.T) {
		q := bsoncore.NewDocumentBuilder().AppendInt32("_id", 2).Build()
		u := bsoncore.NewDocumentBuilder().
			AppendDocument("$set", bsoncore.NewDocumentBuilder().AppendString("v", "updated").Build()).
			Build()

		updates := bsoncore.NewArrayBuilder().
			AppendDocument(bsoncore.NewDocumentBuilder().
				AppendDocument("q", q).
				AppendDocument("u", u).
				Build()).
			Build()

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("update", collName).
			AppendArray("updates", updates).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		n, err := doc.LookupErr("n")
		require.NoError(t, err)
		assert.Equal(t, int32(1), n.Int32())

		modified, err := doc.LookupErr("nModified")
		require.NoError(t, err)
		assert.Equal(t, int32(1), modified.Int32())
	})

	t.Run("Upsert", func(t *testing.T) {
		q := bsoncore.NewDocumentBuilder().AppendInt32("_id", 42).Build()
		u := bsoncore.NewDocumentBuilder().
			AppendDocument("$set", bsoncore.NewDocumentBuilder().AppendString("v", "upserted").Build()).
			Build()

		updates := bsoncore.NewArrayBuilder().
			AppendDocument(bsoncore.NewDocumentBuilder().
				AppendDocument("q", q).
				AppendDocument("u", u).
				AppendBoolean("upsert", true).
				Build()).
			Build()

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("update", collName).
			AppendArray("updates", updates).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		n, err := doc.LookupErr("n")
		require.NoError(t, err)
		assert.Equal(t, int32(1), n.Int32())

		upserted, err := doc.LookupErr("upserted")
		require.NoError(t, err)

		values, err := upserted.Array().Values()
		require.NoError(t, err)
		require.Len(t, values, 1)
	})

	t.Run("Count", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("count", collName).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		n, err := doc.LookupErr("n")
		require.NoError(t, err)
		assert.Equal(t, int32(4), n.Int32())
	})

	t.Run("Distinct", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("distinct", collName).
			AppendString("key", "v").
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		v, err := doc.LookupErr("values")
		require.NoError(t, err)

		values, err := v.Array().Values()
		require.NoError(t, err)
		assert.Len(t, values, 4)
	})

	t.Run("Delete", func(t *testing.T) {
		q := bsoncore.NewDocumentBuilder().
			AppendDocument("_id", bsoncore.NewDocumentBuilder().AppendInt32("$lte", 2).Build()).
			Build()

		deletes := bsoncore.NewArrayBuilder().
			AppendDocument(bsoncore.NewDocumentBuilder().
				AppendDocument("q", q).
				AppendInt32("limit", 0).
				Build()).
			Build()

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("delete", collName).
			AppendArray("deletes", deletes).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		n, err := doc.LookupErr("n")
		require.NoError(t, err)
		assert.Equal(t, int32(2), n.Int32())
	})
}

func TestGetMore(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, false)

	dbName, collName := testutil.DatabaseName(t), testutil.CollectionName(t)

	insertDocs(t, ctx, h, dbName, collName, 5)

	find := func(batchSize int32) (int64, []bsoncore.Document) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("find", collName).
			AppendInt32("batchSize", batchSize).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		return cursorBatch(t, doc, "firstBatch")
	}

	getMore := func(id int64, coll string, batchSize int32) (bsoncore.Document, error) {
		return runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt64("getMore", id).
			AppendString("collection", coll).
			AppendInt32("batchSize", batchSize).
			AppendString("$db", dbName).
			Build())
	}

	t.Run("Exhaustion", func(t *testing.T) {
		id, docs := find(2)
		require.NotZero(t, id)
		require.Len(t, docs, 2)

		doc, err := getMore(id, collName, 2)
		require.NoError(t, err)
		requireOK(t, doc)

		nextID, docs := cursorBatch(t, doc, "nextBatch")
		assert.Equal(t, id, nextID)
		assert.Len(t, docs, 2)

		doc, err = getMore(id, collName, 2)
		require.NoError(t, err)

		nextID, docs = cursorBatch(t, doc, "nextBatch")
		assert.Zero(t, nextID)
		assert.Len(t, docs, 1)

		_, err = getMore(id, collName, 2)
		requireCommandError(t, err, handlererrors.ErrCursorNotFound)
	})

	t.Run("WrongNamespace", func(t *testing.T) {
		id, _ := find(2)
		require.NotZero(t, id)

		_, err := getMore(id, "other", 2)
		requireCommandError(t, err, handlererrors.ErrCursorNotFound)

		// the cursor is still valid for the right namespace
		doc, err := getMore(id, collName, 2)
		require.NoError(t, err)
		requireOK(t, doc)
	})

	t.Run("WrongIDType", func(t *testing.T) {
		_, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("getMore", 1).
			AppendString("collection", collName).
			AppendString("$db", dbName).
			Build())
		requireCommandError(t, err, handlererrors.ErrTypeMismatch)
	})

	t.Run("NegativeBatchSize", func(t *testing.T) {
		id, _ := find(2)

		_, err := getMore(id, collName, -1)
		requireCommandError(t, err, handlererrors.ErrBadValue)
	})
}

func TestKillCursors(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, false)

	dbName, collName := testutil.DatabaseName(t), testutil.CollectionName(t)

	insertDocs(t, ctx, h, dbName, collName, 3)

	find := func() int64 {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("find", collName).
			AppendInt32("batchSize", 1).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)

		id, _ := cursorBatch(t, doc, "firstBatch")
		require.NotZero(t, id)

		return id
	}

	killCursors := func(coll string, ids ...int64) bsoncore.Document {
		cursors := bsoncore.NewArrayBuilder()
		for _, id := range ids {
			cursors.AppendInt64(id)
		}

		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("killCursors", coll).
			AppendArray("cursors", cursors.Build()).
			AppendString("$db", dbName).
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		return doc
	}

	ids := func(t *testing.T, doc bsoncore.Document, key string) []int64 {
		t.Helper()

		v, err := doc.LookupErr(key)
		require.NoError(t, err)

		values, err := v.Array().Values()
		require.NoError(t, err)

		res := make([]int64, len(values))
		for i, v := range values {
			res[i] = v.Int64()
		}

		return res
	}

	t.Run("KilledAndNotFound", func(t *testing.T) {
		id := find()

		doc := killCursors(collName, id, 123456)
		assert.Equal(t, []int64{id}, ids(t, doc, "cursorsKilled"))
		assert.Equal(t, []int64{123456}, ids(t, doc, "cursorsNotFound"))

		// killed cursors are gone
		_, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt64("getMore", id).
			AppendString("collection", collName).
			AppendString("$db", dbName).
			Build())
		requireCommandError(t, err, handlererrors.ErrCursorNotFound)
	})

	t.Run("WrongNamespace", func(t *testing.T) {
		id := find()

		doc := killCursors("other", id)
		assert.Empty(t, ids(t, doc, "cursorsKilled"))
		assert.Equal(t, []int64{id}, ids(t, doc, "cursorsNotFound"))
	})

	t.Run("WrongIDType", func(t *testing.T) {
		cursors := bsoncore.NewArrayBuilder().AppendInt32(1).Build()

		_, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("killCursors", collName).
			AppendArray("cursors", cursors).
			AppendString("$db", dbName).
			Build())
		requireCommandError(t, err, handlererrors.ErrTypeMismatch)
	})
}

func TestUserManagement(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, false)

	createUser := func(username, pwd string) error {
		_, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("createUser", username).
			AppendString("pwd", pwd).
			AppendString("$db", "admin").
			Build())

		return err
	}

	require.NoError(t, createUser("alice", "secret"))
	require.NoError(t, createUser("bob", "hunter2"))

	t.Run("AlreadyExists", func(t *testing.T) {
		err := createUser("alice", "other")
		ce := requireCommandError(t, err, handlererrors.ErrUserAlreadyExists)
		assert.Contains(t, ce.Error(), `User "alice@admin" already exists`)
	})

	t.Run("UsersInfo", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("usersInfo", 1).
			AppendString("$db", "admin").
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		v, err := doc.LookupErr("users")
		require.NoError(t, err)

		values, err := v.Array().Values()
		require.NoError(t, err)
		require.Len(t, values, 2)

		user, err := values[0].Document().LookupErr("user")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.StringValue())
	})

	t.Run("UpdateUser", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("updateUser", "alice").
			AppendString("pwd", "rotated").
			AppendString("$db", "admin").
			Build())
		require.NoError(t, err)
		requireOK(t, doc)
	})

	t.Run("DropUser", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("dropUser", "bob").
			AppendString("$db", "admin").
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		_, err = runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendString("dropUser", "bob").
			AppendString("$db", "admin").
			Build())
		requireCommandError(t, err, handlererrors.ErrUserNotFound)
	})

	t.Run("DropAllUsers", func(t *testing.T) {
		doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("dropAllUsersFromDatabase", 1).
			AppendString("$db", "admin").
			Build())
		require.NoError(t, err)
		requireOK(t, doc)

		n, err := doc.LookupErr("n")
		require.NoError(t, err)
		assert.Equal(t, int32(1), n.Int32())
	})
}

// saslPayload extracts the binary payload of a saslStart or saslContinue response.
func saslPayload(t *testing.T, doc bsoncore.Document) string {
	t.Helper()

	v, err := doc.LookupErr("payload")
	require.NoError(t, err)

	_, data, ok := v.BinaryOK()
	require.True(t, ok)

	return string(data)
}

func TestSASLAuthentication(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, true)

	hash, err := password.SCRAMSHA256Hash("correct horse battery staple")
	require.NoError(t, err)

	err = h.Credentials.Store(ctx, &credentials.Credential{
		Username:       "alice",
		AuthDB:         "admin",
		StoredKey:      hash.StoredKey,
		ServerKey:      hash.ServerKey,
		Salt:           hash.Salt,
		IterationCount: hash.IterationCount,
	})
	require.NoError(t, err)

	saslStart := func(t *testing.T, ctx context.Context, mechanism, payload string) (bsoncore.Document, error) {
		t.Helper()

		return runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("saslStart", 1).
			AppendString("mechanism", mechanism).
			AppendBinary("payload", 0, []byte(payload)).
			AppendString("$db", "admin").
			Build())
	}

	saslContinue := func(t *testing.T, ctx context.Context, convID int32, payload string) (bsoncore.Document, error) {
		t.Helper()

		return runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("saslContinue", 1).
			AppendInt32("conversationId", convID).
			AppendBinary("payload", 0, []byte(payload)).
			AppendString("$db", "admin").
			Build())
	}

	t.Run("Success", func(t *testing.T) {
		connInfo := conninfo.New()
		t.Cleanup(connInfo.Close)
		ctx := conninfo.Ctx(ctx, connInfo)

		client, err := xdgscram.SHA256.NewClient("alice", "correct horse battery staple", "")
		require.NoError(t, err)

		conv := client.NewConversation()

		clientFirst, err := conv.Step("")
		require.NoError(t, err)

		doc, err := saslStart(t, ctx, "SCRAM-SHA-256", clientFirst)
		require.NoError(t, err)
		requireOK(t, doc)

		done, err := doc.LookupErr("done")
		require.NoError(t, err)
		assert.False(t, done.Boolean())

		id, err := doc.LookupErr("conversationId")
		require.NoError(t, err)

		clientFinal, err := conv.Step(saslPayload(t, doc))
		require.NoError(t, err)

		doc, err = saslContinue(t, ctx, id.Int32(), clientFinal)
		require.NoError(t, err)
		requireOK(t, doc)

		done, err = doc.LookupErr("done")
		require.NoError(t, err)
		assert.True(t, done.Boolean())

		_, err = conv.Step(saslPayload(t, doc))
		require.NoError(t, err)
		assert.True(t, conv.Valid())

		assert.True(t, connInfo.Authenticated())

		username, authDB := connInfo.Auth()
		assert.Equal(t, "alice", username)
		assert.Equal(t, "admin", authDB)

		// the gate is open now
		res, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
			AppendInt32("listDatabases", 1).
			AppendString("$db", "admin").
			Build())
		require.NoError(t, err)
		requireOK(t, res)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		connInfo := conninfo.New()
		t.Cleanup(connInfo.Close)
		ctx := conninfo.Ctx(ctx, connInfo)

		client, err := xdgscram.SHA256.NewClient("alice", "hunter2", "")
		require.NoError(t, err)

		conv := client.NewConversation()

		clientFirst, err := conv.Step("")
		require.NoError(t, err)

		doc, err := saslStart(t, ctx, "SCRAM-SHA-256", clientFirst)
		require.NoError(t, err)

		id, err := doc.LookupErr("conversationId")
		require.NoError(t, err)

		clientFinal, err := conv.Step(saslPayload(t, doc))
		require.NoError(t, err)

		_, err = saslContinue(t, ctx, id.Int32(), clientFinal)
		requireCommandError(t, err, handlererrors.ErrAuthenticationFailed)

		assert.False(t, connInfo.Authenticated())
	})

	t.Run("UnknownUser", func(t *testing.T) {
		connInfo := conninfo.New()
		t.Cleanup(connInfo.Close)
		ctx := conninfo.Ctx(ctx, connInfo)

		client, err := xdgscram.SHA256.NewClient("mallory", "whatever", "")
		require.NoError(t, err)

		conv := client.NewConversation()

		clientFirst, err := conv.Step("")
		require.NoError(t, err)

		// the first round succeeds to keep user enumeration impossible
		doc, err := saslStart(t, ctx, "SCRAM-SHA-256", clientFirst)
		require.NoError(t, err)
		requireOK(t, doc)

		id, err := doc.LookupErr("conversationId")
		require.NoError(t, err)

		clientFinal, err := conv.Step(saslPayload(t, doc))
		require.NoError(t, err)

		_, err = saslContinue(t, ctx, id.Int32(), clientFinal)
		requireCommandError(t, err, handlererrors.ErrAuthenticationFailed)
	})

	t.Run("UnsupportedMechanism", func(t *testing.T) {
		connInfo := conninfo.New()
		t.Cleanup(connInfo.Close)
		ctx := conninfo.Ctx(ctx, connInfo)

		_, err := saslStart(t, ctx, "PLAIN", "\x00alice\x00secret")
		requireCommandError(t, err, handlererrors.ErrMechanismUnavailable)
	})

	t.Run("ContinueWithoutStart", func(t *testing.T) {
		connInfo := conninfo.New()
		t.Cleanup(connInfo.Close)
		ctx := conninfo.Ctx(ctx, connInfo)

		_, err := saslContinue(t, ctx, 1, "whatever")
		requireCommandError(t, err, handlererrors.ErrAuthenticationFailed)
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()

	h, ctx := setup(t, true)

	conninfo.Get(ctx).SetAuth("alice", "admin")

	doc, err := runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
		AppendInt32("logout", 1).
		AppendString("$db", "admin").
		Build())
	require.NoError(t, err)
	requireOK(t, doc)

	assert.False(t, conninfo.Get(ctx).Authenticated())

	_, err = runCommand(t, ctx, h, bsoncore.NewDocumentBuilder().
		AppendString("find", "values").
		AppendString("$db", "testdb").
		Build())
	requireCommandError(t, err, handlererrors.ErrUnauthorized)
}
