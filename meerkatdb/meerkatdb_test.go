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

package meerkatdb_test

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
	"github.com/meerkatdb/meerkatdb/meerkatdb"
)

func TestDeps(t *testing.T) {
	t.Parallel()

	var res struct {
		Deps []string `json:"Deps"`
	}
	b, err := exec.Command("go", "list", "-json").Output()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &res))

	assert.NotContains(t, res.Deps, "testing", `package "testing" should not be imported by non-testing code`)
}

func TestEmbedded(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(testutil.Ctx(t))
	defer cancel()

	mdb, err := meerkatdb.New(&meerkatdb.Config{
		Listener: meerkatdb.ListenerConfig{
			Addr: "127.0.0.1:0",
		},
		Logger: testutil.Logger(t),
	})
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- mdb.Run(ctx)
	}()

	uri := mdb.MongoDBURI()
	assert.Regexp(t, `^mongodb://127\.0\.0\.1:\d+/$`, uri)
	assert.Equal(t, mdb.Addr().String(), uri[len("mongodb://"):len(uri)-1])

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	require.NoError(t, client.Ping(ctx, nil))

	coll := client.Database(testutil.DatabaseName(t)).Collection(testutil.CollectionName(t))

	docs := make([]any, 10)
	for i := range docs {
		docs[i] = bson.D{{"_id", int32(i)}, {"v", int32(i)}}
	}

	_, err = coll.InsertMany(ctx, docs)
	require.NoError(t, err)

	// a small batch size forces the driver through several getMore rounds
	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{"_id", 1}}).SetBatchSize(3))
	require.NoError(t, err)

	var res []bson.D
	require.NoError(t, cur.All(ctx, &res))
	require.Len(t, res, 10)
	assert.Equal(t, bson.D{{"_id", int32(0)}, {"v", int32(0)}}, res[0])
	assert.Equal(t, bson.D{{"_id", int32(9)}, {"v", int32(9)}}, res[9])

	count, err := coll.EstimatedDocumentCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10, count)

	updated, err := coll.UpdateOne(ctx, bson.D{{"_id", int32(3)}}, bson.D{{"$set", bson.D{{"v", int32(30)}}}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated.ModifiedCount)

	var doc bson.D
	require.NoError(t, coll.FindOne(ctx, bson.D{{"_id", int32(3)}}).Decode(&doc))
	assert.Equal(t, bson.D{{"_id", int32(3)}, {"v", int32(30)}}, doc)

	deleted, err := coll.DeleteMany(ctx, bson.D{{"v", bson.D{{"$lt", int32(5)}}}})
	require.NoError(t, err)
	assert.EqualValues(t, 4, deleted.DeletedCount)

	count, err = coll.EstimatedDocumentCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, count)

	require.NoError(t, client.Disconnect(ctx))

	cancel()
	require.NoError(t, <-done)
}

func TestEmbeddedAuth(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(testutil.Ctx(t))
	defer cancel()

	mdb, err := meerkatdb.New(&meerkatdb.Config{
		Listener: meerkatdb.ListenerConfig{
			Addr: "127.0.0.1:0",
		},
		Auth: &meerkatdb.AuthConfig{
			Username: "alice",
			Password: "correct horse battery staple",
		},
		Logger: testutil.Logger(t),
	})
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- mdb.Run(ctx)
	}()

	uri := mdb.MongoDBURI()

	// the handshake and ping stay anonymous; only commands are rejected
	anon, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	require.NoError(t, anon.Ping(ctx, nil))

	_, err = anon.Database(testutil.DatabaseName(t)).Collection(testutil.CollectionName(t)).Find(ctx, bson.D{})

	var ce mongo.CommandError
	require.ErrorAs(t, err, &ce)
	assert.EqualValues(t, 13, ce.Code)
	assert.Equal(t, "Unauthorized", ce.Name)

	require.NoError(t, anon.Disconnect(ctx))

	auth, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAuth(options.Credential{
		AuthMechanism: "SCRAM-SHA-256",
		AuthSource:    "admin",
		Username:      "alice",
		Password:      "correct horse battery staple",
	}))
	require.NoError(t, err)

	coll := auth.Database(testutil.DatabaseName(t)).Collection(testutil.CollectionName(t))

	_, err = coll.InsertOne(ctx, bson.D{{"_id", "s1"}, {"v", int32(42)}})
	require.NoError(t, err)

	var doc bson.D
	require.NoError(t, coll.FindOne(ctx, bson.D{{"_id", "s1"}}).Decode(&doc))
	assert.Equal(t, bson.D{{"_id", "s1"}, {"v", int32(42)}}, doc)

	require.NoError(t, auth.Disconnect(ctx))

	cancel()
	require.NoError(t, <-done)
}

func TestEmbeddedWrongPassword(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(testutil.Ctx(t))
	defer cancel()

	mdb, err := meerkatdb.New(&meerkatdb.Config{
		Listener: meerkatdb.ListenerConfig{
			Addr: "127.0.0.1:0",
		},
		Auth: &meerkatdb.AuthConfig{
			Username: "alice",
			Password: "correct horse battery staple",
		},
		Logger: testutil.Logger(t),
	})
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- mdb.Run(ctx)
	}()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mdb.MongoDBURI()).SetAuth(options.Credential{
		AuthMechanism: "SCRAM-SHA-256",
		AuthSource:    "admin",
		Username:      "alice",
		Password:      "hunter2",
	}))
	require.NoError(t, err)

	err = client.Ping(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Authentication failed")

	require.NoError(t, client.Disconnect(ctx))

	cancel()
	require.NoError(t, <-done)
}

func TestNew(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		config *meerkatdb.Config
		err    string
	}{
		"NoListeners": {
			config: &meerkatdb.Config{},
			err:    "both Listener.Addr and Listener.TLS are empty",
		},
		"AuthWithoutPassword": {
			config: &meerkatdb.Config{
				Listener: meerkatdb.ListenerConfig{Addr: "127.0.0.1:0"},
				Auth:     &meerkatdb.AuthConfig{Username: "alice"},
			},
			err: "both Auth.Username and Auth.Password must be set",
		},
		"UnknownCredentialsURL": {
			config: &meerkatdb.Config{
				Listener:       meerkatdb.ListenerConfig{Addr: "127.0.0.1:0"},
				CredentialsURL: "banana://localhost",
			},
			err: `unsupported credential store URI scheme "banana"`,
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mdb, err := meerkatdb.New(tc.config)
			assert.Nil(t, mdb)
			assert.ErrorContains(t, err, tc.err)
		})
	}
}
