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

package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
)

// testCredential returns a valid credential for the given user.
func testCredential(username, authDB string) *Credential {
	return &Credential{
		Username:       username,
		AuthDB:         authDB,
		StoredKey:      []byte{0x01, 0x02, 0x03},
		ServerKey:      []byte{0x04, 0x05, 0x06},
		Salt:           []byte{0x07, 0x08, 0x09},
		IterationCount: 15000,
	}
}

// testProvider runs the common store exercise against an empty provider.
func testProvider(t *testing.T, p Provider) {
	t.Helper()

	ctx := testutil.Ctx(t)

	_, err := p.Lookup(ctx, "alice", "admin")
	assert.ErrorIs(t, err, ErrNotFound)

	cred := testCredential("alice", "admin")
	require.NoError(t, p.Store(ctx, cred))
	assert.ErrorIs(t, p.Store(ctx, cred), ErrAlreadyExists)

	actual, err := p.Lookup(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, cred, actual)

	// the same username in another database is a separate credential
	require.NoError(t, p.Store(ctx, testCredential("alice", "test")))
	require.NoError(t, p.Store(ctx, testCredential("bob", "admin")))

	list, err := p.List(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, list)

	list, err = p.List(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, list)

	require.NoError(t, p.Delete(ctx, "alice", "admin"))
	assert.ErrorIs(t, p.Delete(ctx, "alice", "admin"), ErrNotFound)

	_, err = p.Lookup(ctx, "alice", "admin")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.Lookup(ctx, "alice", "test")
	assert.NoError(t, err)
}

func TestMemory(t *testing.T) {
	t.Parallel()

	p := NewMemory()
	t.Cleanup(p.Close)

	testProvider(t, p)
}

func TestMemoryCopies(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewMemory()
	t.Cleanup(p.Close)

	cred := testCredential("alice", "admin")
	require.NoError(t, p.Store(ctx, cred))

	// mutating stored and returned credentials must not affect the store
	cred.StoredKey[0] = 0xff

	actual, err := p.Lookup(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), actual.StoredKey[0])

	actual.Salt[0] = 0xff

	again, err := p.Lookup(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, byte(0x07), again.Salt[0])
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	uri := "file:" + filepath.Join(t.TempDir(), "credentials.sqlite")

	p, err := NewProvider(uri, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	testProvider(t, p)
}

func TestPostgres(t *testing.T) {
	t.Parallel()

	uri := os.Getenv("MEERKATDB_TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("MEERKATDB_TEST_POSTGRES_URI is not set")
	}

	p, err := NewProvider(uri, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	testProvider(t, p)
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	p, err := NewProvider("", testutil.Logger(t))
	require.NoError(t, err)
	assert.IsType(t, &memory{}, p)
	p.Close()

	p, err = NewProvider("memory:", testutil.Logger(t))
	require.NoError(t, err)
	assert.IsType(t, &memory{}, p)
	p.Close()

	_, err = NewProvider("mysql://127.0.0.1:3306/meerkatdb", testutil.Logger(t))
	assert.ErrorContains(t, err, `unsupported credential store URI scheme "mysql"`)
}
