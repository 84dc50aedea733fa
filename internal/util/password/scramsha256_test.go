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

package password

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// scramSHA256TestCase represents a test case for SCRAM-SHA-256 hashing.
//
//nolint:vet // for readability
type scramSHA256TestCase struct {
	params   scramSHA256Params
	password string
	salt     []byte

	want *ScramSHA256
	err  string
}

// Test cases for the SCRAM-SHA-256 hashing.
var scramSHA256TestCases = map[string]scramSHA256TestCase{
	// Test vector generated with db.runCommand({createUser: "user", pwd: "pencil", roles: []})
	"FromMongoDB": {
		params: scramSHA256Params{
			iterationCount: 15000,
			saltLen:        28,
		},
		password: "pencil",
		salt:     must.NotFail(base64.StdEncoding.DecodeString("vXan6ZbWmm5i+f+mKY598rnIfoAGGp+G9NP0qQ==")),
		want: &ScramSHA256{
			StoredKey:      must.NotFail(base64.StdEncoding.DecodeString("bNxFkKtMt93v+ha80yJsDG6Xes3GOMh5qsRzwkcF85s=")),
			ServerKey:      must.NotFail(base64.StdEncoding.DecodeString("1m33jRKioBEVpJzDdJeG5SgKPEmhPNx3A0jS4fINVyQ=")),
			Salt:           must.NotFail(base64.StdEncoding.DecodeString("vXan6ZbWmm5i+f+mKY598rnIfoAGGp+G9NP0qQ==")),
			IterationCount: 15000,
		},
	},

	// Test vector generated with db.runCommand({createUser: "user", pwd: "password", roles: []})
	"FromMongoDB2": {
		params: scramSHA256Params{
			iterationCount: 15000,
			saltLen:        28,
		},
		password: "password",
		salt:     must.NotFail(base64.StdEncoding.DecodeString("4vbrJBkaleBWRqgdXri8Otu1pwLCoX5BCUoa1Q==")),
		want: &ScramSHA256{
			StoredKey:      must.NotFail(base64.StdEncoding.DecodeString("1442RVPbzP5LhF3i/2Ld19Xj8TGfgK6XPy0KEbTL5so=")),
			ServerKey:      must.NotFail(base64.StdEncoding.DecodeString("JEbgbKWzWtOJV5qHOXQL3pV5lzhFLzPEtC5wonu+HmU=")),
			Salt:           must.NotFail(base64.StdEncoding.DecodeString("4vbrJBkaleBWRqgdXri8Otu1pwLCoX5BCUoa1Q==")),
			IterationCount: 15000,
		},
	},

	"BadSaltLength": {
		params: scramSHA256Params{
			iterationCount: 15000,
			saltLen:        28,
		},
		password: "password",
		salt:     []byte("short"),
		err:      "unexpected salt length: 5",
	},

	"ProhibitedCharacter": {
		params: scramSHA256Params{
			iterationCount: 4096,
			saltLen:        5,
		},
		password: "pass\x00word",
		salt:     []byte("sa\x00lt"),
		err:      "prohibited character",
	},
}

func TestSCRAMSHA256HashParams(t *testing.T) {
	t.Parallel()

	for name, tc := range scramSHA256TestCases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cred, err := scramSHA256HashParams(tc.password, tc.salt, &tc.params)

			if tc.err != "" {
				require.ErrorContains(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, cred)
		})
	}
}

func TestSCRAMSHA256Hash(t *testing.T) {
	t.Parallel()

	cred1, err := SCRAMSHA256Hash("password")
	require.NoError(t, err)

	cred2, err := SCRAMSHA256Hash("password")
	require.NoError(t, err)

	// random salts make repeated hashes different
	assert.NotEqual(t, cred1.Salt, cred2.Salt)
	assert.NotEqual(t, cred1.StoredKey, cred2.StoredKey)

	assert.Len(t, cred1.Salt, 30)
	assert.Len(t, cred1.StoredKey, 32)
	assert.Len(t, cred1.ServerKey, 32)
	assert.Equal(t, 15000, cred1.IterationCount)
}
