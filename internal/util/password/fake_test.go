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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeScramSHA256(t *testing.T) {
	t.Parallel()

	cred1 := FakeScramSHA256("missing-user")
	cred2 := FakeScramSHA256("missing-user")

	// the same username gets the same credentials for the lifetime of the process
	assert.Equal(t, cred1, cred2)

	other := FakeScramSHA256("another-user")
	assert.NotEqual(t, cred1.Salt, other.Salt)
	assert.NotEqual(t, cred1.StoredKey, other.StoredKey)

	// fake credentials are indistinguishable from real ones by shape
	genuine, err := SCRAMSHA256Hash("password")
	assert.NoError(t, err)
	assert.Len(t, cred1.Salt, len(genuine.Salt))
	assert.Len(t, cred1.StoredKey, len(genuine.StoredKey))
	assert.Len(t, cred1.ServerKey, len(genuine.ServerKey))
	assert.Equal(t, genuine.IterationCount, cred1.IterationCount)
}
