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
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"

	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// fakeSecret is a random per-process secret used to derive fake credentials.
var fakeSecret = func() []byte {
	b := make([]byte, 32)
	must.NotFail(rand.Read(b))

	return b
}()

// FakeScramSHA256 returns fake SCRAM-SHA-256 credentials for the given username.
//
// An authentication attempt against them always fails
// because the underlying password is not known to anyone.
// Repeated calls with the same username within the same process return the same credentials,
// so existing users can't be distinguished from non-existing ones by comparing salts
// between authentication attempts.
func FakeScramSHA256(username string) *ScramSHA256 {
	salt := hmacSHA256(fakeSecret, "salt:"+username)[:fixedScramSHA256Params.saltLen]
	pass := hmacSHA256(fakeSecret, "password:"+username)

	salted := pbkdf2.Key(pass, salt, fixedScramSHA256Params.iterationCount, sha256.Size, sha256.New)

	clientKey := hmacSHA256(salted, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSHA256(salted, "Server Key")

	return &ScramSHA256{
		StoredKey:      storedKey[:],
		ServerKey:      serverKey,
		Salt:           salt,
		IterationCount: fixedScramSHA256Params.iterationCount,
	}
}

// hmacSHA256 computes HMAC-SHA-256 of data with the given key.
func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))

	return h.Sum(nil)
}
