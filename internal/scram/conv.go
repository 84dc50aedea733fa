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

package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// convState represents the position of a conversation in the SCRAM exchange.
type convState int

const (
	// convStarted indicates that the server-first message was sent
	// and the client-final message is awaited.
	convStarted convState = iota + 1

	// convDone indicates that the client's proof was verified.
	// One more exchange with an empty payload is allowed
	// because some drivers finish the conversation with an extra round trip.
	convDone
)

// serverNonceLen is the number of random bytes (base64-encoded)
// the server appends to the client's nonce.
const serverNonceLen = 18

// conv is the server side of a single SCRAM-SHA-256 conversation.
//
// Methods are not safe for concurrent use; the caller provides serialization.
type conv struct {
	username string
	authDB   string

	// fake is true if the username is unknown and the conversation runs
	// against deterministic fake credentials.
	// Such a conversation always fails the proof verification.
	fake bool

	cred *credentials.Credential

	clientFirstBare string
	serverFirst     string
	nonce           string // client nonce with the server part appended

	state      convState
	lastActive time.Time
}

// newConv processes a parsed client-first message and returns
// a new conversation together with the server-first message.
//
// cred are either the user's stored credentials, or fake ones if fake is true.
func newConv(username, authDB string, fake bool, cred *credentials.Credential, clientFirst *message) (*conv, string, error) {
	b := make([]byte, serverNonceLen)
	if _, err := rand.Read(b); err != nil {
		return nil, "", lazyerrors.Error(err)
	}

	nonce := clientFirst.r + base64.StdEncoding.EncodeToString(b)

	serverFirst := (&message{
		r: nonce,
		s: base64.StdEncoding.EncodeToString(cred.Salt),
		i: cred.IterationCount,
	}).String()

	// the parser accepts only messages that serialize back to the same bytes,
	// so the client-first-message-bare can be reconstructed for the auth message
	bare := (&message{
		n: clientFirst.n,
		r: clientFirst.r,
	}).String()

	res := &conv{
		username:        username,
		authDB:          authDB,
		fake:            fake,
		cred:            cred,
		clientFirstBare: bare,
		serverFirst:     serverFirst,
		nonce:           nonce,
		state:           convStarted,
		lastActive:      time.Now(),
	}

	return res, serverFirst, nil
}

// clientFinal processes a parsed client-final message and returns the server-final message.
//
// It returns an error if the nonce does not match the full server nonce,
// if the proof does not match the stored credentials,
// or if the conversation runs against fake credentials.
func (c *conv) clientFinal(clientFinal *message) (string, error) {
	if c.state != convStarted {
		return "", lazyerrors.Errorf("unexpected conversation state %d", c.state)
	}

	if clientFinal.r != c.nonce {
		return "", lazyerrors.New("nonce mismatch")
	}

	withoutProof := (&message{
		c: clientFinal.c,
		r: clientFinal.r,
	}).String()

	authMessage := c.clientFirstBare + "," + c.serverFirst + "," + withoutProof

	proof, err := base64.StdEncoding.DecodeString(clientFinal.p)
	if err != nil {
		return "", lazyerrors.Error(err)
	}

	clientSignature := hmacSHA256(c.cred.StoredKey, authMessage)

	if len(proof) != len(clientSignature) {
		return "", lazyerrors.Errorf("unexpected proof length %d", len(proof))
	}

	// ClientKey = ClientProof XOR ClientSignature, H(ClientKey) must match StoredKey
	clientKey := make([]byte, len(proof))
	subtle.XORBytes(clientKey, proof, clientSignature)
	storedKey := sha256.Sum256(clientKey)

	valid := subtle.ConstantTimeCompare(storedKey[:], c.cred.StoredKey) == 1

	// fake credentials are derived from an unguessable per-process secret,
	// so a match is not possible; check anyway
	if c.fake {
		valid = false
	}

	if !valid {
		return "", lazyerrors.New("proof mismatch")
	}

	serverSignature := hmacSHA256(c.cred.ServerKey, authMessage)

	serverFinal := (&message{
		v: base64.StdEncoding.EncodeToString(serverSignature),
	}).String()

	c.state = convDone

	return serverFinal, nil
}

// done returns true if the client's proof was verified.
func (c *conv) done() bool {
	return c.state == convDone
}

// hmacSHA256 computes HMAC-SHA-256 of data with the given key.
func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))

	return h.Sum(nil)
}
