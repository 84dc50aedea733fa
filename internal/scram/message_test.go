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
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
)

func TestParseMessage(t *testing.T) {
	t.Parallel()

	salt := base64.StdEncoding.EncodeToString([]byte("012345678901234567890123456789")) // 30 bytes
	verifier := base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901"))

	for name, tc := range map[string]struct {
		in  string
		msg *message
		err string
	}{
		"ClientFirst": {
			in: "n,,n=admin,r=owtPBCZHeShYgxKWVMOC0A==",
			msg: &message{
				gs2: "n,",
				n:   "admin",
				r:   "owtPBCZHeShYgxKWVMOC0A==",
			},
		},
		"ClientFirstEscaped": {
			in: "n,,n=a=2Cb=3Dc,r=owtPBCZHeShYgxKWVMOC0A==",
			msg: &message{
				gs2: "n,",
				n:   "a,b=c",
				r:   "owtPBCZHeShYgxKWVMOC0A==",
			},
		},
		"ClientFirstY": {
			in: "y,,n=admin,r=owtPBCZHeShYgxKWVMOC0A==",
			msg: &message{
				gs2: "y,",
				n:   "admin",
				r:   "owtPBCZHeShYgxKWVMOC0A==",
			},
		},
		"ServerFirst": {
			in: "r=owtPBCZHeShYgxKWVMOC0A==server,s=" + salt + ",i=15000",
			msg: &message{
				r: "owtPBCZHeShYgxKWVMOC0A==server",
				s: salt,
				i: 15000,
			},
		},
		"ClientFinal": {
			in: "c=biws,r=owtPBCZHeShYgxKWVMOC0A==server,p=" + verifier,
			msg: &message{
				c: "biws",
				r: "owtPBCZHeShYgxKWVMOC0A==server",
				p: verifier,
			},
		},
		"ServerFinal": {
			in: "v=" + verifier,
			msg: &message{
				v: verifier,
			},
		},
		"Empty": {
			in:  "",
			err: "malformed SCRAM attribute",
		},
		"InvalidUTF8": {
			in:  "n,,n=\xff\xfe,r=owtPBCZHeShYgxKWVMOC0A==",
			err: "invalid UTF-8",
		},
		"ChannelBinding": {
			in:  "p=tls-unique,,n=admin,r=owtPBCZHeShYgxKWVMOC0A==",
			err: "channel binding is not supported",
		},
		"Extension": {
			in:  "n,,m=ext,n=admin,r=owtPBCZHeShYgxKWVMOC0A==",
			err: "unsupported SCRAM attribute 'm'",
		},
		"InvalidEscape": {
			in:  "n,,n=a=b,r=owtPBCZHeShYgxKWVMOC0A==",
			err: "invalid escape sequence",
		},
		"EmptyUsername": {
			in:  "n,,n=,r=owtPBCZHeShYgxKWVMOC0A==",
			err: "empty SCRAM attribute 'n'",
		},
		"ShortNonce": {
			in:  "n,,n=admin,r=short",
			err: "SCRAM attribute 'r' is too short",
		},
		"ShortSalt": {
			in:  "r=owtPBCZHeShYgxKWVMOC0A==,s=c2hvcnQ=,i=15000",
			err: "SCRAM attribute 's' has incorrect length",
		},
		"SmallIterationCount": {
			in:  "r=owtPBCZHeShYgxKWVMOC0A==,s=" + salt + ",i=1000",
			err: "SCRAM attribute 'i' is too small",
		},
		"InvalidChannelBindingData": {
			in:  "c=!!!,r=owtPBCZHeShYgxKWVMOC0A==server,p=" + verifier,
			err: "failed to decode base64 SCRAM attribute",
		},
		"UnknownAttribute": {
			in:  "n,,n=admin,r=owtPBCZHeShYgxKWVMOC0A==,x=1",
			err: "unsupported SCRAM attribute",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			msg, err := parseMessage(tc.in, testutil.Logger(t))

			if tc.err != "" {
				assert.ErrorContains(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.msg, msg)
			assert.Equal(t, tc.in, msg.String(), "message does not serialize back to the same bytes")
		})
	}
}

func TestMessageShapes(t *testing.T) {
	t.Parallel()

	salt := base64.StdEncoding.EncodeToString([]byte("012345678901234567890123456789"))
	verifier := base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901"))
	l := testutil.Logger(t)

	clientFirst, err := parseMessage("n,,n=admin,r=owtPBCZHeShYgxKWVMOC0A==", l)
	require.NoError(t, err)
	serverFirst, err := parseMessage("r=owtPBCZHeShYgxKWVMOC0A==server,s="+salt+",i=15000", l)
	require.NoError(t, err)
	clientFinal, err := parseMessage("c=biws,r=owtPBCZHeShYgxKWVMOC0A==server,p="+verifier, l)
	require.NoError(t, err)
	serverFinal, err := parseMessage("v="+verifier, l)
	require.NoError(t, err)

	assert.True(t, clientFirst.isClientFirst())
	assert.False(t, clientFirst.isServerFirst())
	assert.False(t, clientFirst.isClientFinal())
	assert.False(t, clientFirst.isServerFinal())

	assert.False(t, serverFirst.isClientFirst())
	assert.True(t, serverFirst.isServerFirst())
	assert.False(t, serverFirst.isClientFinal())
	assert.False(t, serverFirst.isServerFinal())

	assert.False(t, clientFinal.isClientFirst())
	assert.False(t, clientFinal.isServerFirst())
	assert.True(t, clientFinal.isClientFinal())
	assert.False(t, clientFinal.isServerFinal())

	assert.False(t, serverFinal.isClientFirst())
	assert.False(t, serverFinal.isServerFirst())
	assert.False(t, serverFinal.isClientFinal())
	assert.True(t, serverFinal.isServerFinal())
}
