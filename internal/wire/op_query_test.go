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

package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"

	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
)

// ismasterDump is an OP_QUERY handshake captured from mongosh 1.0.1.
const ismasterDump = `
0000   74 01 00 00 01 00 00 00 00 00 00 00 d4 07 00 00   t...............
0010   00 00 00 00 61 64 6d 69 6e 2e 24 63 6d 64 00 00   ....admin.$cmd..
0020   00 00 00 ff ff ff ff 4d 01 00 00 08 69 73 6d 61   .......M....isma
0030   73 74 65 72 00 01 03 63 6c 69 65 6e 74 00 08 01   ster...client...
0040   00 00 03 64 72 69 76 65 72 00 30 00 00 00 02 6e   ...driver.0....n
0050   61 6d 65 00 07 00 00 00 6e 6f 64 65 6a 73 00 02   ame.....nodejs..
0060   76 65 72 73 69 6f 6e 00 0d 00 00 00 34 2e 30 2e   version.....4.0.
0070   30 2d 62 65 74 61 2e 36 00 00 03 6f 73 00 51 00   0-beta.6...os.Q.
0080   00 00 02 74 79 70 65 00 07 00 00 00 44 61 72 77   ...type.....Darw
0090   69 6e 00 02 6e 61 6d 65 00 07 00 00 00 64 61 72   in..name.....dar
00a0   77 69 6e 00 02 61 72 63 68 69 74 65 63 74 75 72   win..architectur
00b0   65 00 04 00 00 00 78 36 34 00 02 76 65 72 73 69   e.....x64..versi
00c0   6f 6e 00 07 00 00 00 32 30 2e 36 2e 30 00 00 02   on.....20.6.0...
00d0   70 6c 61 74 66 6f 72 6d 00 3e 00 00 00 4e 6f 64   platform.>...Nod
00e0   65 2e 6a 73 20 76 31 34 2e 31 37 2e 33 2c 20 4c   e.js v14.17.3, L
00f0   45 20 28 75 6e 69 66 69 65 64 29 7c 4e 6f 64 65   E (unified)|Node
0100   2e 6a 73 20 76 31 34 2e 31 37 2e 33 2c 20 4c 45   .js v14.17.3, LE
0110   20 28 75 6e 69 66 69 65 64 29 00 03 61 70 70 6c    (unified)..appl
0120   69 63 61 74 69 6f 6e 00 1d 00 00 00 02 6e 61 6d   ication......nam
0130   65 00 0e 00 00 00 6d 6f 6e 67 6f 73 68 20 31 2e   e.....mongosh 1.
0140   30 2e 31 00 00 00 04 63 6f 6d 70 72 65 73 73 69   0.1....compressi
0150   6f 6e 00 11 00 00 00 02 30 00 05 00 00 00 6e 6f   on......0.....no
0160   6e 65 00 00 08 6c 6f 61 64 42 61 6c 61 6e 63 65   ne...loadBalance
0170   64 00 00 00                                       d...
`

func TestOpQuery(t *testing.T) {
	t.Parallel()

	b := testutil.ParseDump(t, ismasterDump)

	header, body, err := ReadMessage(bufio.NewReader(bytes.NewReader(b)))
	require.NoError(t, err)

	assert.Equal(t, int32(372), header.MessageLength)
	assert.Equal(t, int32(1), header.RequestID)
	assert.Equal(t, int32(0), header.ResponseTo)
	assert.Equal(t, wiremessage.OpQuery, header.OpCode)

	query, ok := body.(*OpQuery)
	require.True(t, ok)

	assert.Equal(t, wiremessage.QueryFlag(0), query.Flags)
	assert.Equal(t, "admin.$cmd", query.FullCollectionName)
	assert.Equal(t, int32(0), query.NumberToSkip)
	assert.Equal(t, int32(-1), query.NumberToReturn)
	assert.Nil(t, query.ReturnFieldsSelector())

	doc := query.Query()

	v, err := doc.LookupErr("ismaster")
	require.NoError(t, err)
	ismaster, ok := v.BooleanOK()
	require.True(t, ok)
	assert.True(t, ismaster)

	v, err = doc.LookupErr("client", "application", "name")
	require.NoError(t, err)
	app, ok := v.StringValueOK()
	require.True(t, ok)
	assert.Equal(t, "mongosh 1.0.1", app)

	v, err = doc.LookupErr("loadBalanced")
	require.NoError(t, err)
	loadBalanced, ok := v.BooleanOK()
	require.True(t, ok)
	assert.False(t, loadBalanced)

	// the message must marshal back to the exact same bytes
	var buf bytes.Buffer
	bufw := bufio.NewWriter(&buf)
	require.NoError(t, WriteMessage(bufw, header, query))
	require.NoError(t, bufw.Flush())
	assert.Equal(t, b, buf.Bytes())
}

func TestOpQueryErrors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		expected string
		b        []byte
	}{
		"MissingFlags": {
			b:        []byte{0x00},
			expected: "missing flags",
		},
		"MissingCollectionName": {
			b:        []byte{0x00, 0x00, 0x00, 0x00, 0x61, 0x62},
			expected: "missing full collection name",
		},
		"MissingQuery": {
			b: []byte{
				0x00, 0x00, 0x00, 0x00, // flags
				0x61, 0x00, // "a"
				0x00, 0x00, 0x00, 0x00, // number to skip
				0xff, 0xff, 0xff, 0xff, // number to return
			},
			expected: "malformed query document",
		},
		"TrailingData": {
			b: []byte{
				0x00, 0x00, 0x00, 0x00, // flags
				0x61, 0x00, // "a"
				0x00, 0x00, 0x00, 0x00, // number to skip
				0xff, 0xff, 0xff, 0xff, // number to return
				0x05, 0x00, 0x00, 0x00, 0x00, // empty query document
				0x05, 0x00, 0x00, 0x00, 0x00, // empty selector document
				0x2a, // trailing byte
			},
			expected: "unexpected trailing data",
		},
		"NaNQuery": {
			b: []byte{
				0x00, 0x00, 0x00, 0x00, // flags
				0x61, 0x00, // "a"
				0x00, 0x00, 0x00, 0x00, // number to skip
				0xff, 0xff, 0xff, 0xff, // number to return
				0x10, 0x00, 0x00, 0x00, // document length 16
				0x01, 0x64, 0x00, // double "d"
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf8, 0x7f, // NaN
				0x00, // end of document
			},
			expected: "NaN is not supported",
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var query OpQuery
			err := query.UnmarshalBinary(tc.b)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expected)
		})
	}
}
