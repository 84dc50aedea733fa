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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"
)

func TestOpReply(t *testing.T) {
	t.Parallel()

	doc := bsoncore.NewDocumentBuilder().AppendDouble("ok", 1).Build()

	reply := &OpReply{
		Flags: wiremessage.AwaitCapable,
	}
	reply.SetDocuments(doc)

	b, err := reply.MarshalBinary()
	require.NoError(t, err)

	expected := []byte{
		0x08, 0x00, 0x00, 0x00, // flags
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // cursor ID
		0x00, 0x00, 0x00, 0x00, // starting from
		0x01, 0x00, 0x00, 0x00, // number returned
		0x11, 0x00, 0x00, 0x00, // document length 17
		0x01, 0x6f, 0x6b, 0x00, // double "ok"
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x3f, // 1.0
		0x00, // end of document
	}
	assert.Equal(t, expected, b)

	var parsed OpReply
	require.NoError(t, parsed.UnmarshalBinary(b))

	assert.Equal(t, wiremessage.AwaitCapable, parsed.Flags)
	assert.Equal(t, int64(0), parsed.CursorID)
	assert.Equal(t, int32(0), parsed.StartingFrom)
	require.Len(t, parsed.Documents(), 1)
	assert.Equal(t, doc, parsed.Document())
}

func TestOpReplyErrors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		expected string
		b        []byte
	}{
		"MissingCursorID": {
			b:        []byte{0x00, 0x00, 0x00, 0x00, 0x2a},
			expected: "missing cursor ID",
		},
		"NegativeNumberReturned": {
			b: []byte{
				0x00, 0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // cursor ID
				0x00, 0x00, 0x00, 0x00, // starting from
				0xff, 0xff, 0xff, 0xff, // number returned -1
			},
			expected: "invalid number returned -1",
		},
		"NumberReturnedMismatch": {
			b: []byte{
				0x00, 0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // cursor ID
				0x00, 0x00, 0x00, 0x00, // starting from
				0x02, 0x00, 0x00, 0x00, // number returned 2, but no documents follow
			},
			expected: "expected 2 documents, got 0",
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var reply OpReply
			err := reply.UnmarshalBinary(tc.b)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expected)
		})
	}
}
