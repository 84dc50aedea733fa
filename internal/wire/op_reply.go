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
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// maxNumberReturned caps the number of documents accepted in a single reply.
const maxNumberReturned = 1000

// OpReply is a server reply to the legacy OpQuery message.
// It is not sent by clients.
type OpReply struct {
	documents    []bsoncore.Document
	Flags        wiremessage.ReplyFlag
	CursorID     int64
	StartingFrom int32
}

func (reply *OpReply) msgbody() {}

// Documents returns all reply documents.
func (reply *OpReply) Documents() []bsoncore.Document {
	return reply.documents
}

// Document returns the first reply document or nil.
func (reply *OpReply) Document() bsoncore.Document {
	if len(reply.documents) == 0 {
		return nil
	}

	return reply.documents[0]
}

// SetDocuments replaces the reply documents.
func (reply *OpReply) SetDocuments(docs ...bsoncore.Document) {
	reply.documents = docs
}

// UnmarshalBinary implements the [encoding.BinaryUnmarshaler] interface.
func (reply *OpReply) UnmarshalBinary(b []byte) error {
	flags, rem, ok := wiremessage.ReadReplyFlags(b)
	if !ok {
		return lazyerrors.New("OP_REPLY: missing flags")
	}

	reply.Flags = flags

	if reply.CursorID, rem, ok = wiremessage.ReadReplyCursorID(rem); !ok {
		return lazyerrors.New("OP_REPLY: missing cursor ID")
	}

	if reply.StartingFrom, rem, ok = wiremessage.ReadReplyStartingFrom(rem); !ok {
		return lazyerrors.New("OP_REPLY: missing starting from")
	}

	var numberReturned int32
	if numberReturned, rem, ok = wiremessage.ReadReplyNumberReturned(rem); !ok {
		return lazyerrors.New("OP_REPLY: missing number returned")
	}

	if numberReturned < 0 || numberReturned > maxNumberReturned {
		return lazyerrors.Errorf("OP_REPLY: invalid number returned %d", numberReturned)
	}

	reply.documents = nil

	for len(rem) > 0 {
		var doc bsoncore.Document

		if doc, rem, ok = bsoncore.ReadDocument(rem); !ok {
			return newValidationError(lazyerrors.New("OP_REPLY: malformed document"))
		}

		if err := doc.Validate(); err != nil {
			return newValidationError(lazyerrors.Errorf("OP_REPLY: invalid document: %w", err))
		}

		reply.documents = append(reply.documents, doc)
	}

	if int(numberReturned) != len(reply.documents) {
		return lazyerrors.Errorf("OP_REPLY: expected %d documents, got %d", numberReturned, len(reply.documents))
	}

	return nil
}

// MarshalBinary implements the [encoding.BinaryMarshaler] interface.
func (reply *OpReply) MarshalBinary() ([]byte, error) {
	//nolint:staticcheck // the deprecated helpers are used until OP_QUERY support is no longer needed
	b := wiremessage.AppendReplyFlags(nil, reply.Flags)
	b = wiremessage.AppendReplyCursorID(b, reply.CursorID)
	b = wiremessage.AppendReplyStartingFrom(b, reply.StartingFrom)
	b = wiremessage.AppendReplyNumberReturned(b, int32(len(reply.documents)))

	for _, doc := range reply.documents {
		b = bsoncore.AppendDocument(b, doc)
	}

	return b, nil
}

// String implements the [fmt.Stringer] interface.
func (reply *OpReply) String() string {
	if reply == nil {
		return "<nil>"
	}

	docs := make([]string, len(reply.documents))
	for i, doc := range reply.documents {
		docs[i] = doc.String()
	}

	return fmt.Sprintf(
		"OpReply{Flags:%s, CursorID:%d, StartingFrom:%d, Documents:[%s]}",
		reply.Flags, reply.CursorID, reply.StartingFrom, strings.Join(docs, ", "),
	)
}

// check interfaces
var (
	_ MsgBody = (*OpReply)(nil)
)
