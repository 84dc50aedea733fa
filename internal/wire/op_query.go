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

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// OpQuery is a legacy client message still sent by drivers and shells
// for the initial handshake on the "<db>.$cmd" collection.
type OpQuery struct {
	FullCollectionName   string
	query                bsoncore.Document
	returnFieldsSelector bsoncore.Document
	Flags                wiremessage.QueryFlag
	NumberToSkip         int32
	NumberToReturn       int32
}

// NewOpQuery creates a query message with the given document.
func NewOpQuery(doc bsoncore.Document) (*OpQuery, error) {
	if err := doc.Validate(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &OpQuery{query: doc}, nil
}

func (query *OpQuery) msgbody() {}

// Query returns the query document.
func (query *OpQuery) Query() bsoncore.Document {
	return query.query
}

// ReturnFieldsSelector returns the optional projection document or nil.
func (query *OpQuery) ReturnFieldsSelector() bsoncore.Document {
	return query.returnFieldsSelector
}

// UnmarshalBinary implements the [encoding.BinaryUnmarshaler] interface.
//
// It returns a ValidationError if a document is structurally invalid
// or contains unsupported values.
func (query *OpQuery) UnmarshalBinary(b []byte) error {
	flags, rem, ok := readInt32(b)
	if !ok {
		return lazyerrors.New("OP_QUERY: missing flags")
	}

	query.Flags = wiremessage.QueryFlag(flags)

	if query.FullCollectionName, rem, ok = readCString(rem); !ok {
		return lazyerrors.New("OP_QUERY: missing full collection name")
	}

	if query.NumberToSkip, rem, ok = readInt32(rem); !ok {
		return lazyerrors.New("OP_QUERY: missing number to skip")
	}

	if query.NumberToReturn, rem, ok = readInt32(rem); !ok {
		return lazyerrors.New("OP_QUERY: missing number to return")
	}

	var doc bsoncore.Document

	if doc, rem, ok = bsoncore.ReadDocument(rem); !ok {
		return newValidationError(lazyerrors.New("OP_QUERY: malformed query document"))
	}

	if err := validateDocument(doc); err != nil {
		return newValidationError(lazyerrors.Errorf("OP_QUERY: invalid query document: %w", err))
	}

	query.query = doc

	query.returnFieldsSelector = nil

	if len(rem) > 0 {
		if doc, rem, ok = bsoncore.ReadDocument(rem); !ok {
			return newValidationError(lazyerrors.New("OP_QUERY: malformed return fields selector"))
		}

		if err := validateDocument(doc); err != nil {
			return newValidationError(lazyerrors.Errorf("OP_QUERY: invalid return fields selector: %w", err))
		}

		query.returnFieldsSelector = doc
	}

	if len(rem) != 0 {
		return lazyerrors.Errorf("OP_QUERY: %d bytes of unexpected trailing data", len(rem))
	}

	return nil
}

// MarshalBinary implements the [encoding.BinaryMarshaler] interface.
func (query *OpQuery) MarshalBinary() ([]byte, error) {
	//nolint:staticcheck // the deprecated helpers are used until OP_QUERY support is no longer needed
	b := wiremessage.AppendQueryFlags(nil, query.Flags)
	b = wiremessage.AppendQueryFullCollectionName(b, query.FullCollectionName)
	b = wiremessage.AppendQueryNumberToSkip(b, query.NumberToSkip)
	b = wiremessage.AppendQueryNumberToReturn(b, query.NumberToReturn)
	b = bsoncore.AppendDocument(b, query.query)

	if len(query.returnFieldsSelector) > 0 {
		b = bsoncore.AppendDocument(b, query.returnFieldsSelector)
	}

	return b, nil
}

// String implements the [fmt.Stringer] interface.
func (query *OpQuery) String() string {
	if query == nil {
		return "<nil>"
	}

	return fmt.Sprintf(
		"OpQuery{FullCollectionName:%q, Flags:%s, NumberToSkip:%d, NumberToReturn:%d, Query:%s, ReturnFieldsSelector:%s}",
		query.FullCollectionName, query.Flags, query.NumberToSkip, query.NumberToReturn,
		query.query.String(), query.returnFieldsSelector.String(),
	)
}

// check interfaces
var (
	_ MsgBody = (*OpQuery)(nil)
)
