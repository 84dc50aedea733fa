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
	"math"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// ValidationError is used for reporting request validation errors.
//
// Unlike other parsing errors, a validation error means that the message
// was well-framed, so the connection can survive and an error reply can be sent.
type ValidationError struct {
	err error
}

// newValidationError returns a new ValidationError.
func newValidationError(err error) error {
	return &ValidationError{err: err}
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return v.err.Error()
}

// Document returns the error reply document for this error.
func (v *ValidationError) Document() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDoubleElement(doc, "ok", 0)
	doc = bsoncore.AppendStringElement(doc, "errmsg", v.err.Error())
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)

	return doc
}

// validateDocument checks the document's structure and rejects values
// that the rest of the system does not support.
func validateDocument(doc bsoncore.Document) error {
	if err := doc.Validate(); err != nil {
		return lazyerrors.Error(err)
	}

	elements, err := doc.Elements()
	if err != nil {
		return lazyerrors.Error(err)
	}

	for _, el := range elements {
		value, err := el.ValueErr()
		if err != nil {
			return lazyerrors.Error(err)
		}

		switch value.Type {
		case bsontype.Double:
			if math.IsNaN(value.Double()) {
				return lazyerrors.New("NaN is not supported")
			}

		case bsontype.EmbeddedDocument, bsontype.Array:
			if err := validateDocument(bsoncore.Document(value.Data)); err != nil {
				return err
			}
		}
	}

	return nil
}
