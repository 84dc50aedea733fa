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

package handlererrors

import (
	"errors"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// writeError represents a single write error detail.
type writeError struct {
	errmsg string
	index  int32
	code   ErrorCode
}

// WriteErrors is a list of errors of individual writes in a batch.
//
// The command itself succeeds with {ok: 1}; the per-write errors
// are reported in the writeErrors array.
type WriteErrors struct {
	errs []writeError
}

// NewWriteErrorMsg creates a WriteErrors with a single error.
func NewWriteErrorMsg(code ErrorCode, msg string) error {
	return &WriteErrors{
		errs: []writeError{{
			code:   code,
			errmsg: msg,
		}},
	}
}

// Error implements the error interface.
func (we *WriteErrors) Error() string {
	var b strings.Builder
	b.WriteString("write errors: [")

	for i, e := range we.errs {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(e.errmsg)
	}

	b.WriteString("]")

	return b.String()
}

// Unwrap implements the ProtoErr interface.
func (we *WriteErrors) Unwrap() error {
	return nil
}

// Code implements the ProtoErr interface.
func (we *WriteErrors) Code() ErrorCode {
	for _, e := range we.errs {
		return e.code
	}

	return errUnset
}

// Document implements the ProtoErr interface.
func (we *WriteErrors) Document() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDoubleElement(doc, "ok", 1)

	aidx, doc := bsoncore.AppendArrayElementStart(doc, "writeErrors")

	for i, e := range we.errs {
		var eidx int32
		eidx, doc = bsoncore.AppendDocumentElementStart(doc, strconv.Itoa(i))

		doc = bsoncore.AppendInt32Element(doc, "index", e.index)
		doc = bsoncore.AppendInt32Element(doc, "code", int32(e.code))
		doc = bsoncore.AppendStringElement(doc, "errmsg", e.errmsg)

		doc = must.NotFail(bsoncore.AppendDocumentEnd(doc, eidx))
	}

	doc = must.NotFail(bsoncore.AppendArrayEnd(doc, aidx))

	return must.NotFail(bsoncore.AppendDocumentEnd(doc, idx))
}

// Info implements the ProtoErr interface.
func (we *WriteErrors) Info() *ErrInfo {
	return nil
}

// Append converts the given error to a write error and appends it,
// recording the index of the write in the batch.
func (we *WriteErrors) Append(err error, index int32) {
	var commandErr *CommandError

	if errors.As(err, &commandErr) {
		we.errs = append(we.errs, writeError{
			code:   commandErr.code,
			errmsg: commandErr.Unwrap().Error(),
			index:  index,
		})

		return
	}

	we.errs = append(we.errs, writeError{
		code:   errInternalError,
		errmsg: err.Error(),
		index:  index,
	})
}

// Merge appends all write errors of the other list,
// overriding their indexes with the given one.
func (we *WriteErrors) Merge(other *WriteErrors, index int32) {
	for _, e := range other.errs {
		e.index = index
		we.errs = append(we.errs, e)
	}
}

// Len returns the number of write errors in the list.
func (we *WriteErrors) Len() int {
	return len(we.errs)
}

// check interfaces
var (
	_ ProtoErr = (*WriteErrors)(nil)
)
