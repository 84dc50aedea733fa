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
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// CommandError is a top-level command error.
type CommandError struct {
	err  error
	info *ErrInfo
	code ErrorCode
}

// There should not be a NewCommandError function variant that accepts
// printf-like format specifiers. Let the caller do the formatting.

// NewCommandError creates a new error wrapping the given error.
func NewCommandError(code ErrorCode, err error) error {
	return &CommandError{
		code: code,
		err:  err,
	}
}

// NewCommandErrorMsg is a variant for error with only a message.
func NewCommandErrorMsg(code ErrorCode, msg string) error {
	return NewCommandError(code, errors.New(msg))
}

// NewCommandErrorMsgWithArgument creates a new error that also records
// the command argument that caused it.
func NewCommandErrorMsgWithArgument(code ErrorCode, msg string, argument string) error {
	return &CommandError{
		code: code,
		err:  errors.New(msg),
		info: &ErrInfo{
			Argument: argument,
		},
	}
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%[1]s (%[1]d): %[2]v", e.code, e.err)
}

// Unwrap implements the ProtoErr interface.
func (e *CommandError) Unwrap() error {
	return e.err
}

// Code implements the ProtoErr interface.
func (e *CommandError) Code() ErrorCode {
	return e.code
}

// Document implements the ProtoErr interface.
func (e *CommandError) Document() bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDoubleElement(doc, "ok", 0)
	doc = bsoncore.AppendStringElement(doc, "errmsg", e.err.Error())

	if e.code != errUnset {
		doc = bsoncore.AppendInt32Element(doc, "code", int32(e.code))
		doc = bsoncore.AppendStringElement(doc, "codeName", e.code.String())
	}

	return must.NotFail(bsoncore.AppendDocumentEnd(doc, idx))
}

// Info implements the ProtoErr interface.
func (e *CommandError) Info() *ErrInfo {
	return e.info
}

// check interfaces
var (
	_ ProtoErr = (*CommandError)(nil)
)
