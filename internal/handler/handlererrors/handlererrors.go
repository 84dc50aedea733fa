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

// Package handlererrors provides errors shared by all command handlers.
package handlererrors

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// ErrorCode is a numeric command error code clients rely on.
type ErrorCode int32

const (
	// For ProtocolError.
	errUnset = ErrorCode(0) // Unset

	// For ProtocolError.
	errInternalError = ErrorCode(1) // InternalError

	// ErrBadValue indicates wrong input.
	ErrBadValue = ErrorCode(2) // BadValue

	// ErrFailedToParse indicates user input parsing failure.
	ErrFailedToParse = ErrorCode(9) // FailedToParse

	// ErrUserNotFound indicates that the user was not found.
	ErrUserNotFound = ErrorCode(11) // UserNotFound

	// ErrUnauthorized indicates that the connection is not allowed to run the command.
	ErrUnauthorized = ErrorCode(13) // Unauthorized

	// ErrTypeMismatch indicates that the value of a field has a wrong type.
	ErrTypeMismatch = ErrorCode(14) // TypeMismatch

	// ErrAuthenticationFailed indicates failed authentication.
	ErrAuthenticationFailed = ErrorCode(18) // AuthenticationFailed

	// ErrIllegalOperation indicates that the operation is not allowed.
	ErrIllegalOperation = ErrorCode(20) // IllegalOperation

	// ErrNamespaceNotFound indicates that the collection does not exist.
	ErrNamespaceNotFound = ErrorCode(26) // NamespaceNotFound

	// ErrIndexNotFound indicates that the index does not exist.
	ErrIndexNotFound = ErrorCode(27) // IndexNotFound

	// ErrCursorNotFound indicates that the cursor does not exist or was already closed.
	ErrCursorNotFound = ErrorCode(43) // CursorNotFound

	// ErrNamespaceExists indicates that the collection already exists.
	ErrNamespaceExists = ErrorCode(48) // NamespaceExists

	// ErrCommandNotFound indicates unknown command input.
	ErrCommandNotFound = ErrorCode(59) // CommandNotFound

	// ErrCannotCreateIndex indicates that the index cannot be created.
	ErrCannotCreateIndex = ErrorCode(67) // CannotCreateIndex

	// ErrInvalidOptions indicates that the command options are invalid or conflicting.
	ErrInvalidOptions = ErrorCode(72) // InvalidOptions

	// ErrInvalidNamespace indicates that the namespace is invalid.
	ErrInvalidNamespace = ErrorCode(73) // InvalidNamespace

	// ErrIndexKeySpecsConflict indicates that an index with the same name
	// but different key specs already exists.
	ErrIndexKeySpecsConflict = ErrorCode(86) // IndexKeySpecsConflict

	// ErrOperationFailed indicates that the operation failed.
	ErrOperationFailed = ErrorCode(96) // OperationFailed

	// ErrDocumentValidationFailure indicates document validation failure.
	ErrDocumentValidationFailure = ErrorCode(121) // DocumentValidationFailure

	// ErrNotImplemented indicates that a flag or command is not implemented.
	ErrNotImplemented = ErrorCode(238) // NotImplemented

	// ErrMechanismUnavailable indicates that the authentication mechanism is not supported.
	ErrMechanismUnavailable = ErrorCode(334) // MechanismUnavailable

	// ErrDuplicateKeyInsert indicates a duplicate _id on insert.
	ErrDuplicateKeyInsert = ErrorCode(11000) // Location11000

	// ErrUserAlreadyExists indicates that the user already exists.
	ErrUserAlreadyExists = ErrorCode(51003) // Location51003
)

// String implements the [fmt.Stringer] interface.
// The returned value is used as codeName in error replies.
func (c ErrorCode) String() string {
	switch c {
	case errUnset:
		return "Unset"
	case errInternalError:
		return "InternalError"
	case ErrBadValue:
		return "BadValue"
	case ErrFailedToParse:
		return "FailedToParse"
	case ErrUserNotFound:
		return "UserNotFound"
	case ErrUnauthorized:
		return "Unauthorized"
	case ErrTypeMismatch:
		return "TypeMismatch"
	case ErrAuthenticationFailed:
		return "AuthenticationFailed"
	case ErrIllegalOperation:
		return "IllegalOperation"
	case ErrNamespaceNotFound:
		return "NamespaceNotFound"
	case ErrIndexNotFound:
		return "IndexNotFound"
	case ErrCursorNotFound:
		return "CursorNotFound"
	case ErrNamespaceExists:
		return "NamespaceExists"
	case ErrCommandNotFound:
		return "CommandNotFound"
	case ErrCannotCreateIndex:
		return "CannotCreateIndex"
	case ErrInvalidOptions:
		return "InvalidOptions"
	case ErrInvalidNamespace:
		return "InvalidNamespace"
	case ErrIndexKeySpecsConflict:
		return "IndexKeySpecsConflict"
	case ErrOperationFailed:
		return "OperationFailed"
	case ErrDocumentValidationFailure:
		return "DocumentValidationFailure"
	case ErrNotImplemented:
		return "NotImplemented"
	case ErrMechanismUnavailable:
		return "MechanismUnavailable"
	case ErrDuplicateKeyInsert:
		return "Location11000"
	case ErrUserAlreadyExists:
		return "Location51003"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int32(c))
	}
}

// ErrInfo represents additional optional error information.
type ErrInfo struct {
	Argument string // command argument that caused the error, if any
}

// ProtoErr represents an error that can be returned to the client as an error reply.
type ProtoErr interface {
	error

	// Unwrap returns the wrapped error.
	Unwrap() error

	// Code returns the error code.
	Code() ErrorCode

	// Document returns the error reply document.
	Document() bsoncore.Document

	// Info returns additional error information, or nil.
	Info() *ErrInfo
}

// ProtocolError converts any error into an error that can be sent to contribute
// to an error reply.
//
// Nil panics (it never should be passed),
// *CommandError or *WriteErrors (possibly wrapped) is returned unwrapped with true,
// *wire.ValidationError (possibly wrapped) is returned as a CommandError with false,
// any other error is returned as an internal CommandError with false.
func ProtocolError(err error) (ProtoErr, bool) {
	if err == nil {
		panic("err is nil")
	}

	var commandErr *CommandError
	if errors.As(err, &commandErr) {
		return commandErr, true
	}

	var writeErr *WriteErrors
	if errors.As(err, &writeErr) {
		return writeErr, true
	}

	var validationErr *wire.ValidationError
	if errors.As(err, &validationErr) {
		//nolint:errorlint // only *CommandError could be returned
		return NewCommandErrorMsg(ErrBadValue, err.Error()).(*CommandError), false
	}

	//nolint:errorlint // only *CommandError could be returned
	return NewCommandErrorMsg(errInternalError, err.Error()).(*CommandError), false
}
