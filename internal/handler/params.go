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

package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/handler/handlererrors"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// scalarParam is a type set of Go values that BSON command parameters are converted to.
type scalarParam interface {
	string | bool | int32 | int64 | float64 | bsoncore.Document | bsoncore.Array
}

// aliasType returns the driver-visible name of a BSON type the way clients spell it,
// matching the names MongoDB uses in its error messages.
func aliasType(t bsontype.Type) string {
	switch t {
	case bsontype.Double:
		return "double"
	case bsontype.String:
		return "string"
	case bsontype.EmbeddedDocument:
		return "object"
	case bsontype.Array:
		return "array"
	case bsontype.Binary:
		return "binData"
	case bsontype.Undefined:
		return "undefined"
	case bsontype.ObjectID:
		return "objectId"
	case bsontype.Boolean:
		return "bool"
	case bsontype.DateTime:
		return "date"
	case bsontype.Null:
		return "null"
	case bsontype.Regex:
		return "regex"
	case bsontype.DBPointer:
		return "dbPointer"
	case bsontype.JavaScript:
		return "javascript"
	case bsontype.Symbol:
		return "symbol"
	case bsontype.CodeWithScope:
		return "javascriptWithScope"
	case bsontype.Int32:
		return "int"
	case bsontype.Timestamp:
		return "timestamp"
	case bsontype.Int64:
		return "long"
	case bsontype.Decimal128:
		return "decimal"
	case bsontype.MinKey:
		return "minKey"
	case bsontype.MaxKey:
		return "maxKey"
	default:
		return t.String()
	}
}

// convertParam converts the BSON value of the given field to the requested Go type.
// A value of a different BSON type produces a TypeMismatch command error.
func convertParam[T scalarParam](v bsoncore.Value, key string) (T, error) {
	var zero T

	var res any
	var ok bool
	var expected string

	switch any(zero).(type) {
	case string:
		expected = "string"
		var s string
		s, ok = v.StringValueOK()
		res = s
	case bool:
		expected = "bool"
		var b bool
		b, ok = v.BooleanOK()
		res = b
	case int32:
		expected = "int"
		var i int32
		i, ok = v.Int32OK()
		res = i
	case int64:
		expected = "long"
		var i int64
		i, ok = v.Int64OK()
		res = i
	case float64:
		expected = "double"
		var f float64
		f, ok = v.DoubleOK()
		res = f
	case bsoncore.Document:
		expected = "object"
		var d bsoncore.Document
		d, ok = v.DocumentOK()
		res = d
	case bsoncore.Array:
		expected = "array"
		var a bsoncore.Array
		a, ok = v.ArrayOK()
		res = a
	default:
		panic(fmt.Sprintf("unsupported parameter type %T", zero))
	}

	if !ok {
		return zero, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrTypeMismatch,
			fmt.Sprintf("BSON field '%s' is the wrong type '%s', expected type '%s'", key, aliasType(v.Type), expected),
			key,
		)
	}

	return res.(T), nil
}

// getRequiredParam returns the value of the document field,
// or a command error if the field is missing or has the wrong type.
func getRequiredParam[T scalarParam](document bsoncore.Document, key string) (T, error) {
	var zero T

	v, err := document.LookupErr(key)
	if err != nil {
		if errors.Is(err, bsoncore.ErrElementNotFound) {
			return zero, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrBadValue,
				fmt.Sprintf("BSON field '%s' is missing but a required field", key),
				key,
			)
		}

		return zero, lazyerrors.Error(err)
	}

	return convertParam[T](v, key)
}

// getOptionalParam returns the value of the document field,
// or the given default value if the field is missing.
func getOptionalParam[T scalarParam](document bsoncore.Document, key string, def T) (T, error) {
	v, err := document.LookupErr(key)
	if err != nil {
		if errors.Is(err, bsoncore.ErrElementNotFound) {
			return def, nil
		}

		var zero T
		return zero, lazyerrors.Error(err)
	}

	return convertParam[T](v, key)
}

// getWholeNumberParam returns the value of a numeric document field as int64,
// or the given default value if the field is missing.
//
// Int32, int64, and doubles without a fractional part are accepted.
func getWholeNumberParam(document bsoncore.Document, key string, def int64) (int64, error) {
	v, err := document.LookupErr(key)
	if err != nil {
		if errors.Is(err, bsoncore.ErrElementNotFound) {
			return def, nil
		}

		return 0, lazyerrors.Error(err)
	}

	switch v.Type {
	case bsontype.Int32:
		return int64(v.Int32()), nil
	case bsontype.Int64:
		return v.Int64(), nil
	case bsontype.Double:
		f := v.Double()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrBadValue,
				fmt.Sprintf("BSON field '%s' must be a whole number", key),
				key,
			)
		}

		return int64(f), nil
	default:
		return 0, handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrTypeMismatch,
			fmt.Sprintf("BSON field '%s' is the wrong type '%s', expected types '[long, int, decimal, double]'",
				key, aliasType(v.Type)),
			key,
		)
	}
}

// getDocumentsParam returns the elements of an array document field as documents.
// A missing field produces an empty slice.
func getDocumentsParam(document bsoncore.Document, key string) ([]bsoncore.Document, error) {
	arr, err := getOptionalParam[bsoncore.Array](document, key, nil)
	if err != nil {
		return nil, err
	}

	if arr == nil {
		return nil, nil
	}

	values, err := arr.Values()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	docs := make([]bsoncore.Document, len(values))

	for i, v := range values {
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrTypeMismatch,
				fmt.Sprintf("BSON field '%s.%d' is the wrong type '%s', expected type 'object'",
					key, i, aliasType(v.Type)),
				key,
			)
		}

		docs[i] = doc
	}

	return docs, nil
}

// getBinaryParam returns the value of a document field that clients send
// either as BSON binary data or as a base64-encoded string.
func getBinaryParam(document bsoncore.Document, key string) ([]byte, error) {
	v, err := document.LookupErr(key)
	if err != nil {
		if errors.Is(err, bsoncore.ErrElementNotFound) {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrBadValue,
				fmt.Sprintf("BSON field '%s' is missing but a required field", key),
				key,
			)
		}

		return nil, lazyerrors.Error(err)
	}

	if _, data, ok := v.BinaryOK(); ok {
		return data, nil
	}

	if s, ok := v.StringValueOK(); ok {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, handlererrors.NewCommandErrorMsgWithArgument(
				handlererrors.ErrBadValue,
				fmt.Sprintf("Invalid base64 value in field '%s'", key),
				key,
			)
		}

		return data, nil
	}

	return nil, handlererrors.NewCommandErrorMsgWithArgument(
		handlererrors.ErrTypeMismatch,
		fmt.Sprintf("BSON field '%s' is the wrong type '%s', expected type 'binData'", key, aliasType(v.Type)),
		key,
	)
}

// namespaceParams returns the database and collection names addressed by the command document.
// The database name comes from the $db field, the collection name from the command value.
func namespaceParams(document bsoncore.Document, command string) (dbName, collName string, err error) {
	if dbName, err = getRequiredParam[string](document, "$db"); err != nil {
		return
	}

	collName, err = getRequiredParam[string](document, command)

	return
}

// collection returns the backend collection addressed by the command document
// together with its database and collection names.
func (h *Handler) collection(document bsoncore.Document, command string) (backends.Collection, string, string, error) {
	dbName, collName, err := namespaceParams(document, command)
	if err != nil {
		return nil, "", "", err
	}

	db, err := h.b.Database(dbName)
	if err != nil {
		return nil, "", "", backendError(err, dbName, collName)
	}

	coll, err := db.Collection(collName)
	if err != nil {
		return nil, "", "", backendError(err, dbName, collName)
	}

	return coll, dbName, collName, nil
}

// backendError converts well-known backend errors into protocol-level command errors.
// Errors that have no protocol mapping are wrapped and surface as InternalError replies.
func backendError(err error, dbName, collName string) error {
	var be *backends.Error
	if !errors.As(err, &be) {
		return lazyerrors.Error(err)
	}

	ns := dbName + "." + collName
	if collName == "" {
		ns = dbName
	}

	switch be.Code() {
	case backends.ErrorCodeDatabaseNameIsInvalid, backends.ErrorCodeCollectionNameIsInvalid:
		return handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrInvalidNamespace,
			fmt.Sprintf("Invalid namespace specified '%s'", ns),
			"namespace",
		)

	case backends.ErrorCodeDatabaseDoesNotExist, backends.ErrorCodeCollectionDoesNotExist:
		return handlererrors.NewCommandErrorMsg(
			handlererrors.ErrNamespaceNotFound,
			"ns not found",
		)

	case backends.ErrorCodeCollectionAlreadyExists:
		return handlererrors.NewCommandErrorMsgWithArgument(
			handlererrors.ErrNamespaceExists,
			fmt.Sprintf("Collection %s already exists.", ns),
			"create",
		)

	case backends.ErrorCodeInsertDuplicateID:
		return handlererrors.NewCommandErrorMsg(
			handlererrors.ErrDuplicateKeyInsert,
			fmt.Sprintf("E11000 duplicate key error collection: %s", ns),
		)

	case backends.ErrorCodeUnsupportedOperation:
		return handlererrors.NewCommandErrorMsg(
			handlererrors.ErrNotImplemented,
			be.Error(),
		)

	default:
		return lazyerrors.Error(err)
	}
}
