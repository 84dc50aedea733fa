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

package memory

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// unsupported returns an error for a filter, update, or pipeline feature we don't support.
// The message is kept as the error argument so handlers can pass it to the client as-is.
func unsupported(msg string) error {
	return backends.NewErrorWithArgument(backends.ErrorCodeUnsupportedOperation, errors.New(msg), msg)
}

// filterDocuments returns the documents matching the filter, preserving order.
// A nil or empty filter matches everything.
func filterDocuments(docs []bsoncore.Document, filter bsoncore.Document) ([]bsoncore.Document, error) {
	if len(filter) == 0 {
		return docs, nil
	}

	res := make([]bsoncore.Document, 0, len(docs))

	for _, doc := range docs {
		matches, err := matchDocument(doc, filter)
		if err != nil {
			return nil, err
		}

		if matches {
			res = append(res, doc)
		}
	}

	return res, nil
}

// matchDocument reports whether the document matches the filter.
// All top-level conditions are combined with a logical AND;
// a nil or empty filter matches everything.
func matchDocument(doc, filter bsoncore.Document) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}

	elems, err := filter.Elements()
	if err != nil {
		return false, lazyerrors.Error(err)
	}

	for _, elem := range elems {
		key := elem.Key()

		if strings.HasPrefix(key, "$") {
			switch key {
			case "$and", "$or", "$nor":
				matches, err := matchLogical(doc, key, elem.Value())
				if err != nil {
					return false, err
				}

				if !matches {
					return false, nil
				}

			default:
				return false, unsupported("unknown top level operator: " + key)
			}

			continue
		}

		matches, err := matchPath(doc, key, elem.Value())
		if err != nil {
			return false, err
		}

		if !matches {
			return false, nil
		}
	}

	return true, nil
}

// matchLogical evaluates $and, $or, and $nor.
func matchLogical(doc bsoncore.Document, op string, arg bsoncore.Value) (bool, error) {
	arr, ok := arg.ArrayOK()
	if !ok {
		return false, unsupported(op + " must be an array")
	}

	vals, err := bsoncore.Document(arr).Values()
	if err != nil {
		return false, lazyerrors.Error(err)
	}

	if len(vals) == 0 {
		return false, unsupported(op + " must be a nonempty array")
	}

	for _, v := range vals {
		sub, ok := v.DocumentOK()
		if !ok {
			return false, unsupported("$or/$and/$nor entries need to be full objects")
		}

		matches, err := matchDocument(doc, sub)
		if err != nil {
			return false, err
		}

		switch op {
		case "$and":
			if !matches {
				return false, nil
			}

		case "$or":
			if matches {
				return true, nil
			}

		case "$nor":
			if matches {
				return false, nil
			}
		}
	}

	// $and and $nor exhausted all clauses without failing; $or found no match
	return op != "$or", nil
}

// matchPath evaluates a single field condition.
// The condition is an operator document if its first key starts with $;
// any other value is an equality condition.
func matchPath(doc bsoncore.Document, path string, cond bsoncore.Value) (bool, error) {
	if sub, ok := cond.DocumentOK(); ok {
		elems, err := sub.Elements()
		if err != nil {
			return false, lazyerrors.Error(err)
		}

		if len(elems) > 0 && strings.HasPrefix(elems[0].Key(), "$") {
			for _, elem := range elems {
				matches, err := matchOperator(doc, path, elem.Key(), elem.Value())
				if err != nil {
					return false, err
				}

				if !matches {
					return false, nil
				}
			}

			return true, nil
		}
	}

	return matchEq(doc, path, cond), nil
}

// matchOperator evaluates a single comparison operator against a field.
func matchOperator(doc bsoncore.Document, path, op string, arg bsoncore.Value) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(doc, path, arg), nil

	case "$ne":
		return !matchEq(doc, path, arg), nil

	case "$gt", "$gte", "$lt", "$lte":
		return matchComparison(doc, path, op, arg), nil

	case "$in", "$nin":
		arr, ok := arg.ArrayOK()
		if !ok {
			return false, unsupported(op + " needs an array")
		}

		vals, err := bsoncore.Document(arr).Values()
		if err != nil {
			return false, lazyerrors.Error(err)
		}

		for _, v := range vals {
			if sub, ok := v.DocumentOK(); ok {
				if elems, err := sub.Elements(); err == nil && len(elems) > 0 && strings.HasPrefix(elems[0].Key(), "$") {
					return false, unsupported("cannot nest $ under " + op)
				}
			}

			if matchEq(doc, path, v) {
				return op == "$in", nil
			}
		}

		return op == "$nin", nil

	case "$exists":
		vals := lookupPathValues(doc, path)
		return truthy(arg) == (len(vals) > 0), nil

	case "$not":
		sub, ok := arg.DocumentOK()
		if !ok {
			return false, unsupported("$not needs a document")
		}

		matches, err := matchPath(doc, path, docValue(sub))
		if err != nil {
			return false, err
		}

		return !matches, nil

	default:
		return false, unsupported("unknown operator: " + op)
	}
}

// matchEq reports whether any candidate value at the path equals the argument.
// A null argument also matches documents where the path is missing.
func matchEq(doc bsoncore.Document, path string, arg bsoncore.Value) bool {
	vals := lookupPathValues(doc, path)

	if len(vals) == 0 {
		return typeOrder(arg.Type) == orderNull
	}

	for _, v := range vals {
		for _, c := range candidates(v) {
			if equalValues(c, arg) {
				return true
			}
		}
	}

	return false
}

// matchComparison evaluates $gt, $gte, $lt, and $lte.
// Only candidates in the same type bracket as the argument are compared;
// a null argument with $gte or $lte also matches missing fields.
func matchComparison(doc bsoncore.Document, path, op string, arg bsoncore.Value) bool {
	vals := lookupPathValues(doc, path)

	if len(vals) == 0 {
		return typeOrder(arg.Type) == orderNull && (op == "$gte" || op == "$lte")
	}

	for _, v := range vals {
		for _, c := range candidates(v) {
			if typeOrder(c.Type) != typeOrder(arg.Type) {
				continue
			}

			cmp := compareValues(c, arg)

			switch op {
			case "$gt":
				if cmp > 0 {
					return true
				}
			case "$gte":
				if cmp >= 0 {
					return true
				}
			case "$lt":
				if cmp < 0 {
					return true
				}
			case "$lte":
				if cmp <= 0 {
					return true
				}
			}
		}
	}

	return false
}

// candidates returns the values a comparison considers for a field value:
// the value itself, plus each element if the value is an array.
func candidates(v bsoncore.Value) []bsoncore.Value {
	res := []bsoncore.Value{v}

	if arr, ok := v.ArrayOK(); ok {
		if vals, err := bsoncore.Document(arr).Values(); err == nil {
			res = append(res, vals...)
		}
	}

	return res
}

// truthy reports whether the value is true in the boolean sense:
// everything except false, numeric zero, NaN, and null.
func truthy(v bsoncore.Value) bool {
	switch v.Type {
	case bsontype.Boolean:
		b, _ := v.BooleanOK()
		return b

	case bsontype.Double, bsontype.Int32, bsontype.Int64:
		f, _ := asFloat64(v)
		return f != 0 && !math.IsNaN(f)

	case bsontype.Null, bsontype.Undefined:
		return false

	default:
		return true
	}
}

// lookupPathValues returns the values at a dotted path.
// Path segments traverse documents by field name and arrays by numeric index;
// a non-numeric segment also fans out over a document array's elements,
// so "a.b" finds b both in {a: {b: 1}} and in {a: [{b: 1}, {b: 2}]}.
func lookupPathValues(doc bsoncore.Document, path string) []bsoncore.Value {
	vals := []bsoncore.Value{docValue(doc)}

	for _, part := range strings.Split(path, ".") {
		var next []bsoncore.Value

		for _, v := range vals {
			switch v.Type {
			case bsontype.EmbeddedDocument:
				if fv, err := bsoncore.Document(v.Data).LookupErr(part); err == nil {
					next = append(next, fv)
				}

			case bsontype.Array:
				elems, err := bsoncore.Document(v.Data).Values()
				if err != nil {
					continue
				}

				if i, err := strconv.Atoi(part); err == nil && i >= 0 && i < len(elems) {
					next = append(next, elems[i])
					continue
				}

				for _, elem := range elems {
					if sub, ok := elem.DocumentOK(); ok {
						if fv, err := sub.LookupErr(part); err == nil {
							next = append(next, fv)
						}
					}
				}
			}
		}

		vals = next

		if len(vals) == 0 {
			return nil
		}
	}

	return vals
}
