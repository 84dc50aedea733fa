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
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// updateHasOperators reports whether the update document uses update operators
// (its first key starts with $) or is a replacement document.
func updateHasOperators(update bsoncore.Document) (bool, error) {
	elems, err := update.Elements()
	if err != nil {
		return false, lazyerrors.Error(err)
	}

	return len(elems) > 0 && strings.HasPrefix(elems[0].Key(), "$"), nil
}

// applyUpdate returns a new version of the document with the update applied.
// The original document is never modified.
func applyUpdate(doc, update bsoncore.Document) (bsoncore.Document, error) {
	hasOps, err := updateHasOperators(update)
	if err != nil {
		return nil, err
	}

	if !hasOps {
		return replaceDocument(doc, update)
	}

	return applyOperators(doc, update)
}

// replaceDocument builds the replacement document, keeping the _id of the old one.
func replaceDocument(doc, replacement bsoncore.Document) (bsoncore.Document, error) {
	id, err := doc.LookupErr("_id")
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if rid, err := replacement.LookupErr("_id"); err == nil && !equalValues(rid, id) {
		return nil, unsupported("the (immutable) field '_id' was found to have been altered")
	}

	elems, err := replacement.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	idx, res := bsoncore.AppendDocumentStart(nil)
	res = bsoncore.AppendValueElement(res, "_id", id)

	for _, elem := range elems {
		if elem.Key() == "_id" {
			continue
		}

		res = bsoncore.AppendValueElement(res, elem.Key(), elem.Value())
	}

	res, err = bsoncore.AppendDocumentEnd(res, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// applyOperators applies $set, $unset, and $inc to a copy of the document.
func applyOperators(doc, update bsoncore.Document) (bsoncore.Document, error) {
	elems, err := update.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	for _, elem := range elems {
		op := elem.Key()

		switch op {
		case "$set", "$unset", "$inc":
		default:
			return nil, unsupported(
				"Unknown modifier: " + op + ". Expected a valid update modifier or pipeline-style update specified as an array",
			)
		}

		args, ok := elem.Value().DocumentOK()
		if !ok {
			return nil, unsupported("Modifiers operate on fields but we found another type instead")
		}

		fields, err := args.Elements()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		for _, field := range fields {
			path := field.Key()

			if path == "_id" || strings.HasPrefix(path, "_id.") {
				return nil, unsupported("Performing an update on the path '_id' would modify the immutable field '_id'")
			}

			switch op {
			case "$set":
				doc, err = setPath(doc, path, field.Value())
			case "$unset":
				doc, err = unsetPath(doc, path)
			case "$inc":
				doc, err = incPath(doc, path, field.Value())
			}

			if err != nil {
				return nil, err
			}
		}
	}

	return doc, nil
}

// setPath returns a copy of the document with the value set at the dotted path,
// creating intermediate documents and padding arrays with nulls as needed.
func setPath(doc bsoncore.Document, path string, val bsoncore.Value) (bsoncore.Document, error) {
	return setValueAtPath(doc, strings.Split(path, "."), val)
}

func setValueAtPath(doc bsoncore.Document, parts []string, val bsoncore.Value) (bsoncore.Document, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	key := parts[0]

	idx, res := bsoncore.AppendDocumentStart(nil)

	var found bool

	for _, elem := range elems {
		if elem.Key() != key {
			res = bsoncore.AppendValueElement(res, elem.Key(), elem.Value())
			continue
		}

		found = true

		if len(parts) == 1 {
			res = bsoncore.AppendValueElement(res, key, val)
			continue
		}

		v := elem.Value()

		switch v.Type {
		case bsontype.EmbeddedDocument:
			sub, err := setValueAtPath(bsoncore.Document(v.Data), parts[1:], val)
			if err != nil {
				return nil, err
			}

			res = bsoncore.AppendValueElement(res, key, docValue(sub))

		case bsontype.Array:
			sub, err := setArrayPath(bsoncore.Document(v.Data), parts[1:], val)
			if err != nil {
				return nil, err
			}

			res = bsoncore.AppendValueElement(res, key, arrayValue(sub))

		default:
			return nil, unsupported(fmt.Sprintf("Cannot create field '%s' in element {%s: %s}", parts[1], key, v.String()))
		}
	}

	if !found {
		if len(parts) == 1 {
			res = bsoncore.AppendValueElement(res, key, val)
		} else {
			res = bsoncore.AppendValueElement(res, key, docValue(buildNested(parts[1:], val)))
		}
	}

	res, err = bsoncore.AppendDocumentEnd(res, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

func setArrayPath(arr bsoncore.Document, parts []string, val bsoncore.Value) (bsoncore.Document, error) {
	i, err := strconv.Atoi(parts[0])
	if err != nil || i < 0 {
		return nil, unsupported(fmt.Sprintf("Cannot create field '%s' in an array", parts[0]))
	}

	vals, err := arr.Values()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	grew := i >= len(vals)

	for len(vals) <= i {
		vals = append(vals, nullValue)
	}

	switch {
	case len(parts) == 1:
		vals[i] = val

	case grew:
		vals[i] = docValue(buildNested(parts[1:], val))

	default:
		switch vals[i].Type {
		case bsontype.EmbeddedDocument:
			sub, err := setValueAtPath(bsoncore.Document(vals[i].Data), parts[1:], val)
			if err != nil {
				return nil, err
			}

			vals[i] = docValue(sub)

		case bsontype.Array:
			sub, err := setArrayPath(bsoncore.Document(vals[i].Data), parts[1:], val)
			if err != nil {
				return nil, err
			}

			vals[i] = arrayValue(sub)

		default:
			return nil, unsupported(fmt.Sprintf("Cannot create field '%s' in element {%s: %s}", parts[1], parts[0], vals[i].String()))
		}
	}

	idx, res := bsoncore.AppendArrayStart(nil)

	for j, v := range vals {
		res = bsoncore.AppendValueElement(res, strconv.Itoa(j), v)
	}

	res, err = bsoncore.AppendArrayEnd(res, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// buildNested builds {parts[0]: {parts[1]: ... val}}.
func buildNested(parts []string, val bsoncore.Value) bsoncore.Document {
	for i := len(parts) - 1; i >= 0; i-- {
		idx, d := bsoncore.AppendDocumentStart(nil)
		d = bsoncore.AppendValueElement(d, parts[i], val)
		val = docValue(must.NotFail(bsoncore.AppendDocumentEnd(d, idx)))
	}

	doc, _ := val.DocumentOK()

	return doc
}

// unsetPath returns a copy of the document without the field at the dotted path.
// Unsetting an array element replaces it with null; a missing path leaves the document unchanged.
func unsetPath(doc bsoncore.Document, path string) (bsoncore.Document, error) {
	return unsetValueAtPath(doc, strings.Split(path, "."))
}

func unsetValueAtPath(doc bsoncore.Document, parts []string) (bsoncore.Document, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	key := parts[0]

	idx, res := bsoncore.AppendDocumentStart(nil)

	for _, elem := range elems {
		if elem.Key() != key {
			res = bsoncore.AppendValueElement(res, elem.Key(), elem.Value())
			continue
		}

		if len(parts) == 1 {
			continue
		}

		v := elem.Value()

		switch v.Type {
		case bsontype.EmbeddedDocument:
			sub, err := unsetValueAtPath(bsoncore.Document(v.Data), parts[1:])
			if err != nil {
				return nil, err
			}

			res = bsoncore.AppendValueElement(res, key, docValue(sub))

		case bsontype.Array:
			sub, err := unsetArrayPath(bsoncore.Document(v.Data), parts[1:])
			if err != nil {
				return nil, err
			}

			res = bsoncore.AppendValueElement(res, key, arrayValue(sub))

		default:
			res = bsoncore.AppendValueElement(res, key, v)
		}
	}

	res, err = bsoncore.AppendDocumentEnd(res, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

func unsetArrayPath(arr bsoncore.Document, parts []string) (bsoncore.Document, error) {
	i, err := strconv.Atoi(parts[0])
	if err != nil || i < 0 {
		return arr, nil
	}

	vals, err := arr.Values()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if i < len(vals) {
		switch {
		case len(parts) == 1:
			vals[i] = nullValue

		case vals[i].Type == bsontype.EmbeddedDocument:
			sub, err := unsetValueAtPath(bsoncore.Document(vals[i].Data), parts[1:])
			if err != nil {
				return nil, err
			}

			vals[i] = docValue(sub)

		case vals[i].Type == bsontype.Array:
			sub, err := unsetArrayPath(bsoncore.Document(vals[i].Data), parts[1:])
			if err != nil {
				return nil, err
			}

			vals[i] = arrayValue(sub)
		}
	}

	idx, res := bsoncore.AppendArrayStart(nil)

	for j, v := range vals {
		res = bsoncore.AppendValueElement(res, strconv.Itoa(j), v)
	}

	res, err = bsoncore.AppendArrayEnd(res, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// incPath adds the argument to the numeric value at the dotted path,
// setting the argument itself if the path is missing.
func incPath(doc bsoncore.Document, path string, arg bsoncore.Value) (bsoncore.Document, error) {
	if !isAddable(arg) {
		return nil, unsupported(fmt.Sprintf("Cannot increment with non-numeric argument: {%s: %s}", path, arg.String()))
	}

	old, ok := lookupStrict(doc, path)
	if !ok {
		return setPath(doc, path, arg)
	}

	if !isAddable(old) {
		return nil, unsupported(fmt.Sprintf("Cannot apply $inc to a value of non-numeric type. {%s: %s}", path, old.String()))
	}

	sum, err := addNumbers(old, arg)
	if err != nil {
		return nil, err
	}

	return setPath(doc, path, sum)
}

// isAddable reports whether the value participates in numeric addition.
func isAddable(v bsoncore.Value) bool {
	switch v.Type {
	case bsontype.Double, bsontype.Int32, bsontype.Int64:
		return true
	default:
		return false
	}
}

// addNumbers adds two numeric values.
// Integers stay integers, widening from int32 to int64 when the sum does not fit,
// and any double makes the result a double.
func addNumbers(a, b bsoncore.Value) (bsoncore.Value, error) {
	if a.Type == bsontype.Double || b.Type == bsontype.Double {
		af, _ := asFloat64(a)
		bf, _ := asFloat64(b)

		return doubleValue(af + bf), nil
	}

	ai, _ := asInt64(a)
	bi, _ := asInt64(b)

	sum := ai + bi

	if (ai > 0 && bi > 0 && sum < 0) || (ai < 0 && bi < 0 && sum >= 0) {
		return bsoncore.Value{}, unsupported("integer overflow in $inc")
	}

	if a.Type == bsontype.Int32 && b.Type == bsontype.Int32 && sum >= math.MinInt32 && sum <= math.MaxInt32 {
		return int32Value(int32(sum)), nil
	}

	return int64Value(sum), nil
}

// lookupStrict returns the value at a dotted path without array fan-out,
// so the path addresses at most one value.
func lookupStrict(doc bsoncore.Document, path string) (bsoncore.Value, bool) {
	v := docValue(doc)

	for _, part := range strings.Split(path, ".") {
		switch v.Type {
		case bsontype.EmbeddedDocument:
			fv, err := bsoncore.Document(v.Data).LookupErr(part)
			if err != nil {
				return bsoncore.Value{}, false
			}

			v = fv

		case bsontype.Array:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 {
				return bsoncore.Value{}, false
			}

			vals, err := bsoncore.Document(v.Data).Values()
			if err != nil || i >= len(vals) {
				return bsoncore.Value{}, false
			}

			v = vals[i]

		default:
			return bsoncore.Value{}, false
		}
	}

	return v, true
}

// buildUpsert constructs the document to insert when an update matched nothing.
// It starts from the equality conditions of the filter and applies the update;
// a new ObjectID _id is generated unless the filter or the update provides one.
func buildUpsert(filter, update bsoncore.Document) (bsoncore.Document, bsoncore.Value, error) {
	base, err := upsertBase(filter)
	if err != nil {
		return nil, bsoncore.Value{}, err
	}

	hasOps, err := updateHasOperators(update)
	if err != nil {
		return nil, bsoncore.Value{}, err
	}

	var doc bsoncore.Document

	if hasOps {
		if doc, err = applyOperators(base, update); err != nil {
			return nil, bsoncore.Value{}, err
		}
	} else {
		// a replacement upsert ignores the filter fields except _id
		doc = update

		if id, lerr := base.LookupErr("_id"); lerr == nil {
			if _, lerr = update.LookupErr("_id"); lerr != nil {
				if doc, err = setPath(update, "_id", id); err != nil {
					return nil, bsoncore.Value{}, err
				}
			}
		}
	}

	return ensureID(doc)
}

// upsertBase extracts the top-level equality conditions of a filter.
// Operator documents other than a single $eq, dotted paths, and top-level
// operators do not contribute fields.
func upsertBase(filter bsoncore.Document) (bsoncore.Document, error) {
	var elems []bsoncore.Element

	if len(filter) > 0 {
		var err error

		if elems, err = filter.Elements(); err != nil {
			return nil, lazyerrors.Error(err)
		}
	}

	idx, res := bsoncore.AppendDocumentStart(nil)

	for _, elem := range elems {
		key := elem.Key()

		if strings.HasPrefix(key, "$") || strings.Contains(key, ".") {
			continue
		}

		v := elem.Value()

		if sub, ok := v.DocumentOK(); ok {
			subElems, err := sub.Elements()
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			if len(subElems) > 0 && strings.HasPrefix(subElems[0].Key(), "$") {
				if len(subElems) == 1 && subElems[0].Key() == "$eq" {
					res = bsoncore.AppendValueElement(res, key, subElems[0].Value())
				}

				continue
			}
		}

		res = bsoncore.AppendValueElement(res, key, v)
	}

	res, err := bsoncore.AppendDocumentEnd(res, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// ensureID returns a copy of the document with _id as its first field,
// generating a new ObjectID if the document has none, and the _id value.
func ensureID(doc bsoncore.Document) (bsoncore.Document, bsoncore.Value, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, bsoncore.Value{}, lazyerrors.Error(err)
	}

	id, idErr := doc.LookupErr("_id")

	idx, res := bsoncore.AppendDocumentStart(nil)

	if idErr != nil {
		res = bsoncore.AppendObjectIDElement(res, "_id", primitive.NewObjectID())
	} else {
		res = bsoncore.AppendValueElement(res, "_id", id)
	}

	for _, elem := range elems {
		if elem.Key() == "_id" {
			continue
		}

		res = bsoncore.AppendValueElement(res, elem.Key(), elem.Value())
	}

	res, err = bsoncore.AppendDocumentEnd(res, idx)
	if err != nil {
		return nil, bsoncore.Value{}, lazyerrors.Error(err)
	}

	if idErr != nil {
		if id, err = bsoncore.Document(res).LookupErr("_id"); err != nil {
			return nil, bsoncore.Value{}, lazyerrors.Error(err)
		}
	}

	return res, id, nil
}
