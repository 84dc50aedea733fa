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
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// runPipeline applies aggregation stages to the documents in order.
func runPipeline(docs []bsoncore.Document, pipeline []bsoncore.Document) ([]bsoncore.Document, error) {
	for _, stage := range pipeline {
		elems, err := stage.Elements()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		if len(elems) != 1 {
			return nil, unsupported("A pipeline stage specification object must contain exactly one field.")
		}

		name, arg := elems[0].Key(), elems[0].Value()

		switch name {
		case "$match":
			filter, ok := arg.DocumentOK()
			if !ok {
				return nil, unsupported("the match filter must be an expression in an object")
			}

			if docs, err = filterDocuments(docs, filter); err != nil {
				return nil, err
			}

		case "$sort":
			sort, ok := arg.DocumentOK()
			if !ok {
				return nil, unsupported("the $sort key specification must be an object")
			}

			keys, err := parseSort(sort)
			if err != nil {
				return nil, err
			}

			if len(keys) == 0 {
				return nil, unsupported("$sort stage must have at least one sort key")
			}

			sortDocuments(docs, keys)

		case "$skip":
			n, err := intArg(name, arg)
			if err != nil {
				return nil, err
			}

			if n < 0 {
				return nil, unsupported("invalid argument to $skip stage: expected a non-negative number")
			}

			docs = skipLimit(docs, n, 0)

		case "$limit":
			n, err := intArg(name, arg)
			if err != nil {
				return nil, err
			}

			if n <= 0 {
				return nil, unsupported("the limit must be positive")
			}

			docs = skipLimit(docs, 0, n)

		case "$count":
			field, ok := arg.StringValueOK()
			if !ok || field == "" {
				return nil, unsupported("the count field must be a non-empty string")
			}

			if strings.HasPrefix(field, "$") {
				return nil, unsupported("the count field cannot be a $-prefixed path")
			}

			if strings.Contains(field, ".") {
				return nil, unsupported("the count field cannot contain '.'")
			}

			// no input documents produce no count document
			if len(docs) == 0 {
				docs = nil
				continue
			}

			idx, d := bsoncore.AppendDocumentStart(nil)
			d = bsoncore.AppendValueElement(d, field, int32Value(int32(len(docs))))

			if d, err = bsoncore.AppendDocumentEnd(d, idx); err != nil {
				return nil, lazyerrors.Error(err)
			}

			docs = []bsoncore.Document{d}

		case "$project":
			proj, ok := arg.DocumentOK()
			if !ok {
				return nil, unsupported("$project specification must be an object")
			}

			projElems, err := proj.Elements()
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			if len(projElems) == 0 {
				return nil, unsupported("projection specification must have at least one field")
			}

			res := make([]bsoncore.Document, len(docs))

			for i, doc := range docs {
				if res[i], err = projectDocument(doc, proj); err != nil {
					return nil, err
				}
			}

			docs = res

		case "$group":
			spec, ok := arg.DocumentOK()
			if !ok {
				return nil, unsupported("a group's fields must be specified in an object")
			}

			if docs, err = groupDocuments(docs, spec); err != nil {
				return nil, err
			}

		default:
			return nil, unsupported(fmt.Sprintf("Unrecognized pipeline stage name: '%s'", name))
		}
	}

	return docs, nil
}

// intArg converts a stage argument to an integer; doubles must be integral.
func intArg(stage string, v bsoncore.Value) (int64, error) {
	if i, ok := asInt64(v); ok {
		return i, nil
	}

	if f, ok := v.DoubleOK(); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int64(f), nil
	}

	return 0, unsupported(fmt.Sprintf("invalid argument to %s stage: expected an integer", stage))
}

// groupDocuments evaluates a $group stage.
// Groups come out in the order their keys were first seen.
func groupDocuments(docs []bsoncore.Document, spec bsoncore.Document) ([]bsoncore.Document, error) {
	elems, err := spec.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var idExpr bsoncore.Value

	var haveID bool

	type accumulator struct {
		field string
		arg   bsoncore.Value
	}

	var accums []accumulator

	for _, elem := range elems {
		if elem.Key() == "_id" {
			idExpr = elem.Value()
			haveID = true

			continue
		}

		acc, ok := elem.Value().DocumentOK()
		if !ok {
			return nil, unsupported("The field '" + elem.Key() + "' must be an accumulator object")
		}

		accElems, err := acc.Elements()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		if len(accElems) != 1 {
			return nil, unsupported("The field '" + elem.Key() + "' must specify one accumulator")
		}

		if accElems[0].Key() != "$sum" {
			return nil, unsupported("unknown group operator '" + accElems[0].Key() + "'")
		}

		accums = append(accums, accumulator{field: elem.Key(), arg: accElems[0].Value()})
	}

	if !haveID {
		return nil, unsupported("a group specification must include an _id")
	}

	type group struct {
		id   bsoncore.Value
		sums []*sumState
	}

	groups := map[string]*group{}

	var order []string

	for _, doc := range docs {
		id, err := evalExpr(doc, idExpr)
		if err != nil {
			return nil, err
		}

		key := valueKey(id)

		g, ok := groups[key]
		if !ok {
			g = &group{id: id, sums: make([]*sumState, len(accums))}

			for i := range g.sums {
				g.sums[i] = new(sumState)
			}

			groups[key] = g
			order = append(order, key)
		}

		for i, acc := range accums {
			v, err := evalExpr(doc, acc.arg)
			if err != nil {
				return nil, err
			}

			g.sums[i].add(v)
		}
	}

	res := make([]bsoncore.Document, 0, len(order))

	for _, key := range order {
		g := groups[key]

		idx, d := bsoncore.AppendDocumentStart(nil)
		d = bsoncore.AppendValueElement(d, "_id", g.id)

		for i, acc := range accums {
			d = bsoncore.AppendValueElement(d, acc.field, g.sums[i].value())
		}

		d, err := bsoncore.AppendDocumentEnd(d, idx)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, d)
	}

	return res, nil
}

// evalExpr evaluates a group expression for a document:
// a string starting with $ is a field path, everything else is a constant.
// A missing path evaluates to null.
func evalExpr(doc bsoncore.Document, expr bsoncore.Value) (bsoncore.Value, error) {
	switch expr.Type {
	case bsontype.EmbeddedDocument, bsontype.Array:
		return bsoncore.Value{}, unsupported("only field paths and constants are supported in group expressions")

	case bsontype.String:
		s, _ := expr.StringValueOK()

		if strings.HasPrefix(s, "$") {
			v, ok := lookupStrict(doc, strings.TrimPrefix(s, "$"))
			if !ok {
				return nullValue, nil
			}

			return v, nil
		}

		return expr, nil

	default:
		return expr, nil
	}
}

// sumState accumulates $sum, promoting int32 to int64 to double as inputs require.
// Non-numeric inputs are ignored.
type sumState struct {
	sumInt   int64
	sumFloat float64
	sawInt64 bool
	sawFloat bool
}

func (s *sumState) add(v bsoncore.Value) {
	switch v.Type {
	case bsontype.Int32:
		i, _ := v.Int32OK()
		s.sumInt += int64(i)

	case bsontype.Int64:
		i, _ := v.Int64OK()
		s.sumInt += i
		s.sawInt64 = true

	case bsontype.Double:
		f, _ := v.DoubleOK()
		s.sumFloat += f
		s.sawFloat = true
	}
}

func (s *sumState) value() bsoncore.Value {
	switch {
	case s.sawFloat:
		return doubleValue(s.sumFloat + float64(s.sumInt))
	case s.sawInt64 || s.sumInt > math.MaxInt32 || s.sumInt < math.MinInt32:
		return int64Value(s.sumInt)
	default:
		return int32Value(int32(s.sumInt))
	}
}
