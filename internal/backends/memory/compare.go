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
	"bytes"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// nullValue is what missing fields compare and sort as.
var nullValue = bsoncore.Value{Type: bsontype.Null}

// Type brackets in the comparison order.
// Values of different brackets compare by bracket alone;
// all numeric types form a single bracket.
const (
	orderMinKey = iota + 1
	orderNull
	orderNumbers
	orderString
	orderObject
	orderArray
	orderBinary
	orderObjectID
	orderBoolean
	orderDateTime
	orderTimestamp
	orderRegex
	orderMaxKey
)

// typeOrder returns the comparison bracket of the BSON type.
func typeOrder(t bsontype.Type) int {
	switch t {
	case bsontype.MinKey:
		return orderMinKey
	case bsontype.Null, bsontype.Undefined:
		return orderNull
	case bsontype.Double, bsontype.Int32, bsontype.Int64, bsontype.Decimal128:
		return orderNumbers
	case bsontype.String, bsontype.Symbol:
		return orderString
	case bsontype.EmbeddedDocument:
		return orderObject
	case bsontype.Array:
		return orderArray
	case bsontype.Binary:
		return orderBinary
	case bsontype.ObjectID:
		return orderObjectID
	case bsontype.Boolean:
		return orderBoolean
	case bsontype.DateTime:
		return orderDateTime
	case bsontype.Timestamp:
		return orderTimestamp
	case bsontype.MaxKey:
		return orderMaxKey
	default:
		// Regex, DBPointer, JavaScript, CodeWithScope
		return orderRegex
	}
}

// compareValues compares two BSON values and returns -1, 0, or 1.
//
// The result is a total order used for sorting, equality, and range matching:
// values of different type brackets compare by bracket, numbers compare by numeric value.
func compareValues(a, b bsoncore.Value) int {
	ao, bo := typeOrder(a.Type), typeOrder(b.Type)

	if ao != bo {
		return compareInts(int64(ao), int64(bo))
	}

	if ao == orderNumbers {
		return compareNumbers(a, b)
	}

	if a.Type != b.Type {
		// same bracket, different types (String/Symbol and the Regex bracket)
		return bytes.Compare(a.Data, b.Data)
	}

	switch a.Type {
	case bsontype.String:
		as, _ := a.StringValueOK()
		bs, _ := b.StringValueOK()

		return strings.Compare(as, bs)

	case bsontype.EmbeddedDocument:
		return compareDocuments(bsoncore.Document(a.Data), bsoncore.Document(b.Data))

	case bsontype.Array:
		return compareArrays(bsoncore.Document(a.Data), bsoncore.Document(b.Data))

	case bsontype.Binary:
		asub, adata, _ := a.BinaryOK()
		bsub, bdata, _ := b.BinaryOK()

		if c := compareInts(int64(len(adata)), int64(len(bdata))); c != 0 {
			return c
		}

		if c := compareInts(int64(asub), int64(bsub)); c != 0 {
			return c
		}

		return bytes.Compare(adata, bdata)

	case bsontype.ObjectID:
		aid, _ := a.ObjectIDOK()
		bid, _ := b.ObjectIDOK()

		return bytes.Compare(aid[:], bid[:])

	case bsontype.Boolean:
		ab, _ := a.BooleanOK()
		bb, _ := b.BooleanOK()

		switch {
		case !ab && bb:
			return -1
		case ab && !bb:
			return 1
		default:
			return 0
		}

	case bsontype.DateTime:
		at, _ := a.DateTimeOK()
		bt, _ := b.DateTimeOK()

		return compareInts(at, bt)

	case bsontype.Timestamp:
		att, ati, _ := a.TimestampOK()
		btt, bti, _ := b.TimestampOK()

		if c := compareInts(int64(att), int64(btt)); c != 0 {
			return c
		}

		return compareInts(int64(ati), int64(bti))

	case bsontype.Regex:
		ap, aopts, _ := a.RegexOK()
		bp, bopts, _ := b.RegexOK()

		if c := strings.Compare(ap, bp); c != 0 {
			return c
		}

		return strings.Compare(aopts, bopts)

	default:
		// Null, Undefined, MinKey, MaxKey, and exotic types
		return bytes.Compare(a.Data, b.Data)
	}
}

// equalValues reports whether two values are equal.
// Numbers of different BSON types are equal when their numeric values are.
func equalValues(a, b bsoncore.Value) bool {
	return compareValues(a, b) == 0
}

// compareDocuments compares two documents by their fields pairwise:
// value type bracket first, then field name, then value; a prefix compares less.
func compareDocuments(a, b bsoncore.Document) int {
	aElems, aErr := a.Elements()
	bElems, bErr := b.Elements()

	if aErr != nil || bErr != nil {
		return bytes.Compare(a, b)
	}

	for i := 0; i < len(aElems) && i < len(bElems); i++ {
		av, bv := aElems[i].Value(), bElems[i].Value()

		if c := compareInts(int64(typeOrder(av.Type)), int64(typeOrder(bv.Type))); c != 0 {
			return c
		}

		if c := strings.Compare(aElems[i].Key(), bElems[i].Key()); c != 0 {
			return c
		}

		if c := compareValues(av, bv); c != 0 {
			return c
		}
	}

	return compareInts(int64(len(aElems)), int64(len(bElems)))
}

// compareArrays compares two arrays element-wise; a prefix compares less.
func compareArrays(a, b bsoncore.Document) int {
	aVals, aErr := a.Values()
	bVals, bErr := b.Values()

	if aErr != nil || bErr != nil {
		return bytes.Compare(a, b)
	}

	for i := 0; i < len(aVals) && i < len(bVals); i++ {
		if c := compareValues(aVals[i], bVals[i]); c != 0 {
			return c
		}
	}

	return compareInts(int64(len(aVals)), int64(len(bVals)))
}

// compareNumbers compares two values of any numeric BSON types.
func compareNumbers(a, b bsoncore.Value) int {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return compareInts(ai, bi)
		}
	}

	af, aok := asFloat64(a)
	bf, bok := asFloat64(b)

	if !aok || !bok {
		// Decimal128 compares by raw encoding
		return bytes.Compare(a.Data, b.Data)
	}

	return compareFloats(af, bf)
}

// compareInts compares two int64 values.
func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareFloats compares two doubles;
// NaN compares less than all other values and equal to itself.
func compareFloats(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	case math.IsNaN(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// asInt64 returns the value as int64 for integer types.
func asInt64(v bsoncore.Value) (int64, bool) {
	if i, ok := v.Int32OK(); ok {
		return int64(i), true
	}

	return v.Int64OK()
}

// asFloat64 returns the value as float64 for all numeric types except Decimal128.
func asFloat64(v bsoncore.Value) (float64, bool) {
	if f, ok := v.DoubleOK(); ok {
		return f, true
	}

	if i, ok := asInt64(v); ok {
		return float64(i), true
	}

	return 0, false
}

// valueKey returns a string that is equal for equal values, folding all numeric types together.
// It is used for _id uniqueness, distinct, and group keys.
func valueKey(v bsoncore.Value) string {
	switch v.Type {
	case bsontype.Double, bsontype.Int32, bsontype.Int64:
		if i, ok := asInt64(v); ok {
			return "i" + strconv.FormatInt(i, 10)
		}

		f, _ := v.DoubleOK()
		if f == math.Trunc(f) && f >= -(1<<53) && f <= 1<<53 {
			return "i" + strconv.FormatInt(int64(f), 10)
		}

		return "f" + strconv.FormatFloat(f, 'x', -1, 64)

	default:
		return string([]byte{byte(v.Type)}) + string(v.Data)
	}
}

// docValue wraps a document as a value.
func docValue(d bsoncore.Document) bsoncore.Value {
	return bsoncore.Value{Type: bsontype.EmbeddedDocument, Data: d}
}

// arrayValue wraps an array's bytes as a value.
func arrayValue(d bsoncore.Document) bsoncore.Value {
	return bsoncore.Value{Type: bsontype.Array, Data: d}
}

// int32Value builds an int32 value.
func int32Value(i int32) bsoncore.Value {
	return bsoncore.Value{Type: bsontype.Int32, Data: bsoncore.AppendInt32(nil, i)}
}

// int64Value builds an int64 value.
func int64Value(i int64) bsoncore.Value {
	return bsoncore.Value{Type: bsontype.Int64, Data: bsoncore.AppendInt64(nil, i)}
}

// doubleValue builds a double value.
func doubleValue(f float64) bsoncore.Value {
	return bsoncore.Value{Type: bsontype.Double, Data: bsoncore.AppendDouble(nil, f)}
}
