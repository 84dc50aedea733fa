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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
)

func TestMatchDocument(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }
	arr123 := bsoncore.NewArrayBuilder().AppendInt32(1).AppendInt32(2).AppendInt32(3).Build()

	for name, tc := range map[string]struct {
		doc      bsoncore.Document
		filter   bsoncore.Document
		expected bool
	}{
		"Empty": {
			doc:      b().AppendInt32("a", 1).Build(),
			filter:   b().Build(),
			expected: true,
		},
		"Eq": {
			doc:      b().AppendInt32("a", 1).Build(),
			filter:   b().AppendInt32("a", 1).Build(),
			expected: true,
		},
		"EqMismatch": {
			doc:      b().AppendInt32("a", 1).Build(),
			filter:   b().AppendInt32("a", 2).Build(),
			expected: false,
		},
		"EqNumericCrossType": {
			doc:      b().AppendInt64("a", 5).Build(),
			filter:   b().AppendDouble("a", 5).Build(),
			expected: true,
		},
		"EqArrayElement": {
			doc:      b().AppendArray("a", arr123).Build(),
			filter:   b().AppendInt32("a", 2).Build(),
			expected: true,
		},
		"EqWholeArray": {
			doc:      b().AppendArray("a", arr123).Build(),
			filter:   b().AppendArray("a", arr123).Build(),
			expected: true,
		},
		"EqNullMatchesMissing": {
			doc:      b().AppendInt32("b", 1).Build(),
			filter:   b().AppendNull("a").Build(),
			expected: true,
		},
		"EqDocument": {
			doc:      b().AppendDocument("a", b().AppendInt32("b", 1).Build()).Build(),
			filter:   b().AppendDocument("a", b().AppendInt32("b", 1).Build()).Build(),
			expected: true,
		},
		"ExplicitEqOperator": {
			doc:      b().AppendInt32("a", 1).Build(),
			filter:   b().AppendDocument("a", b().AppendInt32("$eq", 1).Build()).Build(),
			expected: true,
		},
		"Ne": {
			doc:      b().AppendInt32("a", 1).Build(),
			filter:   b().AppendDocument("a", b().AppendInt32("$ne", 2).Build()).Build(),
			expected: true,
		},
		"NeArrayElement": {
			doc:      b().AppendArray("a", arr123).Build(),
			filter:   b().AppendDocument("a", b().AppendInt32("$ne", 2).Build()).Build(),
			expected: false,
		},
		"Gt": {
			doc:      b().AppendInt32("a", 5).Build(),
			filter:   b().AppendDocument("a", b().AppendInt32("$gt", 4).Build()).Build(),
			expected: true,
		},
		"GtOtherTypeBracket": {
			doc:      b().AppendString("a", "x").Build(),
			filter:   b().AppendDocument("a", b().AppendInt32("$gt", 4).Build()).Build(),
			expected: false,
		},
		"GteNullMatchesMissing": {
			doc:      b().AppendInt32("b", 1).Build(),
			filter:   b().AppendDocument("a", b().AppendNull("$gte").Build()).Build(),
			expected: true,
		},
		"LtArrayElement": {
			doc:      b().AppendArray("a", arr123).Build(),
			filter:   b().AppendDocument("a", b().AppendInt32("$lt", 2).Build()).Build(),
			expected: true,
		},
		"GtGteRange": {
			doc: b().AppendInt32("a", 5).Build(),
			filter: b().AppendDocument("a", b().
				AppendInt32("$gt", 1).
				AppendInt32("$lte", 5).
				Build()).Build(),
			expected: true,
		},
		"In": {
			doc: b().AppendInt32("a", 2).Build(),
			filter: b().AppendDocument("a", b().
				AppendArray("$in", arr123).
				Build()).Build(),
			expected: true,
		},
		"NinMissingField": {
			doc: b().AppendInt32("b", 1).Build(),
			filter: b().AppendDocument("a", b().
				AppendArray("$nin", arr123).
				Build()).Build(),
			expected: true,
		},
		"ExistsTrue": {
			doc:      b().AppendNull("a").Build(),
			filter:   b().AppendDocument("a", b().AppendBoolean("$exists", true).Build()).Build(),
			expected: true,
		},
		"ExistsFalse": {
			doc:      b().AppendInt32("b", 1).Build(),
			filter:   b().AppendDocument("a", b().AppendBoolean("$exists", false).Build()).Build(),
			expected: true,
		},
		"Not": {
			doc: b().AppendInt32("a", 1).Build(),
			filter: b().AppendDocument("a", b().
				AppendDocument("$not", b().AppendInt32("$gt", 5).Build()).
				Build()).Build(),
			expected: true,
		},
		"And": {
			doc: b().AppendInt32("a", 1).AppendInt32("b", 2).Build(),
			filter: b().AppendArray("$and", bsoncore.NewArrayBuilder().
				AppendDocument(b().AppendInt32("a", 1).Build()).
				AppendDocument(b().AppendInt32("b", 2).Build()).
				Build()).Build(),
			expected: true,
		},
		"Or": {
			doc: b().AppendInt32("a", 1).Build(),
			filter: b().AppendArray("$or", bsoncore.NewArrayBuilder().
				AppendDocument(b().AppendInt32("a", 5).Build()).
				AppendDocument(b().AppendInt32("a", 1).Build()).
				Build()).Build(),
			expected: true,
		},
		"Nor": {
			doc: b().AppendInt32("a", 1).Build(),
			filter: b().AppendArray("$nor", bsoncore.NewArrayBuilder().
				AppendDocument(b().AppendInt32("a", 5).Build()).
				AppendDocument(b().AppendInt32("b", 5).Build()).
				Build()).Build(),
			expected: true,
		},
		"DottedDocument": {
			doc:      b().AppendDocument("a", b().AppendInt32("b", 1).Build()).Build(),
			filter:   b().AppendInt32("a.b", 1).Build(),
			expected: true,
		},
		"DottedArrayFanOut": {
			doc: b().AppendArray("a", bsoncore.NewArrayBuilder().
				AppendDocument(b().AppendInt32("b", 1).Build()).
				AppendDocument(b().AppendInt32("b", 2).Build()).
				Build()).Build(),
			filter:   b().AppendInt32("a.b", 2).Build(),
			expected: true,
		},
		"DottedArrayIndex": {
			doc:      b().AppendArray("a", arr123).Build(),
			filter:   b().AppendInt32("a.1", 2).Build(),
			expected: true,
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			matches, err := matchDocument(tc.doc, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, matches)
		})
	}
}

func TestMatchDocumentErrors(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	for name, tc := range map[string]struct {
		filter   bsoncore.Document
		expected string
	}{
		"UnknownTopLevelOperator": {
			filter:   b().AppendString("$where", "true").Build(),
			expected: "unknown top level operator: $where",
		},
		"UnknownOperator": {
			filter:   b().AppendDocument("a", b().AppendString("$regex", "x").Build()).Build(),
			expected: "unknown operator: $regex",
		},
		"EmptyOr": {
			filter:   b().AppendArray("$or", bsoncore.NewArrayBuilder().Build()).Build(),
			expected: "$or must be a nonempty array",
		},
		"OrWithScalar": {
			filter: b().AppendArray("$or", bsoncore.NewArrayBuilder().
				AppendInt32(1).
				Build()).Build(),
			expected: "entries need to be full objects",
		},
		"NestedOperatorInIn": {
			filter: b().AppendDocument("a", b().
				AppendArray("$in", bsoncore.NewArrayBuilder().
					AppendDocument(b().AppendInt32("$gt", 1).Build()).
					Build()).
				Build()).Build(),
			expected: "cannot nest $ under $in",
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			doc := bsoncore.NewDocumentBuilder().AppendInt32("a", 1).Build()

			_, err := matchDocument(doc, tc.filter)
			require.Error(t, err)
			assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeUnsupportedOperation))
			assert.Contains(t, err.Error(), tc.expected)
		})
	}
}

func TestFilterDocuments(t *testing.T) {
	t.Parallel()

	docs := []bsoncore.Document{
		bsoncore.NewDocumentBuilder().AppendInt32("_id", 1).AppendInt32("v", 10).Build(),
		bsoncore.NewDocumentBuilder().AppendInt32("_id", 2).AppendInt32("v", 20).Build(),
		bsoncore.NewDocumentBuilder().AppendInt32("_id", 3).AppendInt32("v", 30).Build(),
	}

	filter := bsoncore.NewDocumentBuilder().
		AppendDocument("v", bsoncore.NewDocumentBuilder().AppendInt32("$gte", 20).Build()).
		Build()

	res, err := filterDocuments(docs, filter)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3}, ids(t, res))

	res, err = filterDocuments(docs, nil)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, ids(t, res))
}
