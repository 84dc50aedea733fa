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
)

func TestPipelineMatchSortSkipLimit(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	docs := []bsoncore.Document{
		b().AppendInt32("_id", 1).AppendInt32("v", 3).Build(),
		b().AppendInt32("_id", 2).AppendInt32("v", 1).Build(),
		b().AppendInt32("_id", 3).AppendInt32("v", 2).Build(),
		b().AppendInt32("_id", 4).AppendInt32("v", 5).Build(),
	}

	pipeline := []bsoncore.Document{
		b().AppendDocument("$match", b().
			AppendDocument("v", b().AppendInt32("$gt", 1).Build()).
			Build()).Build(),
		b().AppendDocument("$sort", b().AppendInt32("v", -1).Build()).Build(),
		b().AppendInt32("$skip", 1).Build(),
		b().AppendInt32("$limit", 2).Build(),
	}

	res, err := runPipeline(docs, pipeline)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3}, ids(t, res))
}

func TestPipelineCount(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	docs := []bsoncore.Document{
		b().AppendInt32("_id", 1).AppendInt32("v", 1).Build(),
		b().AppendInt32("_id", 2).AppendInt32("v", 2).Build(),
	}

	count := b().AppendString("$count", "n").Build()

	res, err := runPipeline(docs, []bsoncore.Document{count})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, b().AppendInt32("n", 2).Build(), res[0])

	// filtering out everything leaves no count document at all
	match := b().AppendDocument("$match", b().
		AppendDocument("v", b().AppendInt32("$gt", 10).Build()).
		Build()).Build()

	res, err = runPipeline(docs, []bsoncore.Document{match, count})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestPipelineGroup(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	docs := []bsoncore.Document{
		b().AppendInt32("_id", 1).AppendString("cat", "a").AppendInt32("qty", 1).Build(),
		b().AppendInt32("_id", 2).AppendString("cat", "b").AppendInt64("qty", 2).Build(),
		b().AppendInt32("_id", 3).AppendString("cat", "a").AppendDouble("qty", 2.5).Build(),
	}

	group := b().AppendDocument("$group", b().
		AppendString("_id", "$cat").
		AppendDocument("total", b().AppendString("$sum", "$qty").Build()).
		AppendDocument("count", b().AppendInt32("$sum", 1).Build()).
		Build()).Build()

	res, err := runPipeline(docs, []bsoncore.Document{group})
	require.NoError(t, err)
	require.Len(t, res, 2)

	// groups come out in first-seen order;
	// the sum type follows the widest input: double for "a", int64 for "b"
	expected := []bsoncore.Document{
		b().AppendString("_id", "a").AppendDouble("total", 3.5).AppendInt32("count", 2).Build(),
		b().AppendString("_id", "b").AppendInt64("total", 2).AppendInt32("count", 1).Build(),
	}
	assert.Equal(t, expected, res)
}

func TestPipelineGroupConstID(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	docs := []bsoncore.Document{
		b().AppendInt32("_id", 1).AppendInt32("v", 10).Build(),
		b().AppendInt32("_id", 2).AppendInt32("v", 20).Build(),
	}

	group := b().AppendDocument("$group", b().
		AppendNull("_id").
		AppendDocument("total", b().AppendString("$sum", "$v").Build()).
		Build()).Build()

	res, err := runPipeline(docs, []bsoncore.Document{group})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, b().AppendNull("_id").AppendInt32("total", 30).Build(), res[0])

	// grouping no documents produces no groups
	res, err = runPipeline(nil, []bsoncore.Document{group})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestPipelineProject(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	docs := []bsoncore.Document{
		b().AppendInt32("_id", 1).AppendInt32("v", 10).AppendString("s", "x").Build(),
	}

	project := b().AppendDocument("$project", b().
		AppendInt32("v", 1).
		AppendInt32("_id", 0).
		Build()).Build()

	res, err := runPipeline(docs, []bsoncore.Document{project})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, b().AppendInt32("v", 10).Build(), res[0])
}

func TestPipelineErrors(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	docs := []bsoncore.Document{
		b().AppendInt32("_id", 1).Build(),
	}

	for name, tc := range map[string]struct {
		stage    bsoncore.Document
		expected string
	}{
		"UnknownStage": {
			stage:    b().AppendDocument("$unwind", b().Build()).Build(),
			expected: "Unrecognized pipeline stage name: '$unwind'",
		},
		"TwoFields": {
			stage:    b().AppendInt32("$skip", 1).AppendInt32("$limit", 1).Build(),
			expected: "exactly one field",
		},
		"NegativeSkip": {
			stage:    b().AppendInt32("$skip", -1).Build(),
			expected: "expected a non-negative number",
		},
		"ZeroLimit": {
			stage:    b().AppendInt32("$limit", 0).Build(),
			expected: "the limit must be positive",
		},
		"CountEmptyField": {
			stage:    b().AppendString("$count", "").Build(),
			expected: "non-empty string",
		},
		"CountDollarField": {
			stage:    b().AppendString("$count", "$n").Build(),
			expected: "cannot be a $-prefixed path",
		},
		"GroupWithoutID": {
			stage: b().AppendDocument("$group", b().
				AppendDocument("n", b().AppendInt32("$sum", 1).Build()).
				Build()).Build(),
			expected: "must include an _id",
		},
		"GroupUnknownAccumulator": {
			stage: b().AppendDocument("$group", b().
				AppendNull("_id").
				AppendDocument("n", b().AppendInt32("$avg", 1).Build()).
				Build()).Build(),
			expected: "unknown group operator '$avg'",
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := runPipeline(docs, []bsoncore.Document{tc.stage})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expected)
		})
	}
}
