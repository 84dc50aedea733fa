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

func TestProjectDocument(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	doc := b().
		AppendInt32("_id", 1).
		AppendInt32("a", 1).
		AppendInt32("b", 2).
		AppendInt32("c", 3).
		Build()

	for name, tc := range map[string]struct {
		projection bsoncore.Document
		expected   bsoncore.Document
	}{
		"Inclusion": {
			projection: b().AppendInt32("a", 1).AppendInt32("c", 1).Build(),
			expected:   b().AppendInt32("_id", 1).AppendInt32("a", 1).AppendInt32("c", 3).Build(),
		},
		"InclusionWithoutID": {
			projection: b().AppendInt32("a", 1).AppendInt32("_id", 0).Build(),
			expected:   b().AppendInt32("a", 1).Build(),
		},
		"Exclusion": {
			projection: b().AppendInt32("b", 0).Build(),
			expected:   b().AppendInt32("_id", 1).AppendInt32("a", 1).AppendInt32("c", 3).Build(),
		},
		"IDOnly": {
			projection: b().AppendInt32("_id", 1).Build(),
			expected:   b().AppendInt32("_id", 1).Build(),
		},
		"ExcludeIDOnly": {
			projection: b().AppendInt32("_id", 0).Build(),
			expected:   b().AppendInt32("a", 1).AppendInt32("b", 2).AppendInt32("c", 3).Build(),
		},
		"BooleanValues": {
			projection: b().AppendBoolean("a", true).AppendBoolean("_id", false).Build(),
			expected:   b().AppendInt32("a", 1).Build(),
		},
		"Empty": {
			projection: b().Build(),
			expected:   doc,
		},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			res, err := projectDocument(doc, tc.projection)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res)
		})
	}
}

func TestProjectDocumentErrors(t *testing.T) {
	t.Parallel()

	b := func() *bsoncore.DocumentBuilder { return bsoncore.NewDocumentBuilder() }

	doc := b().AppendInt32("_id", 1).AppendInt32("a", 1).Build()

	_, err := projectDocument(doc, b().AppendInt32("a", 1).AppendInt32("b", 0).Build())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot do exclusion on field b in inclusion projection")

	_, err = projectDocument(doc, b().AppendInt32("a", 0).AppendInt32("b", 1).Build())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot do inclusion on field b in exclusion projection")

	_, err = projectDocument(doc, b().AppendInt32("a.b", 1).Build())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")

	_, err = projectDocument(doc, b().AppendString("a", "x").Build())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid projection value")
}
