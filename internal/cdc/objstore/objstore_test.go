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

package objstore

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
)

func TestGlobPrefix(t *testing.T) {
	t.Parallel()

	for glob, expected := range map[string]string{
		"cdc/*.parquet":                  "cdc/",
		"cdc/{db}/{coll}/*/*.parquet":    "cdc/",
		"cdc/test/users/202601/*.json":   "cdc/test/users/202601/",
		"cdc/test/users/202601/one.json": "cdc/test/users/202601/one.json",
		"*":                              "",
	} {
		assert.Equal(t, expected, globPrefix(glob), "glob %q", glob)
	}
}

func TestMatchGlob(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		glob    string
		key     string
		matched bool
	}{
		"Star": {
			glob:    "cdc/test/users/*.parquet",
			key:     "cdc/test/users/0191e7a4.parquet",
			matched: true,
		},
		"StarDoesNotCrossSegments": {
			glob:    "cdc/*.parquet",
			key:     "cdc/test/users/0191e7a4.parquet",
			matched: false,
		},
		"Placeholder": {
			glob:    "cdc/{database}/{collection}/*/*.parquet",
			key:     "cdc/test/users/202601/0191e7a4.parquet",
			matched: true,
		},
		"PlaceholderWrongExtension": {
			glob:    "cdc/{database}/{collection}/*/*.parquet",
			key:     "cdc/test/users/202601/0191e7a4.json",
			matched: false,
		},
		"Exact": {
			glob:    "cdc/test/users/202601/one.json",
			key:     "cdc/test/users/202601/one.json",
			matched: true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			matched, err := matchGlob(tc.glob, tc.key)
			require.NoError(t, err)
			assert.Equal(t, tc.matched, matched)
		})
	}
}

func TestMemory(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	st := NewMemory()

	require.NoError(t, st.Put(ctx, "cdc/test/users/202601/b.json", strings.NewReader(`{"v":2}`)))
	require.NoError(t, st.Put(ctx, "cdc/test/users/202601/a.json", strings.NewReader(`{"v":1}`)))
	require.NoError(t, st.Put(ctx, "other/irrelevant.txt", strings.NewReader("nope")))

	infos, err := st.List(ctx, "cdc/{database}/{collection}/*/*.json")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	// sorted by key
	assert.Equal(t, "cdc/test/users/202601/a.json", infos[0].Key)
	assert.Equal(t, "cdc/test/users/202601/b.json", infos[1].Key)
	assert.EqualValues(t, 7, infos[0].Size)
	assert.False(t, infos[0].LastModified.IsZero())

	r, err := st.Get(ctx, "cdc/test/users/202601/a.json")
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, `{"v":1}`, string(data))

	require.NoError(t, st.Delete(ctx, "cdc/test/users/202601/a.json"))

	_, err = st.Get(ctx, "cdc/test/users/202601/a.json")
	assert.Error(t, err)

	assert.Error(t, st.Delete(ctx, "cdc/test/users/202601/a.json"))

	infos, err = st.List(ctx, "cdc/{database}/{collection}/*/*.json")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "cdc/test/users/202601/b.json", infos[0].Key)
}
