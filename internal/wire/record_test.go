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

package wire

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o777))

	header, msg := makePing(7)

	writeFile := func(path string, n int) {
		f, err := os.Create(path)
		require.NoError(t, err)

		bufw := bufio.NewWriter(f)

		for i := 0; i < n; i++ {
			require.NoError(t, WriteMessage(bufw, header, msg))
		}

		require.NoError(t, bufw.Flush())
		require.NoError(t, f.Close())
	}

	writeFile(filepath.Join(dir, "a.bin"), 2)
	writeFile(filepath.Join(dir, "sub", "b.bin"), 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not a record"), 0o666))

	records, err := LoadRecords(dir, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	expectedB, err := msg.MarshalBinary()
	require.NoError(t, err)

	for _, record := range records {
		assert.Equal(t, header, record.Header)
		assert.Equal(t, expectedB, record.BodyB)
		assert.IsType(t, (*OpMsg)(nil), record.Body)
	}

	// the limit selects files, not individual records
	records, err = LoadRecords(dir, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, records)
	assert.LessOrEqual(t, len(records), 2)
}
