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

package testutil

import (
	"github.com/stretchr/testify/require"

	"github.com/meerkatdb/meerkatdb/internal/util/hex"
	"github.com/meerkatdb/meerkatdb/internal/util/testutil/testtb"
)

// Dump returns a hex dump of the given bytes.
func Dump(tb testtb.TB, b []byte) string {
	tb.Helper()

	return hex.Dump(b)
}

// ParseDump decodes from the hex dump to the byte slice.
func ParseDump(tb testtb.TB, s string) []byte {
	tb.Helper()

	b, err := hex.ParseDump(s)
	require.NoError(tb, err)

	return b
}
