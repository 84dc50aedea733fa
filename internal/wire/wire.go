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

// Package wire implements the MongoDB wire protocol.
//
// Only OP_MSG, OP_QUERY, and OP_REPLY opcodes are handled;
// messages with other opcodes are rejected.
package wire

import (
	"bytes"
	"encoding/binary"
)

// readInt32 reads a little-endian int32 from the beginning of b.
func readInt32(b []byte) (int32, []byte, bool) {
	if len(b) < 4 {
		return 0, b, false
	}

	return int32(binary.LittleEndian.Uint32(b)), b[4:], true
}

// readCString reads a NUL-terminated string from the beginning of b.
func readCString(b []byte) (string, []byte, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", b, false
	}

	return string(b[:i]), b[i+1:], true
}
