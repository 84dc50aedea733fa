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
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// MsgBody is a wire protocol message body.
type MsgBody interface {
	encoding.BinaryUnmarshaler
	encoding.BinaryMarshaler
	fmt.Stringer

	msgbody() // seal for the sum type
}

// crc32cTable is used for computing CRC-32C (Castagnoli) message checksums.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checksum returns the CRC-32C checksum of the message,
// excluding the trailing checksum bytes themselves.
func checksum(headerB, bodyB []byte) uint32 {
	h := crc32.New(crc32cTable)
	h.Write(headerB)
	h.Write(bodyB[:len(bodyB)-crc32.Size])

	return h.Sum32()
}

// ReadMessage reads from the given reader a single message,
// which the sender may have written in chunks of any size.
//
// It returns ErrZeroRead if the connection was closed before any bytes were read.
// For OP_MSG messages carrying a checksum, the checksum is validated.
func ReadMessage(r *bufio.Reader) (*MsgHeader, MsgBody, error) {
	var header MsgHeader
	if err := header.readFrom(r); err != nil {
		if errors.Is(err, ErrZeroRead) {
			return nil, nil, err
		}

		return nil, nil, lazyerrors.Error(err)
	}

	b := make([]byte, header.MessageLength-MsgHeaderLen)
	if n, err := io.ReadFull(r, b); err != nil {
		return nil, nil, lazyerrors.Errorf("expected %d bytes, read %d: %w", len(b), n, err)
	}

	var body MsgBody

	switch header.OpCode {
	case wiremessage.OpMsg:
		body = new(OpMsg)

	case wiremessage.OpQuery: //nolint:staticcheck // OP_QUERY is still used for handshakes
		body = new(OpQuery)

	case wiremessage.OpReply: // not sent by clients, but loaded from recorded sessions
		body = new(OpReply)

	default:
		return nil, nil, lazyerrors.Errorf("unhandled opcode %s", header.OpCode)
	}

	if err := body.UnmarshalBinary(b); err != nil {
		return nil, nil, lazyerrors.Error(err)
	}

	if msg, ok := body.(*OpMsg); ok && msg.Flags&wiremessage.ChecksumPresent != 0 {
		headerB := must.NotFail(header.MarshalBinary())

		if expected := checksum(headerB, b); msg.checksum != expected {
			return nil, nil, lazyerrors.Errorf(
				"OP_MSG checksum mismatch (got 0x%08x, expected 0x%08x)", msg.checksum, expected,
			)
		}
	}

	return &header, body, nil
}

// WriteMessage writes the given message to the writer without flushing it.
//
// The header's MessageLength must match the marshaled body size.
// For OP_MSG messages with the checksumPresent flag set,
// the trailing CRC-32C checksum is computed and filled in.
func WriteMessage(w *bufio.Writer, header *MsgHeader, msg MsgBody) error {
	b, err := msg.MarshalBinary()
	if err != nil {
		return lazyerrors.Error(err)
	}

	if expected := len(b) + MsgHeaderLen; int32(expected) != header.MessageLength {
		panic(fmt.Sprintf(
			"expected length %d (marshaled body size) + %d (fixed marshaled header size) = %d, got %d",
			len(b), MsgHeaderLen, expected, header.MessageLength,
		))
	}

	headerB := must.NotFail(header.MarshalBinary())

	if m, ok := msg.(*OpMsg); ok && m.Flags&wiremessage.ChecksumPresent != 0 {
		binary.LittleEndian.PutUint32(b[len(b)-crc32.Size:], checksum(headerB, b))
	}

	if _, err := w.Write(headerB); err != nil {
		return lazyerrors.Error(err)
	}

	if _, err := w.Write(b); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}
