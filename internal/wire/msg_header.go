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
	"io"

	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

const (
	// MsgHeaderLen is the length of the message header in bytes.
	MsgHeaderLen = 16

	// MaxMsgLen is the maximum message length in bytes.
	MaxMsgLen = 48_000_000
)

// ErrZeroRead is returned when zero bytes were read from the connection,
// indicating that it was closed by the client.
var ErrZeroRead = errors.New("zero bytes read")

// MsgHeader is the standard header prefixing every wire protocol message.
type MsgHeader struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        wiremessage.OpCode
}

// readFrom reads the header from the given reader.
//
// It returns ErrZeroRead if the connection was closed before any bytes were read.
func (msg *MsgHeader) readFrom(bufr *bufio.Reader) error {
	b := make([]byte, MsgHeaderLen)

	if n, err := io.ReadFull(bufr, b); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return ErrZeroRead
		}

		return lazyerrors.Error(err)
	}

	if err := msg.UnmarshalBinary(b); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// UnmarshalBinary implements the [encoding.BinaryUnmarshaler] interface.
//
// It returns an error if the message length is outside the valid range.
func (msg *MsgHeader) UnmarshalBinary(b []byte) error {
	if len(b) != MsgHeaderLen {
		return lazyerrors.Errorf("expected %d bytes, got %d", MsgHeaderLen, len(b))
	}

	msg.MessageLength = int32(binary.LittleEndian.Uint32(b[0:4]))
	msg.RequestID = int32(binary.LittleEndian.Uint32(b[4:8]))
	msg.ResponseTo = int32(binary.LittleEndian.Uint32(b[8:12]))
	msg.OpCode = wiremessage.OpCode(binary.LittleEndian.Uint32(b[12:16]))

	if msg.MessageLength < MsgHeaderLen {
		return lazyerrors.Errorf("invalid message length %d", msg.MessageLength)
	}

	if msg.MessageLength > MaxMsgLen {
		return lazyerrors.Errorf("message length %d exceeds the maximum of %d", msg.MessageLength, MaxMsgLen)
	}

	return nil
}

// MarshalBinary implements the [encoding.BinaryMarshaler] interface.
func (msg *MsgHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, MsgHeaderLen)

	binary.LittleEndian.PutUint32(b[0:4], uint32(msg.MessageLength))
	binary.LittleEndian.PutUint32(b[4:8], uint32(msg.RequestID))
	binary.LittleEndian.PutUint32(b[8:12], uint32(msg.ResponseTo))
	binary.LittleEndian.PutUint32(b[12:16], uint32(msg.OpCode))

	return b, nil
}

// String implements the [fmt.Stringer] interface.
func (msg *MsgHeader) String() string {
	if msg == nil {
		return "<nil>"
	}

	return fmt.Sprintf(
		"MsgHeader{MessageLength: %d, RequestID: %d, ResponseTo: %d, OpCode: %s}",
		msg.MessageLength, msg.RequestID, msg.ResponseTo, msg.OpCode,
	)
}

// check interfaces
var (
	_ encoding.BinaryUnmarshaler = (*MsgHeader)(nil)
	_ encoding.BinaryMarshaler   = (*MsgHeader)(nil)
	_ fmt.Stringer               = (*MsgHeader)(nil)
)
