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
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/x/mongo/driver/wiremessage"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// knownOpMsgFlags are the flag bits that must be understood by the receiver.
// The remaining bits of the lower half are required to be unset.
const knownOpMsgFlags = wiremessage.ChecksumPresent | wiremessage.MoreToCome

// OpMsgSection is one or more sections contained in an OpMsg.
type OpMsgSection struct {
	// The order of fields is weird to make the struct smaller due to alignment.
	// The wire order is: kind, identifier, documents.

	Identifier string
	documents  []bsoncore.Document
	Kind       byte
}

// MakeOpMsgSection creates a kind 0 (body) section with a single document.
func MakeOpMsgSection(doc bsoncore.Document) OpMsgSection {
	return OpMsgSection{
		documents: []bsoncore.Document{doc},
	}
}

// Documents returns all documents of that section.
func (s *OpMsgSection) Documents() []bsoncore.Document {
	return s.documents
}

// OpMsg is the main client-server and server-client message
// for the modern wire protocol.
type OpMsg struct {
	sections []OpMsgSection
	Flags    wiremessage.MsgFlag
	checksum uint32
}

// NewOpMsg creates a message with a single kind 0 (body) section.
func NewOpMsg(doc bsoncore.Document) (*OpMsg, error) {
	var msg OpMsg
	if err := msg.SetSections(MakeOpMsgSection(doc)); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &msg, nil
}

func (msg *OpMsg) msgbody() {}

// Sections returns the sections of the message.
func (msg *OpMsg) Sections() []OpMsgSection {
	return msg.sections
}

// SetSections replaces the sections of the message after validating them.
func (msg *OpMsg) SetSections(sections ...OpMsgSection) error {
	if err := validateSections(sections); err != nil {
		return lazyerrors.Error(err)
	}

	msg.sections = sections

	return nil
}

// Document returns the body section's document
// with the documents of all kind 1 sections merged in as arrays,
// keyed by the section identifiers.
func (msg *OpMsg) Document() (bsoncore.Document, error) {
	if err := validateSections(msg.sections); err != nil {
		return nil, lazyerrors.Error(err)
	}

	// Kind 1 sections may precede the kind 0 section on the wire,
	// but the command is always defined by the first key of the body document.
	var body bsoncore.Document

	for _, section := range msg.sections {
		if section.Kind == 0 {
			body = section.documents[0]
		}
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)

	elements, err := body.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	for _, el := range elements {
		key, err := el.KeyErr()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		value, err := el.ValueErr()
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		doc = bsoncore.AppendValueElement(doc, key, value)
	}

	for _, section := range msg.sections {
		if section.Kind != 1 {
			continue
		}

		aidx, arr := bsoncore.AppendArrayElementStart(doc, section.Identifier)

		for i, d := range section.documents {
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), d)
		}

		if doc, err = bsoncore.AppendArrayEnd(arr, aidx); err != nil {
			return nil, lazyerrors.Error(err)
		}
	}

	doc, err = bsoncore.AppendDocumentEnd(doc, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return doc, nil
}

// UnmarshalBinary implements the [encoding.BinaryUnmarshaler] interface.
func (msg *OpMsg) UnmarshalBinary(b []byte) error {
	flags, rem, ok := wiremessage.ReadMsgFlags(b)
	if !ok {
		return lazyerrors.New("OP_MSG: missing flags")
	}

	msg.Flags = flags

	if unknown := msg.Flags &^ (knownOpMsgFlags | wiremessage.ExhaustAllowed); unknown&0xffff != 0 {
		return newValidationError(lazyerrors.Errorf("OP_MSG: message contains illegal flags value %d", msg.Flags))
	}

	var sections []OpMsgSection

	for len(rem) > 0 {
		// The optional checksum is the last part of the message.
		if msg.Flags&wiremessage.ChecksumPresent != 0 && len(rem) == crc32.Size {
			if msg.checksum, _, ok = wiremessage.ReadMsgChecksum(rem); !ok {
				return lazyerrors.New("OP_MSG: missing checksum")
			}

			break
		}

		var kind wiremessage.SectionType

		if kind, rem, ok = wiremessage.ReadMsgSectionType(rem); !ok {
			return newValidationError(lazyerrors.New("OP_MSG: missing section kind"))
		}

		switch kind {
		case wiremessage.SingleDocument:
			var doc bsoncore.Document

			if doc, rem, ok = wiremessage.ReadMsgSectionSingleDocument(rem); !ok {
				return newValidationError(lazyerrors.New("OP_MSG: malformed body section"))
			}

			if err := doc.Validate(); err != nil {
				return newValidationError(lazyerrors.Errorf("OP_MSG: invalid body document: %w", err))
			}

			sections = append(sections, MakeOpMsgSection(doc))

		case wiremessage.DocumentSequence:
			// wiremessage.ReadMsgSectionDocumentSequence panics on invalid sequence lengths.
			if l, _, ok := readInt32(rem); !ok || l < 5 || int(l) > len(rem) {
				return newValidationError(lazyerrors.New("OP_MSG: malformed document sequence section"))
			}

			var identifier string
			var docs []bsoncore.Document

			if identifier, docs, rem, ok = wiremessage.ReadMsgSectionDocumentSequence(rem); !ok {
				return newValidationError(lazyerrors.New("OP_MSG: malformed document sequence section"))
			}

			for _, doc := range docs {
				if err := doc.Validate(); err != nil {
					return newValidationError(lazyerrors.Errorf("OP_MSG: invalid document in %q: %w", identifier, err))
				}
			}

			sections = append(sections, OpMsgSection{
				Kind:       1,
				Identifier: identifier,
				documents:  docs,
			})

		default:
			return newValidationError(lazyerrors.Errorf("OP_MSG: unknown section kind %d", kind))
		}
	}

	if err := msg.SetSections(sections...); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// MarshalBinary implements the [encoding.BinaryMarshaler] interface.
//
// For messages with the checksumPresent flag, the checksum bytes are reserved
// but computed only by WriteMessage, as the value also covers the header.
func (msg *OpMsg) MarshalBinary() ([]byte, error) {
	if err := validateSections(msg.sections); err != nil {
		return nil, lazyerrors.Error(err)
	}

	b := wiremessage.AppendMsgFlags(nil, msg.Flags)

	for _, section := range msg.sections {
		switch section.Kind {
		case 0:
			b = wiremessage.AppendMsgSectionType(b, wiremessage.SingleDocument)
			b = bsoncore.AppendDocument(b, section.documents[0])

		case 1:
			b = wiremessage.AppendMsgSectionType(b, wiremessage.DocumentSequence)

			var idx int32
			idx, b = bsoncore.ReserveLength(b)

			b = append(b, section.Identifier...)
			b = append(b, 0)

			for _, doc := range section.documents {
				b = bsoncore.AppendDocument(b, doc)
			}

			b = bsoncore.UpdateLength(b, idx, int32(len(b[idx:])))
		}
	}

	if msg.Flags&wiremessage.ChecksumPresent != 0 {
		b = bsoncore.AppendInt32(b, int32(msg.checksum))
	}

	return b, nil
}

// String implements the [fmt.Stringer] interface.
func (msg *OpMsg) String() string {
	if msg == nil {
		return "<nil>"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "OpMsg{Flags:%s", msg.Flags)

	for _, section := range msg.sections {
		switch section.Kind {
		case 0:
			fmt.Fprintf(&b, ", Body:%s", section.documents[0].String())

		case 1:
			fmt.Fprintf(&b, ", %s:[", section.Identifier)

			for i, doc := range section.documents {
				if i != 0 {
					b.WriteString(", ")
				}

				b.WriteString(doc.String())
			}

			b.WriteString("]")
		}
	}

	b.WriteString("}")

	return b.String()
}

// validateSections checks that the given sections form a valid OP_MSG:
// exactly one kind 0 section with a single document,
// and kind 1 sections with unique non-empty identifiers.
func validateSections(sections []OpMsgSection) error {
	var bodies int
	identifiers := make(map[string]struct{}, len(sections))

	for _, section := range sections {
		switch section.Kind {
		case 0:
			bodies++

			if l := len(section.documents); l != 1 {
				return newValidationError(lazyerrors.Errorf("OP_MSG: body section must contain a single document, got %d", l))
			}

			if section.Identifier != "" {
				return newValidationError(lazyerrors.New("OP_MSG: body section must not have an identifier"))
			}

		case 1:
			if section.Identifier == "" {
				return newValidationError(lazyerrors.New("OP_MSG: document sequence section must have an identifier"))
			}

			if _, dup := identifiers[section.Identifier]; dup {
				return newValidationError(lazyerrors.Errorf("OP_MSG: duplicate document sequence identifier %q", section.Identifier))
			}

			identifiers[section.Identifier] = struct{}{}

		default:
			return newValidationError(lazyerrors.Errorf("OP_MSG: unknown section kind %d", section.Kind))
		}
	}

	if bodies != 1 {
		return newValidationError(lazyerrors.Errorf("OP_MSG: expected exactly one body section, got %d", bodies))
	}

	return nil
}

// check interfaces
var (
	_ MsgBody = (*OpMsg)(nil)
)
