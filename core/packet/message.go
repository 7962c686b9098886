// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package packet

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformedMessage is returned when a recovered payload is not a valid
// Message.
var ErrMalformedMessage = errors.New("packet: malformed message")

// Message is the plaintext delivered to the final hop.
type Message struct {
	From *string `cbor:"from,omitempty"`
	Body string  `cbor:"body"`
}

// NewMessage returns a Message signed with from.
func NewMessage(from, body string) *Message {
	return &Message{From: &from, Body: body}
}

// Sender returns the claimed sender, or the empty string if there is none.
func (m *Message) Sender() string {
	if m.From == nil {
		return ""
	}
	return *m.From
}

// Marshal serializes the Message.
func (m *Message) Marshal() ([]byte, error) {
	return cbor.Marshal(m)
}

// UnmarshalMessage deserializes a Message.
func UnmarshalMessage(b []byte) (*Message, error) {
	m := new(Message)
	if err := cbor.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return m, nil
}
