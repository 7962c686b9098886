// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package packet implements the envelope exchanged between relays, and the
// plaintext message carried inside the innermost onion layer.
package packet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrLinkClosed is returned by a Link whose owner is no longer accepting
// packets.
var ErrLinkClosed = errors.New("packet: link closed")

// Packet is a transport envelope.  ID is a correlation id assigned once by
// the original sender and carried unchanged through every relay hop.
type Packet struct {
	ID   string
	To   string
	From string
	Body []byte
}

// New returns a Packet with a fresh correlation id.
func New(to, from string, body []byte) *Packet {
	return NewWithID(uuid.NewString(), to, from, body)
}

// NewWithID returns a Packet that continues the correlation id of an
// earlier hop.
func NewWithID(id, to, from string, body []byte) *Packet {
	return &Packet{
		ID:   id,
		To:   to,
		From: from,
		Body: body,
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet %s: %q -> %q (%d bytes)", p.ID, p.From, p.To, len(p.Body))
}

// Link is the receiving end of a registered identity.
type Link interface {
	Deliver(*Packet) error
}

// LinkFunc adapts a function to the Link interface.
type LinkFunc func(*Packet) error

// Deliver calls f(pkt).
func (f LinkFunc) Deliver(pkt *Packet) error {
	return f(pkt)
}
