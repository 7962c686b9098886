// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package packet

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsCorrelationID(t *testing.T) {
	a := New("sam", "alex", []byte("onion"))
	b := New("sam", "alex", []byte("onion"))

	_, err := uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "sam", a.To)
	assert.Equal(t, "alex", a.From)
}

func TestNewWithIDKeepsCorrelationID(t *testing.T) {
	a := New("p1", "alex", nil)
	b := NewWithID(a.ID, "p2", "p1", nil)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "p2", b.To)
	assert.Equal(t, "p1", b.From)
}

func TestMessage(t *testing.T) {
	m := NewMessage("alex", "Hello, sam!")
	b, err := m.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalMessage(b)
	require.NoError(t, err)
	assert.Equal(t, "alex", got.Sender())
	assert.Equal(t, "Hello, sam!", got.Body)

	anon := &Message{Body: "who am i"}
	b, err = anon.Marshal()
	require.NoError(t, err)
	got, err = UnmarshalMessage(b)
	require.NoError(t, err)
	assert.Nil(t, got.From)
	assert.Empty(t, got.Sender())
}

func TestMalformedMessage(t *testing.T) {
	_, err := UnmarshalMessage([]byte{0xff, 0x00, 0x13})
	require.ErrorIs(t, err, ErrMalformedMessage)
}

func TestLinkFunc(t *testing.T) {
	var got *Packet
	l := LinkFunc(func(p *Packet) error {
		got = p
		return nil
	})
	pkt := New("a", "b", nil)
	require.NoError(t, l.Deliver(pkt))
	assert.Same(t, pkt, got)

	l = func(*Packet) error { return ErrLinkClosed }
	assert.True(t, errors.Is(l.Deliver(pkt), ErrLinkClosed))
}
