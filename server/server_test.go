// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/core/worker"
)

type chanLink chan *packet.Packet

func (l chanLink) Deliver(pkt *packet.Packet) error {
	l <- pkt
	return nil
}

func newTestServer(t *testing.T) *Server {
	logBackend, err := log.NewWithWriter(io.Discard, "DEBUG")
	require.NoError(t, err)
	s := New(logBackend, 4)
	t.Cleanup(s.Shutdown)
	return s
}

func recv(t *testing.T, ch chanLink) *packet.Packet {
	select {
	case pkt := <-ch:
		return pkt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a packet")
	}
	return nil
}

func TestSendDelivers(t *testing.T) {
	s := newTestServer(t)

	sam := make(chanLink, 1)
	require.NoError(t, s.Register("sam", sam))

	pkt := packet.New("sam", "alex", []byte("onion"))
	require.NoError(t, s.Send(pkt, nil))
	assert.Same(t, pkt, recv(t, sam))
}

func TestRegisterConflictKeepsFirst(t *testing.T) {
	s := newTestServer(t)

	first := make(chanLink, 1)
	second := make(chanLink, 1)
	require.NoError(t, s.Register("sam", first))

	err := s.Register("sam", second)
	require.ErrorIs(t, err, ErrConflict)
	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "sam", cerr.ID)

	require.NoError(t, s.Send(packet.New("sam", "alex", nil), nil))
	recv(t, first)
	assert.Empty(t, second)
}

func TestDropsAreSilent(t *testing.T) {
	s := newTestServer(t)

	sam := make(chanLink, 1)
	require.NoError(t, s.Register("sam", sam))
	require.NoError(t, s.Register("ghost", nil))
	require.NoError(t, s.Register("broken", packet.LinkFunc(func(*packet.Packet) error {
		return packet.ErrLinkClosed
	})))

	require.NoError(t, s.Send(packet.New("nobody", "alex", nil), nil))
	require.NoError(t, s.Send(packet.New("ghost", "alex", nil), nil))
	require.NoError(t, s.Send(packet.New("broken", "alex", nil), nil))

	// Ops are served in order, so the drops above have been handled by the
	// time this one is delivered.
	marker := packet.New("sam", "alex", nil)
	require.NoError(t, s.Send(marker, nil))
	assert.Same(t, marker, recv(t, sam))
}

func TestHalted(t *testing.T) {
	s := newTestServer(t)
	s.Shutdown()

	err := s.Register("sam", nil)
	require.True(t, worker.IsChannelClosed(err))
	require.ErrorIs(t, s.Send(packet.New("sam", "alex", nil), nil), worker.ErrHalted)
}
