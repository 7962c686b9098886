// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/core/worker"
)

var errDead = errors.New("dead link")

// recordingLink records delivered items, and fails every delivery once
// failAt items have been accepted.
type recordingLink struct {
	sync.Mutex
	items  []string
	failAt int
}

func (l *recordingLink) Deliver(item string) error {
	l.Lock()
	defer l.Unlock()
	if l.failAt >= 0 && len(l.items) >= l.failAt {
		return errDead
	}
	l.items = append(l.items, item)
	return nil
}

func (l *recordingLink) got() []string {
	l.Lock()
	defer l.Unlock()
	return append([]string(nil), l.items...)
}

func newLink() *recordingLink {
	return &recordingLink{failAt: -1}
}

func newTestTransport(t *testing.T) *Transport[string] {
	logBackend, err := log.NewWithWriter(io.Discard, "DEBUG")
	require.NoError(t, err)
	tr := New[string](logBackend, 4)
	t.Cleanup(tr.Shutdown)
	return tr
}

// syncTransport waits for every previously submitted op to be served.
func syncTransport(t *testing.T, tr *Transport[string]) {
	require.NoError(t, tr.Deregister("sync"))
}

func TestPendingIsReturnedInOrder(t *testing.T) {
	tr := newTestTransport(t)

	require.NoError(t, tr.Forward("A", "m1", nil))
	require.NoError(t, tr.Forward("A", "m2", nil))

	pending, err := tr.Register("A", newLink())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, pending)

	pending, err = tr.Register("A", newLink())
	require.NoError(t, err)
	assert.Empty(t, pending, "pending queue is cleared by registration")
}

func TestForwardOverLiveLink(t *testing.T) {
	tr := newTestTransport(t)

	l := newLink()
	_, err := tr.Register("A", l)
	require.NoError(t, err)
	require.NoError(t, tr.Forward("A", "m1", nil))
	require.NoError(t, tr.Forward("A", "m2", nil))
	syncTransport(t, tr)

	assert.Equal(t, []string{"m1", "m2"}, l.got())
}

func TestFailedDeliveryIsRequeued(t *testing.T) {
	tr := newTestTransport(t)

	dead := &recordingLink{failAt: 0}
	_, err := tr.Register("A", dead)
	require.NoError(t, err)
	require.NoError(t, tr.Forward("A", "m1", nil))
	require.NoError(t, tr.Forward("A", "m2", nil))
	syncTransport(t, tr)
	assert.Empty(t, dead.got())

	// The dead link was discarded, so m2 was buffered behind m1.
	pending, err := tr.Register("A", newLink())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, pending)
}

func TestPartialFlushRequeuesRemainder(t *testing.T) {
	tr := newTestTransport(t)

	for _, m := range []string{"m1", "m2", "m3"} {
		require.NoError(t, tr.Forward("A", m, nil))
	}
	flaky := &recordingLink{failAt: 1}
	err := tr.Attach("A", flaky)
	require.ErrorIs(t, err, errDead)
	assert.Equal(t, []string{"m1"}, flaky.got())

	require.NoError(t, tr.Forward("A", "m4", nil))
	pending, err := tr.Register("A", newLink())
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, pending)
}

func TestAttachFlushesBeforeLaterForwards(t *testing.T) {
	tr := newTestTransport(t)

	require.NoError(t, tr.Forward("A", "m1", nil))
	require.NoError(t, tr.Forward("A", "m2", nil))
	l := newLink()
	require.NoError(t, tr.Attach("A", l))
	require.NoError(t, tr.Forward("A", "m3", nil))
	syncTransport(t, tr)

	assert.Equal(t, []string{"m1", "m2", "m3"}, l.got())
}

func TestLastRegisterWins(t *testing.T) {
	tr := newTestTransport(t)

	first, second := newLink(), newLink()
	require.NoError(t, tr.Attach("A", first))
	require.NoError(t, tr.Attach("A", second))
	require.NoError(t, tr.Forward("A", "m1", nil))
	syncTransport(t, tr)

	assert.Empty(t, first.got())
	assert.Equal(t, []string{"m1"}, second.got())
}

func TestDeregisterBuffers(t *testing.T) {
	tr := newTestTransport(t)

	l := newLink()
	require.NoError(t, tr.Attach("A", l))
	require.NoError(t, tr.Deregister("A"))
	require.NoError(t, tr.Forward("A", "m1", nil))

	pending, err := tr.Register("A", l)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, pending)
	assert.Empty(t, l.got())
}

func TestNilLink(t *testing.T) {
	tr := newTestTransport(t)
	require.Error(t, tr.Attach("A", nil))
}

func TestHalted(t *testing.T) {
	tr := newTestTransport(t)
	tr.Shutdown()

	require.ErrorIs(t, tr.Forward("A", "m1", nil), worker.ErrHalted)
	_, err := tr.Register("A", newLink())
	require.ErrorIs(t, err, worker.ErrHalted)
}

func TestRouter(t *testing.T) {
	logBackend, err := log.NewWithWriter(io.Discard, "DEBUG")
	require.NoError(t, err)
	tr := New[*packet.Packet](logBackend, 4)
	t.Cleanup(tr.Shutdown)
	r := NewRouter(tr)

	early := packet.New("sam", "alex", []byte("early"))
	require.NoError(t, r.Send(early, nil))

	ch := make(chan *packet.Packet, 2)
	require.NoError(t, r.Register("sam", packet.LinkFunc(func(p *packet.Packet) error {
		ch <- p
		return nil
	})))
	late := packet.New("sam", "alex", []byte("late"))
	require.NoError(t, r.Send(late, nil))

	assert.Same(t, early, <-ch)
	assert.Same(t, late, <-ch)

	// Registering again replaces the link rather than conflicting.
	require.NoError(t, r.Register("sam", packet.LinkFunc(func(*packet.Packet) error { return nil })))
}
