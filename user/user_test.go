// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package user

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/worker"
)

type fakeSender struct {
	sync.Mutex
	registerErr error
	sendErr     error
	registered  int
	sent        []string
}

func (s *fakeSender) RegisterDirectory() error {
	s.Lock()
	defer s.Unlock()
	s.registered++
	return s.registerErr
}

func (s *fakeSender) Send(to, body string) error {
	s.Lock()
	defer s.Unlock()
	s.sent = append(s.sent, to+": "+body)
	return s.sendErr
}

func (s *fakeSender) sentCount() int {
	s.Lock()
	defer s.Unlock()
	return len(s.sent)
}

// syncBuffer is a bytes.Buffer that may be written by the log backend while
// the test reads it.
type syncBuffer struct {
	sync.Mutex
	b bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.Lock()
	defer b.Unlock()
	return b.b.String()
}

func newTestConfig(t *testing.T, id, peer string) (*Config, *syncBuffer) {
	buf := new(syncBuffer)
	logBackend, err := log.NewWithWriter(buf, "DEBUG")
	require.NoError(t, err)
	return &Config{
		ID:         id,
		Peer:       peer,
		Interval:   time.Millisecond,
		LogBackend: logBackend,
	}, buf
}

func TestSendsPeriodically(t *testing.T) {
	cfg, _ := newTestConfig(t, "alex", "sam")
	s := new(fakeSender)
	u, err := New(cfg, s)
	require.NoError(t, err)
	t.Cleanup(u.Shutdown)

	require.Eventually(t, func() bool { return s.sentCount() >= 3 }, 5*time.Second, time.Millisecond)
	u.Shutdown()

	s.Lock()
	defer s.Unlock()
	assert.Equal(t, 1, s.registered)
	assert.Equal(t, "sam: Hello, sam!", s.sent[0])
}

func TestLoneUser(t *testing.T) {
	cfg, buf := newTestConfig(t, "alex", "alex")
	cfg.Body = "echo"
	s := new(fakeSender)
	u, err := New(cfg, s)
	require.NoError(t, err)
	t.Cleanup(u.Shutdown)

	require.Eventually(t, func() bool { return s.sentCount() >= 1 }, 5*time.Second, time.Millisecond)
	u.Shutdown()
	assert.Contains(t, buf.String(), "I'm sending a message to myself because I'm all alone :(")
	assert.Equal(t, "alex: echo", s.sent[0])
}

func TestSilentUser(t *testing.T) {
	cfg, _ := newTestConfig(t, "p1", "sam")
	cfg.Silent = true
	s := new(fakeSender)
	u, err := New(cfg, s)
	require.NoError(t, err)

	u.Wait()
	assert.Equal(t, 1, s.registered)
	assert.Zero(t, s.sentCount())
}

func TestRegisterFailureStops(t *testing.T) {
	cfg, _ := newTestConfig(t, "alex", "sam")
	s := &fakeSender{registerErr: errors.New("conflict")}
	u, err := New(cfg, s)
	require.NoError(t, err)

	u.Wait()
	assert.Zero(t, s.sentCount())
}

func TestClientGoneStops(t *testing.T) {
	cfg, _ := newTestConfig(t, "alex", "sam")
	s := &fakeSender{sendErr: worker.ErrHalted}
	u, err := New(cfg, s)
	require.NoError(t, err)

	u.Wait()
	assert.Equal(t, 1, s.sentCount())
}

func TestAbandonedSendContinues(t *testing.T) {
	cfg, _ := newTestConfig(t, "alex", "nobody")
	s := &fakeSender{sendErr: worker.ErrReplyClosed}
	u, err := New(cfg, s)
	require.NoError(t, err)
	t.Cleanup(u.Shutdown)

	require.Eventually(t, func() bool { return s.sentCount() >= 2 }, 5*time.Second, time.Millisecond)
}

func TestInvalidConfig(t *testing.T) {
	cfg, _ := newTestConfig(t, "alex", "")
	_, err := New(cfg, new(fakeSender))
	require.Error(t, err)
}
