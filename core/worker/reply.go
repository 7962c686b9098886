// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import "errors"

var (
	// ErrHalted is returned when the actor a request was addressed to has
	// been halted, and will never process the request.
	ErrHalted = errors.New("worker: peer halted")

	// ErrReplyClosed is returned when the responder abandoned a request
	// without sending a value.
	ErrReplyClosed = errors.New("worker: reply closed without a value")
)

// IsChannelClosed returns true iff err signals that the peer's channel is
// gone, either because it halted or because it abandoned the reply.
func IsChannelClosed(err error) bool {
	return errors.Is(err, ErrHalted) || errors.Is(err, ErrReplyClosed)
}

// Reply is a single-use, capacity one response slot embedded in a request.
// The responder must call exactly one of Send or Close, exactly once.
type Reply[T any] struct {
	ch chan T
}

// NewReply returns a fresh Reply.
func NewReply[T any]() *Reply[T] {
	return &Reply[T]{ch: make(chan T, 1)}
}

// Send delivers v to the waiting caller.  It never blocks, and panics if
// the Reply was already used.
func (r *Reply[T]) Send(v T) {
	r.ch <- v
	close(r.ch)
}

// Close abandons the request without a value.
func (r *Reply[T]) Close() {
	close(r.ch)
}

// Await waits for the response.  It returns ErrReplyClosed if the responder
// abandoned the request, and ErrHalted if either the responder's halt
// channel peerHaltCh or the caller's own selfHaltCh closes first.  Either
// may be nil.  A response that was already sent wins over a halt.
func (r *Reply[T]) Await(peerHaltCh, selfHaltCh <-chan interface{}) (T, error) {
	var zero T

	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, ErrReplyClosed
		}
		return v, nil
	case <-peerHaltCh:
	case <-selfHaltCh:
	}

	select {
	case v, ok := <-r.ch:
		if ok {
			return v, nil
		}
		return zero, ErrReplyClosed
	default:
		return zero, ErrHalted
	}
}

// Submit enqueues op on the peer's bounded op channel, suspending while the
// channel is full.  It fails with ErrHalted if either halt channel closes
// before the op is accepted, and never enqueues to a peer that already
// halted.
func Submit[T any](opCh chan T, op T, peerHaltCh, selfHaltCh <-chan interface{}) error {
	select {
	case <-peerHaltCh:
		return ErrHalted
	case <-selfHaltCh:
		return ErrHalted
	default:
	}

	select {
	case opCh <- op:
		return nil
	case <-peerHaltCh:
	case <-selfHaltCh:
	}
	return ErrHalted
}
