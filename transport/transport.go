// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport implements a store and forward transport that buffers
// items for recipients without a live link.
package transport

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/worker"
	"github.com/katzenpost/minimix/internal/instrument"
)

// DefaultBufferSize is the op queue depth used when none is configured.
const DefaultBufferSize = 32

var errNilLink = errors.New("transport: nil link")

// Link is the receiving end of a registered recipient.
type Link[T any] interface {
	Deliver(T) error
}

type opForward[T any] struct {
	to   string
	item T
}

type opRegister[T any] struct {
	id    string
	link  Link[T]
	flush bool
	reply *worker.Reply[registerResult[T]]
}

type registerResult[T any] struct {
	pending []T
	err     error
}

type opDeregister struct {
	id    string
	reply *worker.Reply[struct{}]
}

// Transport is the store and forward actor.  Pending queues are unbounded.
type Transport[T any] struct {
	worker.Worker

	log  *logging.Logger
	opCh chan interface{}

	links   map[string]Link[T]
	pending map[string][]T
}

// Forward delivers item to `to` over its live link, after any items pending
// for it.  Without a live link, or if delivery fails, the item is buffered.
// If haltCh is closed while the transport's queue is full, the item is
// abandoned and worker.ErrHalted returned.
func (t *Transport[T]) Forward(to string, item T, haltCh <-chan interface{}) error {
	return worker.Submit(t.opCh, interface{}(&opForward[T]{to: to, item: item}), t.HaltCh(), haltCh)
}

// Register binds id to link, replacing any previous link, and returns the
// items pending for id.  The caller owns the returned items and is expected
// to flush them.
func (t *Transport[T]) Register(id string, link Link[T]) ([]T, error) {
	res, err := t.register(id, link, false)
	if err != nil {
		return nil, err
	}
	return res.pending, res.err
}

// Attach binds id to link, replacing any previous link, and flushes the items
// pending for id over it before any later Forward is served.  The returned
// error is the flush failure, if any, in which case the link was discarded.
func (t *Transport[T]) Attach(id string, link Link[T]) error {
	res, err := t.register(id, link, true)
	if err != nil {
		return err
	}
	return res.err
}

func (t *Transport[T]) register(id string, link Link[T], flush bool) (registerResult[T], error) {
	op := &opRegister[T]{
		id:    id,
		link:  link,
		flush: flush,
		reply: worker.NewReply[registerResult[T]](),
	}
	if err := worker.Submit(t.opCh, interface{}(op), t.HaltCh(), nil); err != nil {
		return registerResult[T]{}, err
	}
	return op.reply.Await(t.HaltCh(), nil)
}

// Deregister drops id's link.  Items forwarded afterwards are buffered.
func (t *Transport[T]) Deregister(id string) error {
	op := &opDeregister{id: id, reply: worker.NewReply[struct{}]()}
	if err := worker.Submit(t.opCh, interface{}(op), t.HaltCh(), nil); err != nil {
		return err
	}
	_, err := op.reply.Await(t.HaltCh(), nil)
	return err
}

// Shutdown halts the transport and waits for it to exit.
func (t *Transport[T]) Shutdown() {
	t.Halt()
	t.Wait()
}

func (t *Transport[T]) worker() {
	defer t.log.Debug("Halting transport worker.")
	for {
		var qo interface{}
		select {
		case <-t.HaltCh():
			return
		case qo = <-t.opCh:
		}

		switch op := qo.(type) {
		case *opForward[T]:
			t.doForward(op.to, op.item)
		case *opRegister[T]:
			if op.link == nil {
				op.reply.Send(registerResult[T]{err: errNilLink})
				continue
			}
			t.links[op.id] = op.link
			pending := t.pending[op.id]
			delete(t.pending, op.id)
			instrument.PendingPackets(op.id, 0)
			t.log.Debugf("Registered %q, %d pending.", op.id, len(pending))
			if !op.flush {
				op.reply.Send(registerResult[T]{pending: pending})
				continue
			}
			op.reply.Send(registerResult[T]{err: t.deliver(op.id, op.link, pending)})
		case *opDeregister:
			delete(t.links, op.id)
			t.log.Debugf("Deregistered %q.", op.id)
			op.reply.Send(struct{}{})
		default:
			t.log.Errorf("BUG: unknown operation type: %T", qo)
		}
	}
}

func (t *Transport[T]) doForward(to string, item T) {
	link, ok := t.links[to]
	if !ok {
		t.enqueue(to, item)
		return
	}

	items := append(t.pending[to], item)
	delete(t.pending, to)
	_ = t.deliver(to, link, items)
}

// deliver sends items in order.  On the first failure, the failed item and
// everything after it become the pending queue, and the link is dropped.
func (t *Transport[T]) deliver(to string, link Link[T], items []T) error {
	for i, item := range items {
		if err := link.Deliver(item); err != nil {
			t.log.Warningf("Delivery to %q failed, buffering %d items: %v", to, len(items)-i, err)
			delete(t.links, to)
			t.pending[to] = append([]T(nil), items[i:]...)
			instrument.PendingPackets(to, len(t.pending[to]))
			return err
		}
	}
	return nil
}

func (t *Transport[T]) enqueue(to string, item T) {
	t.pending[to] = append(t.pending[to], item)
	t.log.Debugf("No link for %q, %d pending.", to, len(t.pending[to]))
	instrument.PendingPackets(to, len(t.pending[to]))
}

// New starts a new Transport.
func New[T any](logBackend *log.Backend, bufferSize int) *Transport[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	t := &Transport[T]{
		log:     logBackend.GetLogger("transport"),
		opCh:    make(chan interface{}, bufferSize),
		links:   make(map[string]Link[T]),
		pending: make(map[string][]T),
	}
	t.Go(t.worker)
	return t
}
