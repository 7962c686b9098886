// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package server implements the routing server, a best effort forwarder
// between registered identities.
package server

import (
	"errors"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/core/worker"
	"github.com/katzenpost/minimix/internal/instrument"
)

// DefaultBufferSize is the op queue depth used when none is configured.
const DefaultBufferSize = 32

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("server: identity already registered")

// ConflictError is returned when registering an identity that already has a
// link.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("server: identity %q already registered", e.ID)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type opRegister struct {
	id    string
	link  packet.Link
	reply *worker.Reply[error]
}

type opSend struct {
	pkt *packet.Packet
}

// Server is the routing server actor.
type Server struct {
	worker.Worker

	log  *logging.Logger
	opCh chan interface{}

	links map[string]packet.Link
}

// Register binds id to link.  A nil link registers id as present but
// unavailable.  The first registrant of an id is kept, later attempts fail
// with a *ConflictError.
func (s *Server) Register(id string, link packet.Link) error {
	op := &opRegister{id: id, link: link, reply: worker.NewReply[error]()}
	if err := worker.Submit(s.opCh, interface{}(op), s.HaltCh(), nil); err != nil {
		return err
	}
	err, aerr := op.reply.Await(s.HaltCh(), nil)
	if aerr != nil {
		return aerr
	}
	return err
}

// Send enqueues pkt for delivery.  The only error reported is
// worker.ErrHalted, once either the server or haltCh is halted before pkt
// was accepted.  Delivery itself is at most once and never acknowledged.
func (s *Server) Send(pkt *packet.Packet, haltCh <-chan interface{}) error {
	return worker.Submit(s.opCh, interface{}(&opSend{pkt: pkt}), s.HaltCh(), haltCh)
}

// Shutdown halts the server and waits for it to exit.
func (s *Server) Shutdown() {
	s.Halt()
	s.Wait()
}

func (s *Server) worker() {
	defer s.log.Debug("Halting server worker.")
	for {
		var qo interface{}
		select {
		case <-s.HaltCh():
			return
		case qo = <-s.opCh:
		}

		switch op := qo.(type) {
		case *opRegister:
			op.reply.Send(s.doRegister(op.id, op.link))
		case *opSend:
			s.doSend(op.pkt)
		default:
			s.log.Errorf("BUG: unknown operation type: %T", qo)
		}
	}
}

func (s *Server) doRegister(id string, link packet.Link) error {
	if _, ok := s.links[id]; ok {
		s.log.Warningf("Rejecting duplicate registration of %q.", id)
		return &ConflictError{ID: id}
	}
	s.links[id] = link
	s.log.Debugf("Registered %q.", id)
	return nil
}

func (s *Server) doSend(pkt *packet.Packet) {
	link, ok := s.links[pkt.To]
	switch {
	case !ok:
		s.log.Warningf("Dropping %v: recipient not registered.", pkt)
		instrument.PacketsDropped("unknown_recipient")
	case link == nil:
		s.log.Warningf("Dropping %v: recipient unavailable.", pkt)
		instrument.PacketsDropped("unavailable")
	default:
		if err := link.Deliver(pkt); err != nil {
			s.log.Warningf("Dropping %v: delivery failed: %v", pkt, err)
			instrument.PacketsDropped("link_failed")
			return
		}
		s.log.Debugf("Delivered %v.", pkt)
	}
}

// New starts a new Server.
func New(logBackend *log.Backend, bufferSize int) *Server {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &Server{
		log:   logBackend.GetLogger("server"),
		opCh:  make(chan interface{}, bufferSize),
		links: make(map[string]packet.Link),
	}
	s.Go(s.worker)
	return s
}
