// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"math"
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/internal/instrument"
)

type scheduledPacket struct {
	pkt        *packet.Packet
	dispatchAt time.Time
	seq        uint64
}

// scheduler holds relayed packets until their per hop delay elapses, and
// hands them to the router.  It runs in its own go routine so that the
// Client keeps processing packets while others are delayed.
type scheduler struct {
	c      *Client
	inCh   chan *scheduledPacket
	doneCh chan interface{}

	queue *avl.Tree
	seq   uint64
}

// schedule enqueues pkt for dispatch after delay.  It is called by the
// Client worker.
func (s *scheduler) schedule(pkt *packet.Packet, delay time.Duration) {
	e := &scheduledPacket{pkt: pkt, dispatchAt: time.Now().Add(delay)}
	select {
	case s.inCh <- e:
	case <-s.doneCh:
		s.c.log.Debugf("Scheduler gone, dropping %v.", pkt)
		instrument.PacketsDropped("terminated")
	case <-s.c.HaltCh():
	}
}

func (s *scheduler) worker() {
	defer close(s.doneCh)

	timer := time.NewTimer(math.MaxInt64)
	defer timer.Stop()

	for {
		var timerFired bool
		select {
		case <-s.c.HaltCh():
			s.c.log.Debugf("Scheduler terminating gracefully, %d packets discarded.", s.queue.Len())
			return
		case <-s.c.termCh:
			return
		case e := <-s.inCh:
			s.seq++
			e.seq = s.seq
			s.queue.Insert(e)
		case <-timer.C:
			timerFired = true
		}

		if !timerFired && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		for {
			iter := s.queue.Iterator(avl.Forward)
			node := iter.First()
			if node == nil {
				timer.Reset(math.MaxInt64)
				break
			}

			e := node.Value.(*scheduledPacket)
			now := time.Now()
			if e.dispatchAt.After(now) {
				timer.Reset(e.dispatchAt.Sub(now))
				break
			}
			s.queue.Remove(node)

			if err := s.c.cfg.Router.Send(e.pkt, s.c.HaltCh()); err != nil {
				// The router is the Client's only way out.
				s.c.fail(fmt.Errorf("client: router send: %w", err))
				return
			}
			instrument.PacketsRelayed(s.c.id)
		}
	}
}

func newScheduler(c *Client, bufferSize int) *scheduler {
	return &scheduler{
		c:      c,
		inCh:   make(chan *scheduledPacket, bufferSize),
		doneCh: make(chan interface{}),
		queue: avl.New(func(a, b interface{}) int {
			pktA, pktB := a.(*scheduledPacket), b.(*scheduledPacket)
			switch {
			case pktB.dispatchAt.After(pktA.dispatchAt):
				return -1
			case pktA.dispatchAt.After(pktB.dispatchAt):
				return 1
			case pktA.seq < pktB.seq:
				return -1
			case pktA.seq > pktB.seq:
				return 1
			default:
				return 0
			}
		}),
	}
}
