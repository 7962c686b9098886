// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/core/sphinx"
	"github.com/katzenpost/minimix/internal/instrument"
)

// anonymousSender labels messages that do not name their sender.
const anonymousSender = "None"

// onPacket processes one inbound onion packet.  Every failure drops the
// packet, relayed traffic is at most once.
func (c *Client) onPacket(pkt *packet.Packet) {
	p, err := c.cfg.Factory.Unwrap(c.key, pkt.Body)
	if err != nil {
		c.log.Warningf("Failed to process packet from %q: %v", pkt.From, err)
		instrument.PacketsDropped("decode")
		return
	}

	switch hop := p.(type) {
	case *sphinx.ForwardHop:
		c.onForwardHop(pkt, hop)
	case *sphinx.FinalHop:
		c.onFinalHop(pkt, hop)
	default:
		c.log.Errorf("BUG: unknown processed packet type: %T", p)
	}
}

func (c *Client) onForwardHop(pkt *packet.Packet, hop *sphinx.ForwardHop) {
	if c.cfg.rng.Float64() >= c.cfg.ForwardProbability {
		c.log.Infof("Client is unavailable at this time, dropping %v.", pkt)
		instrument.PacketsDropped("unavailable")
		return
	}

	// The envelope names this relay as the sender, not the original one.
	next := packet.NewWithID(pkt.ID, hop.NextHop.String(), c.id, hop.Packet)
	c.log.Debugf("Forwarding packet %s from %q to %q after %v.", pkt.ID, pkt.From, next.To, hop.Delay)
	c.scheduler.schedule(next, hop.Delay)
}

func (c *Client) onFinalHop(pkt *packet.Packet, hop *sphinx.FinalHop) {
	if dest := hop.Destination.String(); dest != c.id {
		c.log.Warningf("Forwarding plaintexts to %q is unsupported, dropping %v.", dest, pkt)
		instrument.PacketsDropped("plaintext_forward")
		return
	}

	b, err := c.cfg.Factory.RecoverPayload(hop)
	if err != nil {
		c.log.Warningf("Failed to recover payload of %v: %v", pkt, err)
		instrument.PacketsDropped("decode")
		return
	}
	msg, err := packet.UnmarshalMessage(b)
	if err != nil {
		c.log.Warningf("Failed to decode message in %v: %v", pkt, err)
		instrument.PacketsDropped("malformed")
		return
	}

	from := msg.Sender()
	if from == "" {
		from = anonymousSender
	}
	c.log.Noticef("Received message from %q: %s", from, msg.Body)
	instrument.MessageReceived(from, c.id)

	if c.cfg.EventSink == nil {
		return
	}
	ev := &MessageReceivedEvent{
		ID:      pkt.ID,
		To:      c.id,
		Relay:   pkt.From,
		Message: msg,
	}
	select {
	case c.cfg.EventSink <- ev:
	case <-c.HaltCh():
	}
}
