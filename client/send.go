// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"sort"
	"strings"

	"github.com/katzenpost/minimix/authority/directory"
	"github.com/katzenpost/minimix/core/identity"
	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/core/sphinx"
	"github.com/katzenpost/minimix/core/worker"
	"github.com/katzenpost/minimix/internal/instrument"
)

// doSend serves a send request.  The returned error is fatal to the Client,
// failures that only concern this request are replied instead.
func (c *Client) doSend(to, body string, reply *worker.Reply[error], retried bool) error {
	if err := c.bootstrap(); err != nil {
		reply.Close()
		return err
	}

	hops := c.selectHops(to)
	firstHop := to
	if len(hops) > 0 {
		firstHop = hops[0].ID
	}

	dest, ok := c.addressBook[to]
	if !ok {
		if retried {
			// Not reachable, the record was cached before the retry.
			c.log.Errorf("BUG: %q missing from the address book after lookup.", to)
			reply.Close()
			return nil
		}
		c.log.Infof("%q is not in the address book, looking it up.", to)
		rec, err := c.cfg.Directory.Lookup(to)
		switch {
		case err == nil:
			c.addressBook[to] = rec
			return c.doSend(to, body, reply, true)
		case worker.IsChannelClosed(err):
			reply.Close()
			return fmt.Errorf("client: directory lookup: %w", err)
		default:
			c.log.Warningf("Abandoning send to %q: %v", to, err)
			reply.Close()
			return nil
		}
	}

	c.log.Noticef("Sending message through: %s", routeString(hops, to))
	pkt, err := c.buildPacket(hops, dest, body)
	if err != nil {
		c.log.Errorf("Failed to construct packet to %q: %v", to, err)
		reply.Send(err)
		return nil
	}

	if err := c.cfg.Router.Send(packet.New(firstHop, c.id, pkt), c.HaltCh()); err != nil {
		c.log.Errorf("Failed sending message to %q: %v", to, err)
		reply.Send(err)
		if worker.IsChannelClosed(err) {
			return fmt.Errorf("client: router send: %w", err)
		}
		return nil
	}
	instrument.MessageSent(c.id, to)
	reply.Send(nil)
	return nil
}

// bootstrap pulls the directory until the address book holds at least
// MinAddressBook peers.
func (c *Client) bootstrap() error {
	for len(c.addressBook) < c.cfg.MinAddressBook {
		all, err := c.cfg.Directory.LookupAll()
		if err != nil {
			return fmt.Errorf("client: directory bootstrap: %w", err)
		}
		for id, rec := range all {
			if id != c.id {
				c.addressBook[id] = rec
			}
		}
		if len(c.addressBook) >= c.cfg.MinAddressBook {
			break
		}
		c.log.Debugf("Address book has %d of %d peers, waiting.", len(c.addressBook), c.cfg.MinAddressBook)
		if !c.Sleep(c.cfg.BootstrapInterval) {
			return worker.ErrHalted
		}
	}
	return nil
}

// selectHops samples up to NumHops distinct relays, excluding to and the
// Client itself, in random order.
func (c *Client) selectHops(to string) []*directory.Record {
	ids := make([]string, 0, len(c.addressBook))
	for id := range c.addressBook {
		if id != to && id != c.id {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	c.cfg.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})

	n := min(c.cfg.NumHops, len(ids))
	hops := make([]*directory.Record, 0, n)
	for _, id := range ids[:n] {
		hops = append(hops, c.addressBook[id])
	}
	return hops
}

func (c *Client) buildPacket(hops []*directory.Record, dest *directory.Record, body string) ([]byte, error) {
	path := make([]*sphinx.PathHop, 0, len(hops)+1)
	for _, rec := range append(hops, dest) {
		addr, err := identity.Encode(rec.ID)
		if err != nil {
			return nil, err
		}
		path = append(path, &sphinx.PathHop{Address: addr, PublicKey: rec.PublicKey})
	}

	payload, err := packet.NewMessage(c.id, body).Marshal()
	if err != nil {
		return nil, err
	}
	delays := c.cfg.Factory.GenerateDelays(len(path), c.cfg.MeanDelay)
	return c.cfg.Factory.NewPacket(path, path[len(path)-1].Address, payload, delays)
}

func routeString(hops []*directory.Record, to string) string {
	var b strings.Builder
	for _, h := range hops {
		b.WriteString(h.ID)
		b.WriteString(" -> ")
	}
	b.WriteString(to)
	return b.String()
}
