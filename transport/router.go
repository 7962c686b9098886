// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import "github.com/katzenpost/minimix/core/packet"

// Router routes packets over a store and forward Transport, so that it can
// stand in for the routing server.  Unlike the routing server, registering
// an identity again replaces its link.
type Router struct {
	t *Transport[*packet.Packet]
}

// NewRouter returns a Router backed by t.
func NewRouter(t *Transport[*packet.Packet]) *Router {
	return &Router{t: t}
}

// Register attaches link for id and flushes anything buffered for it.
func (r *Router) Register(id string, link packet.Link) error {
	return r.t.Attach(id, link)
}

// Send forwards pkt to pkt.To, giving up once haltCh is closed.
func (r *Router) Send(pkt *packet.Packet, haltCh <-chan interface{}) error {
	return r.t.Forward(pkt.To, pkt, haltCh)
}
