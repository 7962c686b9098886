// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-License-Identifier: AGPL-3.0-only

package sphinx

import (
	"errors"
	"fmt"
)

const (
	adLength = 2

	// GroupElementLength is the length of an X25519 group element.
	GroupElementLength = 32

	// MACLength is the length of the header MAC.
	MACLength = 32

	// PayloadTagLength is the length of the Sphinx packet payload SPRP tag.
	PayloadTagLength = 32

	payloadLengthPrefix = 4

	// DefaultNrHops is the default maximum path length, enough for three
	// relays plus the destination with one hop to spare.
	DefaultNrHops = 5

	// DefaultUserPayloadLength is the default maximum length of the payload
	// carried to the destination.
	DefaultUserPayloadLength = 2048
)

var v0AD = [adLength]byte{0x00, 0x00}

// Geometry describes the fixed shape of every packet produced and accepted
// by a Sphinx instance.
type Geometry struct {
	// NrHops is the maximum number of hops a packet can traverse.
	NrHops int

	// UserPayloadLength is the maximum payload length in bytes.
	UserPayloadLength int

	// ForwardPayloadLength is the length of the SPRP protected payload
	// block: tag, length prefix and padded user payload.
	ForwardPayloadLength int

	// PerHopRoutingInfoLength is the length of one hop's routing commands.
	PerHopRoutingInfoLength int

	// RoutingInfoLength is the length of the routing info block.
	RoutingInfoLength int

	// HeaderLength is the length of the packet header.
	HeaderLength int

	// PacketLength is the length of every packet.
	PacketLength int
}

func (g *Geometry) String() string {
	return fmt.Sprintf("sphinx geometry: hops=%d payload=%d packet=%d", g.NrHops, g.UserPayloadLength, g.PacketLength)
}

// Validate returns an error iff the geometry is not self consistent.
func (g *Geometry) Validate() error {
	switch {
	case g.NrHops <= 0:
		return errors.New("sphinx: geometry: NrHops must be positive")
	case g.UserPayloadLength <= 0:
		return errors.New("sphinx: geometry: UserPayloadLength must be positive")
	case g.PerHopRoutingInfoLength < perHopRoutingInfoLength():
		return errors.New("sphinx: geometry: PerHopRoutingInfoLength too small")
	case g.RoutingInfoLength != g.NrHops*g.PerHopRoutingInfoLength:
		return errors.New("sphinx: geometry: RoutingInfoLength mismatch")
	case g.HeaderLength != adLength+GroupElementLength+g.RoutingInfoLength+MACLength:
		return errors.New("sphinx: geometry: HeaderLength mismatch")
	case g.ForwardPayloadLength != PayloadTagLength+payloadLengthPrefix+g.UserPayloadLength:
		return errors.New("sphinx: geometry: ForwardPayloadLength mismatch")
	case g.PacketLength != g.HeaderLength+g.ForwardPayloadLength:
		return errors.New("sphinx: geometry: PacketLength mismatch")
	}
	return nil
}

// perHopRoutingInfoLength is the space needed by the largest command vector
// a hop can carry: a delay followed by the next hop.
func perHopRoutingInfoLength() int {
	return nodeDelayLength + nextNodeHopLength
}

// GeometryFromUserPayloadLength derives a geometry for packets carrying up to
// userPayloadLength bytes through at most nrHops hops.
func GeometryFromUserPayloadLength(userPayloadLength, nrHops int) *Geometry {
	g := &Geometry{
		NrHops:                  nrHops,
		UserPayloadLength:       userPayloadLength,
		PerHopRoutingInfoLength: perHopRoutingInfoLength(),
	}
	g.ForwardPayloadLength = PayloadTagLength + payloadLengthPrefix + userPayloadLength
	g.RoutingInfoLength = g.NrHops * g.PerHopRoutingInfoLength
	g.HeaderLength = adLength + GroupElementLength + g.RoutingInfoLength + MACLength
	g.PacketLength = g.HeaderLength + g.ForwardPayloadLength
	return g
}

// DefaultGeometry returns the geometry used when none is configured.
func DefaultGeometry() *Geometry {
	return GeometryFromUserPayloadLength(DefaultUserPayloadLength, DefaultNrHops)
}
