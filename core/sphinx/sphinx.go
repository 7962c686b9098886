// sphinx.go - Sphinx Packet Format.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package sphinx implements a compact X25519 parameterization of the Sphinx
// Packet Format, sufficient for forward packets with per hop delays.
package sphinx

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	mRand "math/rand"
	"time"

	"github.com/katzenpost/minimix/core/crypto/rand"
	"github.com/katzenpost/minimix/core/identity"
)

// ErrDecode is the error class returned for every packet that can not be
// processed.
var ErrDecode = errors.New("sphinx: decode failure")

// PathHop describes a hop that a Sphinx packet will traverse.
type PathHop struct {
	Address   identity.Address
	PublicKey *PublicKey
}

// ProcessedPacket is the result of unwrapping one layer, either a
// *ForwardHop or a *FinalHop.
type ProcessedPacket interface {
	processed()
}

// ForwardHop is a packet that must be relayed to NextHop after Delay.
type ForwardHop struct {
	Packet  []byte
	NextHop identity.Address
	Delay   time.Duration
}

func (*ForwardHop) processed() {}

// FinalHop is a packet that reached the end of its path.  Payload is still
// framed, and must be handed to RecoverPayload.
type FinalHop struct {
	Destination identity.Address
	Payload     []byte
}

func (*FinalHop) processed() {}

// Sphinx is a Sphinx packet factory for a fixed geometry.
type Sphinx struct {
	geometry *Geometry
	rng      *mRand.Rand
	entropy  io.Reader
}

// New creates a new Sphinx instance with the provided geometry.
func New(geometry *Geometry) (*Sphinx, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	return &Sphinx{
		geometry: geometry,
		rng:      rand.NewMath(),
		entropy:  rand.Reader,
	}, nil
}

// Geometry returns the Sphinx packet geometry.
func (s *Sphinx) Geometry() *Geometry {
	return s.geometry
}

func (s *Sphinx) commandsToBytes(cmds []routingCommand) []byte {
	b := make([]byte, 0, s.geometry.PerHopRoutingInfoLength)
	for _, v := range cmds {
		b = v.toBytes(b)
	}
	if len(b) > s.geometry.PerHopRoutingInfoLength {
		panic("sphinx: BUG: oversized routing command block")
	}
	return append(b, make([]byte, s.geometry.PerHopRoutingInfoLength-len(b))...)
}

func encodeDelay(d time.Duration) (uint32, error) {
	if d < 0 {
		return 0, errors.New("sphinx: negative delay")
	}
	us := d / time.Microsecond
	if us > math.MaxUint32 {
		return 0, fmt.Errorf("sphinx: delay %v out of range", d)
	}
	return uint32(us), nil
}

func (s *Sphinx) createHeader(path []*PathHop, dest identity.Address, delays []time.Duration) ([]byte, []*packetKeys, error) {
	nrHops := len(path)
	if nrHops == 0 || nrHops > s.geometry.NrHops {
		return nil, nil, fmt.Errorf("sphinx: invalid path length: %d", nrHops)
	}
	if len(delays) != nrHops {
		return nil, nil, fmt.Errorf("sphinx: got %d delays for %d hops", len(delays), nrHops)
	}

	// Derive the key material for each hop.
	var clientSecret [GroupElementLength]byte
	defer clear(clientSecret[:])
	if _, err := io.ReadFull(s.entropy, clientSecret[:]); err != nil {
		return nil, nil, err
	}

	groupElements := make([][]byte, nrHops)
	keys := make([]*packetKeys, nrHops)

	var err error
	if groupElements[0], err = expG(clientSecret[:]); err != nil {
		return nil, nil, err
	}
	for i := 0; i < nrHops; i++ {
		if path[i].PublicKey == nil {
			return nil, nil, fmt.Errorf("sphinx: hop %d has no public key", i)
		}
		sharedSecret, err := exp(clientSecret[:], path[i].PublicKey.Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("sphinx: hop %d: %w", i, err)
		}
		for j := 0; j < i; j++ {
			if sharedSecret, err = exp(keys[j].blindingFactor[:], sharedSecret); err != nil {
				return nil, nil, err
			}
		}
		keys[i] = kdf(sharedSecret)
		clear(sharedSecret)

		if i > 0 {
			if groupElements[i], err = exp(keys[i-1].blindingFactor[:], groupElements[i-1]); err != nil {
				return nil, nil, err
			}
		}
	}

	// Derive the routing_information keystream and encrypted padding for each
	// hop.
	riKeyStream := make([][]byte, nrHops)
	riPadding := make([][]byte, nrHops)
	for i := 0; i < nrHops; i++ {
		ks := keyStream(keys[i], s.geometry.RoutingInfoLength+s.geometry.PerHopRoutingInfoLength)
		ksLen := len(ks) - (i+1)*s.geometry.PerHopRoutingInfoLength
		riKeyStream[i] = ks[:ksLen]
		riPadding[i] = ks[ksLen:]
		if i > 0 {
			prevPadLen := len(riPadding[i-1])
			xorBytes(riPadding[i][:prevPadLen], riPadding[i][:prevPadLen], riPadding[i-1])
		}
	}

	// Create the routing_information block.
	var mac []byte
	var routingInfo []byte
	if skippedHops := s.geometry.NrHops - nrHops; skippedHops > 0 {
		routingInfo = make([]byte, skippedHops*s.geometry.PerHopRoutingInfoLength)
		if _, err := io.ReadFull(s.entropy, routingInfo); err != nil {
			return nil, nil, err
		}
	}
	for i := nrHops - 1; i >= 0; i-- {
		var cmds []routingCommand
		if i == nrHops-1 {
			cmds = append(cmds, &recipientCmd{ID: dest})
		} else {
			delay, err := encodeDelay(delays[i])
			if err != nil {
				return nil, nil, err
			}
			next := &nextNodeHopCmd{ID: path[i+1].Address}
			copy(next.MAC[:], mac)
			cmds = append(cmds, &nodeDelayCmd{Delay: delay}, next)
		}

		routingInfo = append(s.commandsToBytes(cmds), routingInfo...) // Prepend
		xorBytes(routingInfo, routingInfo, riKeyStream[i])

		m := newMAC(keys[i])
		m.Write(v0AD[:])
		m.Write(groupElements[i])
		m.Write(routingInfo)
		if i > 0 {
			m.Write(riPadding[i-1])
		}
		mac = m.Sum(nil)
	}

	hdr := make([]byte, 0, s.geometry.HeaderLength)
	hdr = append(hdr, v0AD[:]...)
	hdr = append(hdr, groupElements[0]...)
	hdr = append(hdr, routingInfo...)
	hdr = append(hdr, mac...)

	return hdr, keys, nil
}

// NewPacket creates a forward Sphinx packet that traverses path, and delivers
// payload to dest at the final hop.  There must be one delay per hop; the
// final hop's delay is not encoded.
func (s *Sphinx) NewPacket(path []*PathHop, dest identity.Address, payload []byte, delays []time.Duration) ([]byte, error) {
	if len(payload) > s.geometry.UserPayloadLength {
		return nil, fmt.Errorf("sphinx: payload length %d exceeds maximum %d", len(payload), s.geometry.UserPayloadLength)
	}

	hdr, keys, err := s.createHeader(path, dest, delays)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, k := range keys {
			k.Reset()
		}
	}()

	// Assemble the packet, with the zero tag and length prefix ahead of the
	// padded payload.
	pkt := make([]byte, s.geometry.PacketLength)
	copy(pkt, hdr)
	b := pkt[s.geometry.HeaderLength:]
	binary.BigEndian.PutUint32(b[PayloadTagLength:], uint32(len(payload)))
	copy(b[PayloadTagLength+payloadLengthPrefix:], payload)

	for i := len(keys) - 1; i >= 0; i-- {
		b = sprpEncrypt(keys[i], b)
	}
	copy(pkt[s.geometry.HeaderLength:], b)

	return pkt, nil
}

// Unwrap removes one layer from pkt with the provided private key.  pkt is
// not modified.
func (s *Sphinx) Unwrap(privKey *PrivateKey, pkt []byte) (ProcessedPacket, error) {
	var (
		geOff      = adLength
		riOff      = geOff + GroupElementLength
		macOff     = riOff + s.geometry.RoutingInfoLength
		payloadOff = macOff + MACLength
	)

	if len(pkt) != s.geometry.PacketLength {
		return nil, fmt.Errorf("%w: invalid packet length %d", ErrDecode, len(pkt))
	}
	if subtle.ConstantTimeCompare(v0AD[:], pkt[:adLength]) != 1 {
		return nil, fmt.Errorf("%w: unknown version", ErrDecode)
	}

	groupElement, err := PublicKeyFromBytes(pkt[geOff:riOff])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	sharedSecret, err := exp(privKey.secret[:], groupElement.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	keys := kdf(sharedSecret)
	clear(sharedSecret)
	defer keys.Reset()

	m := newMAC(keys)
	m.Write(pkt[:macOff])
	if subtle.ConstantTimeCompare(pkt[macOff:payloadOff], m.Sum(nil)) != 1 {
		return nil, fmt.Errorf("%w: MAC mismatch", ErrDecode)
	}

	// Append padding to preserve length invariance, decrypt the (padded)
	// routing_info block, and extract the section for the current hop.
	b := make([]byte, s.geometry.RoutingInfoLength+s.geometry.PerHopRoutingInfoLength)
	copy(b, pkt[riOff:macOff])
	xorBytes(b, b, keyStream(keys, len(b)))

	newRoutingInfo := b[s.geometry.PerHopRoutingInfoLength:]
	cmdBuf := b[:s.geometry.PerHopRoutingInfoLength]

	var (
		nextNode *nextNodeHopCmd
		rcpt     *recipientCmd
		delay    *nodeDelayCmd
	)
	for {
		cmd, rest, err := commandFromBytes(cmdBuf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		} else if cmd == nil {
			break
		}

		switch c := cmd.(type) {
		case *nextNodeHopCmd:
			if nextNode != nil {
				return nil, fmt.Errorf("%w: > 1 next_node", ErrDecode)
			}
			nextNode = c
		case *recipientCmd:
			if rcpt != nil {
				return nil, fmt.Errorf("%w: > 1 recipient", ErrDecode)
			}
			rcpt = c
		case *nodeDelayCmd:
			if delay != nil {
				return nil, fmt.Errorf("%w: > 1 node_delay", ErrDecode)
			}
			delay = c
		}
		cmdBuf = rest
	}

	payload, err := sprpDecrypt(keys, pkt[payloadOff:])
	if err != nil {
		return nil, err
	}

	switch {
	case nextNode != nil && rcpt == nil:
		blinded, err := exp(keys.blindingFactor[:], groupElement.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		out := make([]byte, s.geometry.PacketLength)
		copy(out, v0AD[:])
		copy(out[geOff:riOff], blinded)
		copy(out[riOff:macOff], newRoutingInfo)
		copy(out[macOff:payloadOff], nextNode.MAC[:])
		copy(out[payloadOff:], payload)

		fwd := &ForwardHop{Packet: out, NextHop: nextNode.ID}
		if delay != nil {
			fwd.Delay = time.Duration(delay.Delay) * time.Microsecond
		}
		return fwd, nil
	case rcpt != nil && nextNode == nil:
		return &FinalHop{Destination: rcpt.ID, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: invalid routing commands", ErrDecode)
	}
}

// RecoverPayload authenticates and unframes the payload of a final hop.
func (s *Sphinx) RecoverPayload(hop *FinalHop) ([]byte, error) {
	b := hop.Payload
	if len(b) < PayloadTagLength+payloadLengthPrefix {
		return nil, fmt.Errorf("%w: truncated payload", ErrDecode)
	}
	if !isZero(b[:PayloadTagLength]) {
		return nil, fmt.Errorf("%w: payload auth failed", ErrDecode)
	}
	b = b[PayloadTagLength:]
	n := binary.BigEndian.Uint32(b)
	b = b[payloadLengthPrefix:]
	if uint64(n) > uint64(len(b)) {
		return nil, fmt.Errorf("%w: invalid payload length %d", ErrDecode, n)
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// GenerateDelays returns n per hop delays drawn from an exponential
// distribution with the given mean.
func (s *Sphinx) GenerateDelays(n int, mean time.Duration) []time.Duration {
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = rand.ExpDuration(s.rng, mean)
	}
	return delays
}
