// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-License-Identifier: AGPL-3.0-only

package sphinx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/katzenpost/minimix/core/identity"
)

type commandID byte

const (
	null        commandID = 0x00
	nextNodeHop commandID = 0x01
	recipient   commandID = 0x02
	nodeDelay   commandID = 0x03

	cmdOverhead = 1

	nextNodeHopLength = cmdOverhead + identity.AddressLength + MACLength
	recipientLength   = cmdOverhead + identity.AddressLength
	nodeDelayLength   = cmdOverhead + 4
)

// routingCommand is a routing command carried in a hop's slice of the
// routing info block.
type routingCommand interface {
	toBytes(b []byte) []byte
}

// nextNodeHopCmd instructs a hop to forward the packet to ID, and carries the
// MAC of the header the next hop will see.
type nextNodeHopCmd struct {
	ID  identity.Address
	MAC [MACLength]byte
}

func (cmd *nextNodeHopCmd) toBytes(b []byte) []byte {
	b = append(b, byte(nextNodeHop))
	b = append(b, cmd.ID.Bytes()...)
	return append(b, cmd.MAC[:]...)
}

// recipientCmd marks the terminal hop and names the destination.
type recipientCmd struct {
	ID identity.Address
}

func (cmd *recipientCmd) toBytes(b []byte) []byte {
	b = append(b, byte(recipient))
	return append(b, cmd.ID.Bytes()...)
}

// nodeDelayCmd is the time in microseconds a hop holds the packet.
type nodeDelayCmd struct {
	Delay uint32
}

func (cmd *nodeDelayCmd) toBytes(b []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], cmd.Delay)
	b = append(b, byte(nodeDelay))
	return append(b, tmp[:]...)
}

// commandFromBytes parses the next command from b, returning nil once the
// terminal null command (or the end of the buffer) is reached.
func commandFromBytes(b []byte) (routingCommand, []byte, error) {
	if len(b) == 0 {
		return nil, nil, nil
	}

	id := commandID(b[0])
	switch id {
	case null:
		for _, v := range b[1:] {
			if v != 0 {
				return nil, nil, errors.New("sphinx: invalid null command padding")
			}
		}
		return nil, nil, nil
	case nextNodeHop:
		if len(b) < nextNodeHopLength {
			return nil, nil, errors.New("sphinx: truncated next_node_hop command")
		}
		addr, err := identity.FromBytes(b[cmdOverhead : cmdOverhead+identity.AddressLength])
		if err != nil {
			return nil, nil, err
		}
		cmd := &nextNodeHopCmd{ID: addr}
		copy(cmd.MAC[:], b[cmdOverhead+identity.AddressLength:])
		return cmd, b[nextNodeHopLength:], nil
	case recipient:
		if len(b) < recipientLength {
			return nil, nil, errors.New("sphinx: truncated recipient command")
		}
		addr, err := identity.FromBytes(b[cmdOverhead:recipientLength])
		if err != nil {
			return nil, nil, err
		}
		return &recipientCmd{ID: addr}, b[recipientLength:], nil
	case nodeDelay:
		if len(b) < nodeDelayLength {
			return nil, nil, errors.New("sphinx: truncated node_delay command")
		}
		cmd := &nodeDelayCmd{Delay: binary.BigEndian.Uint32(b[cmdOverhead:])}
		return cmd, b[nodeDelayLength:], nil
	default:
		return nil, nil, fmt.Errorf("sphinx: invalid command id: 0x%02x", byte(id))
	}
}
