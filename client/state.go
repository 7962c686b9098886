// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

// State is the lifecycle state of a Client.
type State int32

const (
	// Unregistered is the initial state.
	Unregistered State = iota
	// Registering is the state while waiting on the router.
	Registering
	// Active clients relay, send and receive.
	Active
	// Terminated clients have exited and will never process another packet.
	Terminated
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Registering:
		return "Registering"
	case Active:
		return "Active"
	case Terminated:
		return "Terminated"
	default:
		return "[INVALID]"
	}
}
