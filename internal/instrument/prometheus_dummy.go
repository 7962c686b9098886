//go:build noprometheus

// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package instrument

import "net/http"

const (
	StatusSent     = "Sent"
	StatusReceived = "Received"
)

// Register does nothing
func Register() {}

// Init does nothing
func Init(addr string) *http.Server { return &http.Server{Addr: addr} }

// MessageSent does nothing
func MessageSent(from, to string) {}

// MessageReceived does nothing
func MessageReceived(from, to string) {}

// PacketsDropped does nothing
func PacketsDropped(reason string) {}

// PacketsRelayed does nothing
func PacketsRelayed(id string) {}

// PendingPackets does nothing
func PendingPackets(id string, n int) {}
