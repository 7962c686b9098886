//go:build !noprometheus

// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes the network's Prometheus metrics.
package instrument

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// StatusSent labels messages handed to the first hop.
	StatusSent = "Sent"

	// StatusReceived labels messages recovered at their destination.
	StatusReceived = "Received"
)

var (
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minimix_messages_total",
			Help: "Number of messages sent and received",
		},
		[]string{"from", "to", "status"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minimix_dropped_packets_total",
			Help: "Number of dropped packets",
		},
		[]string{"reason"},
	)
	packetsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minimix_relayed_packets_total",
			Help: "Number of packets forwarded by each relay",
		},
		[]string{"id"},
	)
	pendingPackets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minimix_pending_packets",
			Help: "Number of packets buffered for an absent recipient",
		},
		[]string{"id"},
	)

	registerOnce sync.Once
)

// Register registers the metrics with the default registry.  It is safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(messages)
		prometheus.MustRegister(packetsDropped)
		prometheus.MustRegister(packetsRelayed)
		prometheus.MustRegister(pendingPackets)
	})
}

// Init registers the metrics and serves them on addr, returning the server
// so that the caller can close it.
func Init(addr string) *http.Server {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}

// MessageSent counts a message from sent to the network.
func MessageSent(from, to string) {
	messages.With(prometheus.Labels{"from": from, "to": to, "status": StatusSent}).Inc()
}

// MessageReceived counts a message recovered by to.
func MessageReceived(from, to string) {
	messages.With(prometheus.Labels{"from": from, "to": to, "status": StatusReceived}).Inc()
}

// PacketsDropped counts a dropped packet.
func PacketsDropped(reason string) {
	packetsDropped.With(prometheus.Labels{"reason": reason}).Inc()
}

// PacketsRelayed counts a packet forwarded by relay id.
func PacketsRelayed(id string) {
	packetsRelayed.With(prometheus.Labels{"id": id}).Inc()
}

// PendingPackets observes the size of id's store and forward queue.
func PendingPackets(id string, n int) {
	pendingPackets.With(prometheus.Labels{"id": id}).Set(float64(n))
}
