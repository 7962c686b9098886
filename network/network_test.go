// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package network

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/minimix/client"
	"github.com/katzenpost/minimix/config"
	"github.com/katzenpost/minimix/internal/instrument"
)

func receivedCount(t *testing.T, from, to string) float64 {
	instrument.Register()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "minimix_messages_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["from"] == from && labels["to"] == to && labels["status"] == instrument.StatusReceived {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func loadConfig(t *testing.T, body string) *config.Config {
	cfg, err := config.Load([]byte(`[Logging]
Disable = true

[Metrics]
Disable = true

[Mixing]
ForwardProbability = 1.0
MeanDelay = 1
BootstrapInterval = 10
` + body))
	require.NoError(t, err)
	return cfg
}

func runNetwork(t *testing.T, cfg *config.Config) *Network {
	n, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(n.Shutdown)
	return n
}

func TestNetwork(t *testing.T) {
	for name, storeAndForward := range map[string]bool{"server": false, "transport": true} {
		t.Run(name, func(t *testing.T) {
			cfg := loadConfig(t, `
[[Clients]]
ID = "net/`+name+`/alex"
SendInterval = 20

[[Clients]]
ID = "net/`+name+`/bob"
Silent = true

[[Clients]]
ID = "net/`+name+`/carol"
Silent = true

[[Clients]]
ID = "net/`+name+`/dana"
Silent = true
`)
			cfg.Transport.StoreAndForward = storeAndForward
			n := runNetwork(t, cfg)

			alex, bob := "net/"+name+"/alex", "net/"+name+"/bob"
			require.Eventually(t, func() bool {
				return receivedCount(t, alex, bob) >= 1
			}, 10*time.Second, 10*time.Millisecond)

			for _, id := range []string{alex, bob} {
				require.Equal(t, client.Active, n.Client(id).State())
			}
			require.Nil(t, n.Client("net/nobody"))

			n.Shutdown()
			n.Wait()
			require.Equal(t, client.Terminated, n.Client(alex).State())
		})
	}
}

func TestLoneNetwork(t *testing.T) {
	cfg := loadConfig(t, `
[[Clients]]
ID = "net/lone"
SendInterval = 20
`)
	runNetwork(t, cfg)

	require.Eventually(t, func() bool {
		return receivedCount(t, "net/lone", "net/lone") >= 1
	}, 10*time.Second, 10*time.Millisecond)
}

func TestShutdownIsIdempotent(t *testing.T) {
	cfg := loadConfig(t, `
[[Clients]]
ID = "net/idle"
Silent = true
`)
	n, err := New(cfg)
	require.NoError(t, err)
	n.RotateLog()
	n.Shutdown()
	n.Shutdown()
	n.Wait()
}
