// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package network supervises a complete in-process minimix network: the
// directory, the router, and a Client and User per configured client.
package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/minimix/authority/directory"
	"github.com/katzenpost/minimix/client"
	"github.com/katzenpost/minimix/config"
	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/core/sphinx"
	"github.com/katzenpost/minimix/internal/instrument"
	"github.com/katzenpost/minimix/server"
	"github.com/katzenpost/minimix/transport"
	"github.com/katzenpost/minimix/user"
)

const metricsShutdownTimeout = 5 * time.Second

// Network is a running minimix network.
type Network struct {
	sync.WaitGroup

	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	metrics   *http.Server
	directory *directory.Directory
	server    *server.Server
	transport *transport.Transport[*packet.Packet]
	clients   []*client.Client
	users     []*user.User

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

func (n *Network) initLogging() error {
	var err error
	n.logBackend, err = log.New(n.cfg.Logging.File, n.cfg.Logging.Level, n.cfg.Logging.Disable)
	if err == nil {
		n.log = n.logBackend.GetLogger("network")
	}
	return err
}

// Client returns the running Client identified by id, or nil.
func (n *Network) Client(id string) *client.Client {
	for _, c := range n.clients {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// RotateLog rotates the log file if logging to a file is enabled.
func (n *Network) RotateLog() {
	if err := n.logBackend.Rotate(); err != nil {
		select {
		case n.fatalErrCh <- fmt.Errorf("failed to rotate log file, shutting down network: %w", err):
		default:
		}
		return
	}
	n.log.Notice("Log rotated.")
}

// Wait waits till the network is terminated for any reason.
func (n *Network) Wait() {
	<-n.haltedCh
}

// Shutdown cleanly shuts down the network.
func (n *Network) Shutdown() {
	n.haltOnce.Do(func() { n.halt() })
}

func (n *Network) halt() {
	n.log.Notice("Starting graceful shutdown.")

	// Users may be blocked on a send, which only returns once their Client
	// is gone.
	for _, c := range n.clients {
		c.Shutdown()
	}
	for _, u := range n.users {
		u.Shutdown()
	}
	if n.server != nil {
		n.server.Shutdown()
	}
	if n.transport != nil {
		n.transport.Shutdown()
	}
	if n.directory != nil {
		n.directory.Shutdown()
	}
	if n.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		if err := n.metrics.Shutdown(ctx); err != nil {
			n.log.Warningf("Failed to stop the metrics listener: %v", err)
		}
		cancel()
	}

	// Wait for the client monitors to exit.
	n.WaitGroup.Wait()

	n.log.Notice("Shutdown complete.")
	close(n.haltedCh)
}

func (n *Network) monitor(c *client.Client) {
	defer n.Done()
	<-c.TermCh()
	c.Wait()
	if err := c.Err(); err != nil {
		n.log.Warningf("Client %q terminated: %v", c.ID(), err)
	}
}

func (n *Network) newRouter() client.Router {
	if n.cfg.Transport.StoreAndForward {
		n.log.Notice("Routing through the store and forward transport.")
		n.transport = transport.New[*packet.Packet](n.logBackend, n.cfg.Transport.BufferSize)
		return transport.NewRouter(n.transport)
	}
	n.server = server.New(n.logBackend, n.cfg.Server.BufferSize)
	return n.server
}

// New starts the network described by cfg, which must have been validated.
func New(cfg *config.Config) (*Network, error) {
	n := &Network{
		cfg:        cfg,
		fatalErrCh: make(chan error, 1),
		haltedCh:   make(chan interface{}),
	}
	if err := n.initLogging(); err != nil {
		return nil, err
	}

	factory, err := sphinx.New(cfg.Mixing.Geometry())
	if err != nil {
		return nil, err
	}
	n.log.Debugf("Using %v", factory.Geometry())

	// Past this point, failures need to call n.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			n.Shutdown()
		}
	}()

	go func() {
		select {
		case err := <-n.fatalErrCh:
			n.log.Warningf("Shutting down due to error: %v", err)
			n.Shutdown()
		case <-n.haltedCh:
		}
	}()

	if !cfg.Metrics.Disable {
		instrument.Register()
		n.metrics = instrument.Init(cfg.Metrics.Address)
		n.log.Noticef("Serving metrics on %v.", cfg.Metrics.Address)
	}

	n.directory = directory.New(n.logBackend, cfg.Directory.BufferSize)
	router := n.newRouter()

	// A client can never learn more peers than there are other clients.
	minAddressBook := min(cfg.Mixing.MinAddressBook, len(cfg.Clients)-1)
	if minAddressBook == 0 {
		minAddressBook = client.NoBootstrap
	}

	for _, cCfg := range cfg.Clients {
		c, err := client.New(&client.Config{
			ID:                 cCfg.ID,
			LogBackend:         n.logBackend,
			Directory:          n.directory,
			Router:             router,
			Factory:            factory,
			ForwardProbability: cfg.Mixing.ForwardProbability,
			MeanDelay:          cfg.MeanDelay(),
			NumHops:            cfg.Mixing.NumHops,
			MinAddressBook:     minAddressBook,
			BootstrapInterval:  cfg.BootstrapInterval(),
			BufferSize:         cCfg.BufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("network: client %q: %w", cCfg.ID, err)
		}
		n.clients = append(n.clients, c)
		if err := c.Start(); err != nil {
			return nil, fmt.Errorf("network: client %q: %w", cCfg.ID, err)
		}
		n.Add(1)
		go n.monitor(c)
	}

	for i, cCfg := range cfg.Clients {
		u, err := user.New(&user.Config{
			ID:         cCfg.ID,
			Peer:       cCfg.Peer,
			Body:       cCfg.Body,
			Interval:   time.Duration(cCfg.SendInterval) * time.Millisecond,
			Silent:     cCfg.Silent,
			LogBackend: n.logBackend,
		}, n.clients[i])
		if err != nil {
			return nil, fmt.Errorf("network: user %q: %w", cCfg.ID, err)
		}
		n.users = append(n.users, u)
	}

	n.log.Noticef("Network started with %d clients.", len(n.clients))
	isOk = true
	return n, nil
}
