// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package client implements the mix node actor.  A Client relays onion
// packets addressed to it, sends messages over randomly selected paths, and
// receives messages destined to it.
package client

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/minimix/authority/directory"
	"github.com/katzenpost/minimix/core/crypto/rand"
	"github.com/katzenpost/minimix/core/identity"
	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/packet"
	"github.com/katzenpost/minimix/core/sphinx"
	"github.com/katzenpost/minimix/core/worker"
)

const (
	// DefaultForwardProbability is the probability that a relay is
	// available to forward a packet.
	DefaultForwardProbability = 0.7

	// DefaultMeanDelay is the mean per hop delay.
	DefaultMeanDelay = time.Second

	// DefaultNumHops is the number of relays on a path.
	DefaultNumHops = 3

	// DefaultMinAddressBook is the number of peers a Client should learn
	// before it builds its first path.
	DefaultMinAddressBook = 3

	// NoBootstrap disables the directory bootstrap when used as
	// MinAddressBook.
	NoBootstrap = -1

	// DefaultBootstrapInterval is the wait between directory pulls while the
	// address book is short.
	DefaultBootstrapInterval = 2 * time.Second

	// DefaultBufferSize is the op queue depth used when none is configured.
	DefaultBufferSize = 32
)

var errInvalidState = errors.New("client: invalid state")

// Directory is the public key directory a Client publishes to and learns
// peers from.
type Directory interface {
	Register(*directory.Record) error
	Lookup(id string) (*directory.Record, error)
	LookupAll() (map[string]*directory.Record, error)
}

// Router carries packets between Clients.  Send gives up with
// worker.ErrHalted once haltCh is closed.
type Router interface {
	Register(id string, link packet.Link) error
	Send(pkt *packet.Packet, haltCh <-chan interface{}) error
}

// PacketFactory builds and processes onion packets.
type PacketFactory interface {
	NewPacket(path []*sphinx.PathHop, dest identity.Address, payload []byte, delays []time.Duration) ([]byte, error)
	Unwrap(key *sphinx.PrivateKey, pkt []byte) (sphinx.ProcessedPacket, error)
	RecoverPayload(*sphinx.FinalHop) ([]byte, error)
	GenerateDelays(n int, mean time.Duration) []time.Duration
}

// MessageReceivedEvent is emitted when a message reaches its destination.
type MessageReceivedEvent struct {
	// ID is the correlation id of the packet that carried the message.
	ID string

	// To is the receiving Client.
	To string

	// Relay is the id of the last hop that forwarded the packet.
	Relay string

	// Message is the recovered plaintext.
	Message *packet.Message
}

// Config is a Client configuration.
type Config struct {
	// ID is the Client's identity, at most identity.AddressLength bytes.
	ID string

	LogBackend *log.Backend
	Directory  Directory
	Router     Router
	Factory    PacketFactory

	// ForwardProbability is the probability of relaying each forward hop,
	// zero selects DefaultForwardProbability.
	ForwardProbability float64

	// MeanDelay is the mean of the per hop delays of sent packets.
	MeanDelay time.Duration

	// NumHops is the number of relays selected for each path.
	NumHops int

	// MinAddressBook is the address book size required before sending, zero
	// selects DefaultMinAddressBook and NoBootstrap sends without pulling
	// the directory.
	MinAddressBook int

	// BootstrapInterval is the wait between directory pulls while the
	// address book is short.
	BootstrapInterval time.Duration

	// BufferSize is the depth of the Client's op queue.
	BufferSize int

	// EventSink, if set, receives a MessageReceivedEvent per message.
	EventSink chan<- *MessageReceivedEvent

	rng *mRand.Rand
}

func (cfg *Config) applyDefaults() {
	if cfg.ForwardProbability == 0 {
		cfg.ForwardProbability = DefaultForwardProbability
	}
	if cfg.MeanDelay == 0 {
		cfg.MeanDelay = DefaultMeanDelay
	}
	if cfg.NumHops == 0 {
		cfg.NumHops = DefaultNumHops
	}
	if cfg.MinAddressBook == 0 {
		cfg.MinAddressBook = DefaultMinAddressBook
	}
	if cfg.BootstrapInterval == 0 {
		cfg.BootstrapInterval = DefaultBootstrapInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.rng == nil {
		cfg.rng = rand.NewMath()
	}
}

func (cfg *Config) validate() error {
	switch {
	case cfg.ID == "":
		return errors.New("client: no ID")
	case cfg.LogBackend == nil:
		return errors.New("client: no LogBackend")
	case cfg.Directory == nil:
		return errors.New("client: no Directory")
	case cfg.Router == nil:
		return errors.New("client: no Router")
	case cfg.Factory == nil:
		return errors.New("client: no Factory")
	case cfg.ForwardProbability < 0 || cfg.ForwardProbability > 1:
		return fmt.Errorf("client: invalid ForwardProbability: %v", cfg.ForwardProbability)
	case cfg.MeanDelay < 0:
		return fmt.Errorf("client: invalid MeanDelay: %v", cfg.MeanDelay)
	case cfg.NumHops < 0:
		return fmt.Errorf("client: invalid NumHops: %v", cfg.NumHops)
	case cfg.MinAddressBook < NoBootstrap:
		return fmt.Errorf("client: invalid MinAddressBook: %v", cfg.MinAddressBook)
	}
	return identity.Validate(cfg.ID)
}

type opSend struct {
	to    string
	body  string
	reply *worker.Reply[error]
}

type opRegisterDirectory struct {
	reply *worker.Reply[error]
}

type opReceive struct {
	pkt *packet.Packet
}

// Client is a mix node.
type Client struct {
	worker.Worker

	cfg  *Config
	id   string
	log  *logging.Logger
	key  *sphinx.PrivateKey
	addr identity.Address

	state   atomic.Int32
	opCh    chan interface{}
	fatalCh chan error
	termCh  chan interface{}
	err     error

	scheduler *scheduler

	// Owned by the worker.
	addressBook map[string]*directory.Record
}

// ID returns the Client's identity.
func (c *Client) ID() string {
	return c.id
}

// PublicKey returns the Client's onion public key.
func (c *Client) PublicKey() *sphinx.PublicKey {
	return c.key.PublicKey()
}

// State returns the Client's current state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Start registers the Client with its router, and blocks until the router
// acknowledges.  Any failure is fatal, and terminates the Client.
func (c *Client) Start() error {
	if !c.state.CompareAndSwap(int32(Unregistered), int32(Registering)) {
		return fmt.Errorf("%w: Start from %v", errInvalidState, c.State())
	}
	if err := c.cfg.Router.Register(c.id, c); err != nil {
		c.log.Errorf("Failed to register with the router: %v", err)
		c.fail(err)
		return err
	}
	if c.state.CompareAndSwap(int32(Registering), int32(Active)) {
		c.log.Noticef("Registered with the router.")
	}
	return nil
}

// RegisterDirectory publishes the Client's public key to the directory.
// Any failure is fatal, and terminates the Client.
func (c *Client) RegisterDirectory() error {
	op := &opRegisterDirectory{reply: worker.NewReply[error]()}
	if err := worker.Submit(c.opCh, interface{}(op), c.termCh, nil); err != nil {
		return err
	}
	err, aerr := op.reply.Await(c.termCh, nil)
	if aerr != nil {
		return aerr
	}
	return err
}

// Send sends body to the Client identified by to.  A nil error means the
// packet was handed to the first hop.  worker.ErrReplyClosed means the send
// was abandoned, either because to is unknown to the directory or because
// the Client terminated.
func (c *Client) Send(to, body string) error {
	op := &opSend{to: to, body: body, reply: worker.NewReply[error]()}
	if err := worker.Submit(c.opCh, interface{}(op), c.termCh, nil); err != nil {
		return err
	}
	err, aerr := op.reply.Await(c.termCh, nil)
	if aerr != nil {
		return aerr
	}
	return err
}

// Deliver hands an inbound packet to the Client.  It is the Client's link,
// and fails with packet.ErrLinkClosed once the Client is halted.
func (c *Client) Deliver(pkt *packet.Packet) error {
	if err := worker.Submit(c.opCh, interface{}(&opReceive{pkt: pkt}), c.termCh, c.HaltCh()); err != nil {
		return packet.ErrLinkClosed
	}
	return nil
}

// TermCh returns a channel that is closed once the Client has terminated.
func (c *Client) TermCh() <-chan interface{} {
	return c.termCh
}

// Err returns the error that terminated the Client.  It is only meaningful
// after Wait returns, and is nil for a Client that was halted.
func (c *Client) Err() error {
	return c.err
}

// Shutdown halts the Client and waits for it to exit.
func (c *Client) Shutdown() {
	c.Halt()
	c.Wait()
}

// fail terminates the Client with err.  The first error wins.
func (c *Client) fail(err error) {
	select {
	case c.fatalCh <- err:
	default:
	}
}

func (c *Client) worker() {
	err := c.loop()
	if err != nil {
		c.log.Errorf("Terminating: %v", err)
	} else {
		c.log.Debugf("Terminating gracefully.")
	}
	c.err = err
	c.state.Store(int32(Terminated))
	close(c.termCh)
}

func (c *Client) loop() error {
	for {
		var qo interface{}
		select {
		case <-c.HaltCh():
			return nil
		case err := <-c.fatalCh:
			return err
		case qo = <-c.opCh:
		}

		var err error
		switch op := qo.(type) {
		case *opReceive:
			c.onPacket(op.pkt)
		case *opSend:
			err = c.doSend(op.to, op.body, op.reply, false)
		case *opRegisterDirectory:
			err = c.doRegisterDirectory(op.reply)
		default:
			c.log.Errorf("BUG: unknown operation type: %T", qo)
		}
		if err != nil {
			if c.IsHalted() {
				return nil
			}
			return err
		}
	}
}

func (c *Client) doRegisterDirectory(reply *worker.Reply[error]) error {
	err := c.cfg.Directory.Register(&directory.Record{ID: c.id, PublicKey: c.key.PublicKey()})
	if err != nil {
		c.log.Errorf("Failed to register with the directory: %v", err)
		reply.Send(err)
		return err
	}
	c.log.Noticef("Registered with the directory.")
	reply.Send(nil)
	return nil
}

// New creates a new Client, generating its key pair.  The Client processes
// inbound packets immediately, but must be started before sending.
func New(cfg *Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	addr, err := identity.Encode(cfg.ID)
	if err != nil {
		return nil, err
	}
	key, err := sphinx.NewKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		id:          cfg.ID,
		log:         cfg.LogBackend.GetLogger("client/" + cfg.ID),
		key:         key,
		addr:        addr,
		opCh:        make(chan interface{}, cfg.BufferSize),
		fatalCh:     make(chan error, 1),
		termCh:      make(chan interface{}),
		addressBook: make(map[string]*directory.Record),
	}
	c.scheduler = newScheduler(c, cfg.BufferSize)
	c.Go(c.worker)
	c.Go(c.scheduler.worker)
	return c, nil
}
