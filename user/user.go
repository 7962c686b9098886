// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package user implements the driver that periodically asks a Client to send
// a message.
package user

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/worker"
)

// DefaultInterval is the wait between messages.
const DefaultInterval = time.Second

// Sender is the Client a User drives.
type Sender interface {
	RegisterDirectory() error
	Send(to, body string) error
}

// Config is a User configuration.
type Config struct {
	// ID is the identity of the driven Client.
	ID string

	// Peer is the recipient of every message.
	Peer string

	// Body is the message text, by default a greeting to Peer.
	Body string

	// Interval is the wait between messages.
	Interval time.Duration

	// Silent users only publish their Client to the directory.
	Silent bool

	LogBackend *log.Backend
}

// User is the driver actor.
type User struct {
	worker.Worker

	cfg    *Config
	log    *logging.Logger
	sender Sender
}

func (u *User) worker() {
	if err := u.sender.RegisterDirectory(); err != nil {
		u.log.Errorf("Failed instructing client to register in directory: %v", err)
		return
	}
	if u.cfg.Silent {
		u.log.Debugf("Silent, not sending.")
		return
	}

	for {
		if u.cfg.Peer == u.cfg.ID {
			u.log.Noticef("I'm sending a message to myself because I'm all alone :(")
		}
		err := u.sender.Send(u.cfg.Peer, u.cfg.Body)
		switch {
		case err == nil:
		case errors.Is(err, worker.ErrReplyClosed):
			u.log.Warningf("Response channel closed before acknowledgement that message was sent to %q.", u.cfg.Peer)
		case errors.Is(err, worker.ErrHalted):
			u.log.Errorf("Client is gone, stopping: %v", err)
			return
		default:
			u.log.Warningf("Client failed to send message to %q: %v", u.cfg.Peer, err)
		}

		if !u.Sleep(u.cfg.Interval) {
			return
		}
	}
}

// Shutdown halts the User and waits for it to exit.
func (u *User) Shutdown() {
	u.Halt()
	u.Wait()
}

// New starts a User driving sender.
func New(cfg *Config, sender Sender) (*User, error) {
	if cfg.ID == "" || cfg.Peer == "" {
		return nil, errors.New("user: ID and Peer are required")
	}
	if cfg.LogBackend == nil {
		return nil, errors.New("user: no LogBackend")
	}
	if cfg.Body == "" {
		cfg.Body = fmt.Sprintf("Hello, %s!", cfg.Peer)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	u := &User{
		cfg:    cfg,
		log:    cfg.LogBackend.GetLogger("user/" + cfg.ID),
		sender: sender,
	}
	u.Go(u.worker)
	return u, nil
}
