// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package directory implements the public key directory used for path
// construction.
package directory

import (
	"errors"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/minimix/core/log"
	"github.com/katzenpost/minimix/core/sphinx"
	"github.com/katzenpost/minimix/core/worker"
)

// DefaultBufferSize is the op queue depth used when none is configured.
const DefaultBufferSize = 32

var (
	// ErrConflict is returned when registering an identity that already has
	// a record.
	ErrConflict = errors.New("directory: identity already registered")

	// ErrNotFound is returned when looking up an unknown identity.
	ErrNotFound = errors.New("directory: identity not found")
)

// Record is a directory entry.  Records are immutable once registered.
type Record struct {
	ID        string
	PublicKey *sphinx.PublicKey
}

type opRegister struct {
	rec   *Record
	reply *worker.Reply[error]
}

type lookupResult struct {
	rec *Record
	err error
}

type opLookup struct {
	id    string
	reply *worker.Reply[lookupResult]
}

type opLookupAll struct {
	reply *worker.Reply[map[string]*Record]
}

// Directory is the directory actor.
type Directory struct {
	worker.Worker

	log  *logging.Logger
	opCh chan interface{}

	records map[string]*Record
}

// Register publishes rec.  It fails with ErrConflict and leaves the existing
// record untouched if rec.ID is taken.
func (d *Directory) Register(rec *Record) error {
	if rec == nil || rec.PublicKey == nil {
		return errors.New("directory: invalid record")
	}
	op := &opRegister{rec: rec, reply: worker.NewReply[error]()}
	if err := worker.Submit(d.opCh, interface{}(op), d.HaltCh(), nil); err != nil {
		return err
	}
	err, aerr := op.reply.Await(d.HaltCh(), nil)
	if aerr != nil {
		return aerr
	}
	return err
}

// Lookup returns the record for id.
func (d *Directory) Lookup(id string) (*Record, error) {
	op := &opLookup{id: id, reply: worker.NewReply[lookupResult]()}
	if err := worker.Submit(d.opCh, interface{}(op), d.HaltCh(), nil); err != nil {
		return nil, err
	}
	res, err := op.reply.Await(d.HaltCh(), nil)
	if err != nil {
		return nil, err
	}
	return res.rec, res.err
}

// LookupAll returns a snapshot of every record.
func (d *Directory) LookupAll() (map[string]*Record, error) {
	op := &opLookupAll{reply: worker.NewReply[map[string]*Record]()}
	if err := worker.Submit(d.opCh, interface{}(op), d.HaltCh(), nil); err != nil {
		return nil, err
	}
	return op.reply.Await(d.HaltCh(), nil)
}

// Shutdown halts the directory and waits for it to exit.
func (d *Directory) Shutdown() {
	d.Halt()
	d.Wait()
}

func (d *Directory) worker() {
	defer d.log.Debug("Halting directory worker.")
	for {
		var qo interface{}
		select {
		case <-d.HaltCh():
			return
		case qo = <-d.opCh:
		}

		switch op := qo.(type) {
		case *opRegister:
			op.reply.Send(d.doRegister(op.rec))
		case *opLookup:
			rec, ok := d.records[op.id]
			if !ok {
				op.reply.Send(lookupResult{err: fmt.Errorf("%w: %q", ErrNotFound, op.id)})
				continue
			}
			op.reply.Send(lookupResult{rec: rec})
		case *opLookupAll:
			snap := make(map[string]*Record, len(d.records))
			for k, v := range d.records {
				snap[k] = v
			}
			op.reply.Send(snap)
		default:
			d.log.Errorf("BUG: unknown operation type: %T", qo)
		}
	}
}

func (d *Directory) doRegister(rec *Record) error {
	if _, ok := d.records[rec.ID]; ok {
		d.log.Warningf("Rejecting duplicate registration of %q.", rec.ID)
		return fmt.Errorf("%w: %q", ErrConflict, rec.ID)
	}
	d.records[rec.ID] = &Record{ID: rec.ID, PublicKey: rec.PublicKey}
	d.log.Debugf("Registered %q.", rec.ID)
	return nil
}

// New starts a new Directory.
func New(logBackend *log.Backend, bufferSize int) *Directory {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	d := &Directory{
		log:     logBackend.GetLogger("directory"),
		opCh:    make(chan interface{}, bufferSize),
		records: make(map[string]*Record),
	}
	d.Go(d.worker)
	return d
}
