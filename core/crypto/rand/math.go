// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-License-Identifier: AGPL-3.0-only

// Package rand provides various utitilies related to generating
// cryptographically secure random numbers.
package rand

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"math"
	mRand "math/rand"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20"
)

// Reader is the entropy source used to seed everything in this package.
var Reader = rand.Reader

// rekeyInterval is the number of keystream bytes emitted before the source
// ratchets its key forward.
const rekeyInterval = 1 << 16

type randSource struct {
	sync.Mutex
	s   *chacha20.Cipher
	off int
}

func (s *randSource) rekey(seed []byte) {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(seed, nonce[:])
	if err != nil {
		panic("crypto/rand: chacha20 keying failed, not expected: " + err.Error())
	}
	s.s = c
	s.off = 0
}

func (s *randSource) feedForward() {
	var seed [chacha20.KeySize]byte
	s.s.XORKeyStream(seed[:], seed[:])
	s.rekey(seed[:])
}

func (s *randSource) Uint64() uint64 {
	s.Lock()
	defer s.Unlock()

	if s.off+8 > rekeyInterval {
		s.feedForward()
	}
	s.off += 8

	var tmp [8]byte
	s.s.XORKeyStream(tmp[:], tmp[:])
	return binary.LittleEndian.Uint64(tmp[:])
}

func (s *randSource) Int63() int64 {
	return int64(s.Uint64() & ((1 << 63) - 1))
}

func (s *randSource) Seed(unused int64) {
	var seed [chacha20.KeySize]byte
	if _, err := io.ReadFull(Reader, seed[:]); err != nil {
		panic("crypto/rand: failed to read entropy: " + err.Error())
	}
	s.Lock()
	defer s.Unlock()
	s.rekey(seed[:])
}

// NewMath returns a "cryptographically secure" math/rand.Rand.
func NewMath() *mRand.Rand {
	s := new(randSource)
	s.Seed(0)
	return mRand.New(s)
}

// NewDeterministicMath returns a math/rand.Rand whose output is fully
// determined by seed.  It must only be used by tests.
func NewDeterministicMath(seed [chacha20.KeySize]byte) *mRand.Rand {
	s := new(randSource)
	s.rekey(seed[:])
	return mRand.New(s)
}

// Exp returns a random sample from the exponential distribution characterized
// by lambda (inverse of the mean).
func Exp(r *mRand.Rand, lambda float64) float64 {
	if lambda < math.SmallestNonzeroFloat64 {
		panic("crypto/rand: lambda out of range")
	}

	return r.ExpFloat64() / lambda
}

// ExpDuration returns a random duration drawn from the exponential
// distribution with the given mean.  A non-positive mean always yields zero.
func ExpDuration(r *mRand.Rand, mean time.Duration) time.Duration {
	if mean <= 0 {
		return 0
	}
	return time.Duration(Exp(r, 1/float64(mean)))
}
