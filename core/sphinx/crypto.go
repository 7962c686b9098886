// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-License-Identifier: AGPL-3.0-only

package sphinx

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"gitlab.com/yawning/aez.git"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	macKeyLength    = 32
	streamKeyLength = chacha20.KeySize
	streamIVLength  = chacha20.NonceSize
	sprpKeyLength   = 48
	sprpIVLength    = 16

	okmLength = macKeyLength + streamKeyLength + streamIVLength + sprpKeyLength + sprpIVLength + GroupElementLength
	kdfInfo   = "minimix-sphinx-v0-hkdf-sha256"
)

var errInvalidPublicKey = errors.New("sphinx: invalid public key")

// PublicKey is an X25519 public key.
type PublicKey [GroupElementLength]byte

// Bytes returns the raw public key.
func (k *PublicKey) Bytes() []byte {
	return k[:]
}

// PublicKeyFromBytes returns the public key encoded by b.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != GroupElementLength {
		return nil, errInvalidPublicKey
	}
	k := new(PublicKey)
	copy(k[:], b)
	return k, nil
}

// PrivateKey is an X25519 private key, along with its public key.
type PrivateKey struct {
	secret [GroupElementLength]byte
	public PublicKey
}

// PublicKey returns the public key for the private key.
func (k *PrivateKey) PublicKey() *PublicKey {
	pub := k.public
	return &pub
}

// Reset clears the private key.
func (k *PrivateKey) Reset() {
	clear(k.secret[:])
	clear(k.public[:])
}

// NewKeypair generates a new key pair with entropy from r.
func NewKeypair(r io.Reader) (*PrivateKey, error) {
	k := new(PrivateKey)
	if _, err := io.ReadFull(r, k.secret[:]); err != nil {
		return nil, err
	}
	pub, err := expG(k.secret[:])
	if err != nil {
		return nil, err
	}
	copy(k.public[:], pub)
	return k, nil
}

func expG(scalar []byte) ([]byte, error) {
	return curve25519.X25519(scalar, curve25519.Basepoint)
}

// exp computes scalar * point, also used to blind group elements.
func exp(scalar, point []byte) ([]byte, error) {
	return curve25519.X25519(scalar, point)
}

// packetKeys are the per-hop keys derived from the blinded key exchange.
type packetKeys struct {
	headerMAC          [macKeyLength]byte
	headerEncryption   [streamKeyLength]byte
	headerEncryptionIV [streamIVLength]byte
	payloadEncryption  [sprpKeyLength]byte
	payloadIV          [sprpIVLength]byte
	blindingFactor     [GroupElementLength]byte
}

func (k *packetKeys) Reset() {
	clear(k.headerMAC[:])
	clear(k.headerEncryption[:])
	clear(k.headerEncryptionIV[:])
	clear(k.payloadEncryption[:])
	clear(k.payloadIV[:])
	clear(k.blindingFactor[:])
}

func kdf(ikm []byte) *packetKeys {
	okm := make([]byte, okmLength)
	defer clear(okm)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(kdfInfo)), okm); err != nil {
		panic("sphinx: BUG: hkdf expand failed: " + err.Error())
	}
	ptr := okm

	k := new(packetKeys)
	ptr = ptr[copy(k.headerMAC[:], ptr):]
	ptr = ptr[copy(k.headerEncryption[:], ptr):]
	ptr = ptr[copy(k.headerEncryptionIV[:], ptr):]
	ptr = ptr[copy(k.payloadEncryption[:], ptr):]
	ptr = ptr[copy(k.payloadIV[:], ptr):]
	copy(k.blindingFactor[:], ptr)
	return k
}

func newMAC(k *packetKeys) hash.Hash {
	m, err := blake2b.New256(k.headerMAC[:])
	if err != nil {
		panic("sphinx: BUG: blake2b keying failed: " + err.Error())
	}
	return m
}

// keyStream returns n bytes of the hop's header keystream.
func keyStream(k *packetKeys, n int) []byte {
	c, err := chacha20.NewUnauthenticatedCipher(k.headerEncryption[:], k.headerEncryptionIV[:])
	if err != nil {
		panic("sphinx: BUG: chacha20 keying failed: " + err.Error())
	}
	b := make([]byte, n)
	c.XORKeyStream(b, b)
	return b
}

func sprpEncrypt(k *packetKeys, msg []byte) []byte {
	return aez.Encrypt(k.payloadEncryption[:], k.payloadIV[:], nil, 0, msg, nil)
}

func sprpDecrypt(k *packetKeys, msg []byte) ([]byte, error) {
	dst, ok := aez.Decrypt(k.payloadEncryption[:], k.payloadIV[:], nil, 0, msg, nil)
	if !ok {
		return nil, fmt.Errorf("%w: payload decryption failed", ErrDecode)
	}
	return dst, nil
}

func xorBytes(dst, a, b []byte) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic(fmt.Sprintf("sphinx: BUG: xorBytes called with mismatched buffer sizes, got 'len(a)' %d and 'len(b)' %d", len(a), len(b)))
	}
	for i, v := range a {
		dst[i] = v ^ b[i]
	}
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
