// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package identity implements the fixed width wire encoding of node
// identities.
package identity

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// AddressLength is the length of an encoded identity in bytes.
const AddressLength = 32

// ErrEncodingOverflow is returned when an identity does not fit in an
// Address.
var ErrEncodingOverflow = errors.New("identity: encoding overflow")

// Address is the zero padded wire form of an identity.
type Address [AddressLength]byte

// Encode returns the Address of id.  Identities longer than AddressLength
// bytes are rejected, never truncated.
func Encode(id string) (Address, error) {
	var a Address
	if len(id) > AddressLength {
		return a, fmt.Errorf("%w: %q is %d bytes, limit is %d", ErrEncodingOverflow, id, len(id), AddressLength)
	}
	copy(a[:], id)
	return a, nil
}

// Validate returns an error iff id can not be encoded.
func Validate(id string) error {
	_, err := Encode(id)
	return err
}

// FromBytes copies b into an Address.  b must be exactly AddressLength bytes.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("identity: invalid address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// String decodes the Address back into an identity.  Trailing zero bytes are
// stripped and invalid UTF-8 is replaced with U+FFFD, so the conversion is
// lossy for addresses that were not produced by Encode.
func (a Address) String() string {
	b := bytes.TrimRight(a[:], "\x00")

	var sb strings.Builder
	for len(b) > 0 {
		r, n := utf8.DecodeRune(b)
		if r == utf8.RuneError && n == 1 {
			// One replacement per invalid byte.
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:n])
		}
		b = b[n:]
	}
	return sb.String()
}

// Bytes returns a copy of the raw address.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b
}
