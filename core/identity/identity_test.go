// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	require := require.New(t)

	for _, id := range []string{
		"",
		"alex",
		"sam",
		"ünïcødé-relay",
		strings.Repeat("x", AddressLength),
		strings.Repeat("é", AddressLength/2), // 2 bytes per rune.
	} {
		a, err := Encode(id)
		require.NoError(err, id)
		require.Equal(id, a.String())
	}
}

func TestEncodePadsWithZeroes(t *testing.T) {
	a, err := Encode("p1")
	require.NoError(t, err)
	require.Equal(t, byte('p'), a[0])
	require.Equal(t, byte('1'), a[1])
	for _, b := range a[2:] {
		require.Zero(t, b)
	}
}

func TestEncodeOverflow(t *testing.T) {
	require := require.New(t)

	id := strings.Repeat("y", AddressLength+1)
	_, err := Encode(id)
	require.ErrorIs(err, ErrEncodingOverflow)
	require.ErrorIs(Validate(id), ErrEncodingOverflow)

	// Multi-byte runes count by bytes, not characters.
	_, err = Encode(strings.Repeat("é", AddressLength/2+1))
	require.ErrorIs(err, ErrEncodingOverflow)
}

func TestDecodeLossy(t *testing.T) {
	var a Address
	copy(a[:], []byte{'o', 'k', 0xff, 'x'})
	require.Equal(t, "ok\uFFFDx", a.String())

	var b Address
	copy(b[:], []byte{'o', 'k', 0xff, 0xfe, 'x'})
	require.Equal(t, "ok\uFFFD\uFFFDx", b.String())
}

func TestFromBytes(t *testing.T) {
	require := require.New(t)

	want, err := Encode("relay")
	require.NoError(err)
	got, err := FromBytes(want.Bytes())
	require.NoError(err)
	require.Equal(want, got)

	_, err = FromBytes([]byte("short"))
	require.Error(err)
}
