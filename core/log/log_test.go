// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterBackendLevels(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	b, err := NewWithWriter(&buf, "notice")
	require.NoError(err)

	l := b.GetLogger("test/levels")
	l.Debugf("hidden %d", 1)
	l.Noticef("shown %d", 2)
	l.Errorf("shown %d", 3)

	out := buf.String()
	require.NotContains(out, "hidden")
	require.Contains(out, "NOTI test/levels: shown 2")
	require.Contains(out, "ERRO test/levels: shown 3")
}

func TestInvalidLevel(t *testing.T) {
	_, err := New("", "chatty", false)
	require.Error(t, err)

	lvl, err := ValidLevel("debug")
	require.NoError(t, err)
	require.Equal(t, "DEBUG", lvl)
}

func TestFileBackendRotate(t *testing.T) {
	require := require.New(t)

	fn := filepath.Join(t.TempDir(), "minimix.log")
	b, err := New(fn, "DEBUG", false)
	require.NoError(err)

	b.GetLogger("test/rotate").Info("before")
	require.NoError(os.Rename(fn, fn+".1"))
	require.NoError(b.Rotate())
	b.GetLogger("test/rotate").Info("after")

	old, err := os.ReadFile(fn + ".1")
	require.NoError(err)
	require.Contains(string(old), "before")

	cur, err := os.ReadFile(fn)
	require.NoError(err)
	require.Contains(string(cur), "after")
	require.NotContains(string(cur), "before")
}

func TestDisabledBackend(t *testing.T) {
	b, err := New("", "DEBUG", true)
	require.NoError(t, err)
	b.GetLogger("test/disabled").Error("nobody hears this")
	require.NoError(t, b.Rotate())
}
