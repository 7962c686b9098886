// SPDX-FileCopyrightText: © 2026 Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/minimix/common"
)

func TestValidateOnly(t *testing.T) {
	f := filepath.Join(t.TempDir(), "minimix.toml")
	require.NoError(t, os.WriteFile(f, []byte("[[Clients]]\nID = \"alex\"\n"), 0600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-f", f, "--validate-only"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "1 clients, configuration is valid")
}

func TestInvalidConfigFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "minimix.toml")
	require.NoError(t, os.WriteFile(f, []byte("[Mixing]\nNumHops = 3\n"), 0600))

	cmd := newRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", f, "--validate-only"})
	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load config file")

	var cfgErr *common.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, f, cfgErr.File)
}
