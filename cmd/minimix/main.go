// main.go - minimix network binary.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/minimix/common"
	"github.com/katzenpost/minimix/config"
	"github.com/katzenpost/minimix/network"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile   string
	EnvPrefix    string
	ValidateOnly bool
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "minimix",
		Short: "In-process onion routing mix network",
		Long: `minimix runs a small mix network inside a single process.

Every configured client is a mix node: it publishes an X25519 public key to
the directory, relays Sphinx packets addressed to it after a random delay,
and periodically sends a message to its peer over a randomly selected path
of other clients.  Packets travel through either the routing server, which
drops traffic for unknown recipients, or the store and forward transport,
which buffers it until the recipient registers.

Configuration values can be overridden with environment variables named
PREFIX_SECTION_FIELD, eg: MINIMIX_MIXING_FORWARDPROBABILITY=1.0.`,
		Example: `  # Start the network described by minimix.toml
  minimix

  # Start with a custom configuration file (short form)
  minimix -f /path/to/network.toml

  # Validate configuration without starting the network
  minimix --config network.toml --validate-only

  # Read overrides from NET1_* instead of MINIMIX_*
  NET1_SERVER_BUFFERSIZE=64 minimix --env-prefix NET1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "minimix.toml",
		"path to the network configuration file (TOML format)")
	cmd.Flags().StringVar(&cfg.EnvPrefix, "env-prefix", config.DefaultEnvPrefix,
		"prefix of the environment variables overriding configuration values")
	cmd.Flags().BoolVar(&cfg.ValidateOnly, "validate-only", false,
		"validate the configuration and exit without starting the network")

	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func run(cmd *cobra.Command, cfg Config) error {
	if cfg.ConfigFile == "" {
		return fmt.Errorf("config file must be specified")
	}
	netCfg, err := config.LoadFileWithEnv(cfg.ConfigFile, cfg.EnvPrefix)
	if err != nil {
		return &common.ConfigError{File: cfg.ConfigFile, Err: err}
	}
	if cfg.ValidateOnly {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%v: %d clients, configuration is valid\n", cfg.ConfigFile, len(netCfg.Clients))
		return nil
	}

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(haltCh)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(rotateCh)

	n, err := network.New(netCfg)
	if err != nil {
		return fmt.Errorf("failed to spawn network: %v", err)
	}
	defer n.Shutdown()

	// Halt the network gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		n.Shutdown()
	}()

	// Rotate the logs upon SIGHUP.
	go func() {
		for range rotateCh {
			n.RotateLog()
		}
	}()

	// Wait for the network to explode or be terminated.
	n.Wait()
	return nil
}
