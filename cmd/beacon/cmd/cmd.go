// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethersphere/beacon/cmd/internal/terminal"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	optionNameDataDir            = "data-dir"
	optionNamePassword           = "password"
	optionNamePasswordFile       = "password-file"
	optionNameP2PAddr            = "p2p-addr"
	optionNameNATAddr            = "nat-addr"
	optionNameP2PDisableQUIC     = "p2p-disable-quic"
	optionNameP2PDisablePortMap  = "p2p-disable-port-map"
	optionNameDebugAPIEnable     = "debug-api-enable"
	optionNameDebugAPIAddr       = "debug-api-addr"
	optionNameBootnodes          = "bootnode"
	optionNameBootnodeMode       = "bootnode-mode"
	optionCORSAllowedOrigins     = "cors-allowed-origins"
	optionNameVerbosity          = "verbosity"
	optionNameNamespaces         = "rendezvous-namespace"
	optionNameAllowPrivateAddrs  = "allow-private-addrs"
	optionNameMaxRelays          = "max-relays"
	optionNameMaxReservations    = "relay-max-reservations"
	optionNameMaxCircuits        = "relay-max-circuits"
	optionNameMaxRegistrations   = "rendezvous-max-registrations"
	optionNameHolePunchMaxRounds = "holepunch-max-rounds"
	optionNameTracingEnabled     = "tracing-enable"
	optionNameTracingEndpoint    = "tracing-endpoint"
	optionNameTracingServiceName = "tracing-service-name"
)

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root           *cobra.Command
	config         *viper.Viper
	passwordReader terminal.PasswordReader
	cfgFile        string
	homeDir        string
}

type option func(*command)

func newCommand(opts ...option) (c *command, err error) {
	c = &command{
		root: &cobra.Command{
			Use:           "beacon",
			Short:         "Bootstrap, rendezvous and relay node with hole punching",
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return c.initConfig()
			},
		},
	}

	for _, o := range opts {
		o(c)
	}
	if c.passwordReader == nil {
		c.passwordReader = terminal.NewStdInPasswordReader()
	}

	// Find home directory.
	if err := c.setHomeDir(); err != nil {
		return nil, err
	}

	c.initGlobalFlags()

	if err := c.initStartCmd(); err != nil {
		return nil, err
	}

	if err := c.initDCUtRCmd(); err != nil {
		return nil, err
	}

	if err := c.initInitCmd(); err != nil {
		return nil, err
	}

	c.initVersionCmd()

	return c, nil
}

func (c *command) Execute() (err error) {
	return c.root.Execute()
}

// Execute parses command line arguments and runs appropriate functions.
func Execute() (err error) {
	c, err := newCommand()
	if err != nil {
		return err
	}
	return c.Execute()
}

func (c *command) initGlobalFlags() {
	globalFlags := c.root.PersistentFlags()
	globalFlags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.beacon.yaml)")
}

func (c *command) initConfig() (err error) {
	config := viper.New()
	configName := ".beacon"
	if c.cfgFile != "" {
		// Use config file from the flag.
		config.SetConfigFile(c.cfgFile)
	} else {
		// Search config in home directory with name ".beacon" (without extension).
		config.AddConfigPath(c.homeDir)
		config.SetConfigName(configName)
	}

	// Environment
	config.SetEnvPrefix("beacon")
	config.AutomaticEnv() // read in environment variables that match
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if c.homeDir != "" && c.cfgFile == "" {
		c.cfgFile = filepath.Join(c.homeDir, configName+".yaml")
	}

	// If a config file is found, read it in.
	if err := config.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return err
		}
	}
	c.config = config
	return nil
}

func (c *command) setHomeDir() (err error) {
	if c.homeDir != "" {
		return
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.homeDir = dir
	return nil
}

func (c *command) dataDirDefault() string {
	return filepath.Join(c.homeDir, ".beacon")
}

func (c *command) setAllFlags(cmd *cobra.Command) {
	cmd.Flags().String(optionNameDataDir, c.dataDirDefault(), "data directory")
	cmd.Flags().String(optionNamePassword, "", "password for decrypting keys")
	cmd.Flags().String(optionNamePasswordFile, "", "path to a file that contains password for decrypting keys")
	cmd.Flags().String(optionNameP2PAddr, ":1634", "P2P listen address")
	cmd.Flags().String(optionNameNATAddr, "", "NAT exposed address")
	cmd.Flags().Bool(optionNameP2PDisableQUIC, false, "disable P2P QUIC transport")
	cmd.Flags().Bool(optionNameP2PDisablePortMap, false, "disable UPnP and NAT-PMP port mapping")
	cmd.Flags().StringSlice(optionNameBootnodes, nil, "initial nodes to connect to")
	cmd.Flags().Bool(optionNameBootnodeMode, false, "serve relay, rendezvous and reachability probes for other peers")
	cmd.Flags().Bool(optionNameDebugAPIEnable, false, "enable debug HTTP API")
	cmd.Flags().String(optionNameDebugAPIAddr, ":1635", "debug HTTP API listen address")
	cmd.Flags().StringSlice(optionCORSAllowedOrigins, []string{}, "origins with CORS headers enabled")
	cmd.Flags().String(optionNameVerbosity, "info", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	cmd.Flags().StringSlice(optionNameNamespaces, nil, "rendezvous namespaces to register in and discover from")
	cmd.Flags().Bool(optionNameAllowPrivateAddrs, false, "use private and loopback addresses for relaying, dial-backs and hole punching")
	cmd.Flags().Int(optionNameMaxRelays, 2, "number of relays to hold reservations on")
	cmd.Flags().Int(optionNameMaxReservations, 128, "maximum number of reservations the relay grants")
	cmd.Flags().Int(optionNameMaxCircuits, 16, "maximum number of circuits per reservation")
	cmd.Flags().Int(optionNameMaxRegistrations, 1000, "maximum number of registrations the rendezvous point holds")
	cmd.Flags().Int(optionNameHolePunchMaxRounds, 3, "number of synchronised dials before a hole punch fails")
	cmd.Flags().Bool(optionNameTracingEnabled, false, "enable tracing")
	cmd.Flags().String(optionNameTracingEndpoint, "127.0.0.1:6831", "endpoint to send tracing data")
	cmd.Flags().String(optionNameTracingServiceName, "beacon", "service name identifier for tracing")
}

func newLogger(cmd *cobra.Command, verbosity string) (logging.Logger, error) {
	var logger logging.Logger
	switch verbosity {
	case "0", "silent":
		logger = logging.New(io.Discard, 0)
	case "1", "error":
		logger = logging.New(cmd.OutOrStdout(), logrus.ErrorLevel)
	case "2", "warn":
		logger = logging.New(cmd.OutOrStdout(), logrus.WarnLevel)
	case "3", "info":
		logger = logging.New(cmd.OutOrStdout(), logrus.InfoLevel)
	case "4", "debug":
		logger = logging.New(cmd.OutOrStdout(), logrus.DebugLevel)
	case "5", "trace":
		logger = logging.New(cmd.OutOrStdout(), logrus.TraceLevel)
	default:
		return nil, fmt.Errorf("unknown verbosity level %q", verbosity)
	}
	return logger, nil
}
