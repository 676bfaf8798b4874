// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethersphere/beacon"
	"github.com/ethersphere/beacon/pkg/node"
	"github.com/spf13/cobra"
)

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a beacon node",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			v := strings.ToLower(c.config.GetString(optionNameVerbosity))
			logger, err := newLogger(cmd, v)
			if err != nil {
				return fmt.Errorf("new logger: %w", err)
			}

			logger.Infof("version: %v", beacon.Version)

			dataDir := c.config.GetString(optionNameDataDir)
			key, err := c.nodeKey(cmd, logger, dataDir)
			if err != nil {
				return err
			}

			debugAPIAddr := c.config.GetString(optionNameDebugAPIAddr)
			if !c.config.GetBool(optionNameDebugAPIEnable) {
				debugAPIAddr = ""
			}

			b, err := node.NewBeacon(c.config.GetString(optionNameP2PAddr), key, logger, node.Options{
				DataDir:            dataDir,
				DebugAPIAddr:       debugAPIAddr,
				NATAddr:            c.config.GetString(optionNameNATAddr),
				DisableQUIC:        c.config.GetBool(optionNameP2PDisableQUIC),
				DisableNATPortMap:  c.config.GetBool(optionNameP2PDisablePortMap),
				Bootnodes:          c.config.GetStringSlice(optionNameBootnodes),
				BootnodeMode:       c.config.GetBool(optionNameBootnodeMode),
				CORSAllowedOrigins: c.config.GetStringSlice(optionCORSAllowedOrigins),
				Namespaces:         c.config.GetStringSlice(optionNameNamespaces),
				AllowPrivateAddrs:  c.config.GetBool(optionNameAllowPrivateAddrs),
				MaxRelays:          c.config.GetInt(optionNameMaxRelays),
				MaxReservations:    c.config.GetInt(optionNameMaxReservations),
				MaxCircuits:        c.config.GetInt(optionNameMaxCircuits),
				MaxRegistrations:   c.config.GetInt(optionNameMaxRegistrations),
				HolePunchRounds:    c.config.GetInt(optionNameHolePunchMaxRounds),
				TracingEnabled:     c.config.GetBool(optionNameTracingEnabled),
				TracingEndpoint:    c.config.GetString(optionNameTracingEndpoint),
				TracingServiceName: c.config.GetString(optionNameTracingServiceName),
			})
			if err != nil {
				return err
			}

			// Wait for termination or interrupt signals.
			// We want to clean up things at the end.
			interruptChannel := make(chan os.Signal, 1)
			signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)

			// Block main goroutine until it is interrupted
			sig := <-interruptChannel

			logger.Debugf("received signal: %v", sig)
			logger.Info("shutting down")

			// Shutdown
			done := make(chan struct{})
			go func() {
				defer close(done)

				if err := b.Shutdown(); err != nil {
					logger.Errorf("shutdown: %v", err)
				}
			}()

			// If shutdown function is blocking too long,
			// allow process termination by receiving another signal.
			select {
			case sig := <-interruptChannel:
				logger.Debugf("received signal: %v", sig)
			case <-done:
			}

			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}
