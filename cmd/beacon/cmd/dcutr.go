// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/crypto"
	"github.com/ethersphere/beacon/pkg/holepunch"
	"github.com/ethersphere/beacon/pkg/node"
	"github.com/ethersphere/beacon/pkg/reachability"
	"github.com/ethersphere/beacon/pkg/relay"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"
)

const (
	dcutrModeDial   = "dial"
	dcutrModeListen = "listen"
)

var (
	errUnknownMode        = errors.New("mode must be dial or listen")
	errMissingRelay       = errors.New("relay address not provided")
	errRelayWithoutPeerID = errors.New("relay address without peer id")
	errMissingRemotePeer  = errors.New("remote peer id is required in dial mode")
)

type dcutrTarget struct {
	mode   string
	relay  ma.Multiaddr
	remote peer.ID
}

func parseDCUtRTarget(mode, relayAddr, remotePeerID string) (t dcutrTarget, err error) {
	switch mode {
	case dcutrModeDial, dcutrModeListen:
	default:
		return t, errUnknownMode
	}
	t.mode = mode

	if relayAddr == "" {
		return t, errMissingRelay
	}
	t.relay, err = ma.NewMultiaddr(relayAddr)
	if err != nil {
		return t, fmt.Errorf("relay address: %w", err)
	}
	if _, err := t.relay.ValueForProtocol(ma.P_P2P); err != nil {
		return t, errRelayWithoutPeerID
	}

	if mode == dcutrModeListen {
		return t, nil
	}
	if remotePeerID == "" {
		return t, errMissingRemotePeer
	}
	t.remote, err = peer.Decode(remotePeerID)
	if err != nil {
		return t, fmt.Errorf("remote peer id: %w", err)
	}
	return t, nil
}

// circuitAddr is the relayed address of the remote peer.
func (t dcutrTarget) circuitAddr() (ma.Multiaddr, error) {
	circuit, err := ma.NewMultiaddr("/p2p-circuit/p2p/" + t.remote.String())
	if err != nil {
		return nil, err
	}
	return t.relay.Encapsulate(circuit), nil
}

func (c *command) initDCUtRCmd() (err error) {
	var (
		mode              string
		relayAddr         string
		remotePeerID      string
		seed              uint8
		p2pAddr           string
		verbosity         string
		disableQUIC       bool
		allowPrivateAddrs bool
		maxRounds         int
		idleTimeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dcutr",
		Short: "Establish a direct connection to a peer behind a NAT through a relay",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			target, err := parseDCUtRTarget(mode, relayAddr, remotePeerID)
			if err != nil {
				return err
			}

			logger, err := newLogger(cmd, strings.ToLower(verbosity))
			if err != nil {
				return fmt.Errorf("new logger: %w", err)
			}

			var key libp2pcrypto.PrivKey
			if cmd.Flags().Changed("secret-key-seed") {
				key, err = crypto.DeterministicEd25519Key(seed)
			} else {
				key, err = crypto.GenerateEd25519Key()
			}
			if err != nil {
				return fmt.Errorf("libp2p key: %w", err)
			}
			id, err := crypto.PeerID(key)
			if err != nil {
				return err
			}

			events := make(chan core.Event, 64)
			b, err := node.NewBeacon(p2pAddr, key, logger, node.Options{
				DisableQUIC:       disableQUIC,
				DisableNATPortMap: true,
				Bootnodes:         []string{target.relay.String()},
				AllowPrivateAddrs: allowPrivateAddrs,
				MaxRelays:         1,
				HolePunchRounds:   maxRounds,
				OnEvent: func(ev core.Event) {
					select {
					case events <- ev:
					default:
					}
				},
			})
			if err != nil {
				return err
			}

			cmd.Println("peer id:", id)
			addrs, err := b.Addresses(cmd.Context())
			if err != nil {
				_ = b.Shutdown()
				return err
			}
			for _, addr := range addrs {
				cmd.Println("listening on", addr)
			}

			if target.mode == dcutrModeDial {
				addr, err := target.circuitAddr()
				if err != nil {
					_ = b.Shutdown()
					return err
				}
				cmd.Println("dialing", addr)

				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				err = b.Connect(ctx, addr)
				cancel()
				if err != nil {
					_ = b.Shutdown()
					return fmt.Errorf("dial %s: %w", addr, err)
				}
			}

			interruptChannel := make(chan os.Signal, 1)
			signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(interruptChannel)

			idle := time.NewTimer(idleTimeout)
			defer idle.Stop()

		loop:
			for {
				select {
				case ev := <-events:
					if line, ok := formatEvent(ev); ok {
						cmd.Println(line)
					}
					if !idle.Stop() {
						select {
						case <-idle.C:
						default:
						}
					}
					idle.Reset(idleTimeout)
				case <-idle.C:
					cmd.Println("no events for", idleTimeout)
					break loop
				case sig := <-interruptChannel:
					logger.Debugf("received signal: %v", sig)
					break loop
				}
			}

			return b.Shutdown()
		},
	}

	cmd.Flags().StringVar(&mode, "mode", dcutrModeListen, "dial to connect to the remote peer, listen to wait for it")
	cmd.Flags().StringVar(&relayAddr, "relay-address", "", "full /p2p address of the relay")
	cmd.Flags().StringVar(&remotePeerID, "remote-peer-id", "", "peer id of the listening peer, in dial mode")
	cmd.Flags().Uint8Var(&seed, "secret-key-seed", 0, "seed for a deterministic peer id")
	cmd.Flags().StringVar(&p2pAddr, optionNameP2PAddr, ":0", "P2P listen address")
	cmd.Flags().StringVar(&verbosity, optionNameVerbosity, "info", "log verbosity level 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	cmd.Flags().BoolVar(&disableQUIC, optionNameP2PDisableQUIC, false, "disable P2P QUIC transport")
	cmd.Flags().BoolVar(&allowPrivateAddrs, optionNameAllowPrivateAddrs, false, "use private and loopback addresses for relaying and hole punching")
	cmd.Flags().IntVar(&maxRounds, optionNameHolePunchMaxRounds, 3, "number of synchronised dials before a hole punch fails")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", time.Minute, "exit after no events for this long")

	c.root.AddCommand(cmd)
	return nil
}

// formatEvent returns the line reported for events that describe the
// progress of a hole punch.
func formatEvent(ev core.Event) (string, bool) {
	switch e := ev.(type) {
	case core.ConnectionEstablished:
		return fmt.Sprintf("connection established with %s on %s (relayed: %t)", e.Peer, e.Remote, e.Relayed), true
	case core.ConnectionClosed:
		return fmt.Sprintf("connection closed with %s (relayed: %t)", e.Peer, e.Relayed), true
	case core.Emitted:
		switch v := e.Value.(type) {
		case holepunch.Event:
			switch v.State {
			case holepunch.StateSucceeded:
				return fmt.Sprintf("hole punch with %s succeeded in round %d", v.Peer, v.Round), true
			case holepunch.StateFailed:
				return fmt.Sprintf("hole punch with %s failed: %v", v.Peer, v.Err), true
			}
			return fmt.Sprintf("hole punch with %s: %s", v.Peer, v.State), true
		case relay.Event:
			return fmt.Sprintf("relay %s: %s", v.Relay, v.Status), true
		case reachability.Changed:
			return fmt.Sprintf("reachability: %s", v.Status), true
		}
	}
	return "", false
}
