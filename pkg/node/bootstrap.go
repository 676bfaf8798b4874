// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"
)

const resolveTimeout = 30 * time.Second

var errNoBootnodes = errors.New("no bootnode address resolved")

// parseBootnodes parses the configured boot node addresses.
func parseBootnodes(bootnodes []string) ([]ma.Multiaddr, error) {
	addrs := make([]ma.Multiaddr, 0, len(bootnodes))
	for _, a := range bootnodes {
		addr, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("invalid bootnode address %s: %w", a, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// resolveBootnodes resolves /dnsaddr boot node addresses into the full
// /p2p addresses they point to and groups them by peer. The boot nodes are
// used as static relays and rendezvous points, both of which need the peer
// id upfront. Unresolvable addresses are logged and skipped.
func resolveBootnodes(ctx context.Context, logger logging.Logger, addrs []ma.Multiaddr) ([]peer.AddrInfo, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		resolved []ma.Multiaddr
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			_, err := p2p.Discover(ctx, addr, func(a ma.Multiaddr) (bool, error) {
				if _, err := peer.AddrInfoFromP2pAddr(a); err != nil {
					logger.Debugf("bootnode %s: %v", a, err)
					return false, nil
				}
				mu.Lock()
				resolved = append(resolved, a)
				mu.Unlock()
				return false, nil
			})
			if err != nil {
				logger.Warningf("resolve bootnode %s: %v", addr, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(resolved) == 0 {
		return nil, errNoBootnodes
	}
	return peer.AddrInfosFromP2pAddrs(resolved...)
}
