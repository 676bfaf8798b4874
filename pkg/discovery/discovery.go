// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package discovery indexes connected peers by the protocols they announce
// in identify, so components can find relays, rendezvous points and
// reachability probers among the peers the node already knows.
package discovery

import (
	"context"
	"sort"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// Index is the discovery state. It is owned by the core loop.
type Index struct {
	core    *core.Core
	indexed map[protocol.ID]map[peer.ID]struct{}
	addrs   map[peer.ID][]ma.Multiaddr
}

// New indexes the peers speaking any of the protocols.
func New(c *core.Core, protocols ...protocol.ID) *Index {
	i := &Index{
		core:    c,
		indexed: make(map[protocol.ID]map[peer.ID]struct{}),
		addrs:   make(map[peer.ID][]ma.Multiaddr),
	}
	for _, p := range protocols {
		i.indexed[p] = make(map[peer.ID]struct{})
	}
	c.Register(core.TagDiscovery, i)
	return i
}

// Handle implements core.Behaviour.
func (i *Index) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.Identify:
		speaks := make(map[protocol.ID]bool, len(e.Protocols))
		for _, p := range e.Protocols {
			speaks[p] = true
		}
		found := false
		for p, peers := range i.indexed {
			if speaks[p] {
				peers[e.Peer] = struct{}{}
				found = true
			} else {
				// protocols may be removed by a later identify push
				delete(peers, e.Peer)
			}
		}
		if found {
			i.addrs[e.Peer] = e.ListenAddrs
		} else {
			delete(i.addrs, e.Peer)
		}
	case core.ConnectionClosed:
		if e.Remaining > 0 {
			return
		}
		i.remove(e.Peer)
	}
}

func (i *Index) remove(p peer.ID) {
	for _, peers := range i.indexed {
		delete(peers, p)
	}
	delete(i.addrs, p)
}

// Peers returns the peers speaking the protocol with the listen addresses
// they announced, sorted by id. Loop side.
func (i *Index) Peers(proto protocol.ID) []peer.AddrInfo {
	peers := i.indexed[proto]
	infos := make([]peer.AddrInfo, 0, len(peers))
	for p := range peers {
		infos = append(infos, peer.AddrInfo{ID: p, Addrs: i.addrs[p]})
	}
	sort.Slice(infos, func(a, b int) bool { return infos[a].ID < infos[b].ID })
	return infos
}

// Has reports whether the peer is known to speak the protocol. Loop side.
func (i *Index) Has(proto protocol.ID, p peer.ID) bool {
	_, ok := i.indexed[proto][p]
	return ok
}

// Snapshot returns the number of indexed peers per protocol.
func (i *Index) Snapshot(ctx context.Context) (s map[protocol.ID]int, err error) {
	err = i.core.Call(ctx, func() {
		s = make(map[protocol.ID]int, len(i.indexed))
		for p, peers := range i.indexed {
			s[p] = len(peers)
		}
	})
	return s, err
}
