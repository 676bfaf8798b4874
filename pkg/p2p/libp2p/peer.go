// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libp2p

import (
	"sort"
	"sync"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// peerRegistry tracks the open connections of every peer.
type peerRegistry struct {
	connections map[libp2ppeer.ID]map[network.Conn]struct{}
	mu          sync.RWMutex

	network.Notifiee
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{
		connections: make(map[libp2ppeer.ID]map[network.Conn]struct{}),
		Notifiee:    new(network.NoopNotifiee),
	}
}

func (r *peerRegistry) Connected(_ network.Network, c network.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peerID := c.RemotePeer()
	if _, ok := r.connections[peerID]; !ok {
		r.connections[peerID] = make(map[network.Conn]struct{})
	}
	r.connections[peerID][c] = struct{}{}
}

func (r *peerRegistry) Disconnected(_ network.Network, c network.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peerID := c.RemotePeer()
	conns, ok := r.connections[peerID]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.connections, peerID)
	}
}

func (r *peerRegistry) exists(peerID libp2ppeer.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connections[peerID]
	return ok
}

// peers returns connected peers, each with the address of its preferred
// connection. Direct connections are preferred over relayed ones.
func (r *peerRegistry) peers() []p2p.Peer {
	r.mu.RLock()
	peers := make([]p2p.Peer, 0, len(r.connections))
	for id, conns := range r.connections {
		var addr ma.Multiaddr
		for c := range conns {
			a := c.RemoteMultiaddr()
			if addr == nil || (p2p.IsRelayAddr(addr) && !p2p.IsRelayAddr(a)) {
				addr = a
			}
		}
		peers = append(peers, p2p.Peer{ID: id, Address: addr})
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID < peers[j].ID
	})
	return peers
}
