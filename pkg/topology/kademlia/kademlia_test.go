// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kademlia_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethersphere/beacon/pkg/addressbook"
	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/p2p/streamtest"
	mockstate "github.com/ethersphere/beacon/pkg/statestore/mock"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/ethersphere/beacon/pkg/topology"
	"github.com/ethersphere/beacon/pkg/topology/kademlia"
	"github.com/ethersphere/beacon/pkg/topology/kademlia/pb"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type node struct {
	id       peer.ID
	addr     ma.Multiaddr
	core     *core.Core
	kad      *kademlia.Kad
	book     addressbook.Store
	recorder *streamtest.Recorder
}

// newNetwork creates n kademlia nodes that reach each other through
// in-memory streams.
func newNetwork(t *testing.T, n int, o kademlia.Options) []*node {
	t.Helper()

	protocols := make(map[peer.ID][]p2p.ProtocolSpec)
	nodes := make([]*node, n)
	for i := range nodes {
		id := swarm.RandPeerID(t)
		addr := ma.StringCast(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", 10000+i))
		logger := logging.New(io.Discard, 0)

		c := core.New(core.Options{Logger: logger})
		book := addressbook.New(mockstate.NewStateStore())
		recorder := streamtest.New(
			streamtest.WithBaseAddr(id, addr),
			streamtest.WithPeerProtocols(protocols),
		)
		opts := o
		opts.LocalAddrs = func() []ma.Multiaddr { return []ma.Multiaddr{addr} }
		kad := kademlia.New(id, c, recorder, nil, book, logger, opts)
		if err := c.Start(); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			if err := c.Close(); err != nil {
				t.Error(err)
			}
		})

		protocols[id] = []p2p.ProtocolSpec{kad.Protocol()}
		nodes[i] = &node{id: id, addr: addr, core: c, kad: kad, book: book, recorder: recorder}
	}
	return nodes
}

// know adds the peers to the routing table and the address book of n.
func (n *node) know(t *testing.T, peers ...*node) {
	t.Helper()

	for _, p := range peers {
		if p == n {
			continue
		}
		if err := n.book.Put(addressbook.Record{ID: p.id, Addrs: []ma.Multiaddr{p.addr}}); err != nil {
			t.Fatal(err)
		}
		p := p
		if err := n.core.Call(context.Background(), func() {
			n.kad.Table().Add(p.id, time.Now())
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func (n *node) tableLen(t *testing.T) (l int) {
	t.Helper()

	if err := n.core.Call(context.Background(), func() {
		l = n.kad.Table().Len()
	}); err != nil {
		t.Fatal(err)
	}
	return l
}

func lookup(t *testing.T, n *node, target swarm.Key) ([]peer.AddrInfo, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return n.kad.LookupContext(ctx, target)
}

func TestLookupEmptyTable(t *testing.T) {
	t.Parallel()

	nodes := newNetwork(t, 1, kademlia.Options{})

	_, err := lookup(t, nodes[0], swarm.RandKey(t))
	if !errors.Is(err, topology.ErrNotFound) {
		t.Fatalf("got error %v, want %v", err, topology.ErrNotFound)
	}
}

func TestLookupSortedAndBounded(t *testing.T) {
	t.Parallel()

	const bucketSize = 5
	nodes := newNetwork(t, 20, kademlia.Options{BucketSize: bucketSize})
	for _, n := range nodes {
		n.know(t, nodes...)
	}

	for i := 0; i < 5; i++ {
		target := swarm.RandKey(t)
		peers, err := lookup(t, nodes[0], target)
		if err != nil {
			t.Fatal(err)
		}
		if len(peers) == 0 || len(peers) > bucketSize {
			t.Fatalf("got %d peers, want between 1 and %d", len(peers), bucketSize)
		}
		for j := 1; j < len(peers); j++ {
			prev, cur := swarm.KeyFromPeer(peers[j-1].ID), swarm.KeyFromPeer(peers[j].ID)
			if bytes.Compare(xorDistance(target, prev), xorDistance(target, cur)) > 0 {
				t.Fatalf("peers not sorted by distance at %d", j)
			}
		}
	}
}

func TestLookupIterative(t *testing.T) {
	t.Parallel()

	nodes := newNetwork(t, 12, kademlia.Options{BucketSize: 20})

	// the first node only knows the second one, which knows everybody
	nodes[0].know(t, nodes[1])
	nodes[1].know(t, nodes...)
	for _, n := range nodes[2:] {
		n.know(t, nodes[1])
	}

	want := nodes[7]
	peers, err := lookup(t, nodes[0], swarm.KeyFromPeer(want.id))
	if err != nil {
		t.Fatal(err)
	}
	if peers[0].ID != want.id {
		t.Fatalf("got closest peer %s, want %s", peers[0].ID, want.id)
	}
	if len(peers[0].Addrs) != 1 || !peers[0].Addrs[0].Equal(want.addr) {
		t.Fatalf("got addresses %v, want %v", peers[0].Addrs, want.addr)
	}

	// the responders were learned
	if l := nodes[0].tableLen(t); l < 2 {
		t.Fatalf("got %d peers in the table, want at least 2", l)
	}
	// the queried node learned the requester
	if err := spinWait(func() bool { return want.tableLen(t) >= 2 }); err != nil {
		t.Fatal("requester not added to the table of the queried node")
	}
}

func TestAnnounce(t *testing.T) {
	t.Parallel()

	nodes := newNetwork(t, 6, kademlia.Options{})
	for _, n := range nodes {
		n.know(t, nodes...)
	}

	announced := make(chan int, 1)
	if err := nodes[0].core.Call(context.Background(), func() {
		nodes[0].kad.Announce(func(stored int, err error) {
			if err != nil {
				t.Error(err)
			}
			announced <- stored
		})
	}); err != nil {
		t.Fatal(err)
	}

	var stored int
	select {
	case stored = <-announced:
	case <-time.After(10 * time.Second):
		t.Fatal("announce timed out")
	}
	if stored == 0 {
		t.Fatal("record not stored on any peer")
	}

	// the record is stored by the remote loops after the streams are closed
	announcedTo := func() (found int) {
		for _, n := range nodes[1:] {
			rec, err := n.book.Get(nodes[0].id)
			if err != nil {
				t.Fatal(err)
			}
			if len(rec.Addrs) == 1 && rec.Addrs[0].Equal(nodes[0].addr) && !rec.LastSeen.IsZero() {
				found++
			}
		}
		return found
	}
	if err := spinWait(func() bool { return announcedTo() >= stored }); err != nil {
		t.Fatalf("record refreshed on %d peers, want at least %d", announcedTo(), stored)
	}
}

func TestAddProviderForOtherPeer(t *testing.T) {
	t.Parallel()

	nodes := newNetwork(t, 2, kademlia.Options{})
	other := swarm.RandPeerID(t)

	s, err := nodes[0].recorder.NewStream(context.Background(), nodes[1].id, "kademlia", "1.0.0", "kad")
	if err != nil {
		t.Fatal(err)
	}
	w := protobuf.NewWriter(s)
	if err := w.WriteMsg(&pb.Message{
		Type:          pb.MessageTypeAddProvider,
		ProviderPeers: []*pb.Peer{{ID: []byte(other), Addrs: [][]byte{nodes[0].addr.Bytes()}}},
	}); err != nil {
		t.Fatal(err)
	}

	records := nodes[0].recorder.WaitRecords(t, nodes[1].id, "kademlia", "1.0.0", "kad", 1, 5)
	if err := records[0].Err(); !errors.Is(err, p2p.ErrProtocolViolation) {
		t.Fatalf("got error %v, want %v", err, p2p.ErrProtocolViolation)
	}
	if _, err := nodes[1].book.Get(other); !errors.Is(err, addressbook.ErrNotFound) {
		t.Fatalf("got error %v, want %v", err, addressbook.ErrNotFound)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	nodes := newNetwork(t, 2, kademlia.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := nodes[0].kad.Ping(ctx, nodes[1].id); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	nodes := newNetwork(t, 5, kademlia.Options{})
	nodes[0].know(t, nodes...)

	s, err := nodes[0].kad.SnapshotContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Population != 4 {
		t.Fatalf("got population %d, want 4", s.Population)
	}
	total := 0
	for _, b := range s.Bins {
		total += b.Population
		if len(b.Peers) != b.Population {
			t.Fatalf("bin lists %d peers, population %d", len(b.Peers), b.Population)
		}
	}
	if total != 4 {
		t.Fatalf("got %d peers in bins, want 4", total)
	}
	if !s.Base.Equal(swarm.KeyFromPeer(nodes[0].id)) {
		t.Fatal("wrong base key")
	}
}

func TestPruneStaleRecords(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	logger := logging.New(io.Discard, 0)
	c := core.New(core.Options{Clock: mock, Logger: logger})
	book := addressbook.New(mockstate.NewStateStore())
	self := swarm.RandPeerID(t)
	kad := kademlia.New(self, c, streamtest.New(), nil, book, logger, kademlia.Options{
		RefreshInterval: time.Minute,
		RecordTTL:       time.Hour,
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Error(err)
		}
	})

	stale, fresh := swarm.RandPeerID(t), swarm.RandPeerID(t)
	addr := ma.StringCast("/ip4/127.0.0.1/tcp/1634")
	for _, r := range []addressbook.Record{
		{ID: stale, Addrs: []ma.Multiaddr{addr}, LastSeen: mock.Now().Add(-2 * time.Hour)},
		{ID: fresh, Addrs: []ma.Multiaddr{addr}, LastSeen: mock.Now()},
	} {
		if err := book.Put(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := kad.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mock.Add(time.Minute)

	if err := spinWait(func() bool {
		_, err := book.Get(stale)
		return errors.Is(err, addressbook.ErrNotFound)
	}); err != nil {
		t.Fatal("stale record not pruned")
	}
	if _, err := book.Get(fresh); err != nil {
		t.Fatalf("fresh record: %v", err)
	}
}

func spinWait(cond func() bool) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("timeout")
}
