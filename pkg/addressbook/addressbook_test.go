// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addressbook_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethersphere/beacon/pkg/addressbook"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/statestore/mock"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type bookFunc func(t *testing.T) (book addressbook.Store)

func TestInMem(t *testing.T) {
	run(t, func(t *testing.T) addressbook.Store {
		return addressbook.New(mock.NewStateStore())
	})
}

func mustPeer(t *testing.T, s string) peer.ID {
	t.Helper()
	id, err := peer.Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func run(t *testing.T, f bookFunc) {
	t.Helper()

	p1 := mustPeer(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC")
	p2 := mustPeer(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN")
	a1 := ma.StringCast("/ip4/1.1.1.1/tcp/4001")
	a2 := ma.StringCast("/ip4/1.1.1.1/udp/4001/quic-v1")
	now := time.Unix(1700000000, 0).UTC()

	t.Run("get put", func(t *testing.T) {
		book := f(t)

		if err := book.Put(addressbook.Record{ID: p1, Addrs: []ma.Multiaddr{a1}, LastSeen: now}); err != nil {
			t.Fatal(err)
		}

		v, err := book.Get(p1)
		if err != nil {
			t.Fatal(err)
		}
		if len(v.Addrs) != 1 || !v.Addrs[0].Equal(a1) {
			t.Fatalf("got addresses %v, want %v", v.Addrs, a1)
		}
		if !v.LastSeen.Equal(now) {
			t.Fatalf("got last seen %v, want %v", v.LastSeen, now)
		}

		if _, err := book.Get(p2); !errors.Is(err, addressbook.ErrNotFound) {
			t.Fatalf("got error %v, want %v", err, addressbook.ErrNotFound)
		}
	})

	t.Run("merge", func(t *testing.T) {
		book := f(t)

		if err := book.Put(addressbook.Record{ID: p1, Addrs: []ma.Multiaddr{a1}, LastSeen: now}); err != nil {
			t.Fatal(err)
		}
		if err := book.Put(addressbook.Record{ID: p1, Addrs: []ma.Multiaddr{a1, a2}, LastSeen: now.Add(time.Minute)}); err != nil {
			t.Fatal(err)
		}
		if err := book.Put(addressbook.Record{ID: p1, LastSeen: now}); err != nil {
			t.Fatal(err)
		}

		v, err := book.Get(p1)
		if err != nil {
			t.Fatal(err)
		}
		if len(v.Addrs) != 2 {
			t.Fatalf("got %d addresses, want 2", len(v.Addrs))
		}
		if !v.LastSeen.Equal(now.Add(time.Minute)) {
			t.Fatalf("got last seen %v, want %v", v.LastSeen, now.Add(time.Minute))
		}
	})

	t.Run("reachability", func(t *testing.T) {
		book := f(t)

		if err := book.SetReachability(p2, p2p.ReachabilityStatusPublic); err != nil {
			t.Fatal(err)
		}
		if err := book.Put(addressbook.Record{ID: p2, Addrs: []ma.Multiaddr{a1}}); err != nil {
			t.Fatal(err)
		}
		v, err := book.Get(p2)
		if err != nil {
			t.Fatal(err)
		}
		if v.Reachability != p2p.ReachabilityStatusPublic {
			t.Fatalf("got reachability %v, want %v", v.Reachability, p2p.ReachabilityStatusPublic)
		}
	})

	t.Run("prune", func(t *testing.T) {
		book := f(t)

		if err := book.Put(addressbook.Record{ID: p1, Addrs: []ma.Multiaddr{a1}, LastSeen: now.Add(-48 * time.Hour)}); err != nil {
			t.Fatal(err)
		}
		if err := book.Put(addressbook.Record{ID: p2, Addrs: []ma.Multiaddr{a2}, LastSeen: now.Add(-time.Hour)}); err != nil {
			t.Fatal(err)
		}

		n, err := book.Prune(now, 24*time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("pruned %d records, want 1", n)
		}

		peers, err := book.Peers()
		if err != nil {
			t.Fatal(err)
		}
		if len(peers) != 1 || peers[0] != p2 {
			t.Fatalf("got peers %v, want %v", peers, []peer.ID{p2})
		}

		if err := book.Remove(p2); err != nil {
			t.Fatal(err)
		}
		records, err := book.Records()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 0 {
			t.Fatalf("got %d records, want none", len(records))
		}
	})
}
