// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rendezvous_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/rendezvous"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/google/go-cmp/cmp"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

var now = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

func registration(ns string, p peer.ID, ttl time.Duration) rendezvous.Registration {
	return rendezvous.Registration{
		Namespace: ns,
		Peer:      p,
		Addrs:     []ma.Multiaddr{ma.StringCast("/ip4/10.0.0.1/udp/4001/quic")},
		TTL:       ttl,
	}
}

func peers(regs []rendezvous.Registration) []peer.ID {
	ids := make([]peer.ID, 0, len(regs))
	for _, r := range regs {
		ids = append(ids, r.Peer)
	}
	return ids
}

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	r := rendezvous.NewRegistry(rendezvous.RegistryOptions{})
	a := swarm.RandPeerID(t)

	reg, err := r.Register(registration("demo", a, 0), now)
	if err != nil {
		t.Fatal(err)
	}
	if reg.TTL != rendezvous.DefaultTTL || !reg.Expiry.Equal(now.Add(rendezvous.DefaultTTL)) {
		t.Fatalf("got ttl %s expiry %s", reg.TTL, reg.Expiry)
	}

	// registering again refreshes the same entry
	reg, err = r.Register(registration("demo", a, time.Minute), now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Fatalf("got %d registrations, want 1", r.Len())
	}
	if !reg.Expiry.Equal(now.Add(time.Second + time.Minute)) {
		t.Fatalf("got expiry %s", reg.Expiry)
	}
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()

	r := rendezvous.NewRegistry(rendezvous.RegistryOptions{})
	a := swarm.RandPeerID(t)

	for _, tc := range []struct {
		name string
		reg  rendezvous.Registration
		err  error
	}{
		{
			name: "empty namespace",
			reg:  registration("", a, time.Minute),
			err:  rendezvous.ErrInvalidNamespace,
		},
		{
			name: "long namespace",
			reg:  registration(strings.Repeat("n", rendezvous.MaxNamespaceLength+1), a, time.Minute),
			err:  rendezvous.ErrInvalidNamespace,
		},
		{
			name: "short ttl",
			reg:  registration("demo", a, time.Second),
			err:  rendezvous.ErrInvalidTTL,
		},
		{
			name: "long ttl",
			reg:  registration("demo", a, rendezvous.MaxTTL+time.Second),
			err:  rendezvous.ErrInvalidTTL,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Register(tc.reg, now); !errors.Is(err, tc.err) {
				t.Fatalf("got error %v, want %v", err, tc.err)
			}
		})
	}
	if r.Len() != 0 {
		t.Fatalf("got %d registrations, want 0", r.Len())
	}
}

func TestRegistryExpiry(t *testing.T) {
	t.Parallel()

	r := rendezvous.NewRegistry(rendezvous.RegistryOptions{})
	a, b := swarm.RandPeerID(t), swarm.RandPeerID(t)

	if _, err := r.Register(registration("demo", a, 30*time.Second), now); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(registration("demo", b, time.Minute), now); err != nil {
		t.Fatal(err)
	}

	regs, _, err := r.Discover("demo", nil, 0, now.Add(29*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]peer.ID{a, b}, peers(regs)); diff != "" {
		t.Fatalf("discovered (-want +got):\n%s", diff)
	}

	// expired entries are never returned, even before collection
	regs, _, err = r.Discover("demo", nil, 0, now.Add(30*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]peer.ID{b}, peers(regs)); diff != "" {
		t.Fatalf("discovered (-want +got):\n%s", diff)
	}
	if r.Len() != 2 {
		t.Fatalf("got %d registrations before gc, want 2", r.Len())
	}

	if n := r.GC(now.Add(30 * time.Second)); n != 1 {
		t.Fatalf("collected %d, want 1", n)
	}
	if r.Len() != 1 {
		t.Fatalf("got %d registrations after gc, want 1", r.Len())
	}
}

func TestRegistryCookie(t *testing.T) {
	t.Parallel()

	r := rendezvous.NewRegistry(rendezvous.RegistryOptions{})
	ids := make([]peer.ID, 5)
	for i := range ids {
		ids[i] = swarm.RandPeerID(t)
		if _, err := r.Register(registration("demo", ids[i], time.Hour), now); err != nil {
			t.Fatal(err)
		}
	}

	var (
		got    []peer.ID
		cookie []byte
	)
	for _, want := range []int{2, 2, 1, 0} {
		regs, c, err := r.Discover("demo", cookie, 2, now)
		if err != nil {
			t.Fatal(err)
		}
		if len(regs) != want {
			t.Fatalf("got page of %d, want %d", len(regs), want)
		}
		got = append(got, peers(regs)...)
		cookie = c
	}
	if diff := cmp.Diff(ids, got); diff != "" {
		t.Fatalf("paged (-want +got):\n%s", diff)
	}

	// a refresh moves the peer behind the cookie
	if _, err := r.Register(registration("demo", ids[1], time.Hour), now); err != nil {
		t.Fatal(err)
	}
	regs, _, err := r.Discover("demo", cookie, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]peer.ID{ids[1]}, peers(regs)); diff != "" {
		t.Fatalf("after refresh (-want +got):\n%s", diff)
	}

	t.Run("other namespace", func(t *testing.T) {
		if _, _, err := r.Discover("other", cookie, 0, now); !errors.Is(err, rendezvous.ErrInvalidCookie) {
			t.Fatalf("got error %v, want %v", err, rendezvous.ErrInvalidCookie)
		}
	})
	t.Run("other registry", func(t *testing.T) {
		other := rendezvous.NewRegistry(rendezvous.RegistryOptions{})
		if _, _, err := other.Discover("demo", cookie, 0, now); !errors.Is(err, rendezvous.ErrInvalidCookie) {
			t.Fatalf("got error %v, want %v", err, rendezvous.ErrInvalidCookie)
		}
	})
	t.Run("short", func(t *testing.T) {
		if _, _, err := r.Discover("demo", []byte{1, 2, 3}, 0, now); !errors.Is(err, rendezvous.ErrInvalidCookie) {
			t.Fatalf("got error %v, want %v", err, rendezvous.ErrInvalidCookie)
		}
	})
}

func TestRegistryAllNamespaces(t *testing.T) {
	t.Parallel()

	r := rendezvous.NewRegistry(rendezvous.RegistryOptions{})
	a, b := swarm.RandPeerID(t), swarm.RandPeerID(t)

	for _, reg := range []rendezvous.Registration{
		registration("one", a, time.Hour),
		registration("two", b, time.Hour),
		registration("two", a, time.Hour),
	} {
		if _, err := r.Register(reg, now); err != nil {
			t.Fatal(err)
		}
	}

	regs, _, err := r.Discover("", nil, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]peer.ID{a, b, a}, peers(regs)); diff != "" {
		t.Fatalf("discovered (-want +got):\n%s", diff)
	}

	r.Unregister("", a)
	regs, _, err = r.Discover("", nil, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]peer.ID{b}, peers(regs)); diff != "" {
		t.Fatalf("after unregister (-want +got):\n%s", diff)
	}
}

func TestRegistryCapacity(t *testing.T) {
	t.Parallel()

	r := rendezvous.NewRegistry(rendezvous.RegistryOptions{MaxRegistrations: 3, MaxPeerRegistrations: 2})
	a, b := swarm.RandPeerID(t), swarm.RandPeerID(t)

	for _, ns := range []string{"one", "two"} {
		if _, err := r.Register(registration(ns, a, time.Hour), now); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Register(registration("three", a, time.Hour), now); !errors.Is(err, p2p.ErrCapacityExceeded) {
		t.Fatalf("got error %v, want %v", err, p2p.ErrCapacityExceeded)
	}
	// a refresh does not count against the limits
	if _, err := r.Register(registration("one", a, time.Hour), now); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Register(registration("one", b, time.Hour), now); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(registration("two", b, time.Hour), now); !errors.Is(err, p2p.ErrCapacityExceeded) {
		t.Fatalf("got error %v, want %v", err, p2p.ErrCapacityExceeded)
	}

	r.Unregister("two", a)
	if _, err := r.Register(registration("two", b, time.Hour), now); err != nil {
		t.Fatal(err)
	}

	got := r.Registrations(now)
	want := []string{"one", "one", "two"}
	var nss []string
	for _, reg := range got {
		nss = append(nss, reg.Namespace)
	}
	if diff := cmp.Diff(want, nss); diff != "" {
		t.Fatalf("registrations (-want +got):\n%s", diff)
	}
}
