// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package libp2ptest constructs loopback libp2p services for tests.
package libp2ptest

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ethersphere/beacon/pkg/crypto"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p/libp2p"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// NewLibp2pService creates a new libp2p service listening on loopback TCP
// only. It is closed on test cleanup.
func NewLibp2pService(t *testing.T, o libp2p.Options) *libp2p.Service {
	t.Helper()

	if o.PrivateKey == nil {
		k, err := crypto.GenerateEd25519Key()
		if err != nil {
			t.Fatal(err)
		}
		o.PrivateKey = k
	}
	o.DisableQUIC = true
	o.DisableNATPortMap = true

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := libp2p.New(ctx, "127.0.0.1:0", logging.New(io.Discard, 0), o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close libp2p service: %v", err)
		}
	})

	return s
}

// Address returns the first full /p2p address of the service.
func Address(t *testing.T, s *libp2p.Service) ma.Multiaddr {
	t.Helper()

	addrs, err := s.Addresses()
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) == 0 {
		t.Fatal("service has no addresses")
	}
	return addrs[0]
}

// Connect connects a to b and fails the test on error.
func Connect(t *testing.T, a, b *libp2p.Service) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := a.Connect(ctx, Address(t, b)); err != nil {
		t.Fatal(err)
	}
}

// ExpectConnected waits until a reports a connection to the peer.
func ExpectConnected(t *testing.T, s *libp2p.Service, id libp2ppeer.ID) {
	t.Helper()

	for i := 0; i < 200; i++ {
		for _, p := range s.Peers() {
			if p.ID == id {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("peer %s not connected", id)
}
