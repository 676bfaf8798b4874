// Copyright 2023 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package swarm

import (
	"crypto/rand"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// RandKey generates a random key.
func RandKey(tb testing.TB) Key {
	tb.Helper()

	b := make([]byte, KeyLen)
	if _, err := rand.Read(b); err != nil {
		tb.Fatal(err)
	}
	return NewKey(b)
}

// RandKeyAt generates a random key at proximity order prox relative to key.
func RandKeyAt(tb testing.TB, self Key, prox int) Key {
	tb.Helper()

	k := RandomKeyAt(self, prox)
	if k.Equal(self) {
		tb.Fatalf("generated same key")
	}
	return k
}

// RandPeerID generates the id of a random ed25519 identity.
func RandPeerID(tb testing.TB) peer.ID {
	tb.Helper()

	k, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		tb.Fatal(err)
	}
	id, err := peer.IDFromPrivateKey(k)
	if err != nil {
		tb.Fatal(err)
	}
	return id
}
