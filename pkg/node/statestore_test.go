// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"io"
	"testing"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/swarm"
)

func TestCheckPeerID(t *testing.T) {
	t.Parallel()

	logger := logging.New(io.Discard, 0)
	dataDir := t.TempDir()

	stateStore, err := InitStateStore(logger, dataDir)
	if err != nil {
		t.Fatal(err)
	}

	id := swarm.RandPeerID(t)
	if err := checkPeerID(stateStore, id); err != nil {
		t.Fatal(err)
	}
	if err := checkPeerID(stateStore, id); err != nil {
		t.Fatalf("same peer id: %v", err)
	}
	if err := stateStore.Close(); err != nil {
		t.Fatal(err)
	}

	// the peer id survives a restart
	stateStore, err = InitStateStore(logger, dataDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = stateStore.Close() })

	if err := checkPeerID(stateStore, swarm.RandPeerID(t)); err == nil {
		t.Fatal("expected error for a changed peer id")
	}
	if err := checkPeerID(stateStore, id); err != nil {
		t.Fatal(err)
	}
}

func TestInitStateStoreInMemory(t *testing.T) {
	t.Parallel()

	stateStore, err := InitStateStore(logging.New(io.Discard, 0), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = stateStore.Close() })

	if err := checkPeerID(stateStore, swarm.RandPeerID(t)); err != nil {
		t.Fatal(err)
	}
}
