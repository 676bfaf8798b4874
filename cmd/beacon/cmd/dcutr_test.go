// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethersphere/beacon/cmd/beacon/cmd"
	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/crypto"
	"github.com/ethersphere/beacon/pkg/holepunch"
	"github.com/ethersphere/beacon/pkg/relay"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

func peerID(t *testing.T, seed uint8) peer.ID {
	t.Helper()

	k, err := crypto.DeterministicEd25519Key(seed)
	if err != nil {
		t.Fatal(err)
	}
	id, err := crypto.PeerID(k)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestParseDCUtRTarget(t *testing.T) {
	relayID, remoteID := peerID(t, 1).String(), peerID(t, 2).String()
	relayAddr := "/ip4/127.0.0.1/tcp/4001/p2p/" + relayID

	for _, tc := range []struct {
		name         string
		mode         string
		relayAddr    string
		remotePeerID string
		wantErr      error
		wantCircuit  string
	}{
		{
			name:      "listen",
			mode:      "listen",
			relayAddr: relayAddr,
		},
		{
			name:         "dial",
			mode:         "dial",
			relayAddr:    relayAddr,
			remotePeerID: remoteID,
			wantCircuit:  relayAddr + "/p2p-circuit/p2p/" + remoteID,
		},
		{
			name:      "unknown mode",
			mode:      "punch",
			relayAddr: relayAddr,
			wantErr:   cmd.ErrUnknownMode,
		},
		{
			name:    "no relay",
			mode:    "listen",
			wantErr: cmd.ErrMissingRelay,
		},
		{
			name:      "relay without peer id",
			mode:      "listen",
			relayAddr: "/ip4/127.0.0.1/tcp/4001",
			wantErr:   cmd.ErrRelayWithoutPeerID,
		},
		{
			name:      "dial without remote peer",
			mode:      "dial",
			relayAddr: relayAddr,
			wantErr:   cmd.ErrMissingRemotePeer,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			target, err := cmd.ParseDCUtRTarget(tc.mode, tc.relayAddr, tc.remotePeerID)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got error %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			if target.Mode() != tc.mode {
				t.Errorf("got mode %q, want %q", target.Mode(), tc.mode)
			}
			if target.Relay().String() != tc.relayAddr {
				t.Errorf("got relay %s, want %s", target.Relay(), tc.relayAddr)
			}
			if tc.wantCircuit == "" {
				return
			}
			circuit, err := target.CircuitAddr()
			if err != nil {
				t.Fatal(err)
			}
			if circuit.String() != tc.wantCircuit {
				t.Errorf("got circuit address %s, want %s", circuit, tc.wantCircuit)
			}
		})
	}

	t.Run("invalid remote peer id", func(t *testing.T) {
		if _, err := cmd.ParseDCUtRTarget("dial", relayAddr, "invalid"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid relay address", func(t *testing.T) {
		if _, err := cmd.ParseDCUtRTarget("listen", "invalid", ""); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestDCUtRCmdValidation(t *testing.T) {
	relayID := peerID(t, 1).String()
	err := newCommand(t,
		cmd.WithArgs("dcutr", "--mode", "dial", "--relay-address", "/ip4/127.0.0.1/tcp/4001/p2p/"+relayID),
		cmd.WithOutput(new(bytes.Buffer)),
	).Execute()
	if !errors.Is(err, cmd.ErrMissingRemotePeer) {
		t.Fatalf("got error %v, want %v", err, cmd.ErrMissingRemotePeer)
	}
}

func TestFormatEvent(t *testing.T) {
	r, p := peerID(t, 1), peerID(t, 2)
	relayID, remoteID := r.String(), p.String()
	remote := ma.StringCast("/ip4/1.2.3.4/tcp/4001")

	for _, tc := range []struct {
		name   string
		event  core.Event
		want   string
		wantOK bool
	}{
		{
			name:   "direct connection",
			event:  core.ConnectionEstablished{Peer: p, Remote: remote},
			want:   "connection established with " + remoteID + " on /ip4/1.2.3.4/tcp/4001 (relayed: false)",
			wantOK: true,
		},
		{
			name:   "relayed connection closed",
			event:  core.ConnectionClosed{Peer: p, Relayed: true},
			want:   "connection closed with " + remoteID + " (relayed: true)",
			wantOK: true,
		},
		{
			name:   "hole punch succeeded",
			event:  core.Emitted{Tag: core.TagDcutr, Peer: p, Value: holepunch.Event{Peer: p, State: holepunch.StateSucceeded, Round: 2}},
			want:   "hole punch with " + remoteID + " succeeded in round 2",
			wantOK: true,
		},
		{
			name:   "hole punch failed",
			event:  core.Emitted{Tag: core.TagDcutr, Peer: p, Value: holepunch.Event{Peer: p, State: holepunch.StateFailed, Err: errors.New("no direct connection")}},
			want:   "hole punch with " + remoteID + " failed: no direct connection",
			wantOK: true,
		},
		{
			name:   "hole punch in progress",
			event:  core.Emitted{Tag: core.TagDcutr, Peer: p, Value: holepunch.Event{Peer: p, State: holepunch.StatePunching}},
			want:   "hole punch with " + remoteID + ": punching",
			wantOK: true,
		},
		{
			name:   "relay accepted",
			event:  core.Emitted{Tag: core.TagRelayClient, Peer: r, Value: relay.Event{Relay: r, Status: relay.StatusAccepted}},
			want:   "relay " + relayID + ": accepted",
			wantOK: true,
		},
		{
			name:  "unrelated",
			event: core.Emitted{Tag: core.TagKad, Peer: p, Value: struct{}{}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := cmd.FormatEvent(tc.event)
			if ok != tc.wantOK {
				t.Fatalf("got ok %t, want %t", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
