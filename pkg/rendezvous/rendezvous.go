// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rendezvous implements a namespace keyed directory of peers. The
// server keeps registrations with a ttl and pages through them with opaque
// cookies. The client registers the node at rendezvous points and
// discovers other peers there.
package rendezvous

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/rendezvous/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/record"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	protocolName    = "rendezvous"
	protocolVersion = "1.0.0"
	streamName      = "rendezvous"
)

// ProtocolID is the libp2p protocol id of the rendezvous stream.
var ProtocolID = protocol.ID(p2p.NewStreamName(protocolName, protocolVersion, streamName))

const maxRecordAddrs = 16

// StatusError is a non OK status received from a rendezvous point.
type StatusError struct {
	Status pb.ResponseStatus
	Text   string
}

func (e *StatusError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("rendezvous status %s", e.Status)
	}
	return fmt.Sprintf("rendezvous status %s: %s", e.Status, e.Text)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case pb.StatusUnavailable:
		return p2p.ErrCapacityExceeded
	case pb.StatusInvalidNamespace:
		return ErrInvalidNamespace
	case pb.StatusInvalidTTL:
		return ErrInvalidTTL
	case pb.StatusInvalidCookie:
		return ErrInvalidCookie
	case pb.StatusNotAuthorized:
		return ErrNotAuthorized
	case pb.StatusInvalidSignedPeerRecord:
		return p2p.ErrProtocolViolation
	}
	return nil
}

// statusFor maps a refusal to the status sent on the wire.
func statusFor(err error) pb.ResponseStatus {
	switch {
	case errors.Is(err, p2p.ErrCapacityExceeded):
		return pb.StatusUnavailable
	case errors.Is(err, ErrInvalidNamespace):
		return pb.StatusInvalidNamespace
	case errors.Is(err, ErrInvalidTTL):
		return pb.StatusInvalidTTL
	case errors.Is(err, ErrInvalidCookie):
		return pb.StatusInvalidCookie
	case errors.Is(err, ErrNotAuthorized):
		return pb.StatusNotAuthorized
	case errors.Is(err, p2p.ErrProtocolViolation):
		return pb.StatusInvalidSignedPeerRecord
	}
	return pb.StatusInternalError
}

// SealRecord signs a peer record of the key owner with the addresses.
func SealRecord(key crypto.PrivKey, addrs []ma.Multiaddr) ([]byte, error) {
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("peer id: %w", err)
	}
	env, err := record.Seal(peer.PeerRecordFromAddrInfo(peer.AddrInfo{ID: id, Addrs: addrs}), key)
	if err != nil {
		return nil, fmt.Errorf("seal peer record: %w", err)
	}
	return env.Marshal()
}

// OpenRecord verifies a signed peer record and returns its peer and
// addresses. The record must be signed by the peer it describes.
func OpenRecord(b []byte) (peer.ID, []ma.Multiaddr, error) {
	env, rec, err := record.ConsumeEnvelope(b, peer.PeerRecordEnvelopeDomain)
	if err != nil {
		return "", nil, p2p.NewProtocolViolation("signed peer record: %v", err)
	}
	pr, ok := rec.(*peer.PeerRecord)
	if !ok {
		return "", nil, p2p.NewProtocolViolation("signed record of type %T", rec)
	}
	signer, err := peer.IDFromPublicKey(env.PublicKey)
	if err != nil {
		return "", nil, p2p.NewProtocolViolation("record signer: %v", err)
	}
	if signer != pr.PeerID {
		return "", nil, p2p.NewProtocolViolation("record of %s signed by %s", pr.PeerID, signer)
	}
	addrs := pr.Addrs
	if len(addrs) > maxRecordAddrs {
		addrs = addrs[:maxRecordAddrs]
	}
	return pr.PeerID, addrs, nil
}

// PreferredAddrs orders UDP based addresses first, then TCP, then the rest.
func PreferredAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	out := append([]ma.Multiaddr(nil), addrs...)
	rank := func(a ma.Multiaddr) int {
		if _, err := a.ValueForProtocol(ma.P_UDP); err == nil {
			return 0
		}
		if _, err := a.ValueForProtocol(ma.P_TCP); err == nil {
			return 1
		}
		return 2
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
