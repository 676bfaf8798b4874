// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relay implements the circuit relay v2 hop protocol: a server that
// grants reservations and splices circuits between peers, and a client that
// keeps reservations on relays so the node stays reachable behind NAT.
//
// Relayed connections themselves are established by the libp2p circuit
// transport, which handles the stop protocol on the reserving peer.
package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	pbv2 "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/pb"
	"github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/proto"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	protocolName    = "/libp2p/circuit/relay"
	protocolVersion = "0.2.0"
	hopStreamName   = "hop"
	stopStreamName  = "stop"
)

var (
	// HopProtocolID is the protocol spoken by relays.
	HopProtocolID = protocol.ID(proto.ProtoIDv2Hop)
	// StopProtocolID is the protocol spoken by reserving peers.
	StopProtocolID = protocol.ID(proto.ProtoIDv2Stop)
)

const maxPeerAddrs = 16

var (
	errNoReservation    = errors.New("no reservation")
	errPermissionDenied = errors.New("permission denied")
)

// Reservation is a slot on a relay that lets other peers open circuits to
// Peer until Expiry. Limit is the number of concurrent circuits the relay
// allows, zero when unknown.
type Reservation struct {
	Relay  peer.ID        `json:"relay"`
	Peer   peer.ID        `json:"peer"`
	Expiry time.Time      `json:"expiry"`
	Limit  int            `json:"limit"`
	Addrs  []ma.Multiaddr `json:"addrs"`
}

// Valid reports whether the reservation has not expired at now.
func (r Reservation) Valid(now time.Time) bool {
	return now.Before(r.Expiry)
}

// StatusError is a non OK status received from a relay.
type StatusError struct {
	Status pbv2.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay status %s", e.Status)
}

// Unwrap maps the capacity statuses to p2p.ErrCapacityExceeded.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case pbv2.Status_RESERVATION_REFUSED, pbv2.Status_RESOURCE_LIMIT_EXCEEDED:
		return p2p.ErrCapacityExceeded
	case pbv2.Status_NO_RESERVATION:
		return errNoReservation
	case pbv2.Status_PERMISSION_DENIED:
		return errPermissionDenied
	case pbv2.Status_MALFORMED_MESSAGE, pbv2.Status_UNEXPECTED_MESSAGE:
		return p2p.ErrProtocolViolation
	}
	return nil
}

// statusFor maps a refusal to the status sent on the wire.
func statusFor(err error) pbv2.Status {
	switch {
	case errors.Is(err, errPermissionDenied):
		return pbv2.Status_PERMISSION_DENIED
	case errors.Is(err, errNoReservation):
		return pbv2.Status_NO_RESERVATION
	case errors.Is(err, p2p.ErrCapacityExceeded):
		return pbv2.Status_RESOURCE_LIMIT_EXCEEDED
	case errors.Is(err, p2p.ErrProtocolViolation):
		return pbv2.Status_MALFORMED_MESSAGE
	}
	return pbv2.Status_CONNECTION_FAILED
}

func peerToPB(info peer.AddrInfo) *pbv2.Peer {
	p := &pbv2.Peer{Id: []byte(info.ID)}
	for _, a := range info.Addrs {
		p.Addrs = append(p.Addrs, a.Bytes())
	}
	return p
}

func peerFromPB(p *pbv2.Peer) (peer.AddrInfo, error) {
	if p == nil {
		return peer.AddrInfo{}, p2p.NewProtocolViolation("missing peer")
	}
	id, err := peer.IDFromBytes(p.GetId())
	if err != nil {
		return peer.AddrInfo{}, p2p.NewProtocolViolation("peer id: %v", err)
	}
	info := peer.AddrInfo{ID: id}
	for _, b := range p.GetAddrs() {
		if len(info.Addrs) == maxPeerAddrs {
			break
		}
		a, err := ma.NewMultiaddrBytes(b)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, a)
	}
	return info, nil
}

// CircuitAddr builds the relayed listen address of a reservation from an
// address of the relay.
func CircuitAddr(relayAddr ma.Multiaddr, relay peer.ID) (ma.Multiaddr, error) {
	transport, _ := peer.SplitAddr(relayAddr)
	if transport == nil {
		return nil, fmt.Errorf("relay address %s has no transport", relayAddr)
	}
	suffix, err := ma.NewMultiaddr(fmt.Sprintf("/p2p/%s/p2p-circuit", relay))
	if err != nil {
		return nil, err
	}
	return transport.Encapsulate(suffix), nil
}
