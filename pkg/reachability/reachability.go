// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reachability classifies the node as publicly reachable or not by
// asking connected peers to dial back on its listen addresses, and answers
// such requests from other peers over the autonat v1 protocol.
package reachability

import (
	"errors"
	"fmt"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	pb "github.com/libp2p/go-libp2p/p2p/host/autonat/pb"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	protocolName    = "/libp2p/autonat"
	protocolVersion = "1.0.0"
	streamName      = ""
)

// ProtocolID is the protocol spoken by peers that dial back.
var ProtocolID = protocol.ID(p2p.NewStreamName(protocolName, protocolVersion, streamName))

const maxDialAddrs = 16

var (
	errDialError   = errors.New("dial back failed")
	errDialRefused = errors.New("dial back refused")
	errBadRequest  = errors.New("bad dial request")
)

// Changed is emitted to the application when the local reachability
// changes.
type Changed struct {
	Status p2p.ReachabilityStatus
	// Addr is the address a peer reached the node on, when public.
	Addr ma.Multiaddr
}

// StatusError is a non OK status received from a dialing peer.
type StatusError struct {
	Status pb.Message_ResponseStatus
	Text   string
}

func (e *StatusError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("autonat status %s", e.Status)
	}
	return fmt.Sprintf("autonat status %s: %s", e.Status, e.Text)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case pb.Message_E_DIAL_ERROR:
		return errDialError
	case pb.Message_E_DIAL_REFUSED:
		return errDialRefused
	case pb.Message_E_BAD_REQUEST:
		return errBadRequest
	}
	return nil
}

// IsDialError reports whether a probe failed because the peer could not
// dial back, as opposed to a refusal or a transport failure.
func IsDialError(err error) bool {
	return errors.Is(err, errDialError)
}

func statusFor(err error) pb.Message_ResponseStatus {
	switch {
	case errors.Is(err, errDialError):
		return pb.Message_E_DIAL_ERROR
	case errors.Is(err, errDialRefused), errors.Is(err, p2p.ErrCapacityExceeded):
		return pb.Message_E_DIAL_REFUSED
	case errors.Is(err, errBadRequest), errors.Is(err, p2p.ErrProtocolViolation):
		return pb.Message_E_BAD_REQUEST
	}
	return pb.Message_E_INTERNAL_ERROR
}

func newDialMessage(info peer.AddrInfo) *pb.Message {
	pi := &pb.Message_PeerInfo{Id: []byte(info.ID)}
	for _, a := range info.Addrs {
		pi.Addrs = append(pi.Addrs, a.Bytes())
	}
	return &pb.Message{
		Type: pb.Message_DIAL.Enum(),
		Dial: &pb.Message_Dial{Peer: pi},
	}
}

func newDialResponse(status pb.Message_ResponseStatus, text string, addr ma.Multiaddr) *pb.Message {
	dr := &pb.Message_DialResponse{Status: status.Enum()}
	if text != "" {
		dr.StatusText = &text
	}
	if addr != nil {
		dr.Addr = addr.Bytes()
	}
	return &pb.Message{
		Type:         pb.Message_DIAL_RESPONSE.Enum(),
		DialResponse: dr,
	}
}
