// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Service provides the protocol registration and connection management of
// the transport provider.
type Service interface {
	AddProtocol(ProtocolSpec) error
	Connect(ctx context.Context, addr ma.Multiaddr) (*peer.AddrInfo, error)
	Disconnect(peer.ID) error
	Peers() []Peer
	Addresses() ([]ma.Multiaddr, error)
	Streamer
}

// Streamer opens new outbound streams.
type Streamer interface {
	NewStream(ctx context.Context, p peer.ID, protocolName, protocolVersion, streamName string) (Stream, error)
}

// Stream is a bidirectional stream over a single connection.
type Stream interface {
	io.ReadWriter
	io.Closer
	CloseWrite() error
	FullClose() error
	Reset() error
	SetDeadline(time.Time) error
}

// ProtocolSpec defines a collection of Stream specifications with handlers.
type ProtocolSpec struct {
	Name        string
	Version     string
	StreamSpecs []StreamSpec
}

// StreamSpec defines a Stream handler.
type StreamSpec struct {
	Name    string
	Handler HandlerFunc
}

// Peer holds information about the remote side of a stream.
type Peer struct {
	ID      peer.ID
	Address ma.Multiaddr
}

// Relayed reports whether the stream arrived over a relay circuit.
func (p Peer) Relayed() bool {
	return p.Address != nil && IsRelayAddr(p.Address)
}

// HandlerFunc handles a p2p stream.
type HandlerFunc func(context.Context, Peer, Stream) error

// HandlerMiddleware decorates a HandlerFunc by returning a new one.
type HandlerMiddleware func(HandlerFunc) HandlerFunc

// NewStreamName constructs a libp2p protocol id from protocol name, version
// and stream name. Names that already are protocol paths, starting with a
// slash, are taken as a prefix and only non-empty parts are appended.
func NewStreamName(protocol, version, stream string) string {
	if strings.HasPrefix(protocol, "/") {
		name := protocol
		if version != "" {
			name += "/" + version
		}
		if stream != "" {
			name += "/" + stream
		}
		return name
	}
	return "/beacon/" + protocol + "/" + version + "/" + stream
}

// IsRelayAddr reports whether the address goes through a relay circuit.
func IsRelayAddr(a ma.Multiaddr) bool {
	_, err := a.ValueForProtocol(ma.P_CIRCUIT)
	return err == nil
}

// ReachabilityStatus represents the node reachability status.
type ReachabilityStatus network.Reachability

// String implements the fmt.Stringer interface.
func (rs ReachabilityStatus) String() string {
	return network.Reachability(rs).String()
}

const (
	ReachabilityStatusUnknown = ReachabilityStatus(network.ReachabilityUnknown)
	ReachabilityStatusPublic  = ReachabilityStatus(network.ReachabilityPublic)
	ReachabilityStatusPrivate = ReachabilityStatus(network.ReachabilityPrivate)
)
