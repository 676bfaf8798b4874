// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// Tag identifies the component that owns a request, a timer or an inbound
// message.
type Tag int

const (
	TagIdentify Tag = iota
	// discovery indices are updated before other behaviours see identify
	TagDiscovery
	TagKad
	TagRelay
	TagRelayClient
	TagRendezvous
	TagRendezvousClient
	TagDcutr
	TagAutonat
	TagApp
)

var tagNames = map[Tag]string{
	TagIdentify:         "identify",
	TagKad:              "kad",
	TagRelay:            "relay",
	TagRelayClient:      "relay-client",
	TagRendezvous:       "rendezvous",
	TagRendezvousClient: "rendezvous-client",
	TagDcutr:            "dcutr",
	TagAutonat:          "autonat",
	TagDiscovery:        "discovery",
	TagApp:              "app",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return "unknown"
}

type (
	RequestID uint64
	TimerID   uint64
)

// Event is delivered to behaviours on the loop goroutine. The set of events
// is closed.
type Event interface {
	event()
}

// ConnectionEstablished is delivered for every new connection, also when the
// peer already has other connections.
type ConnectionEstablished struct {
	Peer    peer.ID
	ConnID  string
	Remote  ma.Multiaddr
	Relayed bool
	Inbound bool
}

// ConnectionClosed is delivered for every closed connection. Remaining is
// the number of connections to the peer that are still open. When it is
// zero all pending requests and timers of the peer have been cancelled.
type ConnectionClosed struct {
	Peer      peer.ID
	ConnID    string
	Relayed   bool
	Remaining int
}

// Identify carries the result of an identify exchange with a peer.
type Identify struct {
	Peer        peer.ID
	Protocols   []protocol.ID
	ListenAddrs []ma.Multiaddr
}

// AddressesUpdated is delivered when the local announced addresses change.
type AddressesUpdated struct {
	Addrs []ma.Multiaddr
}

// Inbound is a decoded request received by a stream handler that needs the
// state of a behaviour to be answered. The behaviour must call Reply exactly
// once.
type Inbound struct {
	Tag   Tag
	Peer  peer.ID
	Msg   any
	reply chan reply
}

type reply struct {
	v   any
	err error
}

// Reply answers the inbound request. It never blocks.
func (e Inbound) Reply(v any, err error) {
	select {
	case e.reply <- reply{v: v, err: err}:
	default:
	}
}

// Result is the completion of a request started with Exec, Request or Dial.
type Result struct {
	Tag   Tag
	ID    RequestID
	Peer  peer.ID
	Value any
	Err   error
}

// Timer fires when a timer set with After or AfterPeer elapses.
type Timer struct {
	Tag  Tag
	ID   TimerID
	Peer peer.ID
	Key  any
}

// Notice is posted by worker goroutines of a behaviour back to itself.
type Notice struct {
	Tag   Tag
	Peer  peer.ID
	Value any
}

// Emitted wraps an application facing event produced by a behaviour.
type Emitted struct {
	Tag   Tag
	Peer  peer.ID
	Value any
}

func (ConnectionEstablished) event() {}
func (ConnectionClosed) event()      {}
func (Identify) event()              {}
func (AddressesUpdated) event()      {}
func (Inbound) event()               {}
func (Result) event()                {}
func (Timer) event()                 {}
func (Notice) event()                {}
func (Emitted) event()               {}

// Behaviour is a protocol state machine driven by the loop. Handle is always
// called on the loop goroutine and must not block.
type Behaviour interface {
	Handle(ev Event)
}

// HandlerFunc adapts a function to the Behaviour interface.
type HandlerFunc func(ev Event)

func (f HandlerFunc) Handle(ev Event) { f(ev) }
