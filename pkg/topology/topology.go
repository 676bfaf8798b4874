// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package topology holds the types shared by routing table implementations
// and their consumers.
package topology

import (
	"errors"
	"time"

	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	ErrNotFound = errors.New("no peer found")
	ErrWantSelf = errors.New("node wants self")
)

// LookupFunc receives the outcome of a peer lookup: the closest peers that
// responded, sorted by distance to the target.
type LookupFunc func(peers []peer.AddrInfo, err error)

// EachPeerFunc is a callback that is called with a peer and its PO.
type EachPeerFunc func(id peer.ID, po int) (stop, jumpToNext bool, err error)

// BinInfo describes one bucket of the routing table.
type BinInfo struct {
	Population int       `json:"population"`
	Connected  int       `json:"connected"`
	Touched    time.Time `json:"touched"`
	Peers      []string  `json:"peers"`
}

// Snapshot describes the state of the routing table.
type Snapshot struct {
	Base       swarm.Key `json:"baseKey"`
	Timestamp  time.Time `json:"timestamp"`
	Population int       `json:"population"`
	Connected  int       `json:"connected"`
	Lookups    int       `json:"lookups"`
	Bins       []BinInfo `json:"bins"`
}
