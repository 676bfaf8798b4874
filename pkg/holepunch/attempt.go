// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package holepunch

import (
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// State of a hole punch attempt.
type State int

const (
	StateIdle State = iota
	StateWaitingForSync
	StatePunching
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForSync:
		return "waiting-for-sync"
	case StatePunching:
		return "punching"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var errTransition = errors.New("invalid attempt transition")

// Attempt is one direct connection upgrade between the initiator and the
// responder, both connected through the relayed connection RelayConn.
type Attempt struct {
	Initiator   peer.ID        `json:"initiator"`
	Responder   peer.ID        `json:"responder"`
	RelayConn   string         `json:"relayConn"`
	Round       int            `json:"round"`
	LocalAddrs  []ma.Multiaddr `json:"localAddrs"`
	RemoteAddrs []ma.Multiaddr `json:"remoteAddrs"`
	RTT         time.Duration  `json:"rtt"`
	State       State          `json:"state"`
	Started     time.Time      `json:"started"`
}

// Done reports whether the attempt reached a final state.
func (a *Attempt) Done() bool {
	return a.State == StateSucceeded || a.State == StateFailed
}

// start begins the first round.
func (a *Attempt) start(now time.Time) error {
	if a.State != StateIdle {
		return fmt.Errorf("%w: start in %s", errTransition, a.State)
	}
	a.State = StateWaitingForSync
	a.Round = 1
	a.Started = now
	return nil
}

// synced records the outcome of the address exchange of the round. The
// punch may only be started after it.
func (a *Attempt) synced(remote []ma.Multiaddr, rtt time.Duration) error {
	if a.State != StateWaitingForSync {
		return fmt.Errorf("%w: sync in %s", errTransition, a.State)
	}
	a.RemoteAddrs = remote
	a.RTT = rtt
	a.State = StatePunching
	return nil
}

func (a *Attempt) succeed() error {
	if a.State != StatePunching {
		return fmt.Errorf("%w: success in %s", errTransition, a.State)
	}
	a.State = StateSucceeded
	return nil
}

// roundFailed ends the current round. It reports whether another round
// follows, otherwise the attempt has failed.
func (a *Attempt) roundFailed(maxRounds int) bool {
	if a.Done() || a.State == StateIdle {
		return false
	}
	if a.Round >= maxRounds {
		a.State = StateFailed
		return false
	}
	a.Round++
	a.State = StateWaitingForSync
	return true
}

// fail ends an unresolved attempt, as when the relayed connection that
// carries the signalling goes away.
func (a *Attempt) fail() {
	if !a.Done() {
		a.State = StateFailed
	}
}
