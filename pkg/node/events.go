// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/holepunch"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/reachability"
	"github.com/ethersphere/beacon/pkg/relay"
	"github.com/ethersphere/beacon/pkg/rendezvous"
)

func eventComponent(ev core.Event) string {
	if e, ok := ev.(core.Emitted); ok {
		return e.Tag.String()
	}
	return "core"
}

func logEvent(logger logging.Logger, ev core.Event) {
	switch e := ev.(type) {
	case core.ConnectionEstablished:
		logger.Debugf("connected to %s on %s (relayed %t, inbound %t)", e.Peer, e.Remote, e.Relayed, e.Inbound)
	case core.ConnectionClosed:
		logger.Debugf("connection to %s closed, %d remaining", e.Peer, e.Remaining)
	case core.Emitted:
		switch v := e.Value.(type) {
		case reachability.Changed:
			if v.Addr != nil {
				logger.Infof("reachability: %s on %s", v.Status, v.Addr)
				return
			}
			logger.Infof("reachability: %s", v.Status)
		case relay.Event:
			if v.Err != nil {
				logger.Debugf("relay %s: %s: %v", v.Relay, v.Status, v.Err)
				return
			}
			logger.Infof("relay %s: %s", v.Relay, v.Status)
		case holepunch.Event:
			switch v.State {
			case holepunch.StateSucceeded:
				logger.Infof("hole punch to %s succeeded in round %d", v.Peer, v.Round)
			case holepunch.StateFailed:
				logger.Infof("hole punch to %s failed in round %d: %v", v.Peer, v.Round, v.Err)
			default:
				logger.Debugf("hole punch to %s: %s round %d", v.Peer, v.State, v.Round)
			}
		case rendezvous.Registered:
			logger.Debugf("rendezvous: registered in %q at %s for %s", v.Namespace, v.Point, v.TTL)
		case rendezvous.Discovered:
			logger.Debugf("rendezvous: discovered %d peers in %q at %s", len(v.Registrations), v.Namespace, v.Point)
		}
	}
}
