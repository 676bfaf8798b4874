// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/holepunch"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/reachability"
	"github.com/ethersphere/beacon/pkg/relay"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/sirupsen/logrus"
)

func TestLogEvent(t *testing.T) {
	t.Parallel()

	p := swarm.RandPeerID(t)

	for _, tc := range []struct {
		name      string
		ev        core.Event
		component string
		want      string
	}{
		{
			name:      "connection",
			ev:        core.ConnectionEstablished{Peer: p, Relayed: true},
			component: "core",
			want:      "relayed true",
		},
		{
			name:      "reachability",
			ev:        core.Emitted{Tag: core.TagAutonat, Value: reachability.Changed{Status: p2p.ReachabilityStatusPrivate}},
			component: "autonat",
			want:      "reachability: " + p2p.ReachabilityStatusPrivate.String(),
		},
		{
			name:      "relay",
			ev:        core.Emitted{Tag: core.TagRelayClient, Peer: p, Value: relay.Event{Relay: p, Status: relay.StatusAccepted}},
			component: "relay-client",
			want:      "accepted",
		},
		{
			name:      "hole punch",
			ev:        core.Emitted{Tag: core.TagDcutr, Peer: p, Value: holepunch.Event{Peer: p, State: holepunch.StateFailed, Round: 3, Err: errors.New("rounds exhausted")}},
			component: "dcutr",
			want:      "failed in round 3: rounds exhausted",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logEvent(logging.New(&buf, logrus.DebugLevel), tc.ev)
			if !strings.Contains(buf.String(), tc.want) {
				t.Errorf("log %q does not contain %q", buf.String(), tc.want)
			}
			if got := eventComponent(tc.ev); got != tc.component {
				t.Errorf("got component %q, want %q", got, tc.component)
			}
		})
	}
}
