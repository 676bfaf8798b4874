// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugapi exposes the debug API used to
// control and analyze low-level and runtime
// features and functionalities of a beacon node.
package debugapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/holepunch"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/pingpong"
	"github.com/ethersphere/beacon/pkg/relay"
	"github.com/ethersphere/beacon/pkg/rendezvous"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/ethersphere/beacon/pkg/topology"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
)

// Controller drives the connections of the node. It is implemented by
// core.Core.
type Controller interface {
	Connect(ctx context.Context, addr ma.Multiaddr) error
	Disconnect(ctx context.Context, p peer.ID) error
	PeersInfo(ctx context.Context) ([]core.PeerInfo, error)
	ListenAddrs(ctx context.Context) ([]ma.Multiaddr, error)
}

type TopologyDriver interface {
	SnapshotContext(ctx context.Context) (topology.Snapshot, error)
	LookupContext(ctx context.Context, target swarm.Key) ([]peer.AddrInfo, error)
}

type DiscoveryIndex interface {
	Snapshot(ctx context.Context) (map[protocol.ID]int, error)
}

type ReachabilityProber interface {
	StatusContext(ctx context.Context) (p2p.ReachabilityStatus, ma.Multiaddr, error)
}

type RelayReservations interface {
	ReservationsContext(ctx context.Context) ([]relay.Reservation, error)
}

type RendezvousRegistry interface {
	RegistrationsContext(ctx context.Context) ([]rendezvous.Registration, error)
}

type RendezvousClient interface {
	RegistrationsContext(ctx context.Context) (map[peer.ID][]string, error)
}

type HolePuncher interface {
	AttemptsContext(ctx context.Context) ([]holepunch.Attempt, error)
	PunchContext(ctx context.Context, p peer.ID) error
}

// Options holds the dependencies injected with Configure. Components that
// are not running on the node are left nil and their endpoints respond with
// 404.
type Options struct {
	Controller       Controller
	Pingpong         pingpong.Interface
	Topology         TopologyDriver
	Discovery        DiscoveryIndex
	Reachability     ReachabilityProber
	RelayServer      RelayReservations
	RelayClient      RelayReservations
	RendezvousServer RendezvousRegistry
	RendezvousClient RendezvousClient
	HolePunch        HolePuncher
	BootnodeMode     bool
}

// Service implements http.Handler interface to be used in HTTP server.
type Service struct {
	peerID             peer.ID
	logger             logging.Logger
	tracer             *tracing.Tracer
	corsAllowedOrigins []string
	metricsRegistry    *prometheus.Registry
	Options
	// handler is changed in the Configure method
	handler   http.Handler
	handlerMu sync.RWMutex
}

// New creates a new Debug API Service with only basic routers enabled in order
// to expose /addresses, /health endpoints, Go metrics and pprof. It is useful to expose
// these endpoints before all dependencies are configured and injected to have
// access to basic debugging tools and /health endpoint.
func New(peerID peer.ID, logger logging.Logger, tracer *tracing.Tracer, corsAllowedOrigins []string) *Service {
	s := new(Service)
	s.peerID = peerID
	s.logger = logger
	s.tracer = tracer
	s.corsAllowedOrigins = corsAllowedOrigins
	s.metricsRegistry = newMetricsRegistry()

	s.setRouter(s.newBasicRouter())

	return s
}

// Configure injects required dependencies and configuration parameters and
// constructs HTTP routes that depend on them. It is intended and safe to call
// this method only once.
func (s *Service) Configure(o Options) {
	s.Options = o

	s.setRouter(s.newRouter())
}

// ServeHTTP implements http.Handler interface.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// protect handler as it is changed by the Configure method
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()

	h.ServeHTTP(w, r)
}
