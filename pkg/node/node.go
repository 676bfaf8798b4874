// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node defines the concept of a beacon node
// by bootstrapping and injecting all necessary
// dependencies.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethersphere/beacon/pkg/addressbook"
	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/crypto"
	"github.com/ethersphere/beacon/pkg/debugapi"
	"github.com/ethersphere/beacon/pkg/discovery"
	"github.com/ethersphere/beacon/pkg/holepunch"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p/libp2p"
	"github.com/ethersphere/beacon/pkg/pingpong"
	"github.com/ethersphere/beacon/pkg/reachability"
	"github.com/ethersphere/beacon/pkg/relay"
	"github.com/ethersphere/beacon/pkg/rendezvous"
	"github.com/ethersphere/beacon/pkg/topology/kademlia"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/hashicorp/go-multierror"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

type Beacon struct {
	p2pService         io.Closer
	ctxCancel          context.CancelFunc
	debugAPIServer     *http.Server
	errorLogWriter     io.WriteCloser
	coreCloser         io.Closer
	dialerCloser       io.Closer
	stateStoreCloser   io.Closer
	tracerCloser       io.Closer
	core               *core.Core
	eventsDone         chan struct{}
	shutdownInProgress bool
	shutdownMutex      sync.Mutex
}

type Options struct {
	DataDir            string
	DebugAPIAddr       string
	NATAddr            string
	DisableQUIC        bool
	DisableNATPortMap  bool
	Bootnodes          []string
	BootnodeMode       bool
	CORSAllowedOrigins []string
	// Namespaces are registered at and discovered from the rendezvous
	// points.
	Namespaces []string
	// AllowPrivateAddrs keeps private and loopback addresses in relay
	// reservations, dial-backs and hole punch candidates.
	AllowPrivateAddrs  bool
	MaxRelays          int
	MaxReservations    int
	MaxCircuits        int
	MaxRegistrations   int
	HolePunchRounds    int
	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
	// OnEvent is called with every event the components emit, after it is
	// logged.
	OnEvent func(core.Event)
}

func NewBeacon(addr string, privateKey libp2pcrypto.PrivKey, logger logging.Logger, o Options) (b *Beacon, err error) {
	started := time.Now()
	nodeMetrics := newMetrics()

	peerID, err := crypto.PeerID(privateKey)
	if err != nil {
		return nil, fmt.Errorf("peer id: %w", err)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer func() {
		// if there's been an error on this function
		// we'd like to cancel the p2p context so that
		// incoming connections will not be possible
		if err != nil {
			ctxCancel()
		}
	}()

	b = &Beacon{
		ctxCancel:      ctxCancel,
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
	}

	defer func(b *Beacon) {
		if err != nil {
			logger.Errorf("got error %v, shutting down...", err)
			if err2 := b.Shutdown(); err2 != nil {
				logger.Errorf("got error while shutting down: %v", err2)
			}
		}
	}(b)

	tracer, tracerCloser, err := tracing.NewTracer(&tracing.Options{
		Enabled:     o.TracingEnabled,
		Endpoint:    o.TracingEndpoint,
		ServiceName: o.TracingServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	b.tracerCloser = tracerCloser

	var debugAPIService *debugapi.Service
	if o.DebugAPIAddr != "" {
		// set up basic debug api endpoints for debugging and /health endpoint
		debugAPIService = debugapi.New(peerID, logger, tracer, o.CORSAllowedOrigins)

		debugAPIListener, err := net.Listen("tcp", o.DebugAPIAddr)
		if err != nil {
			return nil, fmt.Errorf("debug api listener: %w", err)
		}

		debugAPIServer := &http.Server{
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           debugAPIService,
			ErrorLog:          stdlog.New(b.errorLogWriter, "", 0),
		}

		go func() {
			logger.Infof("debug api address: %s", debugAPIListener.Addr())

			if err := debugAPIServer.Serve(debugAPIListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Debugf("debug api server: %v", err)
				logger.Error("unable to serve debug api")
			}
		}()

		b.debugAPIServer = debugAPIServer
	}

	stateStore, err := InitStateStore(logger, o.DataDir)
	if err != nil {
		return nil, fmt.Errorf("statestore: %w", err)
	}
	b.stateStoreCloser = stateStore

	if err := checkPeerID(stateStore, peerID); err != nil {
		return nil, fmt.Errorf("check peer id: %w", err)
	}
	addressBook := addressbook.New(stateStore)

	bootnodes, err := parseBootnodes(o.Bootnodes)
	if err != nil {
		return nil, err
	}
	bootnodeInfos, err := resolveBootnodes(ctx, logger, bootnodes)
	if err != nil {
		// the node may still be reached by other peers
		logger.Warningf("bootnodes: %v", err)
	}

	// the host announces the circuit addresses of the relay client, which
	// is constructed after the host
	var relayClientRef atomic.Pointer[relay.Client]
	p2ps, err := libp2p.New(ctx, addr, logger, libp2p.Options{
		PrivateKey:        privateKey,
		NATAddr:           o.NATAddr,
		DisableQUIC:       o.DisableQUIC,
		DisableNATPortMap: o.DisableNATPortMap,
		AddrsFactory: func(addrs []ma.Multiaddr) []ma.Multiaddr {
			if c := relayClientRef.Load(); c != nil {
				addrs = append(addrs, c.CircuitAddrs()...)
			}
			return addrs
		},
	})
	if err != nil {
		return nil, fmt.Errorf("p2p service: %w", err)
	}
	b.p2pService = p2ps
	h := p2ps.Host()

	c := core.New(core.Options{Host: h, Logger: logger})
	b.core = c
	b.coreCloser = c

	index := discovery.New(c, relay.HopProtocolID, rendezvous.ProtocolID, reachability.ProtocolID, holepunch.ProtocolID)

	kad := kademlia.New(peerID, c, p2ps, h, addressBook, logger, kademlia.Options{
		Bootnodes:  bootnodes,
		LocalAddrs: h.Addrs,
		Tracer:     tracer,
	})
	if err := p2ps.AddProtocol(kad.Protocol()); err != nil {
		return nil, fmt.Errorf("kademlia service: %w", err)
	}

	prober := reachability.NewProber(peerID, c, p2ps, logger, reachability.ProberOptions{
		Candidates:  index,
		AddressBook: addressBook,
		Addrs:       h.Addrs,
	})

	pingPong := pingpong.New(pingpong.Options{Streamer: p2ps, Logger: logger, Tracer: tracer})
	if err := p2ps.AddProtocol(pingPong.Protocol()); err != nil {
		return nil, fmt.Errorf("pingpong service: %w", err)
	}

	var (
		relayServer      *relay.Server
		relayClient      *relay.Client
		rendezvousServer *rendezvous.Server
		rendezvousClient *rendezvous.Client
		reachServer      *reachability.Server
		holePunch        *holepunch.Service
	)

	if o.BootnodeMode {
		logger.Info("starting in bootnode mode")

		dialer, err := libp2p.NewDialer(o.DisableQUIC)
		if err != nil {
			return nil, fmt.Errorf("dial back host: %w", err)
		}
		b.dialerCloser = dialer

		reachServer, err = reachability.NewServer(c, logger, reachability.ServerOptions{
			Dialer:            reachability.HostDialer{Host: dialer},
			AllowPrivateAddrs: o.AllowPrivateAddrs,
		})
		if err != nil {
			return nil, fmt.Errorf("reachability server: %w", err)
		}
		if err := p2ps.AddProtocol(reachServer.Protocol()); err != nil {
			return nil, fmt.Errorf("reachability service: %w", err)
		}

		relayServer = relay.NewServer(peerID, c, p2ps, logger, relay.ServerOptions{
			MaxReservations:   o.MaxReservations,
			MaxCircuits:       o.MaxCircuits,
			RequirePublic:     !o.AllowPrivateAddrs,
			Reachability:      prober.Status,
			Addrs:             h.Addrs,
			AllowPrivateAddrs: o.AllowPrivateAddrs,
		})
		if err := p2ps.AddProtocol(relayServer.Protocol()); err != nil {
			return nil, fmt.Errorf("relay service: %w", err)
		}

		rendezvousServer = rendezvous.NewServer(c, logger, rendezvous.ServerOptions{
			RegistryOptions: rendezvous.RegistryOptions{
				MaxRegistrations: o.MaxRegistrations,
			},
		})
		if err := p2ps.AddProtocol(rendezvousServer.Protocol()); err != nil {
			return nil, fmt.Errorf("rendezvous service: %w", err)
		}
	} else {
		relayClient = relay.NewClient(peerID, c, p2ps, h, logger, relay.ClientOptions{
			StaticRelays: bootnodeInfos,
			MaxRelays:    o.MaxRelays,
			Candidates:   index,
			Router:       kad,
			Tracer:       tracer,
		})
		relayClientRef.Store(relayClient)

		rendezvousClient, err = rendezvous.NewClient(privateKey, c, p2ps, h, logger, rendezvous.ClientOptions{
			Points:      bootnodeInfos,
			Namespaces:  o.Namespaces,
			Candidates:  index,
			AddressBook: addressBook,
			Addrs:       h.Addrs,
		})
		if err != nil {
			return nil, fmt.Errorf("rendezvous client: %w", err)
		}

		holePunch, err = holepunch.New(peerID, c, p2ps, logger, holepunch.Options{
			MaxRounds:             o.HolePunchRounds,
			Reachability:          prober.Status,
			CloseRelayedOnSuccess: true,
			AllowPrivateAddrs:     o.AllowPrivateAddrs,
			Tracer:                tracer,
		})
		if err != nil {
			return nil, fmt.Errorf("hole punch: %w", err)
		}
		if err := p2ps.AddProtocol(holePunch.Protocol()); err != nil {
			return nil, fmt.Errorf("hole punch service: %w", err)
		}
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	b.eventsDone = make(chan struct{})
	go func() {
		defer close(b.eventsDone)
		for {
			ev, err := c.Next(ctx)
			if err != nil {
				return
			}
			nodeMetrics.AppEventCount.WithLabelValues(eventComponent(ev)).Inc()
			logEvent(logger, ev)
			if o.OnEvent != nil {
				o.OnEvent(ev)
			}
		}
	}()

	starters := []interface {
		Start(context.Context) error
	}{kad, prober}
	if relayServer != nil {
		starters = append(starters, relayServer, rendezvousServer)
	}
	if relayClient != nil {
		starters = append(starters, relayClient, rendezvousClient)
	}
	for _, s := range starters {
		if err := s.Start(ctx); err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
	}

	if debugAPIService != nil {
		debugOpts := debugapi.Options{
			Controller:   c,
			Pingpong:     pingPong,
			Topology:     kad,
			Discovery:    index,
			Reachability: prober,
			BootnodeMode: o.BootnodeMode,
		}
		// typed nils must not reach the interfaces
		if relayServer != nil {
			debugOpts.RelayServer = relayServer
			debugOpts.RendezvousServer = rendezvousServer
		}
		if relayClient != nil {
			debugOpts.RelayClient = relayClient
			debugOpts.RendezvousClient = rendezvousClient
			debugOpts.HolePunch = holePunch
		}

		debugAPIService.MustRegisterMetrics(logger.Metrics()...)
		debugAPIService.MustRegisterMetrics(nodeMetrics.Metrics()...)
		debugAPIService.MustRegisterMetrics(p2ps.Metrics()...)
		debugAPIService.MustRegisterMetrics(c.Metrics()...)
		debugAPIService.MustRegisterMetrics(kad.Metrics()...)
		debugAPIService.MustRegisterMetrics(prober.Metrics()...)
		debugAPIService.MustRegisterMetrics(pingPong.Metrics()...)
		if reachServer != nil {
			debugAPIService.MustRegisterMetrics(reachServer.Metrics()...)
		}
		if relayServer != nil {
			debugAPIService.MustRegisterMetrics(relayServer.Metrics()...)
			debugAPIService.MustRegisterMetrics(rendezvousServer.Metrics()...)
		}
		if relayClient != nil {
			debugAPIService.MustRegisterMetrics(relayClient.Metrics()...)
			debugAPIService.MustRegisterMetrics(rendezvousClient.Metrics()...)
			debugAPIService.MustRegisterMetrics(holePunch.Metrics()...)
		}

		// inject dependencies and configure full debug api http path routes
		debugAPIService.Configure(debugOpts)
	}

	addrs, err := p2ps.Addresses()
	if err != nil {
		return nil, fmt.Errorf("get server addresses: %w", err)
	}
	for _, addr := range addrs {
		logger.Debugf("p2p address: %s", addr)
	}
	logger.Infof("peer id: %s", peerID)

	nodeMetrics.StartupDuration.Observe(time.Since(started).Seconds())

	return b, nil
}

// Connect dials the full /p2p address through the node.
func (b *Beacon) Connect(ctx context.Context, addr ma.Multiaddr) error {
	return b.core.Connect(ctx, addr)
}

// Addresses returns the addresses the node announces.
func (b *Beacon) Addresses(ctx context.Context) ([]ma.Multiaddr, error) {
	return b.core.ListenAddrs(ctx)
}

func (b *Beacon) Shutdown() error {
	var mErr error

	// if a shutdown is already in process, return here
	b.shutdownMutex.Lock()
	if b.shutdownInProgress {
		b.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	b.shutdownInProgress = true
	b.shutdownMutex.Unlock()

	// tryClose is a convenient closure which decrease
	// repetitive io.Closer tryClose procedure.
	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var eg errgroup.Group
	if b.debugAPIServer != nil {
		eg.Go(func() error {
			if err := b.debugAPIServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("debug api server: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	b.ctxCancel()

	// the loop goes first, nothing dispatches into a closed host
	tryClose(b.coreCloser, "core")
	if b.eventsDone != nil {
		<-b.eventsDone
	}

	tryClose(b.p2pService, "p2p server")
	tryClose(b.dialerCloser, "dial back host")
	tryClose(b.stateStoreCloser, "statestore")
	tryClose(b.tracerCloser, "tracer")
	tryClose(b.errorLogWriter, "error log writer")

	return mErr
}

var ErrShutdownInProgress = errors.New("shutdown in progress")
