// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libp2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multistream"
)

var _ p2p.Service = (*Service)(nil)

// Service is the go-libp2p backed transport provider. It owns the host,
// registers protocol handlers and opens streams.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	host            host.Host
	libp2pPeerstore peerstore.Peerstore
	metrics         metrics
	peers           *peerRegistry
	natAddrResolver *staticAddressResolver
	protocols       []p2p.ProtocolSpec
	protocolsMu     sync.RWMutex
	logger          logging.Logger
}

type Options struct {
	PrivateKey  crypto.PrivKey
	NATAddr     string
	DisableQUIC bool
	// AddrsFactory rewrites the addresses announced to other peers.
	AddrsFactory func([]ma.Multiaddr) []ma.Multiaddr
	// DisableNATPortMap turns off UPnP/NAT-PMP port mapping.
	DisableNATPortMap bool
}

// New constructs the libp2p host listening on TCP and QUIC on every address
// derived from addr, which is in the host:port form.
func New(ctx context.Context, addr string, logger logging.Logger, o Options) (*Service, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}

	ip4Addr := "0.0.0.0"
	ip6Addr := "::"

	if host != "" {
		ip := net.ParseIP(host)
		if ip4 := ip.To4(); ip4 != nil {
			ip4Addr = ip4.String()
			ip6Addr = ""
		} else if ip6 := ip.To16(); ip6 != nil {
			ip6Addr = ip6.String()
			ip4Addr = ""
		}
	}

	var listenAddrs []string
	if ip4Addr != "" {
		listenAddrs = append(listenAddrs, fmt.Sprintf("/ip4/%s/tcp/%s", ip4Addr, port))
		if !o.DisableQUIC {
			listenAddrs = append(listenAddrs, fmt.Sprintf("/ip4/%s/udp/%s/quic-v1", ip4Addr, port))
		}
	}

	if ip6Addr != "" {
		listenAddrs = append(listenAddrs, fmt.Sprintf("/ip6/%s/tcp/%s", ip6Addr, port))
		if !o.DisableQUIC {
			listenAddrs = append(listenAddrs, fmt.Sprintf("/ip6/%s/udp/%s/quic-v1", ip6Addr, port))
		}
	}

	libp2pPeerstore, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, err
	}

	var natAddrResolver *staticAddressResolver
	if o.NATAddr != "" {
		r, err := newStaticAddressResolver(o.NATAddr, net.LookupIP)
		if err != nil {
			return nil, fmt.Errorf("static nat: %w", err)
		}
		natAddrResolver = r
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
		// Use dedicated peerstore instead the global DefaultPeerstore
		libp2p.Peerstore(libp2pPeerstore),
		libp2p.Transport(tcp.NewTCPTransport),
	}

	if !o.DisableQUIC {
		opts = append(opts, libp2p.Transport(libp2pquic.NewTransport))
	}

	if !o.DisableNATPortMap && o.NATAddr == "" {
		// Attempt to open ports using uPNP for NATed hosts.
		opts = append(opts, libp2p.NATPortMap())
	}

	if o.PrivateKey != nil {
		opts = append(opts, libp2p.Identity(o.PrivateKey))
	}

	if o.AddrsFactory != nil || natAddrResolver != nil {
		opts = append(opts, libp2p.AddrsFactory(func(addrs []ma.Multiaddr) []ma.Multiaddr {
			if natAddrResolver != nil {
				addrs = natAddrResolver.resolveAll(addrs)
			}
			if o.AddrsFactory != nil {
				addrs = o.AddrsFactory(addrs)
			}
			return addrs
		}))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, p2p.NewTransportError(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	peerRegistry := newPeerRegistry()
	s := &Service{
		ctx:             ctx,
		cancel:          cancel,
		host:            h,
		libp2pPeerstore: libp2pPeerstore,
		metrics:         newMetrics(),
		peers:           peerRegistry,
		natAddrResolver: natAddrResolver,
		logger:          logger,
	}

	h.Network().Notify(peerRegistry) // update peer registry on network events
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			if c.Stat().Direction == network.DirInbound {
				s.metrics.HandledConnectionCount.WithLabelValues(transportLabel(c)).Inc()
			}
		},
	})

	return s, nil
}

// Host returns the underlying libp2p host.
func (s *Service) Host() host.Host {
	return s.host
}

func (s *Service) AddProtocol(p p2p.ProtocolSpec) (err error) {
	for _, ss := range p.StreamSpecs {
		ss := ss
		id := protocol.ID(p2p.NewStreamName(p.Name, p.Version, ss.Name))

		s.host.SetStreamHandler(id, func(stream network.Stream) {
			peerID := stream.Conn().RemotePeer()
			peer := p2p.Peer{ID: peerID, Address: stream.Conn().RemoteMultiaddr()}

			s.metrics.HandledStreamCount.WithLabelValues(string(id), transportLabel(stream.Conn())).Inc()
			if err := ss.Handler(s.ctx, peer, newStream(stream, s.metrics)); err != nil {
				var de *p2p.DisconnectError
				if errors.As(err, &de) {
					_ = stream.Reset()
					_ = s.Disconnect(peerID)
				}

				if errors.Is(err, p2p.ErrProtocolViolation) {
					s.metrics.StreamHandlerErrResetCount.Inc()
					_ = stream.Reset()
				}

				s.logger.Debugf("handle protocol %s: peer %s: %v", id, peerID, err)
				return
			}
		})
	}

	s.protocolsMu.Lock()
	s.protocols = append(s.protocols, p)
	s.protocolsMu.Unlock()
	return nil
}

// Protocols returns the registered protocol specifications.
func (s *Service) Protocols() []p2p.ProtocolSpec {
	s.protocolsMu.RLock()
	defer s.protocolsMu.RUnlock()
	return append([]p2p.ProtocolSpec(nil), s.protocols...)
}

// Addresses returns the announced addresses of the host with the /p2p
// component.
func (s *Service) Addresses() (addrs []ma.Multiaddr, err error) {
	// Build host multiaddress
	hostAddr, err := ma.NewMultiaddr(fmt.Sprintf("/p2p/%s", s.host.ID()))
	if err != nil {
		return nil, err
	}

	// Now we can build a full multiaddress to reach this host
	// by encapsulating both addresses:
	for _, addr := range s.host.Addrs() {
		addrs = append(addrs, addr.Encapsulate(hostAddr))
	}
	return addrs, nil
}

// Connect dials the peer in the full /p2p address and returns its
// identity. Dial failures are returned as p2p.TransportError.
func (s *Service) Connect(ctx context.Context, addr ma.Multiaddr) (*libp2ppeer.AddrInfo, error) {
	// Extract the peer ID from the multiaddr.
	info, err := libp2ppeer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("addr from p2p: %w", err)
	}

	if err := s.host.Connect(ctx, *info); err != nil {
		return nil, p2p.NewTransportError(err)
	}

	s.metrics.CreatedConnectionCount.Inc()
	s.logger.Debugf("connected to peer %s at %s", info.ID, addr)
	return info, nil
}

func (s *Service) Disconnect(peerID libp2ppeer.ID) error {
	if !s.peers.exists(peerID) {
		return p2p.ErrPeerNotFound
	}
	s.metrics.DisconnectCount.Inc()
	return s.host.Network().ClosePeer(peerID)
}

func (s *Service) Peers() []p2p.Peer {
	return s.peers.peers()
}

// NewStream opens a stream to a connected peer. Streams may go over relayed
// connections. A protocol the peer does not speak yields
// p2p.IncompatibleStreamError.
func (s *Service) NewStream(ctx context.Context, peerID libp2ppeer.ID, protocolName, protocolVersion, streamName string) (p2p.Stream, error) {
	stream, err := s.newStreamForPeerID(ctx, peerID, protocolName, protocolVersion, streamName)
	if err != nil {
		return nil, err
	}

	return newStream(stream, s.metrics), nil
}

func (s *Service) newStreamForPeerID(ctx context.Context, peerID libp2ppeer.ID, protocolName, protocolVersion, streamName string) (network.Stream, error) {
	swarmStreamName := p2p.NewStreamName(protocolName, protocolVersion, streamName)
	ctx = network.WithUseTransient(ctx, swarmStreamName)
	st, err := s.host.NewStream(ctx, peerID, protocol.ID(swarmStreamName))
	if err != nil {
		if errors.Is(err, multistream.ErrNotSupported[protocol.ID]{}) {
			return nil, p2p.NewIncompatibleStreamError(err)
		}
		return nil, fmt.Errorf("create stream %q to %q: %w", swarmStreamName, peerID, err)
	}
	s.metrics.CreatedStreamCount.WithLabelValues(swarmStreamName, transportLabel(st.Conn())).Inc()
	return st, nil
}

func (s *Service) Close() error {
	s.cancel()
	if err := s.host.Close(); err != nil {
		return err
	}
	return s.libp2pPeerstore.Close()
}
