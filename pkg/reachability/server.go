// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reachability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/ratelimit"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	pb "github.com/libp2p/go-libp2p/p2p/host/autonat/pb"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

const (
	defaultThrottleInterval = time.Minute
	defaultGlobalLimit      = 30
	defaultDialTimeout      = 15 * time.Second
	streamTimeout           = time.Minute
	globalLimitKey          = "global"
)

// Dialer dials a peer back and returns the address it was reached on.
type Dialer interface {
	DialBack(ctx context.Context, info peer.AddrInfo) (ma.Multiaddr, error)
}

type ServerOptions struct {
	Dialer Dialer
	// ThrottleInterval is the interval in which a peer is served at most once
	// and at most GlobalLimit requests are served in total.
	ThrottleInterval time.Duration
	GlobalLimit      int
	DialTimeout      time.Duration
	// AllowPrivateAddrs dials back on any address, not only on public ones
	// with the observed IP of the requester.
	AllowPrivateAddrs bool
}

// Server dials back the peers that ask for it.
type Server struct {
	logger  logging.Logger
	metrics serverMetrics
	opts    ServerOptions

	peerLimiter   *ratelimit.Limiter
	globalLimiter *ratelimit.Limiter
}

func NewServer(c *core.Core, logger logging.Logger, o ServerOptions) (*Server, error) {
	if o.Dialer == nil {
		return nil, errors.New("reachability: no dialer")
	}
	if o.ThrottleInterval <= 0 {
		o.ThrottleInterval = defaultThrottleInterval
	}
	if o.GlobalLimit <= 0 {
		o.GlobalLimit = defaultGlobalLimit
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	lo := ratelimit.Options{Clock: c.Clock()}
	return &Server{
		logger:        logger,
		metrics:       newServerMetrics(),
		opts:          o,
		peerLimiter:   ratelimit.New(o.ThrottleInterval, 1, lo),
		globalLimiter: ratelimit.New(o.ThrottleInterval/time.Duration(o.GlobalLimit), o.GlobalLimit, lo),
	}, nil
}

func (s *Server) Protocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    protocolName,
		Version: protocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    streamName,
				Handler: s.handler,
			},
		},
	}
}

func (s *Server) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) error {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)
	var req pb.Message
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&req)); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("read dial: %w", err)
	}
	s.metrics.DialRequestCount.Inc()

	addr, err := s.serve(ctx, p, &req)
	var resp *pb.Message
	if err != nil {
		status := statusFor(err)
		s.metrics.DialResponseCount.WithLabelValues(status.String()).Inc()
		s.logger.Debugf("reachability: dial back to %s: %v", p.ID, err)
		resp = newDialResponse(status, err.Error(), nil)
	} else {
		s.metrics.DialResponseCount.WithLabelValues(pb.Message_OK.String()).Inc()
		s.logger.Debugf("reachability: dialed back %s on %s", p.ID, addr)
		resp = newDialResponse(pb.Message_OK, "", addr)
	}

	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(resp)); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("write dial response: %w", err)
	}
	return stream.FullClose()
}

func (s *Server) serve(ctx context.Context, p p2p.Peer, req *pb.Message) (ma.Multiaddr, error) {
	if req.GetType() != pb.Message_DIAL || req.GetDial().GetPeer() == nil {
		return nil, fmt.Errorf("%w: message of type %s", errBadRequest, req.GetType())
	}
	if p.Relayed() {
		return nil, fmt.Errorf("%w: relayed connection", errDialRefused)
	}
	pi := req.GetDial().GetPeer()
	id, err := peer.IDFromBytes(pi.GetId())
	if err != nil || id != p.ID {
		return nil, fmt.Errorf("%w: peer id does not match the connection", errBadRequest)
	}

	addrs := s.dialAddrs(p.Address, pi.GetAddrs())
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no dialable addresses", errDialRefused)
	}

	if err := s.admit(p.ID); err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	addr, err := s.opts.Dialer.DialBack(dctx, peer.AddrInfo{ID: p.ID, Addrs: addrs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDialError, err)
	}
	return addr, nil
}

// dialAddrs keeps the addresses that may be dialed back. Unless private
// addresses are allowed, they must be public and carry the IP the request
// came from.
func (s *Server) dialAddrs(observed ma.Multiaddr, raw [][]byte) []ma.Multiaddr {
	var observedIP net.IP
	if observed != nil {
		observedIP, _ = manet.ToIP(observed)
	}

	var addrs []ma.Multiaddr
	for _, b := range raw {
		if len(addrs) == maxDialAddrs {
			break
		}
		a, err := ma.NewMultiaddrBytes(b)
		if err != nil || p2p.IsRelayAddr(a) {
			continue
		}
		if !s.opts.AllowPrivateAddrs {
			ip, err := manet.ToIP(a)
			if err != nil || observedIP == nil || !ip.Equal(observedIP) || !manet.IsPublicAddr(a) {
				continue
			}
		}
		addrs = append(addrs, a)
	}
	return addrs
}

// admit applies the per peer and then the global throttle.
func (s *Server) admit(p peer.ID) error {
	if !s.peerLimiter.Allow(p.String(), 1) {
		return fmt.Errorf("%w: %s asked within %s", p2p.ErrCapacityExceeded, p, s.opts.ThrottleInterval)
	}
	if !s.globalLimiter.Allow(globalLimitKey, 1) {
		return fmt.Errorf("%w: over %d dial backs within %s", p2p.ErrCapacityExceeded, s.opts.GlobalLimit, s.opts.ThrottleInterval)
	}
	return nil
}

// HostDialer dials back from a host that is used for nothing else, so the
// probed peer can not answer over an existing connection.
type HostDialer struct {
	Host host.Host
}

func (d HostDialer) DialBack(ctx context.Context, info peer.AddrInfo) (ma.Multiaddr, error) {
	defer func() {
		_ = d.Host.Network().ClosePeer(info.ID)
		d.Host.Peerstore().ClearAddrs(info.ID)
	}()

	d.Host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)
	if err := d.Host.Connect(ctx, info); err != nil {
		return nil, p2p.NewTransportError(err)
	}
	conns := d.Host.Network().ConnsToPeer(info.ID)
	if len(conns) == 0 {
		return nil, p2p.NewTransportError(fmt.Errorf("connection to %s closed", info.ID))
	}
	return conns[0].RemoteMultiaddr(), nil
}
