// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/rendezvous/pb"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	defaultGCInterval     = time.Minute
	defaultRequestTimeout = 30 * time.Second
)

type ServerOptions struct {
	RegistryOptions
	GCInterval     time.Duration
	RequestTimeout time.Duration
}

// Server answers rendezvous requests from its registry, which is owned by
// the core loop.
type Server struct {
	core     *core.Core
	registry *Registry
	logger   logging.Logger
	metrics  serverMetrics
	opts     ServerOptions
}

type (
	registerRequest struct {
		reg Registration
	}
	unregisterRequest struct {
		ns string
	}
	discoverRequest struct {
		ns     string
		cookie []byte
		limit  int
	}
	discoverResult struct {
		regs   []Registration
		cookie []byte
	}
	gcKey struct{}
)

func NewServer(c *core.Core, logger logging.Logger, o ServerOptions) *Server {
	if o.GCInterval <= 0 {
		o.GCInterval = defaultGCInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		core:     c,
		registry: NewRegistry(o.RegistryOptions),
		logger:   logger,
		metrics:  newServerMetrics(),
		opts:     o,
	}
	c.Register(core.TagRendezvous, s)
	return s
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

// Start schedules the collection of expired registrations.
func (s *Server) Start(ctx context.Context) error {
	return s.core.Call(ctx, func() {
		s.core.After(core.TagRendezvous, s.opts.GCInterval, gcKey{})
	})
}

// Handle implements core.Behaviour.
func (s *Server) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.Inbound:
		now := s.core.Clock().Now()
		switch m := e.Msg.(type) {
		case registerRequest:
			reg, err := s.registry.Register(m.reg, now)
			s.metrics.Registrations.Set(float64(s.registry.Len()))
			e.Reply(reg, err)
		case unregisterRequest:
			s.registry.Unregister(m.ns, e.Peer)
			s.metrics.Registrations.Set(float64(s.registry.Len()))
			e.Reply(nil, nil)
		case discoverRequest:
			regs, cookie, err := s.registry.Discover(m.ns, m.cookie, m.limit, now)
			e.Reply(discoverResult{regs: regs, cookie: cookie}, err)
		default:
			e.Reply(nil, fmt.Errorf("rendezvous: unexpected inbound %T", e.Msg))
		}
	case core.Timer:
		if _, ok := e.Key.(gcKey); ok {
			if n := s.registry.GC(s.core.Clock().Now()); n > 0 {
				s.metrics.ExpiredCount.Add(float64(n))
				s.metrics.Registrations.Set(float64(s.registry.Len()))
				s.logger.Debugf("rendezvous: removed %d expired registrations", n)
			}
			s.core.After(core.TagRendezvous, s.opts.GCInterval, gcKey{})
		}
	}
}

// Registrations returns the live registrations. Loop side.
func (s *Server) Registrations() []Registration {
	return s.registry.Registrations(s.core.Clock().Now())
}

// RegistrationsContext returns the live registrations from outside of the
// loop.
func (s *Server) RegistrationsContext(ctx context.Context) (regs []Registration, err error) {
	err = s.core.Call(ctx, func() { regs = s.Registrations() })
	return regs, err
}

// handler serves requests until the remote closes its side of the stream.
func (s *Server) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) (err error) {
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			_ = stream.FullClose()
		}
	}()

	w, r := protobuf.NewWriterAndReader(stream)
	for {
		if err := s.serve(ctx, p, w, r); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *Server) serve(ctx context.Context, p p2p.Peer, w protobuf.Writer, r protobuf.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	var req pb.Message
	if err := r.ReadMsgWithContext(ctx, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("read request: %w", err)
	}
	s.metrics.RequestCount.WithLabelValues(req.Type.String()).Inc()

	var resp *pb.Message
	switch {
	case req.Type == pb.MessageTypeRegister && req.Register != nil:
		resp = &pb.Message{
			Type:             pb.MessageTypeRegisterResponse,
			RegisterResponse: s.register(ctx, p.ID, req.Register),
		}
	case req.Type == pb.MessageTypeUnregister && req.Unregister != nil:
		if len(req.Unregister.ID) > 0 && peer.ID(req.Unregister.ID) != p.ID {
			return p2p.NewProtocolViolation("unregister of another peer")
		}
		if _, err := s.core.Ask(ctx, core.TagRendezvous, p.ID, unregisterRequest{ns: req.Unregister.Ns}); err != nil {
			return fmt.Errorf("unregister: %w", err)
		}
		s.metrics.UnregisterCount.Inc()
		return nil
	case req.Type == pb.MessageTypeDiscover && req.Discover != nil:
		resp = &pb.Message{
			Type:             pb.MessageTypeDiscoverResponse,
			DiscoverResponse: s.discover(ctx, p.ID, req.Discover),
		}
	default:
		return p2p.NewProtocolViolation("unexpected message type %s", req.Type)
	}

	if err := w.WriteMsgWithContext(ctx, resp); err != nil {
		return fmt.Errorf("write %s: %w", resp.Type, err)
	}
	return nil
}

func (s *Server) register(ctx context.Context, from peer.ID, req *pb.Register) *pb.RegisterResponse {
	refuse := func(err error) *pb.RegisterResponse {
		s.metrics.RegisterRefusedCount.Inc()
		s.logger.Debugf("rendezvous: registration of %s in %q refused: %v", from, req.Ns, err)
		return &pb.RegisterResponse{Status: statusFor(err), StatusText: err.Error()}
	}

	id, addrs, err := OpenRecord(req.SignedPeerRecord)
	if err != nil {
		return refuse(err)
	}
	if id != from {
		return refuse(fmt.Errorf("%w: record of %s", ErrNotAuthorized, id))
	}

	v, err := s.core.Ask(ctx, core.TagRendezvous, from, registerRequest{reg: Registration{
		Namespace: req.Ns,
		Peer:      from,
		Addrs:     addrs,
		TTL:       time.Duration(req.TTL) * time.Second,
		Record:    req.SignedPeerRecord,
	}})
	if err != nil {
		return refuse(err)
	}
	reg := v.(Registration)
	s.metrics.RegisterCount.Inc()
	s.logger.Debugf("rendezvous: registered %s in %q for %s", from, reg.Namespace, reg.TTL)
	return &pb.RegisterResponse{Status: pb.StatusOK, TTL: uint64(reg.TTL / time.Second)}
}

func (s *Server) discover(ctx context.Context, from peer.ID, req *pb.Discover) *pb.DiscoverResponse {
	v, err := s.core.Ask(ctx, core.TagRendezvous, from, discoverRequest{
		ns:     req.Ns,
		cookie: req.Cookie,
		limit:  int(req.Limit),
	})
	if err != nil {
		s.logger.Debugf("rendezvous: discover %q from %s: %v", req.Ns, from, err)
		return &pb.DiscoverResponse{Status: statusFor(err), StatusText: err.Error()}
	}
	res := v.(discoverResult)
	s.metrics.DiscoverCount.Inc()

	now := s.core.Clock().Now()
	resp := &pb.DiscoverResponse{Status: pb.StatusOK, Cookie: res.cookie}
	for _, reg := range res.regs {
		ttl := reg.Expiry.Sub(now) / time.Second
		if ttl < 1 {
			ttl = 1
		}
		resp.Registrations = append(resp.Registrations, &pb.Register{
			Ns:               reg.Namespace,
			SignedPeerRecord: reg.Record,
			TTL:              uint64(ttl),
		})
	}
	return resp
}
