// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	pbv2 "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/pb"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxReservations = 128
	defaultMaxCircuits     = 16
	defaultReservationTTL  = time.Hour
	defaultGCInterval      = time.Minute

	handshakeTimeout = time.Minute
	connectTimeout   = 30 * time.Second
)

type ServerOptions struct {
	MaxReservations int
	MaxCircuits     int
	ReservationTTL  time.Duration
	GCInterval      time.Duration
	// RequirePublic refuses reservations while the local reachability is
	// not public.
	RequirePublic bool
	// Reachability returns the local reachability. Called on the loop.
	Reachability func() p2p.ReachabilityStatus
	// Addrs returns the addresses of the relay put in reservations.
	Addrs func() []ma.Multiaddr
	// AllowPrivateAddrs keeps non public addresses in reservations.
	AllowPrivateAddrs bool
}

// Server is the relay side of the hop protocol. Reservations and circuit
// counts are owned by the core loop.
type Server struct {
	self     peer.ID
	core     *core.Core
	streamer p2p.Streamer
	logger   logging.Logger
	metrics  serverMetrics
	opts     ServerOptions

	reservations map[peer.ID]*Reservation
	circuits     map[peer.ID]int
}

type (
	reserveRequest struct{}
	connectRequest struct {
		src, dst peer.ID
	}
	circuitClosed struct {
		dst peer.ID
	}
	gcKey struct{}
)

func NewServer(self peer.ID, c *core.Core, streamer p2p.Streamer, logger logging.Logger, o ServerOptions) *Server {
	if o.MaxReservations <= 0 {
		o.MaxReservations = defaultMaxReservations
	}
	if o.MaxCircuits <= 0 {
		o.MaxCircuits = defaultMaxCircuits
	}
	if o.ReservationTTL <= 0 {
		o.ReservationTTL = defaultReservationTTL
	}
	if o.GCInterval <= 0 {
		o.GCInterval = defaultGCInterval
	}
	if o.Addrs == nil {
		o.Addrs = func() []ma.Multiaddr { return nil }
	}

	s := &Server{
		self:         self,
		core:         c,
		streamer:     streamer,
		logger:       logger,
		metrics:      newServerMetrics(),
		opts:         o,
		reservations: make(map[peer.ID]*Reservation),
		circuits:     make(map[peer.ID]int),
	}
	c.Register(core.TagRelay, s)
	return s
}

func (s *Server) Protocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    protocolName,
		Version: protocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    hopStreamName,
				Handler: s.handler,
			},
		},
	}
}

// Start schedules the reclamation of expired reservations.
func (s *Server) Start(ctx context.Context) error {
	return s.core.Call(ctx, func() {
		s.core.After(core.TagRelay, s.opts.GCInterval, gcKey{})
	})
}

// Handle implements core.Behaviour.
func (s *Server) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.ConnectionClosed:
		if e.Remaining > 0 {
			return
		}
		if _, ok := s.reservations[e.Peer]; ok {
			delete(s.reservations, e.Peer)
			s.metrics.Reservations.Set(float64(len(s.reservations)))
			s.logger.Debugf("relay: dropped reservation of disconnected peer %s", e.Peer)
		}
	case core.Inbound:
		switch m := e.Msg.(type) {
		case reserveRequest:
			e.Reply(s.reserve(e.Peer))
		case connectRequest:
			e.Reply(nil, s.openCircuit(m.src, m.dst))
		default:
			e.Reply(nil, fmt.Errorf("relay: unexpected inbound %T", e.Msg))
		}
	case core.Notice:
		if m, ok := e.Value.(circuitClosed); ok {
			s.closeCircuit(m.dst)
		}
	case core.Timer:
		if _, ok := e.Key.(gcKey); ok {
			s.gc()
			s.core.After(core.TagRelay, s.opts.GCInterval, gcKey{})
		}
	}
}

// reserve grants or renews the reservation of the peer. Renewals never
// consume capacity. Loop side.
func (s *Server) reserve(p peer.ID) (Reservation, error) {
	if s.opts.RequirePublic && (s.opts.Reachability == nil || s.opts.Reachability() != p2p.ReachabilityStatusPublic) {
		return Reservation{}, errPermissionDenied
	}

	s.gc()
	r, ok := s.reservations[p]
	if !ok {
		if len(s.reservations) >= s.opts.MaxReservations {
			return Reservation{}, p2p.ErrCapacityExceeded
		}
		r = &Reservation{Relay: s.self, Peer: p, Limit: s.opts.MaxCircuits}
		s.reservations[p] = r
		s.metrics.Reservations.Set(float64(len(s.reservations)))
	}
	r.Expiry = s.core.Clock().Now().Add(s.opts.ReservationTTL)
	r.Addrs = s.reservationAddrs()
	return *r, nil
}

func (s *Server) reservationAddrs() []ma.Multiaddr {
	var addrs []ma.Multiaddr
	for _, a := range s.opts.Addrs() {
		if p2p.IsRelayAddr(a) {
			continue
		}
		if !s.opts.AllowPrivateAddrs && !manet.IsPublicAddr(a) {
			continue
		}
		ca, err := CircuitAddr(a, s.self)
		if err != nil {
			continue
		}
		addrs = append(addrs, ca)
	}
	return addrs
}

// openCircuit admits a circuit to dst. Loop side.
func (s *Server) openCircuit(src, dst peer.ID) error {
	r, ok := s.reservations[dst]
	if !ok || !r.Valid(s.core.Clock().Now()) {
		return errNoReservation
	}
	if s.circuits[dst] >= s.opts.MaxCircuits {
		return fmt.Errorf("circuits to %s: %w", dst, p2p.ErrCapacityExceeded)
	}
	s.circuits[dst]++
	s.metrics.Circuits.Inc()
	s.logger.Debugf("relay: circuit %s -> %s admitted (%d active)", src, dst, s.circuits[dst])
	return nil
}

func (s *Server) closeCircuit(dst peer.ID) {
	if s.circuits[dst] <= 0 {
		return
	}
	s.circuits[dst]--
	if s.circuits[dst] == 0 {
		delete(s.circuits, dst)
	}
	s.metrics.Circuits.Dec()
}

// gc reclaims expired reservations. Loop side.
func (s *Server) gc() {
	now := s.core.Clock().Now()
	for p, r := range s.reservations {
		if !r.Valid(now) {
			delete(s.reservations, p)
			s.metrics.ExpiredReservationCount.Inc()
		}
	}
	s.metrics.Reservations.Set(float64(len(s.reservations)))
}

// Reservations returns the live reservations sorted by peer. Loop side.
func (s *Server) Reservations() []Reservation {
	now := s.core.Clock().Now()
	rs := make([]Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		if r.Valid(now) {
			rs = append(rs, *r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Peer < rs[j].Peer })
	return rs
}

// ReservationsContext returns the live reservations from outside of the
// loop.
func (s *Server) ReservationsContext(ctx context.Context) (rs []Reservation, err error) {
	err = s.core.Call(ctx, func() { rs = s.Reservations() })
	return rs, err
}

// Circuits returns the number of active circuits to the peer. Loop side.
func (s *Server) Circuits(p peer.ID) int {
	return s.circuits[p]
}

func (s *Server) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) error {
	w, r := protobuf.NewWriterAndReader(stream)

	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))
	var msg pbv2.HopMessage
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&msg)); err != nil {
		s.fail(ctx, w, stream, pbv2.Status_MALFORMED_MESSAGE)
		return fmt.Errorf("read hop message: %w", err)
	}
	s.metrics.HopRequestCount.WithLabelValues(msg.GetType().String()).Inc()

	switch msg.GetType() {
	case pbv2.HopMessage_RESERVE:
		return s.handleReserve(ctx, p, w, stream)
	case pbv2.HopMessage_CONNECT:
		return s.handleConnect(ctx, p, &msg, w, stream)
	default:
		s.fail(ctx, w, stream, pbv2.Status_UNEXPECTED_MESSAGE)
		return p2p.NewProtocolViolation("unexpected hop message %s", msg.GetType())
	}
}

func (s *Server) handleReserve(ctx context.Context, p p2p.Peer, w protobuf.Writer, stream p2p.Stream) error {
	if p.Relayed() {
		s.fail(ctx, w, stream, pbv2.Status_PERMISSION_DENIED)
		return fmt.Errorf("reservation from %s over a relayed connection", p.ID)
	}

	v, err := s.core.Ask(ctx, core.TagRelay, p.ID, reserveRequest{})
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, p2p.ErrCapacityExceeded) {
			status = pbv2.Status_RESERVATION_REFUSED
		}
		s.fail(ctx, w, stream, status)
		s.logger.Debugf("relay: reservation of %s refused: %v", p.ID, err)
		return nil
	}
	rsvp := v.(Reservation)

	expire := uint64(rsvp.Expiry.Unix())
	resp := &pbv2.HopMessage{
		Type:   pbv2.HopMessage_STATUS.Enum(),
		Status: pbv2.Status_OK.Enum(),
		Reservation: &pbv2.Reservation{
			Expire: &expire,
		},
	}
	for _, a := range rsvp.Addrs {
		resp.Reservation.Addrs = append(resp.Reservation.Addrs, a.Bytes())
	}
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(resp)); err != nil {
		// the reservation is reclaimed when it expires
		_ = stream.Reset()
		return fmt.Errorf("write reservation: %w", err)
	}
	s.logger.Debugf("relay: reserved slot for %s until %s", p.ID, rsvp.Expiry)
	return stream.Close()
}

func (s *Server) handleConnect(ctx context.Context, p p2p.Peer, msg *pbv2.HopMessage, w protobuf.Writer, stream p2p.Stream) error {
	if p.Relayed() {
		s.fail(ctx, w, stream, pbv2.Status_PERMISSION_DENIED)
		return fmt.Errorf("connect from %s over a relayed connection", p.ID)
	}
	dst, err := peerFromPB(msg.GetPeer())
	if err != nil {
		s.fail(ctx, w, stream, pbv2.Status_MALFORMED_MESSAGE)
		return err
	}

	if _, err := s.core.Ask(ctx, core.TagRelay, dst.ID, connectRequest{src: p.ID, dst: dst.ID}); err != nil {
		s.metrics.RefusedCircuitCount.Inc()
		s.fail(ctx, w, stream, statusFor(err))
		s.logger.Debugf("relay: circuit %s -> %s refused: %v", p.ID, dst.ID, err)
		return nil
	}
	defer s.core.Post(core.TagRelay, dst.ID, circuitClosed{dst: dst.ID})

	bs, err := s.stop(ctx, p.ID, dst.ID)
	if err != nil {
		s.fail(ctx, w, stream, pbv2.Status_CONNECTION_FAILED)
		return fmt.Errorf("stop %s: %w", dst.ID, err)
	}

	resp := &pbv2.HopMessage{
		Type:   pbv2.HopMessage_STATUS.Enum(),
		Status: pbv2.Status_OK.Enum(),
	}
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(resp)); err != nil {
		_ = bs.Reset()
		_ = stream.Reset()
		return fmt.Errorf("write connect response: %w", err)
	}
	_ = stream.SetDeadline(time.Time{})
	_ = bs.SetDeadline(time.Time{})

	s.logger.Debugf("relay: relaying %s -> %s", p.ID, dst.ID)
	s.metrics.CircuitCount.Inc()
	s.splice(stream, bs)
	return nil
}

// stop opens the stop stream to the destination over an existing
// connection and performs the handshake.
func (s *Server) stop(ctx context.Context, src, dst peer.ID) (p2p.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	ctx = network.WithNoDial(ctx, "relay stop")

	bs, err := s.streamer.NewStream(ctx, dst, protocolName, protocolVersion, stopStreamName)
	if err != nil {
		return nil, err
	}
	_ = bs.SetDeadline(time.Now().Add(handshakeTimeout))

	w, r := protobuf.NewWriterAndReader(bs)
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(&pbv2.StopMessage{
		Type: pbv2.StopMessage_CONNECT.Enum(),
		Peer: peerToPB(peer.AddrInfo{ID: src}),
	})); err != nil {
		_ = bs.Reset()
		return nil, fmt.Errorf("write stop connect: %w", err)
	}
	var resp pbv2.StopMessage
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&resp)); err != nil {
		_ = bs.Reset()
		return nil, fmt.Errorf("read stop response: %w", err)
	}
	if resp.GetType() != pbv2.StopMessage_STATUS {
		_ = bs.Reset()
		return nil, p2p.NewProtocolViolation("stop response of type %s", resp.GetType())
	}
	if st := resp.GetStatus(); st != pbv2.Status_OK {
		_ = bs.Reset()
		return nil, &StatusError{Status: st}
	}
	return bs, nil
}

// splice copies both directions until each side has closed. A copy error
// resets both streams.
func (s *Server) splice(a, b p2p.Stream) {
	var g errgroup.Group
	pipe := func(dst, src p2p.Stream) func() error {
		return func() error {
			n, err := io.Copy(dst, src)
			s.metrics.RelayedBytes.Add(float64(n))
			if err != nil {
				_ = src.Reset()
				_ = dst.Reset()
				return err
			}
			return dst.CloseWrite()
		}
	}
	g.Go(pipe(b, a))
	g.Go(pipe(a, b))
	if err := g.Wait(); err != nil {
		s.logger.Debugf("relay: circuit closed: %v", err)
	}
	_ = a.Close()
	_ = b.Close()
}

func (s *Server) fail(ctx context.Context, w protobuf.Writer, stream p2p.Stream, status pbv2.Status) {
	msg := &pbv2.HopMessage{
		Type:   pbv2.HopMessage_STATUS.Enum(),
		Status: status.Enum(),
	}
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(msg)); err != nil {
		_ = stream.Reset()
		return
	}
	_ = stream.Close()
}
