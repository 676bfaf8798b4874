// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package holepunch upgrades relayed connections to direct ones with the
// direct connection upgrade through relay protocol.
//
// The peer that accepted a relayed connection initiates. Both peers
// exchange their candidate addresses over the relayed connection, the
// initiator measures the round trip time and sends a synchronisation
// message, and both dial each other at the same moment so that the NAT
// mappings on either side let the packets of the other through.
package holepunch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/tracing"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	pb "github.com/libp2p/go-libp2p/p2p/protocol/holepunch/pb"
	"github.com/libp2p/go-libp2p/p2p/protocol/identify"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/opentracing/opentracing-go"
)

const (
	protocolName    = "/libp2p/dcutr"
	protocolVersion = ""
	streamName      = ""

	defaultMaxRounds    = 3
	defaultRoundTimeout = 10 * time.Second
	defaultSyncDelay    = 100 * time.Millisecond
	defaultBackoff      = 5 * time.Minute

	maxAddrs         = 24
	backoffCacheSize = 1024
)

// ProtocolID is the identifier announced in identify.
var ProtocolID = protocol.ID(protocolName)

var (
	errNoAddrs         = errors.New("no addresses to punch")
	errAttemptRunning  = errors.New("attempt in progress")
	errBackoff         = errors.New("recently failed")
	errDirect          = errors.New("already connected directly")
	errPrivate         = errors.New("local node is private")
	errNotRelayed      = errors.New("not a relayed connection")
	errNoDirectConn    = errors.New("no direct connection after the dial")
	errNoAttempt       = errors.New("no attempt")
	errRelayClosed     = errors.New("relayed connection closed")
	errInitiatorGone   = errors.New("initiator did not start the next round")
	errRoundsExhausted = errors.New("rounds exhausted")
)

// Event is emitted to the application on every state change of an attempt.
type Event struct {
	Peer      peer.ID
	Initiator bool
	State     State
	Round     int
	Err       error
}

// Puncher dials the peer on the exchanged addresses at the synchronised
// moment. The initiator dials as the client of a simultaneous open.
type Puncher interface {
	Punch(ctx context.Context, info peer.AddrInfo, isClient bool) error
}

type Options struct {
	// MaxRounds is the number of synchronised dials before an attempt fails.
	MaxRounds int
	// RoundTimeout bounds the address exchange and the dial of a round.
	RoundTimeout time.Duration
	// SyncDelay is added to the dial deadline of both peers.
	SyncDelay time.Duration
	// Backoff is how long a peer is not punched to again after a failure.
	Backoff time.Duration
	// Puncher defaults to a HostPuncher over the host of the core.
	Puncher Puncher
	// Addrs returns the local candidate addresses. It defaults to the
	// observed and listen addresses of the host of the core.
	Addrs func() []ma.Multiaddr
	// Reachability returns the local reachability. Called on the loop.
	Reachability func() p2p.ReachabilityStatus
	// SkipWhenPrivate does not initiate attempts while the local node is
	// known to be private.
	SkipWhenPrivate bool
	// CloseRelayedOnSuccess closes the relayed connections to the peer
	// once a direct one is established.
	CloseRelayedOnSuccess bool
	// AllowPrivateAddrs keeps non public candidate addresses.
	AllowPrivateAddrs bool
	// Tracer traces every attempt with its exchanges and dials as child
	// spans.
	Tracer *tracing.Tracer
}

// Service coordinates the attempts of the node, as initiator and as
// responder. The attempt table is owned by the core loop.
type Service struct {
	self     peer.ID
	core     *core.Core
	streamer p2p.Streamer
	logger   logging.Logger
	metrics  metrics
	opts     Options

	attempts map[peer.ID]*entry
	pending  map[core.RequestID]request
	failed   *lru.Cache[peer.ID, time.Time]
}

type entry struct {
	attempt   *Attempt
	initiator bool
	request   core.RequestID
	timer     core.TimerID
	// connected is set on the responder once the connect message of the
	// current round arrived, remote holds its addresses until the sync
	connected bool
	remote    []ma.Multiaddr
	span      opentracing.Span
}

type requestKind int

const (
	requestExchange requestKind = iota
	requestPunch
	requestCloseRelayed
)

type request struct {
	peer peer.ID
	kind requestKind
}

type (
	punchKey struct {
		peer  peer.ID
		round int
	}
	waitKey struct {
		peer  peer.ID
		round int
	}
	connectRequest struct {
		remote []ma.Multiaddr
	}
	syncRequest    struct{}
	exchangeFailed struct {
		err error
	}
	exchanged struct {
		remote   []ma.Multiaddr
		rtt      time.Duration
		syncedAt time.Time
	}
)

func New(self peer.ID, c *core.Core, streamer p2p.Streamer, logger logging.Logger, o Options) (*Service, error) {
	if o.MaxRounds <= 0 {
		o.MaxRounds = defaultMaxRounds
	}
	if o.RoundTimeout <= 0 {
		o.RoundTimeout = defaultRoundTimeout
	}
	if o.SyncDelay <= 0 {
		o.SyncDelay = defaultSyncDelay
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	if h := c.Host(); h != nil {
		if o.Puncher == nil {
			o.Puncher = HostPuncher{Host: h}
		}
		if o.Addrs == nil {
			o.Addrs = HostAddrs(h)
		}
	}
	if o.Puncher == nil {
		return nil, errors.New("holepunch: no puncher")
	}
	if o.Addrs == nil {
		o.Addrs = func() []ma.Multiaddr { return nil }
	}
	failed, err := lru.New[peer.ID, time.Time](backoffCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Service{
		self:     self,
		core:     c,
		streamer: streamer,
		logger:   logger,
		metrics:  newMetrics(),
		opts:     o,
		attempts: make(map[peer.ID]*entry),
		pending:  make(map[core.RequestID]request),
		failed:   failed,
	}
	c.Register(core.TagDcutr, s)
	return s, nil
}

func (s *Service) Protocol() p2p.ProtocolSpec {
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

// Handle implements core.Behaviour.
func (s *Service) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.Identify:
		if !speaks(e.Protocols) || !s.inboundRelayedOnly(e.Peer) {
			return
		}
		if err := s.Punch(e.Peer); err != nil {
			s.logger.Debugf("holepunch: not punching to %s: %v", e.Peer, err)
		}
	case core.ConnectionClosed:
		ent, ok := s.attempts[e.Peer]
		if !ok || (e.ConnID != ent.attempt.RelayConn && e.Remaining > 0) {
			return
		}
		if ent.attempt.State == StatePunching && s.directConn(e.Peer) {
			s.succeed(e.Peer, ent)
			return
		}
		ent.attempt.fail()
		s.finish(e.Peer, ent, errRelayClosed)
	case core.Inbound:
		switch m := e.Msg.(type) {
		case connectRequest:
			e.Reply(s.connect(e.Peer, m.remote))
		case syncRequest:
			e.Reply(nil, s.sync(e.Peer))
		}
	case core.Notice:
		if m, ok := e.Value.(exchangeFailed); ok {
			if ent, ok := s.attempts[e.Peer]; ok && !ent.initiator && ent.connected {
				s.roundFailed(e.Peer, ent, m.err)
			}
		}
	case core.Result:
		req, ok := s.pending[e.ID]
		if !ok {
			return
		}
		delete(s.pending, e.ID)
		s.complete(req, e)
	case core.Timer:
		switch k := e.Key.(type) {
		case punchKey:
			ent, ok := s.attempts[k.peer]
			if ok && ent.attempt.Round == k.round && ent.attempt.State == StatePunching {
				s.punch(k.peer, ent)
			}
		case waitKey:
			ent, ok := s.attempts[k.peer]
			if ok && ent.attempt.Round == k.round && ent.attempt.State == StateWaitingForSync && !ent.connected {
				ent.attempt.fail()
				s.finish(k.peer, ent, errInitiatorGone)
			}
		}
	}
}

func (s *Service) complete(req request, e core.Result) {
	if req.kind == requestCloseRelayed {
		if e.Err != nil {
			s.logger.Debugf("holepunch: close relayed connections to %s: %v", req.peer, e.Err)
		}
		return
	}
	ent, ok := s.attempts[req.peer]
	if !ok || ent.request != e.ID {
		return
	}
	ent.request = 0

	switch req.kind {
	case requestExchange:
		if e.Err != nil {
			s.roundFailed(req.peer, ent, fmt.Errorf("exchange: %w", e.Err))
			return
		}
		x := e.Value.(exchanged)
		if len(x.remote) == 0 {
			s.roundFailed(req.peer, ent, fmt.Errorf("remote: %w", errNoAddrs))
			return
		}
		if err := ent.attempt.synced(x.remote, x.rtt); err != nil {
			s.logger.Errorf("holepunch: attempt with %s: %v", req.peer, err)
			return
		}
		s.emit(req.peer, ent, nil)
		d := s.opts.SyncDelay + x.rtt/2 - s.core.Clock().Since(x.syncedAt)
		if d < 0 {
			d = 0
		}
		ent.timer = s.core.AfterPeer(core.TagDcutr, req.peer, d, punchKey{peer: req.peer, round: ent.attempt.Round})
	case requestPunch:
		if e.Err != nil {
			s.roundFailed(req.peer, ent, fmt.Errorf("dial: %w", e.Err))
			return
		}
		s.succeed(req.peer, ent)
	}
}

// Punch starts an attempt as the initiator with a peer that is connected
// only through relays. It fails for a peer that is not connected at all.
// Loop side.
func (s *Service) Punch(p peer.ID) error {
	return s.startAttempt(p, nil)
}

// PunchContext is Punch from outside of the loop. The attempt continues
// the trace carried by ctx.
func (s *Service) PunchContext(ctx context.Context, p peer.ID) error {
	var err error
	if cerr := s.core.Call(ctx, func() { err = s.startAttempt(p, tracing.FromContext(ctx)) }); cerr != nil {
		return cerr
	}
	return err
}

func (s *Service) startAttempt(p peer.ID, parent opentracing.SpanContext) error {
	if _, ok := s.attempts[p]; ok {
		return errAttemptRunning
	}
	var relayConn string
	for _, c := range s.core.Conns(p) {
		if !c.Relayed {
			return errDirect
		}
		if relayConn == "" {
			relayConn = c.ID
		}
	}
	if relayConn == "" {
		return fmt.Errorf("%w to %s", errNotRelayed, p)
	}
	now := s.core.Clock().Now()
	if t, ok := s.failed.Get(p); ok && now.Sub(t) < s.opts.Backoff {
		return fmt.Errorf("%w at %s", errBackoff, t)
	}
	if s.opts.SkipWhenPrivate && s.opts.Reachability != nil && s.opts.Reachability() == p2p.ReachabilityStatusPrivate {
		return errPrivate
	}
	local := s.localAddrs()
	if len(local) == 0 {
		return errNoAddrs
	}

	a := &Attempt{Initiator: s.self, Responder: p, RelayConn: relayConn, LocalAddrs: local}
	if err := a.start(now); err != nil {
		return err
	}
	ent := &entry{attempt: a, initiator: true, span: s.startSpan(p, true, parent)}
	s.attempts[p] = ent
	s.metrics.AttemptCount.Inc()
	s.metrics.ActiveAttempts.Set(float64(len(s.attempts)))
	s.logger.Debugf("holepunch: punching to %s with %d local addresses", p, len(local))
	s.emit(p, ent, nil)
	s.exchange(p, ent)
	return nil
}

// exchange runs the initiator side of the address exchange of a round.
func (s *Service) exchange(p peer.ID, ent *entry) {
	s.metrics.RoundCount.Inc()
	connect := newMessage(pb.HolePunch_CONNECT, ent.attempt.LocalAddrs)
	allowPrivate := s.opts.AllowPrivateAddrs
	clk := s.core.Clock()
	tracer, parent, round := s.opts.Tracer, ent.span.Context(), ent.attempt.Round

	ent.request = s.core.Request(core.TagDcutr, s.streamer, p, protocolName, protocolVersion, streamName, s.opts.RoundTimeout, func(ctx context.Context, stream p2p.Stream) (_ any, err error) {
		span, _, ctx := tracer.StartSpanFromContext(tracing.WithContext(ctx, parent), "holepunch-exchange", nil, opentracing.Tag{Key: "round", Value: round})
		defer func() { tracing.FinishSpan(span, err) }()

		w, r := protobuf.NewWriterAndReader(stream)
		start := clk.Now()
		if err := w.WriteMsgWithContext(ctx, protobuf.Proto(connect)); err != nil {
			return nil, fmt.Errorf("write connect: %w", err)
		}
		var resp pb.HolePunch
		if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&resp)); err != nil {
			return nil, fmt.Errorf("read connect: %w", err)
		}
		rtt := clk.Since(start)
		if resp.Type == nil || resp.GetType() != pb.HolePunch_CONNECT {
			return nil, p2p.NewProtocolViolation("expected connect, got %s", resp.GetType())
		}
		if err := w.WriteMsgWithContext(ctx, protobuf.Proto(newMessage(pb.HolePunch_SYNC, nil))); err != nil {
			return nil, fmt.Errorf("write sync: %w", err)
		}
		return exchanged{
			remote:   filterAddrs(parseAddrs(resp.GetObsAddrs()), allowPrivate),
			rtt:      rtt,
			syncedAt: clk.Now(),
		}, nil
	})
	s.pending[ent.request] = request{peer: p, kind: requestExchange}
}

// punch dials the peer on a worker.
func (s *Service) punch(p peer.ID, ent *entry) {
	info := peer.AddrInfo{ID: p, Addrs: ent.attempt.RemoteAddrs}
	isClient := ent.initiator
	puncher := s.opts.Puncher
	tracer, parent, round := s.opts.Tracer, ent.span.Context(), ent.attempt.Round
	s.logger.Debugf("holepunch: round %d: dialing %s on %v", ent.attempt.Round, p, info.Addrs)

	ent.request = s.core.ExecTimeout(core.TagDcutr, p, s.opts.RoundTimeout, func(ctx context.Context) (any, error) {
		span, _, ctx := tracer.StartSpanFromContext(tracing.WithContext(ctx, parent), "holepunch-punch", nil,
			opentracing.Tag{Key: "round", Value: round},
			opentracing.Tag{Key: "addresses", Value: len(info.Addrs)},
		)
		err := puncher.Punch(ctx, info, isClient)
		tracing.FinishSpan(span, err)
		return nil, err
	})
	s.pending[ent.request] = request{peer: p, kind: requestPunch}
}

// connect answers the connect message of the initiator with the local
// candidate addresses. A connect while the responder still punches or
// waits for a sync starts the next round.
func (s *Service) connect(p peer.ID, remote []ma.Multiaddr) ([]ma.Multiaddr, error) {
	ent, ok := s.attempts[p]
	if ok && ent.initiator {
		return nil, errAttemptRunning
	}
	if ok {
		if ent.attempt.State == StatePunching || ent.connected {
			s.cancel(ent)
			if !ent.attempt.roundFailed(s.opts.MaxRounds) {
				s.finish(p, ent, errRoundsExhausted)
				return nil, errRoundsExhausted
			}
			s.emit(p, ent, nil)
		}
		s.core.CancelTimer(ent.timer)
	} else {
		local := s.localAddrs()
		if len(local) == 0 {
			return nil, errNoAddrs
		}
		var relayConn string
		for _, c := range s.core.Conns(p) {
			if c.Relayed {
				relayConn = c.ID
				break
			}
		}
		a := &Attempt{Initiator: p, Responder: s.self, RelayConn: relayConn, LocalAddrs: local}
		if err := a.start(s.core.Clock().Now()); err != nil {
			return nil, err
		}
		ent = &entry{attempt: a, span: s.startSpan(p, false, nil)}
		s.attempts[p] = ent
		s.metrics.AttemptCount.Inc()
		s.metrics.ActiveAttempts.Set(float64(len(s.attempts)))
		s.emit(p, ent, nil)
	}
	s.metrics.RoundCount.Inc()
	ent.connected = true
	ent.remote = remote
	return ent.attempt.LocalAddrs, nil
}

// sync schedules the dial of the responder.
func (s *Service) sync(p peer.ID) error {
	ent, ok := s.attempts[p]
	if !ok || ent.initiator || !ent.connected {
		return errNoAttempt
	}
	if err := ent.attempt.synced(ent.remote, 0); err != nil {
		return err
	}
	ent.connected = false
	ent.remote = nil
	s.emit(p, ent, nil)
	ent.timer = s.core.AfterPeer(core.TagDcutr, p, s.opts.SyncDelay, punchKey{peer: p, round: ent.attempt.Round})
	return nil
}

// roundFailed moves to the next round or fails the attempt. The initiator
// starts the next exchange right away, the responder waits for it.
func (s *Service) roundFailed(p peer.ID, ent *entry, err error) {
	s.cancel(ent)
	ent.connected = false
	ent.remote = nil
	s.logger.Debugf("holepunch: round %d with %s failed: %v", ent.attempt.Round, p, err)
	if !ent.attempt.roundFailed(s.opts.MaxRounds) {
		s.finish(p, ent, err)
		return
	}
	s.emit(p, ent, err)
	if ent.initiator {
		s.exchange(p, ent)
		return
	}
	ent.timer = s.core.AfterPeer(core.TagDcutr, p, s.opts.RoundTimeout, waitKey{peer: p, round: ent.attempt.Round})
}

func (s *Service) succeed(p peer.ID, ent *entry) {
	if err := ent.attempt.succeed(); err != nil {
		s.logger.Errorf("holepunch: attempt with %s: %v", p, err)
		return
	}
	s.finish(p, ent, nil)
	if s.opts.CloseRelayedOnSuccess {
		s.closeRelayed(p)
	}
}

// finish removes a resolved attempt.
func (s *Service) finish(p peer.ID, ent *entry, err error) {
	s.cancel(ent)
	delete(s.attempts, p)
	s.metrics.ActiveAttempts.Set(float64(len(s.attempts)))
	s.metrics.OutcomeCount.WithLabelValues(ent.attempt.State.String()).Inc()

	if ent.attempt.State == StateSucceeded {
		s.failed.Remove(p)
		s.logger.Infof("holepunch: direct connection with %s in round %d", p, ent.attempt.Round)
	} else {
		s.failed.Add(p, s.core.Clock().Now())
		s.logger.Debugf("holepunch: attempt with %s failed after %d rounds: %v", p, ent.attempt.Round, err)
	}
	s.emit(p, ent, err)

	ent.span.SetTag("state", ent.attempt.State.String())
	ent.span.SetTag("rounds", ent.attempt.Round)
	tracing.FinishSpan(ent.span, err)
}

func (s *Service) startSpan(p peer.ID, initiator bool, parent opentracing.SpanContext) opentracing.Span {
	opts := []opentracing.StartSpanOption{
		opentracing.Tag{Key: "peer", Value: p.String()},
		opentracing.Tag{Key: "initiator", Value: initiator},
	}
	if parent != nil {
		opts = append(opts, opentracing.ChildOf(parent))
	}
	return s.opts.Tracer.StartSpan("holepunch-attempt", opts...)
}

func (s *Service) cancel(ent *entry) {
	if ent.request != 0 {
		s.core.Cancel(ent.request)
		delete(s.pending, ent.request)
		ent.request = 0
	}
	s.core.CancelTimer(ent.timer)
}

func (s *Service) emit(p peer.ID, ent *entry, err error) {
	s.core.Emit(core.TagDcutr, p, Event{
		Peer:      p,
		Initiator: ent.initiator,
		State:     ent.attempt.State,
		Round:     ent.attempt.Round,
		Err:       err,
	})
}

// closeRelayed closes the relayed connections to the peer on a worker.
func (s *Service) closeRelayed(p peer.ID) {
	h := s.core.Host()
	if h == nil {
		return
	}
	id := s.core.Exec(core.TagDcutr, p, func(ctx context.Context) (any, error) {
		for _, c := range h.Network().ConnsToPeer(p) {
			if !isDirect(c) {
				if err := c.Close(); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	s.pending[id] = request{peer: p, kind: requestCloseRelayed}
}

// inboundRelayedOnly reports whether the peer is connected only through
// relays and at least one of those connections was dialed by the peer.
func (s *Service) inboundRelayedOnly(p peer.ID) bool {
	conns := s.core.Conns(p)
	inbound := false
	for _, c := range conns {
		if !c.Relayed {
			return false
		}
		inbound = inbound || c.Inbound
	}
	return inbound
}

func (s *Service) directConn(p peer.ID) bool {
	for _, c := range s.core.Conns(p) {
		if !c.Relayed {
			return true
		}
	}
	return false
}

func (s *Service) localAddrs() []ma.Multiaddr {
	return filterAddrs(s.opts.Addrs(), s.opts.AllowPrivateAddrs)
}

// Attempts returns the unresolved attempts. Loop side.
func (s *Service) Attempts() []Attempt {
	as := make([]Attempt, 0, len(s.attempts))
	for _, ent := range s.attempts {
		as = append(as, *ent.attempt)
	}
	return as
}

// AttemptsContext returns the unresolved attempts from outside of the loop.
func (s *Service) AttemptsContext(ctx context.Context) (as []Attempt, err error) {
	err = s.core.Call(ctx, func() { as = s.Attempts() })
	return as, err
}

// handler is the responder side of a round.
func (s *Service) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) error {
	if !p.Relayed() {
		_ = stream.Reset()
		return fmt.Errorf("%w from %s", errNotRelayed, p.ID)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RoundTimeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)
	var connect pb.HolePunch
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&connect)); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("read connect: %w", err)
	}
	if connect.Type == nil || connect.GetType() != pb.HolePunch_CONNECT {
		_ = stream.Reset()
		return p2p.NewProtocolViolation("expected connect, got %s", connect.GetType())
	}

	remote := filterAddrs(parseAddrs(connect.GetObsAddrs()), s.opts.AllowPrivateAddrs)
	v, err := s.core.Ask(ctx, core.TagDcutr, p.ID, connectRequest{remote: remote})
	if err != nil {
		_ = stream.Reset()
		return fmt.Errorf("connect from %s: %w", p.ID, err)
	}

	fail := func(err error) error {
		s.core.Post(core.TagDcutr, p.ID, exchangeFailed{err: err})
		_ = stream.Reset()
		return err
	}
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(newMessage(pb.HolePunch_CONNECT, v.([]ma.Multiaddr)))); err != nil {
		return fail(fmt.Errorf("write connect: %w", err))
	}
	var sync pb.HolePunch
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&sync)); err != nil {
		return fail(fmt.Errorf("read sync: %w", err))
	}
	if sync.Type == nil || sync.GetType() != pb.HolePunch_SYNC {
		return fail(p2p.NewProtocolViolation("expected sync, got %s", sync.GetType()))
	}
	if _, err := s.core.Ask(ctx, core.TagDcutr, p.ID, syncRequest{}); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("sync from %s: %w", p.ID, err)
	}
	return stream.FullClose()
}

func newMessage(t pb.HolePunch_Type, addrs []ma.Multiaddr) *pb.HolePunch {
	msg := &pb.HolePunch{Type: t.Enum()}
	for _, a := range addrs {
		msg.ObsAddrs = append(msg.ObsAddrs, a.Bytes())
	}
	return msg
}

func parseAddrs(raw [][]byte) []ma.Multiaddr {
	addrs := make([]ma.Multiaddr, 0, len(raw))
	for _, b := range raw {
		if a, err := ma.NewMultiaddrBytes(b); err == nil {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// filterAddrs drops relayed and duplicate addresses, and private ones
// unless allowed.
func filterAddrs(addrs []ma.Multiaddr, allowPrivate bool) []ma.Multiaddr {
	seen := make(map[string]struct{}, len(addrs))
	var out []ma.Multiaddr
	for _, a := range addrs {
		if len(out) == maxAddrs {
			break
		}
		if p2p.IsRelayAddr(a) || (!allowPrivate && !manet.IsPublicAddr(a)) {
			continue
		}
		if _, ok := seen[string(a.Bytes())]; ok {
			continue
		}
		seen[string(a.Bytes())] = struct{}{}
		out = append(out, a)
	}
	return out
}

func speaks(protocols []protocol.ID) bool {
	for _, p := range protocols {
		if p == ProtocolID {
			return true
		}
	}
	return false
}

// HostAddrs returns the addresses peers observed the host on followed by
// its listen addresses.
func HostAddrs(h host.Host) func() []ma.Multiaddr {
	return func() []ma.Multiaddr {
		var addrs []ma.Multiaddr
		if ids, ok := h.(interface{ IDService() identify.IDService }); ok {
			addrs = append(addrs, ids.IDService().OwnObservedAddrs()...)
		}
		return append(addrs, h.Addrs()...)
	}
}

// HostPuncher dials with simultaneous open semantics and forces a direct
// connection even though a relayed one exists.
type HostPuncher struct {
	Host host.Host
}

func (hp HostPuncher) Punch(ctx context.Context, info peer.AddrInfo, isClient bool) error {
	if len(info.Addrs) == 0 {
		return errNoAddrs
	}
	ctx = network.WithForceDirectDial(ctx, "hole-punching")
	ctx = network.WithSimultaneousConnect(ctx, isClient, "hole-punching")
	if err := hp.Host.Connect(ctx, info); err != nil {
		return p2p.NewTransportError(err)
	}
	for _, c := range hp.Host.Network().ConnsToPeer(info.ID) {
		if isDirect(c) {
			return nil
		}
	}
	return errNoDirectConn
}

func isDirect(c network.Conn) bool {
	return !c.Stat().Transient && !p2p.IsRelayAddr(c.RemoteMultiaddr())
}
