// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/ethersphere/beacon/pkg/topology"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	pbv2 "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/pb"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/opentracing/opentracing-go"
)

const (
	defaultMaxRelays      = 2
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAfter     = time.Minute
)

// Status is the state of a relay as seen by the client.
type Status int

const (
	StatusDiscovered Status = iota
	StatusRequested
	StatusAccepted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusRequested:
		return "requested"
	case StatusAccepted:
		return "accepted"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Event is emitted to the application when the status of a relay changes.
type Event struct {
	Relay  peer.ID
	Status Status
	Err    error
}

// Candidates lists the peers that speak a protocol. Called on the loop.
type Candidates interface {
	Peers(protocol.ID) []peer.AddrInfo
}

// Router finds more peers when no relay candidate is left. Called on the
// loop.
type Router interface {
	Lookup(target swarm.Key, cb topology.LookupFunc)
}

// Connector dials a peer. It is satisfied by host.Host.
type Connector interface {
	Connect(ctx context.Context, pi peer.AddrInfo) error
}

type ClientOptions struct {
	// StaticRelays are tried before discovered ones.
	StaticRelays []peer.AddrInfo
	// MaxRelays is the number of relays to keep reservations on.
	MaxRelays int
	// RenewBefore is how long before the expiry a reservation is renewed.
	// Zero renews after three quarters of the remaining lifetime.
	RenewBefore    time.Duration
	RequestTimeout time.Duration
	// RetryAfter is how long a failed relay is not asked again.
	RetryAfter time.Duration
	Candidates Candidates
	Router     Router
	Tracer     *tracing.Tracer
}

// Client keeps reservations on relays. Its state is owned by the core
// loop, apart from the circuit addresses, which are read by the host.
type Client struct {
	self      peer.ID
	core      *core.Core
	streamer  p2p.Streamer
	connector Connector
	logger    logging.Logger
	metrics   clientMetrics
	opts      ClientOptions

	relays    map[peer.ID]*relayState
	pending   map[core.RequestID]peer.ID
	lookingUp bool
	retrying  bool

	addrsMu sync.RWMutex
	addrs   []ma.Multiaddr
}

type relayState struct {
	info        peer.AddrInfo
	static      bool
	status      Status
	reservation Reservation
	failedAt    time.Time
}

type (
	renewKey struct{ relay peer.ID }
	retryKey struct{}
)

func NewClient(self peer.ID, c *core.Core, streamer p2p.Streamer, connector Connector, logger logging.Logger, o ClientOptions) *Client {
	if o.MaxRelays <= 0 {
		o.MaxRelays = defaultMaxRelays
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = defaultRetryAfter
	}

	cl := &Client{
		self:      self,
		core:      c,
		streamer:  streamer,
		connector: connector,
		logger:    logger,
		metrics:   newClientMetrics(),
		opts:      o,
		relays:    make(map[peer.ID]*relayState),
		pending:   make(map[core.RequestID]peer.ID),
	}
	for _, info := range o.StaticRelays {
		if info.ID == self {
			continue
		}
		cl.relays[info.ID] = &relayState{info: info, static: true}
	}
	c.Register(core.TagRelayClient, cl)
	return cl
}

// Start requests the first reservations.
func (c *Client) Start(ctx context.Context) error {
	return c.core.Call(ctx, c.selectRelays)
}

// Handle implements core.Behaviour.
func (c *Client) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.Identify:
		if c.opts.Candidates == nil {
			return
		}
		for _, info := range c.opts.Candidates.Peers(HopProtocolID) {
			if info.ID == e.Peer {
				c.selectRelays()
				return
			}
		}
	case core.ConnectionClosed:
		if e.Remaining > 0 {
			return
		}
		r, ok := c.relays[e.Peer]
		if !ok || (r.status != StatusRequested && r.status != StatusAccepted) {
			return
		}
		// pending requests and renewals of the relay were cancelled by the core
		for id, p := range c.pending {
			if p == e.Peer {
				delete(c.pending, id)
			}
		}
		c.fail(r, p2p.ErrPeerNotFound)
		c.selectRelays()
	case core.Result:
		p, ok := c.pending[e.ID]
		if !ok {
			return
		}
		delete(c.pending, e.ID)
		r, ok := c.relays[p]
		if !ok {
			return
		}
		if e.Err != nil {
			c.metrics.ReserveFailedCount.Inc()
			c.logger.Debugf("relay: reservation on %s: %v", p, e.Err)
			c.fail(r, e.Err)
			c.selectRelays()
			return
		}
		c.accept(r, e.Value.(Reservation))
	case core.Timer:
		switch k := e.Key.(type) {
		case renewKey:
			if r, ok := c.relays[k.relay]; ok && r.status == StatusAccepted {
				c.reserve(r)
			}
		case retryKey:
			c.retrying = false
			c.selectRelays()
		}
	}
}

func (c *Client) accept(r *relayState, rsvp Reservation) {
	if r.status != StatusAccepted {
		c.logger.Infof("relay: reservation accepted by %s until %s", r.info.ID, rsvp.Expiry)
	}
	r.status = StatusAccepted
	r.reservation = rsvp
	c.core.Emit(core.TagRelayClient, r.info.ID, Event{Relay: r.info.ID, Status: StatusAccepted})

	now := c.core.Clock().Now()
	remaining := rsvp.Expiry.Sub(now)
	d := remaining * 3 / 4
	if c.opts.RenewBefore > 0 && c.opts.RenewBefore < remaining {
		d = remaining - c.opts.RenewBefore
	}
	c.core.AfterPeer(core.TagRelayClient, r.info.ID, d, renewKey{relay: r.info.ID})
	c.updateAddrs()
}

func (c *Client) fail(r *relayState, err error) {
	r.status = StatusFailed
	r.failedAt = c.core.Clock().Now()
	r.reservation = Reservation{}
	c.core.Emit(core.TagRelayClient, r.info.ID, Event{Relay: r.info.ID, Status: StatusFailed, Err: err})
	c.updateAddrs()
}

// selectRelays requests reservations until MaxRelays relays are requested
// or accepted. With no candidate left it asks the router for more peers.
// Loop side.
func (c *Client) selectRelays() {
	active := 0
	for _, r := range c.relays {
		if r.status == StatusRequested || r.status == StatusAccepted {
			active++
		}
	}
	if active >= c.opts.MaxRelays {
		return
	}

	now := c.core.Clock().Now()
	backedOff := false
	for _, r := range c.candidates() {
		if active >= c.opts.MaxRelays {
			return
		}
		switch r.status {
		case StatusRequested, StatusAccepted:
			continue
		case StatusFailed:
			if now.Sub(r.failedAt) < c.opts.RetryAfter {
				backedOff = true
				continue
			}
		}
		c.reserve(r)
		active++
	}
	if active > 0 {
		return
	}

	if backedOff {
		c.scheduleRetry()
	}
	if c.opts.Router == nil || c.lookingUp {
		return
	}
	c.lookingUp = true
	c.metrics.FallbackCount.Inc()
	c.logger.Debugf("relay: no relay candidate left, looking up peers")
	c.opts.Router.Lookup(swarm.KeyFromPeer(c.self), func(peers []peer.AddrInfo, err error) {
		c.lookingUp = false
		if err != nil {
			c.logger.Debugf("relay: lookup for relay candidates: %v", err)
			c.scheduleRetry()
		}
		// candidates found by the lookup show up in identify events
	})
}

func (c *Client) scheduleRetry() {
	if c.retrying {
		return
	}
	c.retrying = true
	c.core.After(core.TagRelayClient, c.opts.RetryAfter, retryKey{})
}

// candidates returns the static relays followed by the discovered ones.
func (c *Client) candidates() []*relayState {
	var static, discovered []*relayState
	for _, r := range c.relays {
		if r.static {
			static = append(static, r)
		}
	}
	if c.opts.Candidates != nil {
		for _, info := range c.opts.Candidates.Peers(HopProtocolID) {
			if info.ID == c.self {
				continue
			}
			r, ok := c.relays[info.ID]
			if !ok {
				r = &relayState{info: info, status: StatusDiscovered}
				c.relays[info.ID] = r
				c.core.Emit(core.TagRelayClient, info.ID, Event{Relay: info.ID, Status: StatusDiscovered})
			}
			if !r.static {
				if len(info.Addrs) > 0 {
					r.info.Addrs = info.Addrs
				}
				discovered = append(discovered, r)
			}
		}
	}
	sort.Slice(static, func(i, j int) bool { return static[i].info.ID < static[j].info.ID })
	return append(static, discovered...)
}

// reserve sends a RESERVE request to the relay. Loop side.
func (c *Client) reserve(r *relayState) {
	c.metrics.ReserveCount.Inc()
	if r.status != StatusAccepted {
		r.status = StatusRequested
		c.core.Emit(core.TagRelayClient, r.info.ID, Event{Relay: r.info.ID, Status: StatusRequested})
	}

	info := r.info
	self := c.self
	connector := c.connector
	streamer := c.streamer
	tracer := c.opts.Tracer
	renew := r.status == StatusAccepted
	id := c.core.ExecTimeout(core.TagRelayClient, info.ID, c.opts.RequestTimeout, func(ctx context.Context) (_ any, err error) {
		span, _, ctx := tracer.StartSpanFromContext(ctx, "relay-reserve", nil,
			opentracing.Tag{Key: "relay", Value: info.ID.String()},
			opentracing.Tag{Key: "renew", Value: renew},
		)
		defer func() { tracing.FinishSpan(span, err) }()

		if connector != nil && len(info.Addrs) > 0 {
			if err := connector.Connect(ctx, info); err != nil {
				return nil, p2p.NewTransportError(err)
			}
		}
		return Reserve(ctx, streamer, self, info.ID)
	})
	c.pending[id] = info.ID
}

// Reserve requests or renews a reservation on a connected relay.
func Reserve(ctx context.Context, streamer p2p.Streamer, self, relay peer.ID) (Reservation, error) {
	s, err := streamer.NewStream(ctx, relay, protocolName, protocolVersion, hopStreamName)
	if err != nil {
		return Reservation{}, fmt.Errorf("new stream: %w", err)
	}

	w, r := protobuf.NewWriterAndReader(s)
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(&pbv2.HopMessage{Type: pbv2.HopMessage_RESERVE.Enum()})); err != nil {
		_ = s.Reset()
		return Reservation{}, fmt.Errorf("write reserve: %w", err)
	}
	var resp pbv2.HopMessage
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&resp)); err != nil {
		_ = s.Reset()
		return Reservation{}, fmt.Errorf("read reserve response: %w", err)
	}
	_ = s.Close()

	if resp.GetType() != pbv2.HopMessage_STATUS {
		return Reservation{}, p2p.NewProtocolViolation("reserve response of type %s", resp.GetType())
	}
	if st := resp.GetStatus(); st != pbv2.Status_OK {
		return Reservation{}, &StatusError{Status: st}
	}
	pr := resp.GetReservation()
	if pr == nil {
		return Reservation{}, p2p.NewProtocolViolation("missing reservation")
	}

	rsvp := Reservation{
		Relay:  relay,
		Peer:   self,
		Expiry: time.Unix(int64(pr.GetExpire()), 0),
	}
	for _, b := range pr.GetAddrs() {
		if len(rsvp.Addrs) == maxPeerAddrs {
			break
		}
		a, err := ma.NewMultiaddrBytes(b)
		if err != nil {
			continue
		}
		rsvp.Addrs = append(rsvp.Addrs, a)
	}
	return rsvp, nil
}

// updateAddrs recomputes the relayed listen addresses. Loop side.
func (c *Client) updateAddrs() {
	seen := make(map[string]bool)
	var addrs []ma.Multiaddr
	add := func(a ma.Multiaddr) {
		if !seen[a.String()] {
			seen[a.String()] = true
			addrs = append(addrs, a)
		}
	}
	for _, r := range c.accepted() {
		for _, a := range r.reservation.Addrs {
			if p2p.IsRelayAddr(a) {
				add(a)
			}
		}
		if len(r.reservation.Addrs) > 0 {
			continue
		}
		for _, a := range r.info.Addrs {
			if p2p.IsRelayAddr(a) {
				continue
			}
			if ca, err := CircuitAddr(a, r.info.ID); err == nil {
				add(ca)
			}
		}
	}
	c.metrics.Reservations.Set(float64(len(c.accepted())))

	c.addrsMu.Lock()
	c.addrs = addrs
	c.addrsMu.Unlock()
}

func (c *Client) accepted() []*relayState {
	var rs []*relayState
	for _, r := range c.relays {
		if r.status == StatusAccepted {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].info.ID < rs[j].info.ID })
	return rs
}

// CircuitAddrs returns the relayed listen addresses of the accepted
// reservations. It is safe to call from any goroutine.
func (c *Client) CircuitAddrs() []ma.Multiaddr {
	c.addrsMu.RLock()
	defer c.addrsMu.RUnlock()
	return append([]ma.Multiaddr(nil), c.addrs...)
}

// Reservations returns the accepted reservations. Loop side.
func (c *Client) Reservations() []Reservation {
	var rs []Reservation
	for _, r := range c.accepted() {
		rs = append(rs, r.reservation)
	}
	return rs
}

// ReservationsContext returns the accepted reservations from outside of the
// loop.
func (c *Client) ReservationsContext(ctx context.Context) (rs []Reservation, err error) {
	err = c.core.Call(ctx, func() { rs = c.Reservations() })
	return rs, err
}

// Status returns the status of the relay. Loop side.
func (c *Client) Status(relay peer.ID) (Status, bool) {
	r, ok := c.relays[relay]
	if !ok {
		return 0, false
	}
	return r.status, true
}
