// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethersphere/beacon/pkg/addressbook"
	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/rendezvous/pb"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	defaultDiscoveryInterval = time.Minute
	seenCacheSize            = 1024
)

var errPeerGone = errors.New("rendezvous point disconnected")

// Discovered is emitted to the application with the registrations a
// rendezvous point returned for a namespace.
type Discovered struct {
	Point         peer.ID
	Namespace     string
	Registrations []Registration
}

// Registered is emitted to the application when a registration is
// accepted or refreshed.
type Registered struct {
	Point     peer.ID
	Namespace string
	TTL       time.Duration
}

// Candidates lists the peers that speak a protocol. Called on the loop.
type Candidates interface {
	Peers(protocol.ID) []peer.AddrInfo
}

// Connector dials a peer. It is satisfied by host.Host.
type Connector interface {
	Connect(ctx context.Context, pi peer.AddrInfo) error
}

type ClientOptions struct {
	// Points are the static rendezvous points.
	Points []peer.AddrInfo
	// Namespaces are registered at and discovered from every point.
	Namespaces        []string
	TTL               time.Duration
	DiscoveryInterval time.Duration
	DiscoverLimit     int
	RequestTimeout    time.Duration
	Candidates        Candidates
	AddressBook       addressbook.Putter
	// Addrs returns the addresses put in the signed peer record.
	Addrs func() []ma.Multiaddr
}

// Client registers the node at rendezvous points and discovers peers
// there. Its state is owned by the core loop.
type Client struct {
	key       crypto.PrivKey
	self      peer.ID
	core      *core.Core
	streamer  p2p.Streamer
	connector Connector
	logger    logging.Logger
	metrics   clientMetrics
	opts      ClientOptions

	points  map[peer.ID]*point
	pending map[core.RequestID]op
	seen    *lru.Cache[peer.ID, struct{}]
}

type point struct {
	info       peer.AddrInfo
	static     bool
	registered map[string]core.TimerID
	cookies    map[string][]byte
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opDiscover
)

type op struct {
	kind       opKind
	point      peer.ID
	ns         string
	registerCb func(time.Duration, error)
	discoverCb func([]Registration, error)
}

type (
	refreshKey struct {
		point peer.ID
		ns    string
	}
	discoverKey struct{}
)

func NewClient(key crypto.PrivKey, c *core.Core, streamer p2p.Streamer, connector Connector, logger logging.Logger, o ClientOptions) (*Client, error) {
	self, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("peer id: %w", err)
	}
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	if _, err := ValidateTTL(o.TTL); err != nil {
		return nil, err
	}
	for _, ns := range o.Namespaces {
		if err := ValidateNamespace(ns); err != nil {
			return nil, err
		}
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = defaultDiscoveryInterval
	}
	if o.DiscoverLimit <= 0 {
		o.DiscoverLimit = DefaultDiscoverLimit
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.Addrs == nil {
		o.Addrs = func() []ma.Multiaddr { return nil }
	}
	seen, err := lru.New[peer.ID, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}

	cl := &Client{
		key:       key,
		self:      self,
		core:      c,
		streamer:  streamer,
		connector: connector,
		logger:    logger,
		metrics:   newClientMetrics(),
		opts:      o,
		points:    make(map[peer.ID]*point),
		pending:   make(map[core.RequestID]op),
		seen:      seen,
	}
	for _, info := range o.Points {
		if info.ID == self {
			continue
		}
		cl.point(info).static = true
	}
	c.Register(core.TagRendezvousClient, cl)
	return cl, nil
}

// Start registers at the static points and schedules the periodic
// discovery.
func (c *Client) Start(ctx context.Context) error {
	return c.core.Call(ctx, func() {
		for _, p := range c.points {
			c.join(p)
		}
		c.core.After(core.TagRendezvousClient, c.opts.DiscoveryInterval, discoverKey{})
	})
}

// Handle implements core.Behaviour.
func (c *Client) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.Identify:
		if e.Peer == c.self || !speaks(e.Protocols, ProtocolID) {
			return
		}
		p := c.point(peer.AddrInfo{ID: e.Peer, Addrs: e.ListenAddrs})
		if len(p.registered) < len(c.opts.Namespaces) {
			c.join(p)
		}
	case core.ConnectionClosed:
		if e.Remaining > 0 {
			return
		}
		p, ok := c.points[e.Peer]
		if !ok {
			return
		}
		// requests and refresh timers of the point were cancelled by the core
		p.registered = make(map[string]core.TimerID)
		for id, o := range c.pending {
			if o.point == e.Peer {
				delete(c.pending, id)
				c.complete(o, nil, errPeerGone)
			}
		}
	case core.AddressesUpdated:
		for _, p := range c.points {
			for ns := range p.registered {
				c.Register(p.info.ID, ns, c.opts.TTL, nil)
			}
		}
	case core.Result:
		o, ok := c.pending[e.ID]
		if !ok {
			return
		}
		delete(c.pending, e.ID)
		c.complete(o, e.Value, e.Err)
	case core.Timer:
		switch k := e.Key.(type) {
		case refreshKey:
			if p, ok := c.points[k.point]; ok {
				delete(p.registered, k.ns)
				c.Register(k.point, k.ns, c.opts.TTL, nil)
			}
		case discoverKey:
			c.discoverAll()
			c.core.After(core.TagRendezvousClient, c.opts.DiscoveryInterval, discoverKey{})
		}
	}
}

func speaks(protocols []protocol.ID, id protocol.ID) bool {
	for _, p := range protocols {
		if p == id {
			return true
		}
	}
	return false
}

func (c *Client) point(info peer.AddrInfo) *point {
	p, ok := c.points[info.ID]
	if !ok {
		p = &point{
			info:       peer.AddrInfo{ID: info.ID},
			registered: make(map[string]core.TimerID),
			cookies:    make(map[string][]byte),
		}
		c.points[info.ID] = p
	}
	if len(info.Addrs) > 0 {
		p.info.Addrs = info.Addrs
	}
	return p
}

// join registers the configured namespaces at the point and discovers
// them.
func (c *Client) join(p *point) {
	for _, ns := range c.opts.Namespaces {
		if _, ok := p.registered[ns]; !ok {
			c.Register(p.info.ID, ns, c.opts.TTL, nil)
		}
		c.Discover(p.info.ID, ns, c.opts.DiscoverLimit, nil)
	}
}

func (c *Client) discoverAll() {
	if c.opts.Candidates != nil {
		for _, info := range c.opts.Candidates.Peers(ProtocolID) {
			if info.ID != c.self {
				c.point(info)
			}
		}
	}
	for _, p := range c.points {
		if !p.static && !c.core.Connected(p.info.ID) {
			continue
		}
		for _, ns := range c.opts.Namespaces {
			c.Discover(p.info.ID, ns, c.opts.DiscoverLimit, nil)
		}
	}
}

// Register registers the node in the namespace at the point. The callback
// receives the ttl granted by the point. Loop side.
func (c *Client) Register(pointID peer.ID, ns string, ttl time.Duration, cb func(time.Duration, error)) {
	if cb == nil {
		cb = func(time.Duration, error) {}
	}
	if err := ValidateNamespace(ns); err != nil {
		cb(0, err)
		return
	}
	ttl, err := ValidateTTL(ttl)
	if err != nil {
		cb(0, err)
		return
	}
	rec, err := SealRecord(c.key, PreferredAddrs(c.opts.Addrs()))
	if err != nil {
		cb(0, err)
		return
	}

	c.metrics.RegisterCount.Inc()
	p := c.point(peer.AddrInfo{ID: pointID})
	id := c.request(p.info, func(ctx context.Context, w protobuf.Writer, r protobuf.Reader) (any, error) {
		if err := w.WriteMsgWithContext(ctx, &pb.Message{
			Type:     pb.MessageTypeRegister,
			Register: &pb.Register{Ns: ns, SignedPeerRecord: rec, TTL: uint64(ttl / time.Second)},
		}); err != nil {
			return nil, fmt.Errorf("write register: %w", err)
		}
		var resp pb.Message
		if err := r.ReadMsgWithContext(ctx, &resp); err != nil {
			return nil, fmt.Errorf("read register response: %w", err)
		}
		if resp.Type != pb.MessageTypeRegisterResponse || resp.RegisterResponse == nil {
			return nil, p2p.NewProtocolViolation("register response of type %s", resp.Type)
		}
		if st := resp.RegisterResponse.Status; st != pb.StatusOK {
			return nil, &StatusError{Status: st, Text: resp.RegisterResponse.StatusText}
		}
		granted := time.Duration(resp.RegisterResponse.TTL) * time.Second
		if granted <= 0 {
			granted = ttl
		}
		return granted, nil
	})
	c.pending[id] = op{kind: opRegister, point: pointID, ns: ns, registerCb: cb}
}

// Unregister removes the registration in the namespace at the point. Loop
// side.
func (c *Client) Unregister(pointID peer.ID, ns string) {
	p, ok := c.points[pointID]
	if !ok {
		return
	}
	if t, ok := p.registered[ns]; ok {
		c.core.CancelTimer(t)
		delete(p.registered, ns)
	}
	self := c.self
	id := c.request(p.info, func(ctx context.Context, w protobuf.Writer, _ protobuf.Reader) (any, error) {
		if err := w.WriteMsgWithContext(ctx, &pb.Message{
			Type:       pb.MessageTypeUnregister,
			Unregister: &pb.Unregister{Ns: ns, ID: []byte(self)},
		}); err != nil {
			return nil, fmt.Errorf("write unregister: %w", err)
		}
		return nil, nil
	})
	c.pending[id] = op{kind: opUnregister, point: pointID, ns: ns}
}

// Discover asks the point for registrations in the namespace, continuing
// after the last registration the point returned before. Loop side.
func (c *Client) Discover(pointID peer.ID, ns string, limit int, cb func([]Registration, error)) {
	if cb == nil {
		cb = func([]Registration, error) {}
	}
	c.metrics.DiscoverCount.Inc()
	p := c.point(peer.AddrInfo{ID: pointID})
	cookie := p.cookies[ns]
	clk := c.core.Clock()
	logger := c.logger
	id := c.request(p.info, func(ctx context.Context, w protobuf.Writer, r protobuf.Reader) (any, error) {
		if err := w.WriteMsgWithContext(ctx, &pb.Message{
			Type:     pb.MessageTypeDiscover,
			Discover: &pb.Discover{Ns: ns, Limit: uint64(limit), Cookie: cookie},
		}); err != nil {
			return nil, fmt.Errorf("write discover: %w", err)
		}
		var resp pb.Message
		if err := r.ReadMsgWithContext(ctx, &resp); err != nil {
			return nil, fmt.Errorf("read discover response: %w", err)
		}
		if resp.Type != pb.MessageTypeDiscoverResponse || resp.DiscoverResponse == nil {
			return nil, p2p.NewProtocolViolation("discover response of type %s", resp.Type)
		}
		dr := resp.DiscoverResponse
		if dr.Status != pb.StatusOK {
			return nil, &StatusError{Status: dr.Status, Text: dr.StatusText}
		}

		now := clk.Now()
		res := discoverResult{cookie: dr.Cookie}
		for _, reg := range dr.Registrations {
			id, addrs, err := OpenRecord(reg.SignedPeerRecord)
			if err != nil {
				logger.Debugf("rendezvous: discovered registration from %s: %v", pointID, err)
				continue
			}
			ttl := time.Duration(reg.TTL) * time.Second
			res.regs = append(res.regs, Registration{
				Namespace: reg.Ns,
				Peer:      id,
				Addrs:     PreferredAddrs(addrs),
				TTL:       ttl,
				Expiry:    now.Add(ttl),
				Record:    reg.SignedPeerRecord,
			})
		}
		return res, nil
	})
	c.pending[id] = op{kind: opDiscover, point: pointID, ns: ns, discoverCb: cb}
}

// request dials the point when needed and runs fn over a new rendezvous
// stream.
func (c *Client) request(info peer.AddrInfo, fn func(ctx context.Context, w protobuf.Writer, r protobuf.Reader) (any, error)) core.RequestID {
	connected := c.core.Connected(info.ID)
	connector := c.connector
	streamer := c.streamer
	return c.core.ExecTimeout(core.TagRendezvousClient, info.ID, c.opts.RequestTimeout, func(ctx context.Context) (any, error) {
		if !connected && connector != nil && len(info.Addrs) > 0 {
			if err := connector.Connect(ctx, info); err != nil {
				return nil, p2p.NewTransportError(err)
			}
		}
		s, err := streamer.NewStream(ctx, info.ID, protocolName, protocolVersion, streamName)
		if err != nil {
			return nil, err
		}
		w, r := protobuf.NewWriterAndReader(s)
		v, err := fn(ctx, w, r)
		if err != nil {
			_ = s.Reset()
			return nil, err
		}
		_ = s.FullClose()
		return v, nil
	})
}

func (c *Client) complete(o op, v any, err error) {
	p := c.points[o.point]
	switch o.kind {
	case opRegister:
		if err != nil {
			c.metrics.RegisterFailedCount.Inc()
			c.logger.Debugf("rendezvous: register in %q at %s: %v", o.ns, o.point, err)
			o.registerCb(0, err)
			return
		}
		ttl := v.(time.Duration)
		if t, ok := p.registered[o.ns]; ok {
			c.core.CancelTimer(t)
		}
		p.registered[o.ns] = c.core.AfterPeer(core.TagRendezvousClient, o.point, ttl*3/4, refreshKey{point: o.point, ns: o.ns})
		c.core.Emit(core.TagRendezvousClient, o.point, Registered{Point: o.point, Namespace: o.ns, TTL: ttl})
		o.registerCb(ttl, nil)
	case opUnregister:
		if err != nil {
			c.logger.Debugf("rendezvous: unregister from %q at %s: %v", o.ns, o.point, err)
		}
	case opDiscover:
		if err != nil {
			c.metrics.DiscoverFailedCount.Inc()
			if errors.Is(err, ErrInvalidCookie) {
				delete(p.cookies, o.ns)
			}
			c.logger.Debugf("rendezvous: discover %q at %s: %v", o.ns, o.point, err)
			o.discoverCb(nil, err)
			return
		}
		res := v.(discoverResult)
		if len(res.cookie) > 0 {
			p.cookies[o.ns] = res.cookie
		}
		regs := c.store(res.regs)
		if len(regs) > 0 {
			c.core.Emit(core.TagRendezvousClient, o.point, Discovered{Point: o.point, Namespace: o.ns, Registrations: regs})
		}
		o.discoverCb(regs, nil)
	}
}

// store records the discovered peers in the address book and drops the
// own registration.
func (c *Client) store(regs []Registration) []Registration {
	now := c.core.Clock().Now()
	out := regs[:0]
	for _, reg := range regs {
		if reg.Peer == c.self {
			continue
		}
		out = append(out, reg)
		if c.opts.AddressBook != nil && len(reg.Addrs) > 0 {
			if err := c.opts.AddressBook.Put(addressbook.Record{ID: reg.Peer, Addrs: reg.Addrs, LastSeen: now}); err != nil {
				c.logger.Debugf("rendezvous: addressbook put %s: %v", reg.Peer, err)
			}
		}
		if !c.seen.Contains(reg.Peer) {
			c.seen.Add(reg.Peer, struct{}{})
			c.metrics.DiscoveredPeerCount.Inc()
			c.logger.Infof("rendezvous: discovered peer %s in %q", reg.Peer, reg.Namespace)
		}
	}
	return out
}

// RegisterContext registers from outside of the loop and waits for the
// outcome.
func (c *Client) RegisterContext(ctx context.Context, pointID peer.ID, ns string, ttl time.Duration) (time.Duration, error) {
	type result struct {
		ttl time.Duration
		err error
	}
	res := make(chan result, 1)
	if err := c.core.Call(ctx, func() {
		c.Register(pointID, ns, ttl, func(ttl time.Duration, err error) {
			res <- result{ttl: ttl, err: err}
		})
	}); err != nil {
		return 0, err
	}
	select {
	case r := <-res:
		return r.ttl, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// DiscoverContext discovers from outside of the loop and waits for the
// outcome.
func (c *Client) DiscoverContext(ctx context.Context, pointID peer.ID, ns string, limit int) ([]Registration, error) {
	type result struct {
		regs []Registration
		err  error
	}
	res := make(chan result, 1)
	if err := c.core.Call(ctx, func() {
		c.Discover(pointID, ns, limit, func(regs []Registration, err error) {
			res <- result{regs: regs, err: err}
		})
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-res:
		return r.regs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UnregisterContext unregisters from outside of the loop.
func (c *Client) UnregisterContext(ctx context.Context, pointID peer.ID, ns string) error {
	return c.core.Call(ctx, func() { c.Unregister(pointID, ns) })
}

// Registrations returns the namespaces the node is registered in, by
// point. Loop side.
func (c *Client) Registrations() map[peer.ID][]string {
	regs := make(map[peer.ID][]string)
	for id, p := range c.points {
		for ns := range p.registered {
			regs[id] = append(regs[id], ns)
		}
		sort.Strings(regs[id])
	}
	return regs
}

// RegistrationsContext returns the namespaces the node is registered in, by
// point, from outside of the loop.
func (c *Client) RegistrationsContext(ctx context.Context) (regs map[peer.ID][]string, err error) {
	err = c.core.Call(ctx, func() { regs = c.Registrations() })
	return regs, err
}
