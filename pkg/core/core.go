// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package core runs the event loop that drives every protocol behaviour of
// the node. Connection notifications, identify results, inbound requests,
// worker results and timers are all delivered through a single channel and
// handled on one goroutine, so behaviours own their state without locks.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	eventsBufferSize = 256
	maxAppQueue      = 1024
)

var (
	// ErrClosed is returned by the methods of a closed Core.
	ErrClosed = errors.New("core: closed")
	// ErrNoBehaviour is the reply to an inbound request for a tag without a
	// registered behaviour.
	ErrNoBehaviour = errors.New("core: no behaviour")

	errNoHost = errors.New("no host")
)

type Options struct {
	// Host is optional. Without it the loop only runs timers, requests and
	// commands, which is enough for tests of behaviours.
	Host   host.Host
	Clock  clock.Clock
	Logger logging.Logger
}

// Core is the single goroutine event loop. Methods documented as loop side
// must only be called from Behaviour.Handle or from an InvokeCommand.
type Core struct {
	host    host.Host
	clock   clock.Clock
	logger  logging.Logger
	metrics metrics

	behaviours map[Tag]Behaviour
	events     chan Event
	commands   chan Command
	appOut     chan Event
	appQueue   []Event

	conns     map[string]connInfo
	peerConns map[peer.ID]map[string]struct{}

	lastID   uint64
	requests map[RequestID]*pending
	timers   map[TimerID]*timer

	ctx       context.Context
	cancel    context.CancelFunc
	quit      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	sub       event.Subscription
	notifiee  *network.NotifyBundle
	startOnce sync.Once
	closeOnce sync.Once
}

type connInfo struct {
	peer    peer.ID
	remote  ma.Multiaddr
	relayed bool
	inbound bool
}

type pending struct {
	tag    Tag
	peer   peer.ID
	cancel context.CancelFunc
}

type timer struct {
	tag   Tag
	peer  peer.ID
	key   any
	timer *clock.Timer
}

func New(o Options) *Core {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Core{
		host:       o.Host,
		clock:      o.Clock,
		logger:     o.Logger,
		metrics:    newMetrics(),
		behaviours: make(map[Tag]Behaviour),
		events:     make(chan Event, eventsBufferSize),
		commands:   make(chan Command),
		appOut:     make(chan Event),
		conns:      make(map[string]connInfo),
		peerConns:  make(map[peer.ID]map[string]struct{}),
		requests:   make(map[RequestID]*pending),
		timers:     make(map[TimerID]*timer),
		ctx:        ctx,
		cancel:     cancel,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register sets the behaviour for the tag. It must be called before Start.
func (c *Core) Register(tag Tag, b Behaviour) {
	c.behaviours[tag] = b
}

// Clock returns the clock used for timers and request timeouts.
func (c *Core) Clock() clock.Clock {
	return c.clock
}

// Host returns the underlying libp2p host, which may be nil.
func (c *Core) Host() host.Host {
	return c.host
}

// Start subscribes to host notifications and starts the loop.
func (c *Core) Start() (err error) {
	c.startOnce.Do(func() {
		if c.host != nil {
			if err = c.subscribe(); err != nil {
				close(c.done)
				return
			}
		}
		go c.run()

		// connections opened before the subscription
		if c.host != nil {
			for _, conn := range c.host.Network().Conns() {
				c.post(connectionEstablished(conn))
			}
		}
	})
	return err
}

func (c *Core) subscribe() error {
	sub, err := c.host.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtLocalAddressesUpdated),
	})
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	c.sub = sub

	c.notifiee = &network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			c.post(connectionEstablished(conn))
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			c.post(ConnectionClosed{
				Peer:    conn.RemotePeer(),
				ConnID:  conn.ID(),
				Relayed: conn.Stat().Transient || p2p.IsRelayAddr(conn.RemoteMultiaddr()),
			})
		},
	}
	c.host.Network().Notify(c.notifiee)

	c.wg.Add(1)
	go c.forward()
	return nil
}

func connectionEstablished(conn network.Conn) ConnectionEstablished {
	return ConnectionEstablished{
		Peer:    conn.RemotePeer(),
		ConnID:  conn.ID(),
		Remote:  conn.RemoteMultiaddr(),
		Relayed: conn.Stat().Transient || p2p.IsRelayAddr(conn.RemoteMultiaddr()),
		Inbound: conn.Stat().Direction == network.DirInbound,
	}
}

// forward translates event bus notifications into loop events.
func (c *Core) forward() {
	defer c.wg.Done()
	for {
		select {
		case e, ok := <-c.sub.Out():
			if !ok {
				return
			}
			switch e := e.(type) {
			case event.EvtPeerIdentificationCompleted:
				ps := c.host.Peerstore()
				protocols, err := ps.GetProtocols(e.Peer)
				if err != nil {
					c.logger.Debugf("core: protocols of peer %s: %v", e.Peer, err)
				}
				c.post(Identify{
					Peer:        e.Peer,
					Protocols:   protocols,
					ListenAddrs: ps.Addrs(e.Peer),
				})
			case event.EvtLocalAddressesUpdated:
				addrs := make([]ma.Multiaddr, 0, len(e.Current))
				for _, a := range e.Current {
					addrs = append(addrs, a.Address)
				}
				c.post(AddressesUpdated{Addrs: addrs})
			}
		case <-c.quit:
			return
		}
	}
}

// post delivers an event to the loop. It returns false if the loop is
// closed.
func (c *Core) post(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Core) run() {
	defer close(c.done)

	for {
		var (
			out  chan Event
			next Event
		)
		if len(c.appQueue) > 0 {
			out = c.appOut
			next = c.appQueue[0]
		}

		select {
		case ev := <-c.events:
			c.handle(ev)
		case cmd := <-c.commands:
			c.command(cmd)
		case out <- next:
			c.appQueue[0] = nil
			c.appQueue = c.appQueue[1:]
		case <-c.quit:
			return
		}
	}
}

func (c *Core) handle(ev Event) {
	start := time.Now()
	defer func() {
		c.metrics.EventHandleDuration.Observe(time.Since(start).Seconds())
	}()
	c.metrics.EventCount.Inc()

	switch e := ev.(type) {
	case ConnectionEstablished:
		if _, ok := c.conns[e.ConnID]; ok {
			return
		}
		c.conns[e.ConnID] = connInfo{peer: e.Peer, remote: e.Remote, relayed: e.Relayed, inbound: e.Inbound}
		ids, ok := c.peerConns[e.Peer]
		if !ok {
			ids = make(map[string]struct{})
			c.peerConns[e.Peer] = ids
		}
		ids[e.ConnID] = struct{}{}
		c.metrics.ConnectionCount.Set(float64(len(c.conns)))
		c.broadcast(e)
		c.enqueue(e)
	case ConnectionClosed:
		info, ok := c.conns[e.ConnID]
		if !ok {
			return
		}
		delete(c.conns, e.ConnID)
		e.Relayed = info.relayed
		ids := c.peerConns[info.peer]
		delete(ids, e.ConnID)
		e.Remaining = len(ids)
		if e.Remaining == 0 {
			delete(c.peerConns, info.peer)
			c.cancelPeer(info.peer)
		}
		c.metrics.ConnectionCount.Set(float64(len(c.conns)))
		c.broadcast(e)
		c.enqueue(e)
	case Identify, AddressesUpdated:
		c.broadcast(e)
	case Inbound:
		b, ok := c.behaviours[e.Tag]
		if !ok {
			e.Reply(nil, ErrNoBehaviour)
			return
		}
		b.Handle(e)
	case Result:
		if _, ok := c.requests[e.ID]; !ok {
			c.metrics.StaleEventCount.Inc()
			return
		}
		delete(c.requests, e.ID)
		c.metrics.PendingRequests.Set(float64(len(c.requests)))
		c.deliver(e.Tag, e)
	case Timer:
		if _, ok := c.timers[e.ID]; !ok {
			c.metrics.StaleEventCount.Inc()
			return
		}
		delete(c.timers, e.ID)
		c.deliver(e.Tag, e)
	case Notice:
		c.deliver(e.Tag, e)
	}
}

func (c *Core) deliver(tag Tag, ev Event) {
	b, ok := c.behaviours[tag]
	if !ok {
		c.logger.Debugf("core: no behaviour for %s event", tag)
		return
	}
	b.Handle(ev)
}

// broadcast delivers the event to every behaviour in tag order.
func (c *Core) broadcast(ev Event) {
	tags := make([]Tag, 0, len(c.behaviours))
	for t := range c.behaviours {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	for _, t := range tags {
		c.behaviours[t].Handle(ev)
	}
}

// cancelPeer drops every pending request and timer of the peer.
func (c *Core) cancelPeer(p peer.ID) {
	for id, r := range c.requests {
		if r.peer == p {
			r.cancel()
			delete(c.requests, id)
		}
	}
	for id, t := range c.timers {
		if t.peer == p {
			t.timer.Stop()
			delete(c.timers, id)
		}
	}
}

func (c *Core) enqueue(ev Event) {
	if len(c.appQueue) >= maxAppQueue {
		c.metrics.DroppedAppEventCount.Inc()
		c.appQueue[0] = nil
		c.appQueue = c.appQueue[1:]
	}
	c.appQueue = append(c.appQueue, ev)
}

// Next blocks until an application facing event is available. These are the
// connection events and everything behaviours pass to Emit.
func (c *Core) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.appOut:
		return ev, nil
	case <-c.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Core) nextID() uint64 {
	c.lastID++
	return c.lastID
}

// Exec runs fn on a worker goroutine and delivers its outcome as a Result
// with the returned id. Loop side.
func (c *Core) Exec(tag Tag, p peer.ID, fn func(ctx context.Context) (any, error)) RequestID {
	return c.ExecTimeout(tag, p, 0, fn)
}

// ExecTimeout is Exec with a deadline measured on the Core clock. A fn that
// fails because of the deadline yields p2p.ErrTimeout. Loop side.
func (c *Core) ExecTimeout(tag Tag, p peer.ID, timeout time.Duration, fn func(ctx context.Context) (any, error)) RequestID {
	id := RequestID(c.nextID())

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = c.clock.WithTimeout(c.ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.requests[id] = &pending{tag: tag, peer: p, cancel: cancel}
	c.metrics.PendingRequests.Set(float64(len(c.requests)))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		v, err := fn(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", p2p.ErrTimeout, err)
		}
		c.post(Result{Tag: tag, ID: id, Peer: p, Value: v, Err: err})
	}()
	return id
}

// Request opens a stream to the peer, hands it to fn and closes it when fn
// returns. Loop side.
func (c *Core) Request(tag Tag, s p2p.Streamer, p peer.ID, protocolName, protocolVersion, streamName string, timeout time.Duration, fn func(ctx context.Context, stream p2p.Stream) (any, error)) RequestID {
	return c.ExecTimeout(tag, p, timeout, func(ctx context.Context) (any, error) {
		stream, err := s.NewStream(ctx, p, protocolName, protocolVersion, streamName)
		if err != nil {
			return nil, err
		}
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				_ = stream.Reset()
			case <-stop:
			}
		}()

		v, err := fn(ctx, stream)
		if err != nil {
			_ = stream.Reset()
			return nil, err
		}
		_ = stream.FullClose()
		return v, nil
	})
}

// Dial connects to the peer on a worker. Failures are p2p.TransportError.
// Loop side.
func (c *Core) Dial(tag Tag, info peer.AddrInfo) RequestID {
	return c.Exec(tag, info.ID, func(ctx context.Context) (any, error) {
		if c.host == nil {
			return nil, p2p.NewTransportError(errNoHost)
		}
		if err := c.host.Connect(ctx, info); err != nil {
			return nil, p2p.NewTransportError(err)
		}
		return nil, nil
	})
}

// Cancel drops a pending request. Its Result is never delivered. Loop side.
func (c *Core) Cancel(id RequestID) {
	if r, ok := c.requests[id]; ok {
		r.cancel()
		delete(c.requests, id)
		c.metrics.PendingRequests.Set(float64(len(c.requests)))
	}
}

// After delivers a Timer event with the key after d. Loop side.
func (c *Core) After(tag Tag, d time.Duration, key any) TimerID {
	return c.AfterPeer(tag, "", d, key)
}

// AfterPeer is After for a timer that is cancelled when the last
// connection to the peer closes. Loop side.
func (c *Core) AfterPeer(tag Tag, p peer.ID, d time.Duration, key any) TimerID {
	id := TimerID(c.nextID())
	ev := Timer{Tag: tag, ID: id, Peer: p, Key: key}
	c.timers[id] = &timer{
		tag:  tag,
		peer: p,
		key:  key,
		timer: c.clock.AfterFunc(d, func() {
			c.post(ev)
		}),
	}
	return id
}

// CancelTimer stops a timer. Its event is never delivered. Loop side.
func (c *Core) CancelTimer(id TimerID) {
	if t, ok := c.timers[id]; ok {
		t.timer.Stop()
		delete(c.timers, id)
	}
}

// ClosePeer closes all connections to the peer. ConnectionClosed events
// follow as the connections go away. Loop side.
func (c *Core) ClosePeer(p peer.ID) {
	if c.host == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.host.Network().ClosePeer(p); err != nil {
			c.logger.Debugf("core: close peer %s: %v", p, err)
		}
	}()
}

// Emit passes an event to the application. Loop side.
func (c *Core) Emit(tag Tag, p peer.ID, v any) {
	c.enqueue(Emitted{Tag: tag, Peer: p, Value: v})
}

// Connected reports whether the loop knows of an open connection to the
// peer. Loop side.
func (c *Core) Connected(p peer.ID) bool {
	_, ok := c.peerConns[p]
	return ok
}

// ConnInfo describes an open connection.
type ConnInfo struct {
	ID      string
	Remote  ma.Multiaddr
	Relayed bool
	Inbound bool
}

// Conns returns the open connections to the peer. Loop side.
func (c *Core) Conns(p peer.ID) []ConnInfo {
	var cs []ConnInfo
	for id := range c.peerConns[p] {
		info := c.conns[id]
		cs = append(cs, ConnInfo{ID: id, Remote: info.remote, Relayed: info.relayed, Inbound: info.inbound})
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	return cs
}

// Peers returns the connected peers sorted by id. Loop side.
func (c *Core) Peers() []peer.ID {
	ps := make([]peer.ID, 0, len(c.peerConns))
	for p := range c.peerConns {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}

func (c *Core) peersInfo() []PeerInfo {
	var infos []PeerInfo
	for _, p := range c.Peers() {
		info := PeerInfo{ID: p}
		for _, conn := range c.Conns(p) {
			if conn.Relayed {
				info.Relayed++
			} else {
				info.Direct++
			}
			info.Addrs = append(info.Addrs, conn.Remote)
		}
		infos = append(infos, info)
	}
	return infos
}

// Ask posts an Inbound event for the behaviour with the tag and waits for
// its reply. It is called from stream handlers and worker goroutines, never
// from the loop.
func (c *Core) Ask(ctx context.Context, tag Tag, p peer.ID, msg any) (any, error) {
	ev := Inbound{Tag: tag, Peer: p, Msg: msg, reply: make(chan reply, 1)}
	select {
	case c.events <- ev:
	case <-c.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-ev.reply:
		return r.v, r.err
	case <-c.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Post delivers a Notice to the behaviour with the tag. It is called from
// worker goroutines, never from the loop.
func (c *Core) Post(tag Tag, p peer.ID, v any) {
	c.post(Notice{Tag: tag, Peer: p, Value: v})
}

// Close stops the loop and waits for the workers to return.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.cancel()
		if c.notifiee != nil {
			c.host.Network().StopNotify(c.notifiee)
		}
		if c.sub != nil {
			_ = c.sub.Close()
		}
		c.startOnce.Do(func() { close(c.done) })
		<-c.done
		for _, t := range c.timers {
			t.timer.Stop()
		}
		c.wg.Wait()
	})
	return nil
}
