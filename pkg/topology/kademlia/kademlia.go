// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kademlia implements the peer routing table and the iterative
// lookups over it. Keys are sha256 hashes of peer ids and the distance is
// their XOR.
package kademlia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethersphere/beacon/pkg/addressbook"
	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/ethersphere/beacon/pkg/topology"
	"github.com/ethersphere/beacon/pkg/topology/kademlia/pb"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/errgroup"
)

const (
	protocolName    = "kademlia"
	protocolVersion = "1.0.0"
	streamName      = "kad"
)

// ProtocolID is the libp2p protocol id of the kademlia stream.
var ProtocolID = protocol.ID(p2p.NewStreamName(protocolName, protocolVersion, streamName))

const (
	defaultBucketSize      = 20
	defaultAlpha           = 3
	defaultMaxRounds       = 10
	defaultMaxFailures     = 3
	defaultRefreshInterval = 10 * time.Minute
	defaultRecordTTL       = 24 * time.Hour
	defaultRequestTimeout  = 10 * time.Second
	maxPeerAddrs           = 16
)

var errPeerGone = errors.New("peer disconnected")

// Options for the kademlia behaviour.
type Options struct {
	BucketSize      int
	Alpha           int
	MaxRounds       int
	MaxFailures     int
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
	// RecordTTL is how long address book records of peers that were not
	// seen again are kept.
	RecordTTL time.Duration
	Bootnodes []ma.Multiaddr
	// LocalAddrs returns the addresses announced with ADD_PROVIDER.
	LocalAddrs func() []ma.Multiaddr
	Tracer     *tracing.Tracer
}

// Connector dials a peer. It is satisfied by host.Host.
type Connector interface {
	Connect(ctx context.Context, pi peer.AddrInfo) error
}

// Kad is the kademlia behaviour. All of its state is owned by the core loop.
type Kad struct {
	self        peer.ID
	core        *core.Core
	streamer    p2p.Streamer
	connector   Connector
	addressBook addressbook.Store
	table       *Table
	opts        Options
	logger      logging.Logger
	metrics     metrics

	lookups    map[uint64]*lookup
	announces  map[uint64]*announce
	lastOpID   uint64
	pending    map[core.RequestID]pendingQuery
	connected  map[peer.ID]struct{}
	refreshing bool
}

type queryKind int

const (
	queryFindNode queryKind = iota
	queryAddProvider
	queryBootstrap
)

type pendingQuery struct {
	kind queryKind
	op   uint64
	peer peer.ID
}

type candidateState int

const (
	candidateFresh candidateState = iota
	candidateQueried
	candidateResponded
	candidateFailed
)

type candidate struct {
	info  peer.AddrInfo
	key   swarm.Key
	state candidateState
}

type lookup struct {
	id         uint64
	target     swarm.Key
	candidates map[peer.ID]*candidate
	inflight   int
	round      int
	closest    *swarm.Key
	improved   bool
	cb         topology.LookupFunc
	span       opentracing.Span
}

type announce struct {
	pending int
	stored  int
	cb      func(stored int, err error)
}

// inbound requests answered on the loop
type (
	findNodeRequest struct {
		key swarm.Key
	}
	addProviderRequest struct {
		record addressbook.Record
	}
	seenNotice struct{}
)

// New constructs the kademlia behaviour and registers it with the core.
func New(self peer.ID, c *core.Core, streamer p2p.Streamer, connector Connector, addressBook addressbook.Store, logger logging.Logger, o Options) *Kad {
	if o.BucketSize <= 0 {
		o.BucketSize = defaultBucketSize
	}
	if o.Alpha <= 0 {
		o.Alpha = defaultAlpha
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = defaultMaxRounds
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = defaultMaxFailures
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = defaultRefreshInterval
	}
	if o.RecordTTL <= 0 {
		o.RecordTTL = defaultRecordTTL
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.LocalAddrs == nil {
		o.LocalAddrs = func() []ma.Multiaddr { return nil }
	}

	k := &Kad{
		self:        self,
		core:        c,
		streamer:    streamer,
		connector:   connector,
		addressBook: addressBook,
		table:       NewTable(self, o.BucketSize, o.MaxFailures),
		opts:        o,
		logger:      logger,
		metrics:     newMetrics(),
		lookups:     make(map[uint64]*lookup),
		announces:   make(map[uint64]*announce),
		pending:     make(map[core.RequestID]pendingQuery),
		connected:   make(map[peer.ID]struct{}),
	}
	c.Register(core.TagKad, k)
	return k
}

func (k *Kad) Protocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    protocolName,
		Version: protocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    streamName,
				Handler: k.handler,
			},
		},
	}
}

// Start schedules the periodic refresh and bootstraps from the configured
// boot nodes.
func (k *Kad) Start(ctx context.Context) error {
	return k.core.Call(ctx, func() {
		k.core.After(core.TagKad, k.opts.RefreshInterval, refreshKey{})
		if len(k.opts.Bootnodes) > 0 {
			k.Bootstrap(k.opts.Bootnodes)
		}
	})
}

type refreshKey struct{}

// Handle implements core.Behaviour.
func (k *Kad) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.ConnectionEstablished:
		k.connected[e.Peer] = struct{}{}
	case core.ConnectionClosed:
		if e.Remaining > 0 {
			return
		}
		delete(k.connected, e.Peer)
		// requests to the peer were cancelled by the core
		for id, q := range k.pending {
			if q.peer == e.Peer {
				delete(k.pending, id)
				k.complete(q, nil, errPeerGone)
			}
		}
	case core.Identify:
		if !supportsKad(e.Protocols) {
			return
		}
		now := k.core.Clock().Now()
		if k.table.Add(e.Peer, now) {
			k.metrics.TablePeers.Set(float64(k.table.Len()))
		}
		if len(e.ListenAddrs) > 0 {
			if err := k.addressBook.Put(addressbook.Record{ID: e.Peer, Addrs: e.ListenAddrs, LastSeen: now}); err != nil {
				k.logger.Debugf("kademlia: addressbook put %s: %v", e.Peer, err)
			}
		}
	case core.AddressesUpdated:
		if k.table.Len() > 0 {
			k.Announce(nil)
		}
	case core.Inbound:
		k.handleInbound(e)
	case core.Notice:
		if _, ok := e.Value.(seenNotice); ok {
			k.table.Seen(e.Peer, k.core.Clock().Now())
		}
	case core.Result:
		q, ok := k.pending[e.ID]
		if !ok {
			return
		}
		delete(k.pending, e.ID)
		k.complete(q, e.Value, e.Err)
	case core.Timer:
		if _, ok := e.Key.(refreshKey); ok {
			k.prune()
			k.refresh()
			k.core.After(core.TagKad, k.opts.RefreshInterval, refreshKey{})
		}
	}
}

func supportsKad(protocols []protocol.ID) bool {
	for _, p := range protocols {
		if p == ProtocolID {
			return true
		}
	}
	return false
}

func (k *Kad) handleInbound(e core.Inbound) {
	now := k.core.Clock().Now()
	switch m := e.Msg.(type) {
	case findNodeRequest:
		if k.table.Add(e.Peer, now) {
			k.metrics.TablePeers.Set(float64(k.table.Len()))
		}
		e.Reply(k.closestWithAddrs(m.key, e.Peer), nil)
	case addProviderRequest:
		m.record.LastSeen = now
		if err := k.addressBook.Put(m.record); err != nil {
			e.Reply(nil, err)
			return
		}
		if k.table.Add(m.record.ID, now) {
			k.metrics.TablePeers.Set(float64(k.table.Len()))
		}
		e.Reply(nil, nil)
	default:
		e.Reply(nil, fmt.Errorf("kademlia: unexpected inbound %T", e.Msg))
	}
}

// closestWithAddrs returns up to bucket size closest peers to the key that
// have known addresses, excluding the requester.
func (k *Kad) closestWithAddrs(key swarm.Key, exclude peer.ID) []peer.AddrInfo {
	var infos []peer.AddrInfo
	for _, e := range k.table.Closest(key, k.opts.BucketSize+1) {
		if e.ID == exclude {
			continue
		}
		rec, err := k.addressBook.Get(e.ID)
		if err != nil || len(rec.Addrs) == 0 {
			continue
		}
		infos = append(infos, rec.AddrInfo())
		if len(infos) == k.opts.BucketSize {
			break
		}
	}
	return infos
}

func (k *Kad) nextOpID() uint64 {
	k.lastOpID++
	return k.lastOpID
}

// Lookup finds the closest peers to the target. The callback is called on
// the loop with at most bucket size peers that responded, sorted by
// distance. Loop side.
func (k *Kad) Lookup(target swarm.Key, cb topology.LookupFunc) {
	k.lookup(target, cb, nil)
}

func (k *Kad) lookup(target swarm.Key, cb topology.LookupFunc, parent opentracing.SpanContext) {
	k.metrics.LookupCount.Inc()
	k.table.Touch(target, k.core.Clock().Now())

	opts := []opentracing.StartSpanOption{opentracing.Tag{Key: "target", Value: target.String()}}
	if parent != nil {
		opts = append(opts, opentracing.ChildOf(parent))
	}
	l := &lookup{
		id:         k.nextOpID(),
		target:     target,
		candidates: make(map[peer.ID]*candidate),
		cb:         cb,
		span:       k.opts.Tracer.StartSpan("kademlia-lookup", opts...),
	}
	for _, e := range k.table.Closest(target, k.opts.BucketSize) {
		info := peer.AddrInfo{ID: e.ID}
		if rec, err := k.addressBook.Get(e.ID); err == nil {
			info.Addrs = rec.Addrs
		}
		l.candidates[e.ID] = &candidate{info: info, key: e.Key}
	}
	if len(l.candidates) == 0 {
		k.metrics.LookupFailedCount.Inc()
		tracing.FinishSpan(l.span, topology.ErrNotFound)
		if cb != nil {
			cb(nil, topology.ErrNotFound)
		}
		return
	}
	k.lookups[l.id] = l
	k.round(l)
}

// LookupContext runs a lookup from outside of the loop and waits for it.
// The lookup continues the trace carried by ctx.
func (k *Kad) LookupContext(ctx context.Context, target swarm.Key) ([]peer.AddrInfo, error) {
	type result struct {
		peers []peer.AddrInfo
		err   error
	}
	c := make(chan result, 1)
	parent := tracing.FromContext(ctx)
	if err := k.core.Call(ctx, func() {
		k.lookup(target, func(peers []peer.AddrInfo, err error) {
			c <- result{peers: peers, err: err}
		}, parent)
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-c:
		return r.peers, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// round queries up to alpha closest candidates that were not queried yet.
func (k *Kad) round(l *lookup) {
	l.round++
	l.improved = false
	l.closest = nil

	var fresh []Entry
	for id, c := range l.candidates {
		if c.state == candidateFailed {
			continue
		}
		if l.closest == nil || swarm.Closer(l.target, c.key, *l.closest) {
			key := c.key
			l.closest = &key
		}
		if c.state == candidateFresh {
			fresh = append(fresh, Entry{ID: id, Key: c.key})
		}
	}
	SortByDistance(l.target, fresh)
	if len(fresh) > k.opts.Alpha {
		fresh = fresh[:k.opts.Alpha]
	}
	if len(fresh) == 0 {
		k.finish(l)
		return
	}

	for _, e := range fresh {
		c := l.candidates[e.ID]
		c.state = candidateQueried
		l.inflight++
		k.findNode(l, c.info)
	}
}

func (k *Kad) findNode(l *lookup, info peer.AddrInfo) {
	k.metrics.QueryCount.Inc()
	target := l.target
	tracer, parent, round := k.opts.Tracer, l.span.Context(), l.round
	id := k.request(info, func(ctx context.Context, s p2p.Stream) (_ any, err error) {
		span, _, ctx := tracer.StartSpanFromContext(tracing.WithContext(ctx, parent), "kademlia-find-node", nil,
			opentracing.Tag{Key: "peer", Value: info.ID.String()},
			opentracing.Tag{Key: "round", Value: round},
		)
		defer func() { tracing.FinishSpan(span, err) }()

		w, r := protobuf.NewWriterAndReader(s)
		if err := w.WriteMsgWithContext(ctx, &pb.Message{Type: pb.MessageTypeFindNode, Key: target.Bytes()}); err != nil {
			return nil, fmt.Errorf("write find node: %w", err)
		}
		var resp pb.Message
		if err := r.ReadMsgWithContext(ctx, &resp); err != nil {
			return nil, fmt.Errorf("read find node: %w", err)
		}
		if resp.Type != pb.MessageTypeFindNode {
			return nil, p2p.NewProtocolViolation("find node response of type %s", resp.Type)
		}
		return decodePeers(resp.CloserPeers), nil
	})
	k.pending[id] = pendingQuery{kind: queryFindNode, op: l.id, peer: info.ID}
}

// request dials the peer when needed and runs fn over a new kademlia stream.
func (k *Kad) request(info peer.AddrInfo, fn func(ctx context.Context, s p2p.Stream) (any, error)) core.RequestID {
	_, connected := k.connected[info.ID]
	return k.core.ExecTimeout(core.TagKad, info.ID, k.opts.RequestTimeout, func(ctx context.Context) (any, error) {
		if !connected && k.connector != nil && len(info.Addrs) > 0 {
			if err := k.connector.Connect(ctx, info); err != nil {
				return nil, p2p.NewTransportError(err)
			}
		}
		s, err := k.streamer.NewStream(ctx, info.ID, protocolName, protocolVersion, streamName)
		if err != nil {
			return nil, err
		}
		v, err := fn(ctx, s)
		if err != nil {
			_ = s.Reset()
			return nil, err
		}
		_ = s.FullClose()
		return v, nil
	})
}

func (k *Kad) complete(q pendingQuery, v any, err error) {
	switch q.kind {
	case queryFindNode:
		l, ok := k.lookups[q.op]
		if !ok {
			return
		}
		k.onFindNode(l, q.peer, v, err)
	case queryAddProvider:
		a, ok := k.announces[q.op]
		if !ok {
			return
		}
		a.pending--
		if err != nil {
			k.logger.Debugf("kademlia: announce to %s: %v", q.peer, err)
		} else {
			a.stored++
		}
		if a.pending == 0 {
			delete(k.announces, q.op)
			k.metrics.AnnounceCount.Inc()
			if a.cb != nil {
				a.cb(a.stored, nil)
			}
		}
	case queryBootstrap:
		k.onBootstrap(v, err)
	}
}

func (k *Kad) onFindNode(l *lookup, from peer.ID, v any, err error) {
	l.inflight--
	c := l.candidates[from]
	now := k.core.Clock().Now()

	if err != nil {
		k.metrics.QueryFailedCount.Inc()
		k.logger.Debugf("kademlia: find node from %s: %v", from, err)
		c.state = candidateFailed
		if k.table.Failed(from) {
			k.metrics.TablePeers.Set(float64(k.table.Len()))
			k.logger.Debugf("kademlia: evicted peer %s", from)
		}
	} else {
		c.state = candidateResponded
		if k.table.Add(from, now) {
			k.metrics.TablePeers.Set(float64(k.table.Len()))
		}
		peers, _ := v.([]peer.AddrInfo)
		for _, p := range peers {
			if p.ID == k.self {
				continue
			}
			if len(p.Addrs) > 0 {
				if err := k.addressBook.Put(addressbook.Record{ID: p.ID, Addrs: p.Addrs, LastSeen: now}); err != nil {
					k.logger.Debugf("kademlia: addressbook put %s: %v", p.ID, err)
				}
			}
			if _, ok := l.candidates[p.ID]; ok {
				continue
			}
			key := swarm.KeyFromPeer(p.ID)
			l.candidates[p.ID] = &candidate{info: p, key: key}
			if l.closest == nil || swarm.Closer(l.target, key, *l.closest) {
				l.improved = true
			}
		}
	}

	if l.inflight > 0 {
		return
	}
	if !l.improved || l.round >= k.opts.MaxRounds {
		k.finish(l)
		return
	}
	k.round(l)
}

func (k *Kad) finish(l *lookup) {
	delete(k.lookups, l.id)

	var responded []Entry
	for id, c := range l.candidates {
		if c.state == candidateResponded {
			responded = append(responded, Entry{ID: id, Key: c.key})
		}
	}
	SortByDistance(l.target, responded)
	if len(responded) > k.opts.BucketSize {
		responded = responded[:k.opts.BucketSize]
	}

	l.span.SetTag("rounds", l.round)
	l.span.SetTag("responded", len(responded))
	if len(responded) == 0 {
		k.metrics.LookupFailedCount.Inc()
		tracing.FinishSpan(l.span, topology.ErrNotFound)
		if l.cb != nil {
			l.cb(nil, topology.ErrNotFound)
		}
		return
	}
	infos := make([]peer.AddrInfo, 0, len(responded))
	for _, e := range responded {
		infos = append(infos, l.candidates[e.ID].info)
	}
	tracing.FinishSpan(l.span, nil)
	if l.cb != nil {
		l.cb(infos, nil)
	}
}

// Announce looks up the own key and stores the local record on the closest
// peers. The callback receives the number of peers that stored it. Loop
// side.
func (k *Kad) Announce(cb func(stored int, err error)) {
	k.Lookup(k.table.Base(), func(peers []peer.AddrInfo, err error) {
		if err != nil {
			if cb != nil {
				cb(0, err)
			}
			return
		}
		a := &announce{cb: cb}
		op := k.nextOpID()
		self := k.self
		for _, p := range peers {
			id := k.request(p, func(ctx context.Context, s p2p.Stream) (any, error) {
				rec := &pb.Peer{ID: []byte(self)}
				for _, addr := range k.opts.LocalAddrs() {
					rec.Addrs = append(rec.Addrs, addr.Bytes())
				}
				w := protobuf.NewWriter(s)
				if err := w.WriteMsgWithContext(ctx, &pb.Message{
					Type:          pb.MessageTypeAddProvider,
					Key:           swarm.KeyFromPeer(self).Bytes(),
					ProviderPeers: []*pb.Peer{rec},
				}); err != nil {
					return nil, fmt.Errorf("write add provider: %w", err)
				}
				return nil, nil
			})
			k.pending[id] = pendingQuery{kind: queryAddProvider, op: op, peer: p.ID}
			a.pending++
		}
		if a.pending == 0 {
			if cb != nil {
				cb(0, nil)
			}
			return
		}
		k.announces[op] = a
	})
}

// Bootstrap dials the boot nodes, adds them to the table and looks up the
// own key. Loop side.
func (k *Kad) Bootstrap(addrs []ma.Multiaddr) {
	if k.connector == nil {
		return
	}
	connector := k.connector
	logger := k.logger
	id := k.core.Exec(core.TagKad, "", func(ctx context.Context) (any, error) {
		var (
			mu        sync.Mutex
			connected []peer.AddrInfo
		)
		g, ctx := errgroup.WithContext(ctx)
		for _, addr := range addrs {
			addr := addr
			g.Go(func() error {
				_, err := p2p.Discover(ctx, addr, func(a ma.Multiaddr) (bool, error) {
					info, err := peer.AddrInfoFromP2pAddr(a)
					if err != nil {
						return false, fmt.Errorf("bootnode %s: %w", a, err)
					}
					if err := connector.Connect(ctx, *info); err != nil {
						logger.Debugf("kademlia: connect to bootnode %s: %v", a, err)
						return false, nil
					}
					mu.Lock()
					connected = append(connected, *info)
					mu.Unlock()
					return true, nil
				})
				if err != nil {
					logger.Debugf("kademlia: bootnode %s: %v", addr, err)
				}
				return nil
			})
		}
		_ = g.Wait()
		if len(connected) == 0 {
			return nil, p2p.NewTransportError(errors.New("no bootnode reachable"))
		}
		return connected, nil
	})
	k.pending[id] = pendingQuery{kind: queryBootstrap}
}

func (k *Kad) onBootstrap(v any, err error) {
	if err != nil {
		k.logger.Warningf("kademlia: bootstrap: %v", err)
		return
	}
	now := k.core.Clock().Now()
	for _, info := range v.([]peer.AddrInfo) {
		k.table.Add(info.ID, now)
		if err := k.addressBook.Put(addressbook.Record{ID: info.ID, Addrs: info.Addrs, LastSeen: now}); err != nil {
			k.logger.Debugf("kademlia: addressbook put %s: %v", info.ID, err)
		}
	}
	k.metrics.TablePeers.Set(float64(k.table.Len()))
	k.Announce(func(stored int, err error) {
		if err != nil {
			k.logger.Debugf("kademlia: bootstrap lookup: %v", err)
			return
		}
		k.logger.Infof("kademlia: bootstrapped with %d peers in the table", k.table.Len())
	})
}

// prune drops the address book records of peers that were not seen within
// the record ttl.
func (k *Kad) prune() {
	n, err := k.addressBook.Prune(k.core.Clock().Now(), k.opts.RecordTTL)
	if err != nil {
		k.logger.Debugf("kademlia: addressbook prune: %v", err)
		return
	}
	if n > 0 {
		k.logger.Tracef("kademlia: pruned %d address book records", n)
	}
}

// refresh looks up a random key in every stale bucket and then
// re-announces the local record.
func (k *Kad) refresh() {
	if k.refreshing {
		return
	}
	stale := k.table.Stale(k.core.Clock().Now(), k.opts.RefreshInterval)
	if len(stale) == 0 {
		k.Announce(nil)
		return
	}
	k.refreshing = true
	remaining := len(stale)
	for _, po := range stale {
		k.Lookup(swarm.RandomKeyAt(k.table.Base(), po), func([]peer.AddrInfo, error) {
			remaining--
			if remaining == 0 {
				k.refreshing = false
				k.Announce(nil)
			}
		})
	}
}

// Closest returns up to n closest peers from the table. Loop side.
func (k *Kad) Closest(target swarm.Key, n int) []Entry {
	return k.table.Closest(target, n)
}

// Table returns the routing table. Loop side.
func (k *Kad) Table() *Table {
	return k.table
}

// Snapshot describes the routing table. Loop side.
func (k *Kad) Snapshot() topology.Snapshot {
	s := topology.Snapshot{
		Base:       k.table.Base(),
		Timestamp:  k.core.Clock().Now(),
		Population: k.table.Len(),
		Connected:  len(k.connected),
		Lookups:    len(k.lookups),
	}
	deepest := -1
	k.table.EachBin(func(_ Entry, po int) (bool, bool) {
		deepest = po
		return true, false
	})
	for po := 0; po <= deepest; po++ {
		entries, touched := k.table.Bin(po)
		bin := topology.BinInfo{Population: len(entries), Touched: touched, Peers: []string{}}
		for _, e := range entries {
			if _, ok := k.connected[e.ID]; ok {
				bin.Connected++
			}
			bin.Peers = append(bin.Peers, e.ID.String())
		}
		s.Bins = append(s.Bins, bin)
	}
	return s
}

// SnapshotContext returns the snapshot from outside of the loop.
func (k *Kad) SnapshotContext(ctx context.Context) (s topology.Snapshot, err error) {
	err = k.core.Call(ctx, func() { s = k.Snapshot() })
	return s, err
}

func (k *Kad) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) (err error) {
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			_ = stream.FullClose()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, k.opts.RequestTimeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)
	var req pb.Message
	if err := r.ReadMsgWithContext(ctx, &req); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	k.metrics.InboundCount.WithLabelValues(req.Type.String()).Inc()

	switch req.Type {
	case pb.MessageTypeFindNode:
		if len(req.Key) != swarm.KeyLen {
			return p2p.NewProtocolViolation("find node key of %d bytes", len(req.Key))
		}
		v, err := k.core.Ask(ctx, core.TagKad, p.ID, findNodeRequest{key: swarm.NewKey(req.Key)})
		if err != nil {
			return fmt.Errorf("find node: %w", err)
		}
		resp := &pb.Message{Type: pb.MessageTypeFindNode, Key: req.Key}
		for _, info := range v.([]peer.AddrInfo) {
			resp.CloserPeers = append(resp.CloserPeers, encodePeer(info))
		}
		if err := w.WriteMsgWithContext(ctx, resp); err != nil {
			return fmt.Errorf("write find node response: %w", err)
		}
	case pb.MessageTypeAddProvider:
		for _, info := range decodePeers(req.ProviderPeers) {
			// records may only be stored by their owner
			if info.ID != p.ID {
				return p2p.NewProtocolViolation("provider %s announced by %s", info.ID, p.ID)
			}
			if _, err := k.core.Ask(ctx, core.TagKad, p.ID, addProviderRequest{record: addressbook.Record{ID: info.ID, Addrs: info.Addrs}}); err != nil {
				return fmt.Errorf("add provider: %w", err)
			}
		}
	case pb.MessageTypePing:
		k.core.Post(core.TagKad, p.ID, seenNotice{})
		if err := w.WriteMsgWithContext(ctx, &pb.Message{Type: pb.MessageTypePing}); err != nil {
			return fmt.Errorf("write ping: %w", err)
		}
	default:
		return p2p.NewProtocolViolation("unexpected message type %s", req.Type)
	}
	return nil
}

// Ping sends a kademlia PING to the peer and waits for the answer.
func (k *Kad) Ping(ctx context.Context, p peer.ID) error {
	s, err := k.streamer.NewStream(ctx, p, protocolName, protocolVersion, streamName)
	if err != nil {
		return err
	}
	w, r := protobuf.NewWriterAndReader(s)
	if err := w.WriteMsgWithContext(ctx, &pb.Message{Type: pb.MessageTypePing}); err != nil {
		_ = s.Reset()
		return fmt.Errorf("write ping: %w", err)
	}
	var resp pb.Message
	if err := r.ReadMsgWithContext(ctx, &resp); err != nil {
		_ = s.Reset()
		return fmt.Errorf("read ping: %w", err)
	}
	if resp.Type != pb.MessageTypePing {
		_ = s.Reset()
		return p2p.NewProtocolViolation("ping response of type %s", resp.Type)
	}
	return s.FullClose()
}

func encodePeer(info peer.AddrInfo) *pb.Peer {
	p := &pb.Peer{ID: []byte(info.ID)}
	for _, a := range info.Addrs {
		p.Addrs = append(p.Addrs, a.Bytes())
	}
	return p
}

// decodePeers skips peers with an invalid id and drops undecodable
// addresses.
func decodePeers(ps []*pb.Peer) []peer.AddrInfo {
	infos := make([]peer.AddrInfo, 0, len(ps))
	for _, p := range ps {
		id, err := peer.IDFromBytes(p.ID)
		if err != nil {
			continue
		}
		info := peer.AddrInfo{ID: id}
		for _, b := range p.Addrs {
			if len(info.Addrs) == maxPeerAddrs {
				break
			}
			a, err := ma.NewMultiaddrBytes(b)
			if err != nil {
				continue
			}
			info.Addrs = append(info.Addrs, a)
		}
		infos = append(infos, info)
	}
	return infos
}
