// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reachability

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	pb "github.com/libp2p/go-libp2p/p2p/host/autonat/pb"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	defaultProbeInterval  = 15 * time.Minute
	defaultBootDelay      = 15 * time.Second
	defaultRetryInterval  = 90 * time.Second
	defaultProbePeers     = 3
	defaultRequestTimeout = time.Minute
)

// Candidates lists the peers that speak a protocol. Called on the loop.
type Candidates interface {
	Peers(protocol.ID) []peer.AddrInfo
}

// Recorder stores the reachability of a peer.
type Recorder interface {
	SetReachability(id peer.ID, r p2p.ReachabilityStatus) error
}

type ProberOptions struct {
	ProbeInterval time.Duration
	// BootDelay is the wait before the first probe window.
	BootDelay time.Duration
	// RetryInterval is the wait before the next window when no peer could
	// be asked or a window left the status unknown.
	RetryInterval  time.Duration
	ProbePeers     int
	RequestTimeout time.Duration
	Candidates     Candidates
	AddressBook    Recorder
	// Addrs returns the addresses peers are asked to dial back.
	Addrs func() []ma.Multiaddr
}

// Prober runs probe windows. Its state is owned by the core loop.
type Prober struct {
	self     peer.ID
	core     *core.Core
	streamer p2p.Streamer
	logger   logging.Logger
	metrics  proberMetrics
	opts     ProberOptions
	rand     *rand.Rand

	status  p2p.ReachabilityStatus
	addr    ma.Multiaddr
	pending map[core.RequestID]peer.ID
	window  window
	next    core.TimerID
}

// window counts the outcomes of the probes of one round.
type window struct {
	probes     int
	done       int
	dialErrors int
	public     bool
}

type probeKey struct{}

func NewProber(self peer.ID, c *core.Core, streamer p2p.Streamer, logger logging.Logger, o ProberOptions) *Prober {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = defaultProbeInterval
	}
	if o.BootDelay <= 0 {
		o.BootDelay = defaultBootDelay
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	if o.ProbePeers <= 0 {
		o.ProbePeers = defaultProbePeers
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.Addrs == nil {
		o.Addrs = func() []ma.Multiaddr { return nil }
	}

	p := &Prober{
		self:     self,
		core:     c,
		streamer: streamer,
		logger:   logger,
		metrics:  newProberMetrics(),
		opts:     o,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		status:   p2p.ReachabilityStatusUnknown,
		pending:  make(map[core.RequestID]peer.ID),
	}
	c.Register(core.TagAutonat, p)
	return p
}

// Start schedules the first probe window.
func (p *Prober) Start(ctx context.Context) error {
	return p.core.Call(ctx, func() {
		p.next = p.core.After(core.TagAutonat, p.opts.BootDelay, probeKey{})
	})
}

// Handle implements core.Behaviour.
func (p *Prober) Handle(ev core.Event) {
	switch e := ev.(type) {
	case core.Timer:
		if _, ok := e.Key.(probeKey); ok {
			p.probe()
		}
	case core.ConnectionClosed:
		if e.Remaining > 0 {
			return
		}
		// the requests to the peer were cancelled by the core
		for id, to := range p.pending {
			if to == e.Peer {
				delete(p.pending, id)
				p.complete(to, nil, p2p.ErrPeerNotFound)
			}
		}
	case core.Result:
		to, ok := p.pending[e.ID]
		if !ok {
			return
		}
		delete(p.pending, e.ID)
		p.complete(to, e.Value, e.Err)
	}
}

// probe starts a window with up to ProbePeers candidates.
func (p *Prober) probe() {
	for id := range p.pending {
		p.core.Cancel(id)
		delete(p.pending, id)
	}

	addrs := p.dialAddrs()
	var candidates []peer.AddrInfo
	if p.opts.Candidates != nil {
		for _, info := range p.opts.Candidates.Peers(ProtocolID) {
			if info.ID != p.self {
				candidates = append(candidates, info)
			}
		}
	}
	if len(addrs) == 0 || len(candidates) == 0 {
		p.logger.Debugf("reachability: no peers to probe with (%d candidates, %d addresses)", len(candidates), len(addrs))
		p.next = p.core.After(core.TagAutonat, p.opts.RetryInterval, probeKey{})
		return
	}

	p.rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > p.opts.ProbePeers {
		candidates = candidates[:p.opts.ProbePeers]
	}

	p.window = window{probes: len(candidates)}
	msg := newDialMessage(peer.AddrInfo{ID: p.self, Addrs: addrs})
	for _, info := range candidates {
		p.metrics.ProbeCount.Inc()
		id := p.core.Request(core.TagAutonat, p.streamer, info.ID, protocolName, protocolVersion, streamName, p.opts.RequestTimeout, func(ctx context.Context, stream p2p.Stream) (any, error) {
			return dialBack(ctx, stream, msg)
		})
		p.pending[id] = info.ID
	}
	p.next = p.core.After(core.TagAutonat, p.opts.ProbeInterval, probeKey{})
}

func (p *Prober) dialAddrs() []ma.Multiaddr {
	var addrs []ma.Multiaddr
	for _, a := range p.opts.Addrs() {
		if p2p.IsRelayAddr(a) {
			continue
		}
		addrs = append(addrs, a)
		if len(addrs) == maxDialAddrs {
			break
		}
	}
	return addrs
}

// dialBack asks the peer to dial back and returns the address it reached.
func dialBack(ctx context.Context, stream p2p.Stream, msg *pb.Message) (ma.Multiaddr, error) {
	w, r := protobuf.NewWriterAndReader(stream)
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(msg)); err != nil {
		return nil, fmt.Errorf("write dial: %w", err)
	}
	var resp pb.Message
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&resp)); err != nil {
		return nil, fmt.Errorf("read dial response: %w", err)
	}
	if resp.GetType() != pb.Message_DIAL_RESPONSE || resp.GetDialResponse() == nil {
		return nil, p2p.NewProtocolViolation("dial response of type %s", resp.GetType())
	}
	dr := resp.GetDialResponse()
	if st := dr.GetStatus(); st != pb.Message_OK {
		return nil, &StatusError{Status: st, Text: dr.GetStatusText()}
	}
	addr, err := ma.NewMultiaddrBytes(dr.GetAddr())
	if err != nil {
		return nil, p2p.NewProtocolViolation("dial response address: %v", err)
	}
	return addr, nil
}

// complete records the outcome of a probe. One success makes the node
// public. A window in which every probe failed to dial back makes it
// private, any other window leaves it unknown and is retried sooner.
func (p *Prober) complete(from peer.ID, v any, err error) {
	p.window.done++
	switch {
	case err == nil:
		p.window.public = true
		addr := v.(ma.Multiaddr)
		p.logger.Debugf("reachability: %s reached us on %s", from, addr)
		p.set(p2p.ReachabilityStatusPublic, addr)
	case IsDialError(err):
		p.metrics.ProbeFailedCount.WithLabelValues("dial_error").Inc()
		p.window.dialErrors++
		p.logger.Debugf("reachability: %s could not dial back: %v", from, err)
	default:
		p.metrics.ProbeFailedCount.WithLabelValues("other").Inc()
		p.logger.Debugf("reachability: probe via %s: %v", from, err)
	}

	if p.window.done < p.window.probes || p.window.public {
		return
	}
	if p.window.dialErrors == p.window.probes {
		p.set(p2p.ReachabilityStatusPrivate, nil)
		return
	}
	p.set(p2p.ReachabilityStatusUnknown, nil)
	p.core.CancelTimer(p.next)
	p.next = p.core.After(core.TagAutonat, p.opts.RetryInterval, probeKey{})
}

func (p *Prober) set(status p2p.ReachabilityStatus, addr ma.Multiaddr) {
	p.addr = addr
	p.metrics.Status.Set(float64(status))
	if status == p.status {
		return
	}
	p.logger.Infof("reachability: %s -> %s", p.status, status)
	p.status = status
	if p.opts.AddressBook != nil {
		if err := p.opts.AddressBook.SetReachability(p.self, status); err != nil {
			p.logger.Errorf("reachability: record status: %v", err)
		}
	}
	p.core.Emit(core.TagAutonat, "", Changed{Status: status, Addr: addr})
}

// Status returns the current classification. Loop side.
func (p *Prober) Status() p2p.ReachabilityStatus {
	return p.status
}

// StatusContext returns the current classification and the address a peer
// last reached the node on, from outside of the loop.
func (p *Prober) StatusContext(ctx context.Context) (status p2p.ReachabilityStatus, addr ma.Multiaddr, err error) {
	err = p.core.Call(ctx, func() {
		status, addr = p.status, p.addr
	})
	return status, addr, err
}
