// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pingpong exposes the simple ping-pong protocol which measures
// round-trip-time with other peers and tells whether the exchange went over
// a direct or a relayed connection.
package pingpong

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/ethersphere/beacon/pkg/pingpong/pb"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	protocolName    = "pingpong"
	protocolVersion = "1.0.0"
	streamName      = "pingpong"
)

type Interface interface {
	Ping(ctx context.Context, p peer.ID, msgs ...string) (Result, error)
}

// Result of a ping. Remote is nil when the streamer does not expose the
// connection the stream runs on.
type Result struct {
	RTT     time.Duration `json:"rtt"`
	Relayed bool          `json:"relayed"`
	Remote  ma.Multiaddr  `json:"remote,omitempty"`
}

type Service struct {
	streamer p2p.Streamer
	logger   logging.Logger
	tracer   *tracing.Tracer
	metrics  metrics
}

type Options struct {
	Streamer p2p.Streamer
	Logger   logging.Logger
	Tracer   *tracing.Tracer
}

func New(o Options) *Service {
	return &Service{
		streamer: o.Streamer,
		logger:   o.Logger,
		tracer:   o.Tracer,
		metrics:  newMetrics(),
	}
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

func (s *Service) Ping(ctx context.Context, p peer.ID, msgs ...string) (res Result, err error) {
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "pingpong-p2p-ping", s.logger)
	defer func() { tracing.FinishSpan(span, err) }()

	start := time.Now()
	stream, err := s.streamer.NewStream(ctx, p, protocolName, protocolVersion, streamName)
	if err != nil {
		return Result{}, fmt.Errorf("new stream: %w", err)
	}
	defer stream.Close()

	if c := streamConn(stream); c != nil {
		res.Remote = c.RemoteMultiaddr()
		res.Relayed = c.Stat().Transient || p2p.IsRelayAddr(res.Remote)
	}
	if res.Relayed {
		s.metrics.RelayedPingCount.Inc()
	}

	w, r := protobuf.NewWriterAndReader(stream)

	var pong pb.Pong
	for _, msg := range msgs {
		if err := w.WriteMsgWithContext(ctx, &pb.Ping{
			Greeting: msg,
		}); err != nil {
			return Result{}, fmt.Errorf("write message: %w", err)
		}
		s.metrics.PingSentCount.Inc()

		if err := r.ReadMsgWithContext(ctx, &pong); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Result{}, fmt.Errorf("read message: %w", err)
		}

		logger.Tracef("pingpong: got pong from %s: %q", p, pong.Response)
		s.metrics.PongReceivedCount.Inc()
	}
	res.RTT = time.Since(start)
	return res, nil
}

func (s *Service) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) error {
	w, r := protobuf.NewWriterAndReader(stream)
	defer stream.Close()

	var ping pb.Ping
	for {
		if err := r.ReadMsgWithContext(ctx, &ping); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read message: %w", err)
		}
		s.logger.Tracef("pingpong: got ping from %s: %q", p.ID, ping.Greeting)
		s.metrics.PingReceivedCount.Inc()

		if err := w.WriteMsgWithContext(ctx, &pb.Pong{
			Response: "{" + ping.Greeting + "}",
		}); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
		s.metrics.PongSentCount.Inc()
	}
	return nil
}

// streamConn returns the connection of streams backed by a libp2p stream.
func streamConn(s p2p.Stream) network.Conn {
	if cs, ok := s.(interface{ Conn() network.Conn }); ok {
		return cs.Conn()
	}
	return nil
}
