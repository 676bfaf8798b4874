// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libp2p

import (
	m "github.com/ethersphere/beacon/pkg/metrics"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection
	CreatedConnectionCount     m.Counter
	HandledConnectionCount     m.CounterMetricVector
	CreatedStreamCount         m.CounterMetricVector
	HandledStreamCount         m.CounterMetricVector
	ClosedStreamCount          m.Counter
	StreamResetCount           m.Counter
	DisconnectCount            m.Counter
	StreamHandlerErrResetCount m.Counter
}

func newMetrics() metrics {
	subsystem := "libp2p"

	return metrics{
		CreatedConnectionCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "created_connection_count",
			Help:      "Number of outgoing connections dialed through the node.",
		}),
		HandledConnectionCount: m.NewCounterVec(
			m.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "handled_connection_count",
				Help:      "Number of incoming connections by transport.",
			},
			[]string{"transport"},
		),
		CreatedStreamCount: m.NewCounterVec(
			m.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "created_stream_count",
				Help:      "Number of outgoing streams by protocol and transport.",
			},
			[]string{"protocol", "transport"},
		),
		HandledStreamCount: m.NewCounterVec(
			m.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "handled_stream_count",
				Help:      "Number of incoming streams by protocol and transport.",
			},
			[]string{"protocol", "transport"},
		),
		ClosedStreamCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "closed_stream_count",
			Help:      "Number of fully closed streams.",
		}),
		StreamResetCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "stream_reset_count",
			Help:      "Number of stream resets.",
		}),
		DisconnectCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "disconnect_count",
			Help:      "Number of peers we've disconnected from (initiated locally).",
		}),
		StreamHandlerErrResetCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "stream_handler_error_reset_count",
			Help:      "Number of streams reset after a protocol violation.",
		}),
	}
}

// transportLabel tells relayed connections apart from direct ones.
func transportLabel(c network.Conn) string {
	if c.Stat().Transient || p2p.IsRelayAddr(c.RemoteMultiaddr()) {
		return "relayed"
	}
	return "direct"
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
