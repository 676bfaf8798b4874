// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rendezvous

import (
	m "github.com/ethersphere/beacon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	RequestCount         m.CounterVec
	RegisterCount        m.Counter
	RegisterRefusedCount m.Counter
	UnregisterCount      m.Counter
	DiscoverCount        m.Counter
	ExpiredCount         m.Counter
	Registrations        m.Gauge
}

func newServerMetrics() serverMetrics {
	subsystem := "rendezvous_server"

	return serverMetrics{
		RequestCount: m.NewCounterVec(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "request_count",
			Help:      "Number of requests by message type.",
		}, []string{"type"}),
		RegisterCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "register_count",
			Help:      "Number of accepted registrations, refreshes included.",
		}),
		RegisterRefusedCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "register_refused_count",
			Help:      "Number of refused registrations.",
		}),
		UnregisterCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "unregister_count",
			Help:      "Number of unregister requests.",
		}),
		DiscoverCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "discover_count",
			Help:      "Number of answered discover requests.",
		}),
		ExpiredCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "expired_count",
			Help:      "Number of collected expired registrations.",
		}),
		Registrations: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "registrations",
			Help:      "Number of held registrations.",
		}),
	}
}

func (s *Server) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}

type clientMetrics struct {
	RegisterCount       m.Counter
	RegisterFailedCount m.Counter
	DiscoverCount       m.Counter
	DiscoverFailedCount m.Counter
	DiscoveredPeerCount m.Counter
}

func newClientMetrics() clientMetrics {
	subsystem := "rendezvous_client"

	return clientMetrics{
		RegisterCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "register_count",
			Help:      "Number of register requests.",
		}),
		RegisterFailedCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "register_failed_count",
			Help:      "Number of failed register requests.",
		}),
		DiscoverCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "discover_count",
			Help:      "Number of discover requests.",
		}),
		DiscoverFailedCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "discover_failed_count",
			Help:      "Number of failed discover requests.",
		}),
		DiscoveredPeerCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "discovered_peer_count",
			Help:      "Number of peers discovered for the first time.",
		}),
	}
}

func (c *Client) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
