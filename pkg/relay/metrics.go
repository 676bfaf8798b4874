// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	m "github.com/ethersphere/beacon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	HopRequestCount         m.CounterMetricVector
	Reservations            m.Gauge
	ExpiredReservationCount m.Counter
	Circuits                m.Gauge
	CircuitCount            m.Counter
	RefusedCircuitCount     m.Counter
	RelayedBytes            m.Counter
}

func newServerMetrics() serverMetrics {
	subsystem := "relay_server"

	return serverMetrics{
		HopRequestCount: m.NewCounterVec(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "hop_request_count",
			Help:      "Number of hop requests by message type.",
		}, []string{"type"}),
		Reservations: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reservations",
			Help:      "Number of held reservations.",
		}),
		ExpiredReservationCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "expired_reservation_count",
			Help:      "Number of reclaimed expired reservations.",
		}),
		Circuits: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "circuits",
			Help:      "Number of admitted circuits.",
		}),
		CircuitCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "circuit_count",
			Help:      "Number of established circuits.",
		}),
		RefusedCircuitCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "refused_circuit_count",
			Help:      "Number of refused circuit requests.",
		}),
		RelayedBytes: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "relayed_bytes",
			Help:      "Number of bytes spliced between circuit ends.",
		}),
	}
}

func (s *Server) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}

type clientMetrics struct {
	ReserveCount       m.Counter
	ReserveFailedCount m.Counter
	Reservations       m.Gauge
	FallbackCount      m.Counter
}

func newClientMetrics() clientMetrics {
	subsystem := "relay_client"

	return clientMetrics{
		ReserveCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reserve_count",
			Help:      "Number of reservation requests, renewals included.",
		}),
		ReserveFailedCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reserve_failed_count",
			Help:      "Number of failed reservation requests.",
		}),
		Reservations: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reservations",
			Help:      "Number of accepted reservations.",
		}),
		FallbackCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "fallback_count",
			Help:      "Number of routing table lookups for new relay candidates.",
		}),
	}
}

func (c *Client) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
