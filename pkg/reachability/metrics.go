// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reachability

import (
	m "github.com/ethersphere/beacon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type proberMetrics struct {
	ProbeCount       m.Counter
	ProbeFailedCount m.CounterVec
	Status           m.Gauge
}

func newProberMetrics() proberMetrics {
	subsystem := "reachability"

	return proberMetrics{
		ProbeCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "probe_count",
			Help:      "Number of dial back requests sent.",
		}),
		ProbeFailedCount: m.NewCounterVec(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "probe_failed_count",
			Help:      "Number of failed dial back requests by cause.",
		}, []string{"cause"}),
		Status: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "status",
			Help:      "Local reachability: 0 unknown, 1 public, 2 private.",
		}),
	}
}

func (p *Prober) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(p.metrics)
}

type serverMetrics struct {
	DialRequestCount  m.Counter
	DialResponseCount m.CounterVec
}

func newServerMetrics() serverMetrics {
	subsystem := "reachability_server"

	return serverMetrics{
		DialRequestCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dial_request_count",
			Help:      "Number of received dial back requests.",
		}),
		DialResponseCount: m.NewCounterVec(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dial_response_count",
			Help:      "Number of dial back responses by status.",
		}, []string{"status"}),
	}
}

func (s *Server) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
