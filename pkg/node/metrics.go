// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"github.com/ethersphere/beacon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type nodeMetrics struct {
	// StartupDuration measures time in seconds for the node to start all
	// of its components.
	StartupDuration prometheus.Histogram
	// AppEventCount counts the events the components emitted to the node.
	AppEventCount *prometheus.CounterVec
}

func newMetrics() nodeMetrics {
	subsystem := "node"

	return nodeMetrics{
		StartupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "startup_duration_seconds",
				Help:      "Duration in seconds for the node startup to complete.",
			},
		),
		AppEventCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "app_event_count",
				Help:      "Number of events emitted to the node by component.",
			},
			[]string{"component"},
		),
	}
}

func (m nodeMetrics) Metrics() []prometheus.Collector {
	return metrics.PrometheusCollectorsFromFields(m)
}
