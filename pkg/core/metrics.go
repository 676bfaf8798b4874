// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	m "github.com/ethersphere/beacon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	EventCount           m.Counter
	CommandCount         m.Counter
	StaleEventCount      m.Counter
	DroppedAppEventCount m.Counter
	DroppedReplyCount    m.Counter
	ConnectionCount      m.Gauge
	PendingRequests      m.Gauge
	EventHandleDuration  m.Histogram
}

func newMetrics() metrics {
	subsystem := "core"

	return metrics{
		EventCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "event_count",
			Help:      "Number of events handled by the loop.",
		}),
		CommandCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "command_count",
			Help:      "Number of dispatched commands.",
		}),
		StaleEventCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "stale_event_count",
			Help:      "Number of results and timers dropped because they were cancelled.",
		}),
		DroppedAppEventCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dropped_app_event_count",
			Help:      "Number of application events dropped because nobody consumed them.",
		}),
		DroppedReplyCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dropped_reply_count",
			Help:      "Number of command replies dropped because nobody was reading them.",
		}),
		ConnectionCount: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of open connections.",
		}),
		PendingRequests: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pending_requests",
			Help:      "Number of requests waiting for a result.",
		}),
		EventHandleDuration: m.NewHistogram(m.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "event_handle_duration_seconds",
			Help:      "Time spent handling one event on the loop.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
	}
}

func (c *Core) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
