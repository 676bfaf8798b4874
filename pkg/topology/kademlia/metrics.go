// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kademlia

import (
	m "github.com/ethersphere/beacon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	LookupCount       m.Counter
	LookupFailedCount m.Counter
	QueryCount        m.Counter
	QueryFailedCount  m.Counter
	AnnounceCount     m.Counter
	InboundCount      m.CounterVec
	TablePeers        m.Gauge
}

func newMetrics() metrics {
	subsystem := "kademlia"

	return metrics{
		LookupCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "lookup_count",
			Help:      "Number of started lookups.",
		}),
		LookupFailedCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "lookup_failed_count",
			Help:      "Number of lookups that found no responding peer.",
		}),
		QueryCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "query_count",
			Help:      "Number of FIND_NODE queries sent.",
		}),
		QueryFailedCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "query_failed_count",
			Help:      "Number of failed FIND_NODE queries.",
		}),
		AnnounceCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "announce_count",
			Help:      "Number of completed announcements of the local record.",
		}),
		InboundCount: m.NewCounterVec(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "inbound_count",
			Help:      "Number of inbound requests by message type.",
		}, []string{"type"}),
		TablePeers: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "table_peers",
			Help:      "Number of peers in the routing table.",
		}),
	}
}

func (k *Kad) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(k.metrics)
}
