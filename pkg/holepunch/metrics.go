// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package holepunch

import (
	m "github.com/ethersphere/beacon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	AttemptCount   m.Counter
	RoundCount     m.Counter
	OutcomeCount   m.CounterVec
	ActiveAttempts m.Gauge
}

func newMetrics() metrics {
	subsystem := "holepunch"

	return metrics{
		AttemptCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "attempt_count",
			Help:      "Number of started hole punch attempts.",
		}),
		RoundCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "round_count",
			Help:      "Number of started hole punch rounds.",
		}),
		OutcomeCount: m.NewCounterVec(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "outcome_count",
			Help:      "Number of resolved attempts by final state.",
		}, []string{"state"}),
		ActiveAttempts: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "active_attempts",
			Help:      "Number of unresolved attempts.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
