// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics_test

import (
	"strings"
	"testing"

	m "github.com/ethersphere/beacon/pkg/metrics"
)

func TestPrometheusCollectorsFromFields(t *testing.T) {
	s := newService()
	collectors := m.PrometheusCollectorsFromFields(s)

	if l := len(collectors); l != 3 {
		t.Fatalf("got %v collectors %+v, want 3", l, collectors)
	}

	m1 := collectors[0].(m.Metric).Desc().String()
	if !strings.Contains(m1, "relay_reservation_count") {
		t.Errorf("unexpected metric %s", m1)
	}

	m2 := collectors[1].(m.Metric).Desc().String()
	if !strings.Contains(m2, "relay_circuit_duration_seconds") {
		t.Errorf("unexpected metric %s", m2)
	}

	ch := make(chan *m.Desc, 1)
	collectors[2].Describe(ch)
	if d := (<-ch).String(); !strings.Contains(d, "relay_refused_count") {
		t.Errorf("unexpected metric %s", d)
	}
}

type service struct {
	// valid metrics
	ReservationCount m.Counter
	CircuitDuration  m.Histogram
	RefusedCount     m.CounterVec
	// invalid metrics
	unexportedCount    m.Counter
	UninitializedCount m.Counter
}

func newService() *service {
	subsystem := "relay"
	return &service{
		ReservationCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reservation_count",
			Help:      "Number of granted reservations.",
		}),
		CircuitDuration: m.NewHistogram(m.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "circuit_duration_seconds",
			Help:      "Histogram of circuit durations.",
		}),
		RefusedCount: m.NewCounterVec(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "refused_count",
			Help:      "Number of refused requests by reason.",
		}, []string{"reason"}),
		unexportedCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "invalid",
		}),
	}
}
