// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"net/http"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewCounter(opts CounterOpts) Counter {
	return prometheus.NewCounter(opts)
}

func NewCounterVec(opts CounterOpts, names []string) CounterMetricVector {
	return prometheus.NewCounterVec(opts, names)
}

func NewGauge(opts GaugeOpts) Gauge {
	return prometheus.NewGauge(opts)
}

func NewGaugeVec(opts GaugeOpts, names []string) GaugeMetricVector {
	return prometheus.NewGaugeVec(opts, names)
}

func NewHistogram(opts HistogramOpts) Histogram {
	return prometheus.NewHistogram(opts)
}

func NewHistogramVec(opts HistogramOpts, names []string) HistogramMetricVector {
	return prometheus.NewHistogramVec(opts, names)
}

func NewRegistry() *Registry {
	return prometheus.NewRegistry()
}

func NewGoCollector() Collector {
	return collectors.NewGoCollector()
}

func NewProcessCollector(opts ProcessCollectorOpts) Collector {
	return collectors.NewProcessCollector(opts)
}

func InstrumentMetricHandler(reg MetricsRegistererGatherer, handler http.Handler) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, handler)
}

func HandlerFor(reg MetricsRegistererGatherer, opts HandlerOpts) http.Handler {
	return promhttp.HandlerFor(reg, opts)
}

// PrometheusCollectorsFromFields returns all initialized exported fields of a
// struct that implement the prometheus Collector interface.
func PrometheusCollectorsFromFields(i any) (cs []Collector) {
	v := reflect.Indirect(reflect.ValueOf(i))
	for i := 0; i < v.NumField(); i++ {
		if !v.Field(i).CanInterface() {
			continue
		}
		if u, ok := v.Field(i).Interface().(Collector); ok {
			cs = append(cs, u)
		}
	}
	return cs
}
