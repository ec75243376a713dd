// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics exports prometheus metrics of plugin and pipeline
// reloads, retired GPU objects and frames.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "particlesim"

// Subsystems of reload metrics.
const (
	Plugin   = "plugin"
	Pipeline = "pipeline"
)

// Metrics holds the host metrics and the registry they are registered in.
type Metrics struct {
	Reloads        *prometheus.CounterVec
	ReloadDuration *prometheus.HistogramVec
	Retired        prometheus.Gauge
	Frames         prometheus.Counter
	WatchEvents    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New returns metrics registered in a new registry, along with
// the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reloads_total",
				Help:      "Total number of reload attempts",
			},
			[]string{"subsystem", "name", "result"},
		),
		ReloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reload_duration_seconds",
				Help:      "Duration of reload attempts in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"subsystem"},
		),
		Retired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retired_objects",
			Help:      "Number of retired GPU objects pending destruction",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of frames",
		}),
		WatchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_events_total",
				Help:      "Total number of file watch ids reported by polls",
			},
			[]string{"subsystem"},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Reloads,
		m.ReloadDuration,
		m.Retired,
		m.Frames,
		m.WatchEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveReload records one reload attempt.
func (m *Metrics) ObserveReload(subsystem, name string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Reloads.WithLabelValues(subsystem, name, result).Inc()
	m.ReloadDuration.WithLabelValues(subsystem).Observe(d.Seconds())
}

// SetRetired sets the number of retired objects pending destruction.
func (m *Metrics) SetRetired(n int) {
	m.Retired.Set(float64(n))
}
