// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument collects approval metrics.  An invocation is too short
// lived to be scraped, so the registry is written to a node_exporter textfile
// collector file instead.
package instrument

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lanpam"

// Metrics is a set of approval metrics.  A nil *Metrics discards all
// observations.
type Metrics struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	envelopeBytes   prometheus.Histogram
}

// New creates a new set of metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Number of resolved device attempts by outcome and failure reason.",
			},
			[]string{"outcome", "reason"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Number of approval decisions.",
			},
			[]string{"decision"},
		),
		attemptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Time from dispatch to resolution of a device attempt.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
			},
		),
		envelopeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "envelope_bytes",
				Help:      "Serialized envelope size.",
				Buckets:   prometheus.LinearBuckets(400, 100, 8),
			},
		),
	}
	m.registry.MustRegister(m.attempts, m.decisions, m.attemptDuration, m.envelopeBytes)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt records a resolved attempt.
func (m *Metrics) ObserveAttempt(outcome, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome, reason).Inc()
	m.attemptDuration.Observe(elapsed.Seconds())
}

// ObserveEnvelope records the size of a sealed envelope.
func (m *Metrics) ObserveEnvelope(n int) {
	if m == nil {
		return
	}
	m.envelopeBytes.Observe(float64(n))
}

// ObserveDecision records the overall decision.
func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// WriteTextfile atomically writes the metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
