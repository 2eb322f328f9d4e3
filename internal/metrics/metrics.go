// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for candidate resolution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all resolver metrics.
var Registry = prometheus.NewRegistry()

// Probe failure kinds.
const (
	FailureBinding   = "binding"
	FailureListen    = "listen"
	FailureRelay     = "relay"
	FailureResolve   = "resolve"
	FailureDirectory = "directory"
)

var (
	// CandidatesGathered counts candidates added to a resolver, by strategy and type.
	CandidatesGathered = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "nat_candidates_gathered_total",
		Help: "Candidates added to a resolver",
	}, []string{"strategy", "type"})

	// ProbeFailures counts transient failures that were skipped during gathering.
	ProbeFailures = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "nat_probe_failures_total",
		Help: "Gathering probes that failed and were skipped",
	}, []string{"strategy", "kind"})

	// ResolutionDuration observes how long one Resolve run took.
	ResolutionDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nat_resolution_duration_seconds",
		Help:    "Duration of a complete candidate resolution",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"strategy"})

	// ListenerPanics counts listener callbacks that panicked.
	ListenerPanics = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "nat_listener_panics_total",
		Help: "Resolver listener callbacks that panicked and were isolated",
	})

	// EchoTests counts echo liveness probes by outcome.
	EchoTests = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "nat_echo_tests_total",
		Help: "Candidate echo liveness probes",
	}, []string{"result"})
)
