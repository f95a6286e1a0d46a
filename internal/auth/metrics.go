// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for operation metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Operations counts auth operations by name and result.
// Use RegisterMetrics to register this with a Prometheus registry.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyhold_auth_operations_total",
		Help: "Total number of credential and session operations",
	},
	[]string{"operation", "result"},
)

// LoginFailures counts rejected logins by error kind.
var LoginFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyhold_auth_login_failures_total",
		Help: "Total number of rejected login attempts",
	},
	[]string{"reason"},
)

// HashDuration is the histogram for secret hashing and verification.
var HashDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "keyhold_hash_duration_seconds",
		Help:    "Secret hash and verify duration in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	},
	[]string{"op"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Operations)
	reg.MustRegister(LoginFailures)
	reg.MustRegister(HashDuration)
}

// recordOperation increments the operation counter based on err.
func recordOperation(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	Operations.WithLabelValues(operation, result).Inc()
}

func recordLoginFailure(err error) {
	LoginFailures.WithLabelValues(KindOf(err).String()).Inc()
}

func observeHash(op string, start time.Time) {
	HashDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
