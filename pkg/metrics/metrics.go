// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LinksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortlink_links_created_total",
		Help: "Number of short links created",
	})

	// Redirects counts redirect lookups by result: ok, not_found, blocked, error.
	Redirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shortlink_redirects_total",
		Help: "Number of redirect lookups by result",
	}, []string{"result"})

	// Scans counts scan jobs by outcome: passed, blocked, stale, skipped,
	// dropped, submit_error, poll_error, max_attempts, block_error, canceled.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shortlink_scans_total",
		Help: "Number of URL safety scans by outcome",
	}, []string{"outcome"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shortlink_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"method", "route", "status"})
)
