// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PreparesTotal counts finished prepare requests by outcome
	// (ok, invalid_input, acquisition_failed, superseded, error).
	PreparesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyshift_prepares_total",
		Help: "Prepare requests by outcome.",
	}, []string{"outcome"})

	// StageFailuresTotal counts absorbed and fatal stage failures.
	StageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyshift_stage_failures_total",
		Help: "Pipeline stage failures by stage.",
	}, []string{"stage"})

	// StageDuration observes how long each stage took.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keyshift_stage_duration_seconds",
		Help:    "Pipeline stage latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	// KeyEstimates counts analyzer results by confidence ("none" when skipped).
	KeyEstimates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyshift_key_estimates_total",
		Help: "Key estimation results by confidence.",
	}, []string{"confidence"})

	// CachedTracks is the number of live registry entries.
	CachedTracks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keyshift_cached_tracks",
		Help: "Tracks currently held in the local cache.",
	})

	// EvictionsTotal counts entries removed by the sweeper or the dir watcher.
	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyshift_evictions_total",
		Help: "Cached tracks evicted.",
	})

	// StreamRequestsTotal counts stream responses by status code class.
	StreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyshift_stream_requests_total",
		Help: "Audio stream responses by HTTP status.",
	}, []string{"status"})
)
