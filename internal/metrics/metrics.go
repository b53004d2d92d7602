// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package metrics exposes Prometheus instrumentation for the
// recommendation pipeline and its HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Recommendation Pipeline Metrics
	RecommendationsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendations_generated_total",
			Help: "Total number of completed recommendation generations",
		},
		[]string{"outcome"}, // "ok", "superseded", "error"
	)

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommendation_pipeline_duration_seconds",
			Help:    "End-to-end recommendation pipeline duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	RecommendationPoolSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommendation_pool_size",
			Help:    "Candidate pool size after filtering",
			Buckets: []float64{10, 25, 50, 100, 200, 350, 500},
		},
	)

	ResponseCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendation_cache_hits_total",
			Help: "Total number of recommendation response cache hits",
		},
	)

	ResponseCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendation_cache_misses_total",
			Help: "Total number of recommendation response cache misses",
		},
	)

	// Discovery Metrics
	DiscoveryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_requests_total",
			Help: "Total number of catalog discovery requests",
		},
		[]string{"channel", "outcome"}, // outcome: "ok", "no_data", "error"
	)

	MetadataFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metadata_fetch_failures_total",
			Help: "Total number of candidate metadata fetches that exhausted retries",
		},
	)

	// Feedback Metrics
	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_events_total",
			Help: "Total number of feedback events applied",
		},
		[]string{"kind"},
	)

	FeedbackUndos = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedback_undos_total",
			Help: "Total number of feedback undo operations",
		},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordGeneration records one completed pipeline run.
func RecordGeneration(outcome string, duration time.Duration, poolSize int) {
	RecommendationsGenerated.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		RecommendationDuration.Observe(duration.Seconds())
		RecommendationPoolSize.Observe(float64(poolSize))
	}
}
