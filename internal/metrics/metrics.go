// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package metrics provides Prometheus instrumentation for the
// duplicate-detection engine: ingestion latency, decider outcomes,
// feedback-driven lifecycle transitions, and sweeper activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestDuration tracks end-to-end ingestion latency, including
	// embedding, candidate fetch, scoring, and the index write.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civicdupe_ingest_duration_seconds",
			Help:    "Duration of report ingestion requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DeciderOutcomes counts classification results by kind: new, soft,
	// hard.
	DeciderOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdupe_decider_outcomes_total",
			Help: "Total duplicate-decider classifications by outcome",
		},
		[]string{"outcome"},
	)

	// ScoringDuration tracks per-candidate-set scoring latency.
	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civicdupe_scoring_duration_seconds",
			Help:    "Duration of candidate-set similarity scoring in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// CandidateSetSize observes how many candidates survive pre-filtering
	// per ingestion request.
	CandidateSetSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civicdupe_candidate_set_size",
			Help:    "Number of candidates returned by the pre-filter per ingestion",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// FeedbackTransitions counts lifecycle state transitions triggered by
	// feedback: reclassified, pending_deletion.
	FeedbackTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdupe_feedback_transitions_total",
			Help: "Total lifecycle transitions triggered by duplicate feedback",
		},
		[]string{"transition"},
	)

	// SweeperRuns counts sweeper executions by result: success, error.
	SweeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdupe_sweeper_runs_total",
			Help: "Total sweeper executions by result",
		},
		[]string{"result"},
	)

	// SweeperArchived counts reports archived (and deleted) by the
	// sweeper.
	SweeperArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "civicdupe_sweeper_archived_total",
			Help: "Total reports archived by the sweeper",
		},
	)

	// EmbeddingFailures counts embedding-provider degradations to a zero
	// vector, by modality.
	EmbeddingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdupe_embedding_failures_total",
			Help: "Total embedding provider failures degraded to a zero vector",
		},
		[]string{"modality"},
	)

	// APIRequestsTotal counts HTTP requests by method, route, and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicdupe_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// APIRequestDuration tracks HTTP handler latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civicdupe_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// ActiveRequests tracks in-flight HTTP requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "civicdupe_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)
)

// TrackActiveRequest increments or decrements ActiveRequests.
func TrackActiveRequest(active bool) {
	if active {
		ActiveRequests.Inc()
	} else {
		ActiveRequests.Dec()
	}
}

// RecordAPIRequest records a completed HTTP request's count and duration.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDeciderOutcome records one classification by the duplicate decider.
func RecordDeciderOutcome(outcome string) {
	DeciderOutcomes.WithLabelValues(outcome).Inc()
}

// RecordIngestion records an end-to-end ingestion request's duration and
// the candidate-set size the decider scored against.
func RecordIngestion(duration time.Duration, candidateCount int) {
	IngestDuration.Observe(duration.Seconds())
	CandidateSetSize.Observe(float64(candidateCount))
}

// RecordScoringDuration records the time spent scoring one candidate set.
func RecordScoringDuration(duration time.Duration) {
	ScoringDuration.Observe(duration.Seconds())
}

// RecordFeedbackTransition records a lifecycle transition triggered by
// feedback. Called with TransitionNone is a no-op — there is nothing to
// count when feedback didn't move the state machine.
func RecordFeedbackTransition(transition string) {
	if transition == "" {
		return
	}
	FeedbackTransitions.WithLabelValues(transition).Inc()
}

// RecordSweeperRun records one sweeper execution's result: success or error.
func RecordSweeperRun(result string) {
	SweeperRuns.WithLabelValues(result).Inc()
}

// RecordEmbeddingFailure records a provider degrading to a zero vector for
// the given modality: image or text.
func RecordEmbeddingFailure(modality string) {
	EmbeddingFailures.WithLabelValues(modality).Inc()
}
