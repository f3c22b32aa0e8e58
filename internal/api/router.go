// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package api provides HTTP routing using Chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultRateLimitRequests and defaultRateLimitWindow bound writes on the
// ingestion and lifecycle endpoints — the paths a misbehaving reporter
// client could otherwise hammer.
const (
	defaultRateLimitRequests = 120
	defaultRateLimitWindow   = time.Minute
)

// NewRouter builds the chi.Router for the duplicate-detection HTTP surface:
// ingestion, queries over the candidate index, the lifecycle mutation
// endpoints, and the admin/operational endpoints, each wrapped in the
// request-id, metrics, and compression middlewares adapted in middleware.go.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(compressionMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/reports", func(r chi.Router) {
		r.Use(httprate.LimitByIP(defaultRateLimitRequests, defaultRateLimitWindow))

		r.Post("/", h.IngestReport)
		r.Get("/", h.ListReports)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetReport)
			r.Get("/duplicates", h.ListDuplicatesOfReport)
			r.Get("/feedback", h.FeedbackSummary)
			r.Put("/status", h.UpdateStatus)
			r.Post("/upvote", h.Upvote)
			r.Post("/feedback", h.SubmitFeedback)
		})
	})

	r.Route("/v1/stats", func(r chi.Router) {
		r.Get("/duplicates", h.DuplicateStats)
		r.Get("/deletions", h.DeletionStats)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(httprate.LimitByIP(defaultRateLimitRequests, defaultRateLimitWindow))
		r.Post("/merge", h.Merge)
		r.Post("/sweep", h.TriggerSweep)
		r.Post("/reports/{id}/cancel-deletion", h.CancelDeletion)
	})

	return r
}

// Healthz handles GET /healthz: a liveness check that always answers
// {"status":"ok"}; it does not contact the candidate index.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(map[string]string{"status": "ok"})
}
