// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/civicdupe/internal/dupestore"
	"github.com/tomtom215/civicdupe/internal/models"
)

// ListReports handles GET /v1/reports?category=&status=&duplicate_status=&limit=&offset=.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()

	filter := dupestore.ListFilter{
		Category:        q.Get("category"),
		Status:          models.ReportStatus(q.Get("status")),
		DuplicateStatus: dupestore.DuplicateStatus(q.Get("duplicate_status")),
		Limit:           h.API.DefaultPageSize,
		Offset:          0,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if filter.Limit > h.API.MaxPageSize {
		filter.Limit = h.API.MaxPageSize
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	reports, total, err := h.Engine.Store.List(r.Context(), filter)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	rw.SuccessWithPagination(reports, &PaginationMeta{
		Total:   total,
		Count:   len(reports),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: int64(filter.Offset+len(reports)) < total,
	})
}

// GetReport handles GET /v1/reports/{id}, embedding the matched original
// when the report is soft-linked (spec §6).
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	report, err := h.Engine.Store.Get(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	detail := models.ReportDetail{Report: *report}
	if report.DuplicateOf != "" {
		original, err := h.Engine.Store.Get(r.Context(), report.DuplicateOf)
		if err == nil {
			detail.Original = &models.OriginalSummary{
				ID:          original.ID,
				Category:    original.Category,
				Description: original.Description,
				Status:      original.Status,
				CreatedAt:   original.CreatedAt,
				PhotoURLs:   original.PhotoURLs,
			}
		}
	}
	rw.Success(detail)
}

// ListDuplicatesOfReport handles GET /v1/reports/{id}/duplicates.
func (h *Handler) ListDuplicatesOfReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	duplicates, err := h.Engine.Store.ListDuplicatesOf(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.Success(duplicates)
}

// FeedbackSummary handles GET /v1/reports/{id}/feedback.
func (h *Handler) FeedbackSummary(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	report, err := h.Engine.Store.Get(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	rw.Success(models.FeedbackSummary{
		ReportID:          report.ID,
		ConfirmationCount: report.ConfirmationCount,
		DisputeCount:      report.DisputeCount,
		Feedback:          report.DuplicateFeedback,
	})
}

// DuplicateStats handles GET /v1/stats/duplicates.
func (h *Handler) DuplicateStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	stats, err := h.Engine.Store.DuplicateStats(r.Context())
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.Success(stats)
}

// DeletionStats handles GET /v1/stats/deletions.
func (h *Handler) DeletionStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	stats, err := h.Engine.Store.DeletionStats(r.Context())
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.Success(stats)
}
