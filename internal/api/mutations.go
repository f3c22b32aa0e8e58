// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/civicdupe/internal/logging"
	"github.com/tomtom215/civicdupe/internal/models"
	"github.com/tomtom215/civicdupe/internal/validation"
)

// UpdateStatus handles PUT /v1/reports/{id}/status. When mark_duplicates is
// set and the new status is RESOLVED, every report linked to id via
// duplicate_of is cascaded to the same status, per spec §6's "resolving an
// original resolves its known duplicates" behavior.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	var req models.StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	var updated *models.Report
	err := h.Engine.Store.WithReportLock(id, func() error {
		report, err := h.Engine.Store.Get(r.Context(), id)
		if err != nil {
			return err
		}
		report.Status = req.Status
		if err := h.Engine.Store.Update(r.Context(), report); err != nil {
			return err
		}
		updated = report
		return nil
	})
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	if req.MarkDuplicates && req.Status == models.StatusResolved {
		h.cascadeStatusToDuplicates(r, id, req.Status)
	}

	rw.Success(updated)
}

// cascadeStatusToDuplicates propagates status to every report linked to
// targetID, each under its own per-report lock. A single duplicate's
// failure is logged and does not abort the remaining cascade.
func (h *Handler) cascadeStatusToDuplicates(r *http.Request, targetID string, status models.ReportStatus) {
	duplicates, err := h.Engine.Store.ListDuplicatesOf(r.Context(), targetID)
	if err != nil {
		logging.Warn().Err(err).Str("report_id", targetID).Msg("failed to list duplicates for status cascade")
		return
	}
	for _, dup := range duplicates {
		id := dup.ID
		err := h.Engine.Store.WithReportLock(id, func() error {
			report, err := h.Engine.Store.Get(r.Context(), id)
			if err != nil {
				return err
			}
			report.Status = status
			return h.Engine.Store.Update(r.Context(), report)
		})
		if err != nil {
			logging.Warn().Err(err).Str("report_id", id).Msg("failed to cascade status to duplicate")
		}
	}
}

// Upvote handles POST /v1/reports/{id}/upvote.
func (h *Handler) Upvote(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	var req models.UpvoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	report, err := h.Engine.Lifecycle.AddUpvote(r.Context(), id, req.UserID)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.Success(report)
}

// SubmitFeedback handles POST /v1/reports/{id}/feedback.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	var req models.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	report, _, err := h.Engine.Lifecycle.SubmitFeedback(r.Context(), id, req.UserID, req.Kind, req.Comment)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.Success(report)
}

// CancelDeletion handles POST /v1/admin/reports/{id}/cancel-deletion.
func (h *Handler) CancelDeletion(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	if err := h.Engine.Lifecycle.CancelDeletion(r.Context(), id); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.NoContent()
}

// Merge handles POST /v1/admin/merge.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req models.MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	if err := h.Engine.Lifecycle.Merge(r.Context(), req.TargetID, req.SourceID); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rw.NoContent()
}

// TriggerSweep handles POST /v1/admin/sweep: an on-demand run of the
// deletion-queue drain, outside its regular ticker period.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.Sweeper.Sweep(r.Context()); err != nil {
		rw.ServiceUnavailable("sweep failed: " + err.Error())
		return
	}
	rw.NoContent()
}
