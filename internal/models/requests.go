// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package models

import "time"

// IngestRequest is the validated payload for POST /v1/reports. Photos carry
// the raw upload bytes; the engine pushes each through the blob store for a
// URL and through the image embedder for a feature vector before scoring,
// per spec §2's "report -> embedding providers -> candidate index" flow.
type IngestRequest struct {
	ReporterID   string   `json:"reporter_id" validate:"required"`
	Location     Location `json:"location" validate:"required"`
	Category     string   `json:"category" validate:"required"`
	Severity     string   `json:"severity"`
	Description  string   `json:"description" validate:"required,min=20,max=1000"`
	Photos       [][]byte `json:"-" validate:"required,min=1,max=3"`
	ContentTypes []string `json:"-"`
}

// OriginalSummary is the trimmed view of the matched original report
// embedded in a duplicate disposition, per spec §6.
type OriginalSummary struct {
	ID          string       `json:"id"`
	Category    string       `json:"category"`
	Description string       `json:"description"`
	Status      ReportStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	PhotoURLs   []string     `json:"photo_urls"`
}

// DuplicateDetails explains why a report was linked or rejected as a
// duplicate — returned verbatim to the caller so they can show their work.
type DuplicateDetails struct {
	OriginalIssue   OriginalSummary `json:"original_issue"`
	SimilarityScore float64         `json:"similarity_score"`
	ScoreDetails    ScoreBreakdown  `json:"score_details"`
}

// IngestDisposition is the response to POST /v1/reports, matching spec §6's
// disposition object field-for-field (Go/JSON naming, not content).
type IngestDisposition struct {
	IssueID           string            `json:"issue_id"`
	CreatedAt         time.Time         `json:"created_at"`
	Status            string            `json:"status"`
	DuplicateOf       string            `json:"duplicate_of,omitempty"`
	SimilarityScore   *float64          `json:"similarity_score,omitempty"`
	DuplicateDetails  *DuplicateDetails `json:"duplicate_details,omitempty"`
}

// ReportDetail is the response for GET /v1/reports/{id}: the full report,
// plus the matched original embedded verbatim when the report carries a
// duplicate_of link, per spec §6's "fetch one report by id (embeds the
// original if soft-linked)".
type ReportDetail struct {
	Report
	Original *OriginalSummary `json:"original,omitempty"`
}

// FeedbackSummary is the response for GET /v1/reports/{id}/feedback: the
// deduplicated confirm/dispute tallies plus the raw feedback history.
type FeedbackSummary struct {
	ReportID          string              `json:"report_id"`
	ConfirmationCount int                 `json:"confirmation_count"`
	DisputeCount      int                 `json:"dispute_count"`
	Feedback          []DuplicateFeedback `json:"feedback"`
}

// FeedbackRequest is the payload for POST /v1/reports/{id}/feedback.
type FeedbackRequest struct {
	UserID  string       `json:"user_id" validate:"required"`
	Kind    FeedbackKind `json:"kind" validate:"required,oneof=CONFIRM DISPUTE"`
	Comment string       `json:"comment" validate:"max=2000"`
}

// UpvoteRequest is the payload for POST /v1/reports/{id}/upvote.
type UpvoteRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// StatusUpdateRequest is the payload for PUT /v1/reports/{id}/status.
type StatusUpdateRequest struct {
	Status         ReportStatus `json:"status" validate:"required"`
	MarkDuplicates bool         `json:"mark_duplicates"`
}

// MergeRequest is the payload for POST /v1/admin/merge.
type MergeRequest struct {
	TargetID string `json:"target_id" validate:"required"`
	SourceID string `json:"source_id" validate:"required,nefield=TargetID"`
}

// DuplicateStats summarizes duplicate counts for GET /v1/stats/duplicates.
type DuplicateStats struct {
	TotalReports     int64            `json:"total_reports"`
	DuplicateReports int64            `json:"duplicate_reports"`
	TopDuplicated    []CategoryCount  `json:"top_duplicated"`
}

// CategoryCount is a (category, count) pair used in aggregate statistics.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// DeletionStats summarizes sweeper activity for GET /v1/stats/deletions.
type DeletionStats struct {
	TotalArchived int64           `json:"total_archived"`
	ByCategory    []CategoryCount `json:"by_category"`
}
