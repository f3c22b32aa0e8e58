// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package models holds the report and duplicate-lifecycle entities shared
// across the candidate index, scorer, decider, lifecycle manager, and API.
package models

import "time"

// ReportStatus is the lifecycle status of a civic-issue report.
type ReportStatus string

const (
	StatusReported    ReportStatus = "REPORTED"
	StatusUnderReview ReportStatus = "UNDER_REVIEW"
	StatusInProgress  ReportStatus = "IN_PROGRESS"
	StatusResolved    ReportStatus = "RESOLVED"
	StatusDuplicate   ReportStatus = "DUPLICATE"
)

// FeedbackKind distinguishes the two ways a user can react to a duplicate
// link: CONFIRM agrees with it, DISPUTE contests it.
type FeedbackKind string

const (
	FeedbackConfirm FeedbackKind = "CONFIRM"
	FeedbackDispute FeedbackKind = "DISPUTE"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// ImageVector is one photograph's embedding. ProviderVersion lets the store
// detect vectors produced by a since-retired embedding provider, per the
// provider_version tracking requirement on embedding swaps.
type ImageVector struct {
	Vector          []float64 `json:"vector"`
	Provider        string    `json:"provider"`
	ProviderVersion int       `json:"provider_version"`
}

// Upvote records one user's endorsement of a report. Unique by UserID.
type Upvote struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DuplicateFeedback is a single confirm/dispute record. (UserID, Kind) pairs
// are deduplicated by the lifecycle manager when evaluating thresholds, not
// here — the raw sequence is retained in full for audit purposes.
type DuplicateFeedback struct {
	UserID    string       `json:"user_id"`
	Kind      FeedbackKind `json:"kind"`
	Comment   string       `json:"comment,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ScheduledDeletion holds the pending-deletion grace-period marker.
type ScheduledDeletion struct {
	DeletionAt time.Time `json:"deletion_at"`
	Reason     string    `json:"reason"`
}

// ScoreBreakdown is the explainable output of the similarity scorer:
// the composite plus the four components and the weights used to combine
// them. Surfaced verbatim on both hard-duplicate rejections and
// soft-duplicate persistence.
type ScoreBreakdown struct {
	Overall    float64            `json:"overall_score"`
	Components map[string]float64 `json:"components"`
	Weights    map[string]float64 `json:"weights"`
}

// Report is the primary entity: a civic-issue submission plus whatever
// duplicate-detection metadata has accumulated on it.
type Report struct {
	ID          string       `json:"id"`
	ReporterID  string       `json:"reporter_id"`
	Location    Location     `json:"location"`
	Category    string       `json:"category"`
	Severity    string       `json:"severity"`
	Description string       `json:"description"`
	PhotoURLs   []string     `json:"photo_urls"`
	ImageVectors []ImageVector `json:"image_vectors"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Status      ReportStatus `json:"status"`

	Upvotes          []Upvote `json:"upvotes"`
	DuplicateUpvotes []Upvote `json:"duplicate_upvotes,omitempty"`

	DuplicateOf       string          `json:"duplicate_of,omitempty"`
	SimilarityScore   *float64        `json:"similarity_score,omitempty"`
	SimilarityDetails *ScoreBreakdown `json:"similarity_details,omitempty"`

	DuplicateFeedback []DuplicateFeedback `json:"duplicate_feedback,omitempty"`
	ConfirmationCount int                 `json:"confirmation_count"`
	DisputeCount      int                 `json:"dispute_count"`

	ScheduledForDeletion *ScheduledDeletion `json:"scheduled_for_deletion,omitempty"`

	WasReclassified         bool       `json:"was_reclassified,omitempty"`
	ReclassifiedAt          *time.Time `json:"reclassified_at,omitempty"`
	ReclassificationReason  string     `json:"reclassification_reason,omitempty"`

	ManuallyMerged bool       `json:"manually_merged,omitempty"`
	MergedAt       *time.Time `json:"merged_at,omitempty"`
}

// HasUpvote reports whether userID already appears in r.Upvotes.
func (r *Report) HasUpvote(userID string) bool {
	for _, u := range r.Upvotes {
		if u.UserID == userID {
			return true
		}
	}
	return false
}

// CountFeedback returns the number of distinct users who have submitted
// feedback of the given kind — the deduplicated count the lifecycle
// manager uses for threshold evaluation (spec's redesigned counting, not
// the raw len(DuplicateFeedback) which may include repeats from one user).
func (r *Report) CountFeedback(kind FeedbackKind) int {
	seen := make(map[string]struct{})
	for _, f := range r.DuplicateFeedback {
		if f.Kind == kind {
			seen[f.UserID] = struct{}{}
		}
	}
	return len(seen)
}

// ArchiveTombstone is the immutable record written when a report is
// deleted. No embeddings are retained.
type ArchiveTombstone struct {
	OriginalID        string       `json:"original_id"`
	DuplicateOf       string       `json:"duplicate_of"`
	Category          string       `json:"category"`
	Location          Location     `json:"location"`
	CreatedAt         time.Time    `json:"created_at"`
	DeletedAt         time.Time    `json:"deleted_at"`
	UpvoteCount       int          `json:"upvote_count"`
	ConfirmationCount int          `json:"confirmation_count"`
	DisputeCount      int          `json:"dispute_count"`
}
