// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package events carries the duplicate-detection engine's domain events
// over an in-process Watermill pub/sub, so API handlers, the sweeper, and
// metrics/audit subscribers stay decoupled from one another. There is no
// external broker in scope — every publisher and subscriber lives in this
// process, so gochannel is the whole transport.
package events

import (
	"time"

	"github.com/tomtom215/civicdupe/internal/models"
)

// Topic names the domain events a subscriber can listen for.
type Topic string

const (
	TopicIngestionDecided  Topic = "dupe.ingestion_decided"
	TopicFeedbackSubmitted Topic = "dupe.feedback_submitted"
	TopicReportMerged      Topic = "dupe.report_merged"
	TopicReportArchived    Topic = "dupe.report_archived"
)

// IngestionDecided is published once per ingestion request, after the
// decider has classified the report. For NEW and SOFT outcomes the store
// write has committed first; a HARD outcome writes nothing to the store.
type IngestionDecided struct {
	ReportID    string                `json:"report_id"`
	Outcome     string                `json:"outcome"`
	DuplicateOf string                `json:"duplicate_of,omitempty"`
	Breakdown   *models.ScoreBreakdown `json:"breakdown,omitempty"`
	DecidedAt   time.Time             `json:"decided_at"`
}

// FeedbackSubmitted is published after a confirm/dispute feedback write,
// carrying the resulting counters so subscribers needn't re-read the report.
type FeedbackSubmitted struct {
	ReportID          string              `json:"report_id"`
	UserID            string              `json:"user_id"`
	Kind              models.FeedbackKind `json:"kind"`
	ConfirmationCount int                 `json:"confirmation_count"`
	DisputeCount      int                 `json:"dispute_count"`
	Transition        string              `json:"transition,omitempty"`
	SubmittedAt       time.Time           `json:"submitted_at"`
}

// ReportMerged is published after an admin merge operation commits.
type ReportMerged struct {
	TargetID string    `json:"target_id"`
	SourceID string    `json:"source_id"`
	MergedAt time.Time `json:"merged_at"`
}

// ReportArchived is published after the sweeper archives and deletes a
// report.
type ReportArchived struct {
	ReportID   string    `json:"report_id"`
	ArchivedAt time.Time `json:"archived_at"`
}
