// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package lifecycle drives a soft-duplicate report through confirm/dispute
// feedback, reclassification, scheduled deletion, and admin merge —
// everything downstream of the decider's initial classification.
package lifecycle

import (
	"context"
	"time"

	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/dupeerrors"
	"github.com/tomtom215/civicdupe/internal/events"
	"github.com/tomtom215/civicdupe/internal/logging"
	"github.com/tomtom215/civicdupe/internal/metrics"
	"github.com/tomtom215/civicdupe/internal/models"
)

const reasonConfirmedDuplicate = "confirmed duplicate"

// Store is the subset of internal/dupestore.Store the lifecycle manager
// depends on.
type Store interface {
	Get(ctx context.Context, id string) (*models.Report, error)
	Update(ctx context.Context, r *models.Report) error
	WithReportLock(id string, fn func() error) error
	Merge(ctx context.Context, targetID, sourceID string, mergedAt time.Time) (target *models.Report, source *models.Report, err error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Manager implements the duplicate lifecycle state machine of spec.md §4.5.
type Manager struct {
	store     Store
	bus       *events.Bus
	graceDays time.Duration
	now       Clock
}

// New builds a Manager. bus may be nil — a nil bus skips event publication.
func New(store Store, bus *events.Bus, cfg config.SweeperConfig) *Manager {
	return &Manager{store: store, bus: bus, graceDays: cfg.GracePeriod(), now: time.Now}
}

// Transition describes a state change SubmitFeedback triggered, for the API
// response and the published event; "" means no transition occurred.
type Transition string

const (
	TransitionNone            Transition = ""
	TransitionPendingDeletion Transition = "PENDING_DEL"
	TransitionReclassifiedNew Transition = "RECLASSIFIED_NEW"
)

// SubmitFeedback appends a confirm/dispute record to id and evaluates the
// PENDING_DEL and reclassification thresholds. id must already carry a
// duplicate_of link (spec.md §4.5's feedback precondition) or this returns
// a ValidationError.
func (m *Manager) SubmitFeedback(ctx context.Context, id, userID string, kind models.FeedbackKind, comment string) (*models.Report, Transition, error) {
	var result *models.Report
	var transition Transition

	err := m.store.WithReportLock(id, func() error {
		r, err := m.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.DuplicateOf == "" {
			return dupeerrors.Validation("report is not a duplicate link; feedback requires duplicate_of to be set")
		}

		now := m.now()
		r.DuplicateFeedback = append(r.DuplicateFeedback, models.DuplicateFeedback{
			UserID:    userID,
			Kind:      kind,
			Comment:   comment,
			Timestamp: now,
		})
		r.ConfirmationCount = r.CountFeedback(models.FeedbackConfirm)
		r.DisputeCount = r.CountFeedback(models.FeedbackDispute)

		transition = m.evaluateTransition(r, now)
		switch transition {
		case TransitionPendingDeletion:
			r.ScheduledForDeletion = &models.ScheduledDeletion{
				DeletionAt: now.Add(m.graceDays),
				Reason:     reasonConfirmedDuplicate,
			}
		case TransitionReclassifiedNew:
			r.DuplicateOf = ""
			r.SimilarityScore = nil
			r.SimilarityDetails = nil
			r.ConfirmationCount = 0
			r.DisputeCount = 0
			r.ScheduledForDeletion = nil
			r.WasReclassified = true
			r.ReclassifiedAt = &now
			r.ReclassificationReason = "dispute threshold exceeded"
		}

		if err := m.store.Update(ctx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, TransitionNone, err
	}

	metrics.RecordFeedbackTransition(string(transition))
	m.publish(events.TopicFeedbackSubmitted, events.FeedbackSubmitted{
		ReportID:          result.ID,
		UserID:            userID,
		Kind:              kind,
		ConfirmationCount: result.ConfirmationCount,
		DisputeCount:      result.DisputeCount,
		Transition:        string(transition),
		SubmittedAt:       m.now(),
	})
	return result, transition, nil
}

// evaluateTransition applies spec.md §4.5's PENDING_DEL and reclassification
// rules. Already-scheduled reports are left alone: feedback after PENDING_DEL
// is recorded but doesn't re-trigger the schedule.
func (m *Manager) evaluateTransition(r *models.Report, _ time.Time) Transition {
	if r.ScheduledForDeletion != nil {
		return TransitionNone
	}
	if r.ConfirmationCount >= 3 && r.ConfirmationCount > 2*r.DisputeCount {
		return TransitionPendingDeletion
	}
	if r.DisputeCount >= 3 && r.DisputeCount > 2*r.ConfirmationCount {
		return TransitionReclassifiedNew
	}
	return TransitionNone
}

// AddUpvote idempotently records userID's upvote on id. If id is itself a
// soft duplicate, the vote is instead recorded as a duplicate_upvotes audit
// entry on the target — the target's primary count is not incremented, to
// avoid double counting across a later merge.
func (m *Manager) AddUpvote(ctx context.Context, id, userID string) (*models.Report, error) {
	var result *models.Report

	err := m.store.WithReportLock(id, func() error {
		r, err := m.store.Get(ctx, id)
		if err != nil {
			return err
		}

		if r.DuplicateOf != "" {
			return m.addDuplicateUpvote(ctx, r, userID)
		}

		if r.HasUpvote(userID) {
			result = r
			return nil
		}
		r.Upvotes = append(r.Upvotes, models.Upvote{UserID: userID, Timestamp: m.now()})
		if err := m.store.Update(ctx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// addDuplicateUpvote records the audit-only upvote on r's target. It takes
// its own lock on the target id rather than relying on the caller's lock on
// r's id, since r and its target are different rows.
func (m *Manager) addDuplicateUpvote(ctx context.Context, r *models.Report, userID string) error {
	return m.store.WithReportLock(r.DuplicateOf, func() error {
		target, err := m.store.Get(ctx, r.DuplicateOf)
		if err != nil {
			return err
		}
		for _, u := range target.DuplicateUpvotes {
			if u.UserID == userID {
				return nil
			}
		}
		target.DuplicateUpvotes = append(target.DuplicateUpvotes, models.Upvote{UserID: userID, Timestamp: m.now()})
		return m.store.Update(ctx, target)
	})
}

// CancelDeletion clears id's scheduled deletion, returning it to SOFT_DUP.
func (m *Manager) CancelDeletion(ctx context.Context, id string) error {
	return m.store.WithReportLock(id, func() error {
		r, err := m.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.ScheduledForDeletion == nil {
			return dupeerrors.Validation("report %s has no scheduled deletion to cancel", id)
		}
		r.ScheduledForDeletion = nil
		return m.store.Update(ctx, r)
	})
}

// Merge performs the admin merge operation end-to-end via the store's
// atomic transaction, then publishes the domain event.
func (m *Manager) Merge(ctx context.Context, targetID, sourceID string) error {
	_, _, err := m.store.Merge(ctx, targetID, sourceID, m.now())
	if err != nil {
		return err
	}
	m.publish(events.TopicReportMerged, events.ReportMerged{
		TargetID: targetID,
		SourceID: sourceID,
		MergedAt: m.now(),
	})
	return nil
}

func (m *Manager) publish(topic events.Topic, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(topic, payload); err != nil {
		logging.Warn().Err(err).Str("topic", string(topic)).Msg("failed to publish domain event")
	}
}
