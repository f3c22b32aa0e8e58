// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/dupeerrors"
	"github.com/tomtom215/civicdupe/internal/models"
)

// fakeStore is an in-memory Store for lifecycle tests.
type fakeStore struct {
	mu      sync.Mutex
	reports map[string]*models.Report
}

func newFakeStore(reports ...*models.Report) *fakeStore {
	s := &fakeStore{reports: make(map[string]*models.Report)}
	for _, r := range reports {
		s.reports[r.ID] = r
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, dupeerrors.NotFound("report %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) Update(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *fakeStore) WithReportLock(_ string, fn func() error) error {
	return fn()
}

func (s *fakeStore) Merge(_ context.Context, targetID, sourceID string, mergedAt time.Time) (*models.Report, *models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, source := s.reports[targetID], s.reports[sourceID]
	source.DuplicateOf = targetID
	source.ManuallyMerged = true
	source.MergedAt = &mergedAt
	return target, source, nil
}

func softDup(id, duplicateOf string) *models.Report {
	return &models.Report{ID: id, DuplicateOf: duplicateOf, Status: models.StatusDuplicate}
}

func TestSubmitFeedbackRejectsNonDuplicate(t *testing.T) {
	store := newFakeStore(&models.Report{ID: "a"})
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	_, _, err := mgr.SubmitFeedback(context.Background(), "a", "u1", models.FeedbackConfirm, "")
	if dupeerrors.KindOf(err) != dupeerrors.KindValidation {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSubmitFeedbackTransitionsToPendingDeletionAtThreshold(t *testing.T) {
	store := newFakeStore(softDup("a", "original"))
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	var transition Transition
	for _, u := range []string{"u1", "u2", "u3"} {
		r, tr, err := mgr.SubmitFeedback(context.Background(), "a", u, models.FeedbackConfirm, "")
		if err != nil {
			t.Fatalf("submit feedback: %v", err)
		}
		transition = tr
		_ = r
	}
	if transition != TransitionPendingDeletion {
		t.Fatalf("expected PENDING_DEL transition on the 3rd confirm, got %v", transition)
	}

	got, err := store.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScheduledForDeletion == nil {
		t.Fatal("expected scheduled deletion to be set")
	}
	wantDeletionAt := got.ScheduledForDeletion.DeletionAt
	if wantDeletionAt.Sub(time.Now().UTC()) < 9*24*time.Hour {
		t.Fatalf("expected ~10 day grace period, got deletion at %v", wantDeletionAt)
	}
}

func TestSubmitFeedbackDedupesByUserForThreshold(t *testing.T) {
	store := newFakeStore(softDup("a", "original"))
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	var transition Transition
	for i := 0; i < 5; i++ {
		_, tr, err := mgr.SubmitFeedback(context.Background(), "a", "same-user", models.FeedbackConfirm, "")
		if err != nil {
			t.Fatalf("submit feedback: %v", err)
		}
		transition = tr
	}
	if transition != TransitionNone {
		t.Fatalf("expected no transition from repeated feedback by one user, got %v", transition)
	}
}

func TestSubmitFeedbackReclassifiesOnDisputeThreshold(t *testing.T) {
	store := newFakeStore(softDup("a", "original"))
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	var transition Transition
	for _, u := range []string{"u1", "u2", "u3"} {
		_, tr, err := mgr.SubmitFeedback(context.Background(), "a", u, models.FeedbackDispute, "")
		if err != nil {
			t.Fatalf("submit feedback: %v", err)
		}
		transition = tr
	}
	if transition != TransitionReclassifiedNew {
		t.Fatalf("expected RECLASSIFIED_NEW on the 3rd dispute, got %v", transition)
	}

	got, err := store.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DuplicateOf != "" || !got.WasReclassified || got.ConfirmationCount != 0 || got.DisputeCount != 0 {
		t.Fatalf("expected reclassification to clear duplicate link and counters: %+v", got)
	}
	if len(got.DuplicateFeedback) != 3 {
		t.Fatalf("expected feedback history retained, got %d entries", len(got.DuplicateFeedback))
	}
}

func TestAddUpvoteIsIdempotent(t *testing.T) {
	store := newFakeStore(&models.Report{ID: "a"})
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	if _, err := mgr.AddUpvote(context.Background(), "a", "u1"); err != nil {
		t.Fatalf("first upvote: %v", err)
	}
	r, err := mgr.AddUpvote(context.Background(), "a", "u1")
	if err != nil {
		t.Fatalf("second upvote: %v", err)
	}
	if len(r.Upvotes) != 1 {
		t.Fatalf("expected idempotent upvote, got %d entries", len(r.Upvotes))
	}
}

func TestAddUpvoteOnDuplicateRecordsAuditEntryOnTarget(t *testing.T) {
	store := newFakeStore(&models.Report{ID: "target"}, softDup("dup", "target"))
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	if _, err := mgr.AddUpvote(context.Background(), "dup", "u1"); err != nil {
		t.Fatalf("upvote on duplicate: %v", err)
	}

	dup, err := store.Get(context.Background(), "dup")
	if err != nil {
		t.Fatalf("get dup: %v", err)
	}
	if len(dup.Upvotes) != 0 {
		t.Fatalf("expected the duplicate's own upvote count untouched, got %d", len(dup.Upvotes))
	}

	target, err := store.Get(context.Background(), "target")
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if len(target.Upvotes) != 0 || len(target.DuplicateUpvotes) != 1 {
		t.Fatalf("expected a duplicate_upvotes-only audit entry on target, got %+v", target)
	}
}

func TestCancelDeletionClearsSchedule(t *testing.T) {
	r := softDup("a", "original")
	r.ScheduledForDeletion = &models.ScheduledDeletion{DeletionAt: time.Now().Add(time.Hour), Reason: "confirmed duplicate"}
	store := newFakeStore(r)
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	if err := mgr.CancelDeletion(context.Background(), "a"); err != nil {
		t.Fatalf("cancel deletion: %v", err)
	}
	got, err := store.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScheduledForDeletion != nil {
		t.Fatal("expected scheduled deletion cleared")
	}
}

func TestCancelDeletionWithoutScheduleIsValidationError(t *testing.T) {
	store := newFakeStore(softDup("a", "original"))
	mgr := New(store, nil, config.SweeperConfig{GraceDays: 10})

	err := mgr.CancelDeletion(context.Background(), "a")
	if dupeerrors.KindOf(err) != dupeerrors.KindValidation {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
