// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package dupestore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestReport(category string, loc models.Location, createdAt time.Time) *models.Report {
	return &models.Report{
		ID:          uuid.NewString(),
		ReporterID:  "reporter-1",
		Location:    loc,
		Category:    category,
		Severity:    "MEDIUM",
		Description: "there is a large pothole near the market entrance",
		PhotoURLs:   []string{"https://blobs.example/a.jpg"},
		ImageVectors: []models.ImageVector{
			{Vector: []float64{1, 0, 0}, Provider: "test", ProviderVersion: 1},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Status:    models.StatusReported,
	}
}

func TestInsertAndGetRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := newTestReport("POTHOLE", models.Location{Lat: 12.9716, Lon: 77.5946}, time.Now().UTC())
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != r.Description || got.Category != r.Category {
		t.Fatalf("round-tripped report differs: %+v vs %+v", got, r)
	}
	if len(got.ImageVectors) != 1 || got.ImageVectors[0].Provider != "test" {
		t.Fatalf("image vectors did not round-trip: %+v", got.ImageVectors)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "does-not-exist"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCandidatesFiltersByCategoryStatusTimeAndDistance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	loc := models.Location{Lat: 12.9716, Lon: 77.5946}

	near := newTestReport("POTHOLE", loc, now.Add(-time.Hour))
	if err := store.Insert(ctx, near); err != nil {
		t.Fatalf("insert near: %v", err)
	}

	farAway := newTestReport("POTHOLE", models.Location{Lat: 40.7128, Lon: -74.0060}, now.Add(-time.Hour))
	if err := store.Insert(ctx, farAway); err != nil {
		t.Fatalf("insert far: %v", err)
	}

	wrongCategory := newTestReport("GRAFFITI", loc, now.Add(-time.Hour))
	if err := store.Insert(ctx, wrongCategory); err != nil {
		t.Fatalf("insert wrong category: %v", err)
	}

	resolved := newTestReport("POTHOLE", loc, now.Add(-time.Hour))
	resolved.Status = models.StatusResolved
	if err := store.Insert(ctx, resolved); err != nil {
		t.Fatalf("insert resolved: %v", err)
	}

	old := newTestReport("POTHOLE", loc, now.Add(-40*24*time.Hour))
	if err := store.Insert(ctx, old); err != nil {
		t.Fatalf("insert old: %v", err)
	}

	candidates, err := store.Candidates(ctx, loc, "POTHOLE", now, 100, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != near.ID {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		t.Fatalf("expected only %s as a candidate, got %v", near.ID, ids)
	}
}

func TestLinkUnlinkRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	loc := models.Location{Lat: 12.9716, Lon: 77.5946}

	target := newTestReport("POTHOLE", loc, now)
	source := newTestReport("POTHOLE", loc, now)
	if err := store.Insert(ctx, target); err != nil {
		t.Fatalf("insert target: %v", err)
	}
	if err := store.Insert(ctx, source); err != nil {
		t.Fatalf("insert source: %v", err)
	}

	details := &models.ScoreBreakdown{Overall: 0.8, Components: map[string]float64{"location": 1}, Weights: map[string]float64{"location": 1}}
	if err := store.Link(ctx, source.ID, target.ID, 0.8, details); err != nil {
		t.Fatalf("link: %v", err)
	}

	got, err := store.Get(ctx, source.ID)
	if err != nil {
		t.Fatalf("get linked: %v", err)
	}
	if got.DuplicateOf != target.ID || got.SimilarityScore == nil || *got.SimilarityScore != 0.8 {
		t.Fatalf("link did not persist: %+v", got)
	}

	if err := store.Unlink(ctx, source.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	got, err = store.Get(ctx, source.ID)
	if err != nil {
		t.Fatalf("get unlinked: %v", err)
	}
	if got.DuplicateOf != "" || got.SimilarityScore != nil || !got.WasReclassified {
		t.Fatalf("unlink did not clear fields: %+v", got)
	}
}

func TestMergeRelinksPointersAndUnionsUpvotes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	loc := models.Location{Lat: 12.9716, Lon: 77.5946}

	x := newTestReport("POTHOLE", loc, now)
	y := newTestReport("POTHOLE", loc, now)
	z := newTestReport("POTHOLE", loc, now)
	x.Upvotes = []models.Upvote{{UserID: "alice", Timestamp: now}}
	y.Upvotes = []models.Upvote{{UserID: "bob", Timestamp: now}}
	for _, r := range []*models.Report{x, y, z} {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}
	if err := store.Link(ctx, z.ID, y.ID, 0.8, nil); err != nil {
		t.Fatalf("link z->y: %v", err)
	}

	if _, _, err := store.Merge(ctx, x.ID, y.ID, now); err != nil {
		t.Fatalf("merge: %v", err)
	}

	gotX, err := store.Get(ctx, x.ID)
	if err != nil {
		t.Fatalf("get x: %v", err)
	}
	if len(gotX.Upvotes) != 2 {
		t.Fatalf("expected union of 2 upvotes on target, got %d", len(gotX.Upvotes))
	}

	gotY, err := store.Get(ctx, y.ID)
	if err != nil {
		t.Fatalf("get y: %v", err)
	}
	if gotY.DuplicateOf != x.ID || !gotY.ManuallyMerged {
		t.Fatalf("source not marked merged: %+v", gotY)
	}

	gotZ, err := store.Get(ctx, z.ID)
	if err != nil {
		t.Fatalf("get z: %v", err)
	}
	if gotZ.DuplicateOf != x.ID {
		t.Fatalf("expected z relinked to x, got duplicate_of=%s", gotZ.DuplicateOf)
	}

	// Merging the same pair again must be idempotent.
	if _, _, err := store.Merge(ctx, x.ID, y.ID, now); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	gotX2, err := store.Get(ctx, x.ID)
	if err != nil {
		t.Fatalf("get x after second merge: %v", err)
	}
	if len(gotX2.Upvotes) != 2 {
		t.Fatalf("expected upvote count unchanged after repeat merge, got %d", len(gotX2.Upvotes))
	}
}

func TestScheduleAndArchiveDeletion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	loc := models.Location{Lat: 12.9716, Lon: 77.5946}

	r := newTestReport("POTHOLE", loc, now)
	r.DuplicateOf = "some-target"
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	deletionAt := now.Add(10 * 24 * time.Hour)
	if err := store.ScheduleDeletion(ctx, r.ID, deletionAt, "confirmed duplicate"); err != nil {
		t.Fatalf("schedule deletion: %v", err)
	}

	due, err := store.DueDeletions(ctx, now)
	if err != nil {
		t.Fatalf("due deletions (too early): %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}

	due, err = store.DueDeletions(ctx, deletionAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("due deletions: %v", err)
	}
	if len(due) != 1 || due[0].ID != r.ID {
		t.Fatalf("expected %s due, got %+v", r.ID, due)
	}

	tombstone, err := store.ArchiveAndDelete(ctx, r.ID, deletionAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("archive and delete: %v", err)
	}
	if tombstone.OriginalID != r.ID {
		t.Fatalf("tombstone has wrong id: %+v", tombstone)
	}

	if _, err := store.Get(ctx, r.ID); err != ErrNotFound {
		t.Fatalf("expected report removed, got err=%v", err)
	}

	got, err := store.GetTombstone(ctx, r.ID)
	if err != nil {
		t.Fatalf("get tombstone: %v", err)
	}
	if got.Category != r.Category {
		t.Fatalf("tombstone category mismatch: %+v", got)
	}
}
