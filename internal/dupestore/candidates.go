// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package dupestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/civicdupe/internal/geo"
	"github.com/tomtom215/civicdupe/internal/models"
)

// Candidates returns the reports surviving the category/status/time
// pre-filter (spec.md §4.2) within maxDistanceMeters of loc. When the
// spatial extension is loaded, the geodesic bound is pushed into the SQL
// WHERE clause via ST_Distance_Sphere. Otherwise the in-process geoCache is
// consulted first: a hit narrows the query to an ID allowlist instead of
// scanning every row in the category, and every row is still re-checked
// against maxDistanceMeters with the same haversine formula the scorer's
// location component uses (via internal/geo), since the cache's cell
// granularity is coarser than an exact radius. A cache miss (cold cache, or
// no nearby entries recorded) falls back to the full category/status/time
// scan.
func (s *Store) Candidates(ctx context.Context, loc models.Location, category string, now time.Time, maxDistanceMeters float64, timeWindow time.Duration) ([]*models.Report, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	cutoff := now.Add(-timeWindow)

	var query string
	args := []any{category, string(models.StatusResolved), cutoff}
	if s.spatialAvailable {
		query = `SELECT ` + reportColumns + ` FROM reports
			WHERE category = ? AND status != ? AND created_at >= ?
			AND ST_Distance_Sphere(ST_Point(lon, lat), ST_Point(?, ?)) <= ?`
		args = append(args, loc.Lon, loc.Lat, maxDistanceMeters)
	} else if ids := s.nearbyIDs(loc, category, maxDistanceMeters); len(ids) > 0 {
		placeholders := make([]string, len(ids))
		idArgs := make([]any, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			idArgs[i] = id
		}
		query = `SELECT ` + reportColumns + ` FROM reports
			WHERE category = ? AND status != ? AND created_at >= ?
			AND id IN (` + strings.Join(placeholders, ",") + `)`
		args = append(args, idArgs...)
	} else {
		query = `SELECT ` + reportColumns + ` FROM reports
			WHERE category = ? AND status != ? AND created_at >= ?`
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if !s.spatialAvailable {
			d := geo.HaversineMeters(loc.Lat, loc.Lon, r.Location.Lat, r.Location.Lon)
			if d > maxDistanceMeters {
				continue
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// nearbyIDs consults geoCache for report IDs within maxDistanceMeters of loc
// that belong to category, returning nil on a cache miss so the caller falls
// back to the full scan rather than wrongly returning zero candidates.
func (s *Store) nearbyIDs(loc models.Location, category string, maxDistanceMeters float64) []string {
	entries := s.geoCache.QueryNearby(loc.Lat, loc.Lon, maxDistanceMeters/1000.0)
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if c, ok := e.Data.(string); ok && c == category {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Link sets sourceID's duplicate_of pointer and similarity metadata —
// used when the decider classifies a report as a soft duplicate.
func (s *Store) Link(ctx context.Context, sourceID, targetID string, score float64, details *models.ScoreBreakdown) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	detailsJSON, err := marshalOptional(details)
	if err != nil {
		return fmt.Errorf("marshal similarity_details: %w", err)
	}

	_, err = s.conn.ExecContext(ctx,
		`UPDATE reports SET duplicate_of = ?, similarity_score = ?, similarity_details = ?, updated_at = ? WHERE id = ?`,
		targetID, score, detailsJSON, timeNow(), sourceID,
	)
	if err != nil {
		return fmt.Errorf("link %s -> %s: %w", sourceID, targetID, err)
	}
	return nil
}

// Unlink clears id's duplicate_of pointer and similarity metadata and
// marks it reclassified. Callers also set ReclassifiedAt/Reason and reset
// the feedback counters via Update; this method handles the pointer and
// flag half of that write when called standalone. The lifecycle manager
// folds this into a single Update call instead, and no API route calls
// Unlink.
func (s *Store) Unlink(ctx context.Context, id string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE reports SET duplicate_of = NULL, similarity_score = NULL, similarity_details = NULL,
			was_reclassified = true, updated_at = ? WHERE id = ?`,
		timeNow(), id,
	)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", id, err)
	}
	return nil
}

// RelinkPointers atomically rewrites every duplicate_of=fromID row to
// point at toID instead, used by merge (spec.md §4.5) to keep pointers
// from chaining through a merged-away report.
func (s *Store) RelinkPointers(ctx context.Context, fromID, toID string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE reports SET duplicate_of = ?, updated_at = ? WHERE duplicate_of = ?`,
		toID, timeNow(), fromID,
	)
	if err != nil {
		return fmt.Errorf("relink pointers %s -> %s: %w", fromID, toID, err)
	}
	return nil
}

// ScheduleDeletion sets id's scheduled_for_deletion marker.
func (s *Store) ScheduleDeletion(ctx context.Context, id string, at time.Time, reason string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE reports SET scheduled_deletion_at = ?, scheduled_deletion_reason = ?, updated_at = ? WHERE id = ?`,
		at, reason, timeNow(), id,
	)
	if err != nil {
		return fmt.Errorf("schedule deletion for %s: %w", id, err)
	}
	return nil
}

// CancelDeletion clears id's scheduled_for_deletion marker (admin
// override). Dispute feedback does not call it: once a report is
// scheduled, further feedback leaves the schedule in place.
func (s *Store) CancelDeletion(ctx context.Context, id string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx,
		`UPDATE reports SET scheduled_deletion_at = NULL, scheduled_deletion_reason = NULL, updated_at = ? WHERE id = ?`,
		timeNow(), id,
	)
	if err != nil {
		return fmt.Errorf("cancel deletion for %s: %w", id, err)
	}
	return nil
}

// DueDeletions returns every report whose scheduled deletion time has
// elapsed as of now — the sweeper's work queue.
func (s *Store) DueDeletions(ctx context.Context, now time.Time) ([]*models.Report, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE scheduled_deletion_at IS NOT NULL AND scheduled_deletion_at <= ?`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query due deletions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due deletion: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArchiveAndDelete writes the archive tombstone for id and removes the
// report in a single transaction — spec.md §4.5's sweeper atomicity
// requirement: if this fails mid-way, no tombstone is written and the
// report remains schedulable on the next sweep.
func (s *Store) ArchiveAndDelete(ctx context.Context, id string, deletedAt time.Time) (*models.ArchiveTombstone, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin archive transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load report %s for archive: %w", id, err)
	}

	tombstone := &models.ArchiveTombstone{
		OriginalID:        r.ID,
		DuplicateOf:       r.DuplicateOf,
		Category:          r.Category,
		Location:          r.Location,
		CreatedAt:         r.CreatedAt,
		DeletedAt:         deletedAt,
		UpvoteCount:       len(r.Upvotes),
		ConfirmationCount: r.ConfirmationCount,
		DisputeCount:      r.DisputeCount,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO archived_duplicates
			(original_id, duplicate_of, category, lat, lon, created_at, deleted_at, upvote_count, confirmation_count, dispute_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tombstone.OriginalID, nullString(tombstone.DuplicateOf), tombstone.Category,
		tombstone.Location.Lat, tombstone.Location.Lon, tombstone.CreatedAt, tombstone.DeletedAt,
		tombstone.UpvoteCount, tombstone.ConfirmationCount, tombstone.DisputeCount,
	)
	if err != nil {
		return nil, fmt.Errorf("insert tombstone for %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete report %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit archive transaction: %w", err)
	}
	committed = true
	s.geoCache.Remove(id)

	return tombstone, nil
}

// GetTombstone retrieves the archive tombstone for originalID.
func (s *Store) GetTombstone(ctx context.Context, originalID string) (*models.ArchiveTombstone, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var t models.ArchiveTombstone
	var lat, lon float64
	var duplicateOf sql.NullString

	err := s.conn.QueryRowContext(ctx,
		`SELECT original_id, duplicate_of, category, lat, lon, created_at, deleted_at, upvote_count, confirmation_count, dispute_count
		 FROM archived_duplicates WHERE original_id = ?`, originalID,
	).Scan(&t.OriginalID, &duplicateOf, &t.Category, &lat, &lon, &t.CreatedAt, &t.DeletedAt, &t.UpvoteCount, &t.ConfirmationCount, &t.DisputeCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tombstone %s: %w", originalID, err)
	}
	if duplicateOf.Valid {
		t.DuplicateOf = duplicateOf.String
	}
	t.Location = models.Location{Lat: lat, Lon: lon}
	return &t, nil
}

// Merge transfers source's upvotes into target, marks source as a manual
// duplicate of target, and rewrites any duplicate_of=source pointer to
// target — all inside one transaction, per spec.md §4.5's atomicity
// requirement. Merging the same pair twice is a no-op the second time:
// when source is already manually merged into target, nothing is written
// and the stored rows are returned as they are.
func (s *Store) Merge(ctx context.Context, targetID, sourceID string, mergedAt time.Time) (target *models.Report, source *models.Report, err error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if targetID == sourceID {
		return nil, nil, fmt.Errorf("dupestore: cannot merge %s into itself", targetID)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin merge transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	loadTx := func(id string) (*models.Report, error) {
		row := tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
		r, err := scanReport(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("load report %s: %w", id, err)
		}
		return r, nil
	}

	targetReport, err := loadTx(targetID)
	if err != nil {
		return nil, nil, err
	}
	sourceReport, err := loadTx(sourceID)
	if err != nil {
		return nil, nil, err
	}
	if sourceReport.ManuallyMerged && sourceReport.DuplicateOf == targetID {
		return targetReport, sourceReport, nil
	}

	mergedUpvotes := unionUpvotes(targetReport.Upvotes, sourceReport.Upvotes)
	targetReport.Upvotes = mergedUpvotes
	targetReport.UpdatedAt = mergedAt

	upvotesJSON, err := json.Marshal(targetReport.Upvotes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal merged upvotes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reports SET upvotes = ?, updated_at = ? WHERE id = ?`,
		string(upvotesJSON), targetReport.UpdatedAt, targetID); err != nil {
		return nil, nil, fmt.Errorf("update target upvotes: %w", err)
	}

	score := 1.0
	sourceReport.Status = models.StatusDuplicate
	sourceReport.DuplicateOf = targetID
	sourceReport.SimilarityScore = &score
	sourceReport.ManuallyMerged = true
	sourceReport.MergedAt = &mergedAt
	sourceReport.UpdatedAt = mergedAt

	if _, err := tx.ExecContext(ctx,
		`UPDATE reports SET status = ?, duplicate_of = ?, similarity_score = ?, manually_merged = true, merged_at = ?, updated_at = ? WHERE id = ?`,
		string(sourceReport.Status), targetID, score, mergedAt, mergedAt, sourceID,
	); err != nil {
		return nil, nil, fmt.Errorf("update source merge fields: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reports SET duplicate_of = ?, updated_at = ? WHERE duplicate_of = ?`,
		targetID, mergedAt, sourceID,
	); err != nil {
		return nil, nil, fmt.Errorf("relink pointers onto merged target: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit merge transaction: %w", err)
	}
	committed = true

	return targetReport, sourceReport, nil
}

func unionUpvotes(a, b []models.Upvote) []models.Upvote {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]models.Upvote, 0, len(a)+len(b))
	for _, u := range a {
		if _, ok := seen[u.UserID]; ok {
			continue
		}
		seen[u.UserID] = struct{}{}
		out = append(out, u)
	}
	for _, u := range b {
		if _, ok := seen[u.UserID]; ok {
			continue
		}
		seen[u.UserID] = struct{}{}
		out = append(out, u)
	}
	return out
}

// InsertAudit writes one row to the duplicate-decision audit log, used
// for the disposition explainability trail and duplicate statistics.
func (s *Store) InsertAudit(ctx context.Context, reportID, matchedReportID, decision string, score float64, category string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO dedupe_audit_log (id, timestamp, report_id, matched_report_id, decision, similarity_score, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), timeNow(), reportID, nullString(matchedReportID), decision, score, category,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry for %s: %w", reportID, err)
	}
	return nil
}

// DuplicateStats aggregates the total report count, the duplicate-linked
// count, and the categories with the most duplicates.
func (s *Store) DuplicateStats(ctx context.Context) (*models.DuplicateStats, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	stats := &models.DuplicateStats{}
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&stats.TotalReports); err != nil {
		return nil, fmt.Errorf("count total reports: %w", err)
	}
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE duplicate_of IS NOT NULL`).Scan(&stats.DuplicateReports); err != nil {
		return nil, fmt.Errorf("count duplicate reports: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT category, COUNT(*) AS c FROM reports WHERE duplicate_of IS NOT NULL GROUP BY category ORDER BY c DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("top duplicated categories: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cc models.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		stats.TopDuplicated = append(stats.TopDuplicated, cc)
	}
	return stats, rows.Err()
}

// DeletionStats aggregates sweeper activity from the archive table.
func (s *Store) DeletionStats(ctx context.Context) (*models.DeletionStats, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	stats := &models.DeletionStats{}
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_duplicates`).Scan(&stats.TotalArchived); err != nil {
		return nil, fmt.Errorf("count archived: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT category, COUNT(*) AS c FROM archived_duplicates GROUP BY category ORDER BY c DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("archived by category: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cc models.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		stats.ByCategory = append(stats.ByCategory, cc)
	}
	return stats, rows.Err()
}
