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
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/civicdupe/internal/models"
)

// ErrNotFound is returned when a report or tombstone lookup finds no row.
var ErrNotFound = errors.New("dupestore: not found")

const reportColumns = `
	id, reporter_id, lat, lon, category, severity, description,
	photo_urls, image_vectors, created_at, updated_at, status,
	upvotes, duplicate_upvotes, duplicate_of, similarity_score, similarity_details,
	duplicate_feedback, confirmation_count, dispute_count,
	scheduled_deletion_at, scheduled_deletion_reason,
	was_reclassified, reclassified_at, reclassification_reason,
	manually_merged, merged_at`

// Insert writes a new report row. Callers must hold the per-id lock via
// WithReportLock for the duration of the surrounding operation.
func (s *Store) Insert(ctx context.Context, r *models.Report) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	photoURLs, err := json.Marshal(r.PhotoURLs)
	if err != nil {
		return fmt.Errorf("marshal photo_urls: %w", err)
	}
	imageVectors, err := json.Marshal(r.ImageVectors)
	if err != nil {
		return fmt.Errorf("marshal image_vectors: %w", err)
	}
	upvotes, err := json.Marshal(r.Upvotes)
	if err != nil {
		return fmt.Errorf("marshal upvotes: %w", err)
	}
	dupUpvotes, err := json.Marshal(r.DuplicateUpvotes)
	if err != nil {
		return fmt.Errorf("marshal duplicate_upvotes: %w", err)
	}
	feedback, err := json.Marshal(r.DuplicateFeedback)
	if err != nil {
		return fmt.Errorf("marshal duplicate_feedback: %w", err)
	}
	similarityDetails, err := marshalBreakdown(r.SimilarityDetails)
	if err != nil {
		return fmt.Errorf("marshal similarity_details: %w", err)
	}

	var scheduledAt *time.Time
	var scheduledReason *string
	if r.ScheduledForDeletion != nil {
		scheduledAt = &r.ScheduledForDeletion.DeletionAt
		scheduledReason = &r.ScheduledForDeletion.Reason
	}

	query := `INSERT INTO reports (` + reportColumns + `) VALUES (
		?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?,
		?, ?,
		?, ?, ?,
		?, ?
	)`

	_, err = s.conn.ExecContext(ctx, query,
		r.ID, r.ReporterID, r.Location.Lat, r.Location.Lon, r.Category, r.Severity, r.Description,
		string(photoURLs), string(imageVectors), r.CreatedAt, r.UpdatedAt, string(r.Status),
		string(upvotes), string(dupUpvotes), nullString(r.DuplicateOf), r.SimilarityScore, similarityDetails,
		string(feedback), r.ConfirmationCount, r.DisputeCount,
		scheduledAt, scheduledReason,
		r.WasReclassified, r.ReclassifiedAt, nullString(r.ReclassificationReason),
		r.ManuallyMerged, r.MergedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	s.geoCache.Insert(r.ID, r.Location.Lat, r.Location.Lon, r.CreatedAt, r.Category)
	return nil
}

// Get retrieves a report by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Report, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := s.conn.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return r, nil
}

// Update persists the full row for r, replacing the existing one. Used by
// the lifecycle manager for status transitions, feedback, merges, and
// upvotes. Callers must hold the per-id lock via WithReportLock.
func (s *Store) Update(ctx context.Context, r *models.Report) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	photoURLs, err := json.Marshal(r.PhotoURLs)
	if err != nil {
		return fmt.Errorf("marshal photo_urls: %w", err)
	}
	imageVectors, err := json.Marshal(r.ImageVectors)
	if err != nil {
		return fmt.Errorf("marshal image_vectors: %w", err)
	}
	upvotes, err := json.Marshal(r.Upvotes)
	if err != nil {
		return fmt.Errorf("marshal upvotes: %w", err)
	}
	dupUpvotes, err := json.Marshal(r.DuplicateUpvotes)
	if err != nil {
		return fmt.Errorf("marshal duplicate_upvotes: %w", err)
	}
	feedback, err := json.Marshal(r.DuplicateFeedback)
	if err != nil {
		return fmt.Errorf("marshal duplicate_feedback: %w", err)
	}
	similarityDetails, err := marshalOptional(r.SimilarityDetails)
	if err != nil {
		return fmt.Errorf("marshal similarity_details: %w", err)
	}

	var scheduledAt *time.Time
	var scheduledReason *string
	if r.ScheduledForDeletion != nil {
		scheduledAt = &r.ScheduledForDeletion.DeletionAt
		scheduledReason = &r.ScheduledForDeletion.Reason
	}

	r.UpdatedAt = timeNow()

	query := `UPDATE reports SET
		reporter_id = ?, lat = ?, lon = ?, category = ?, severity = ?, description = ?,
		photo_urls = ?, image_vectors = ?, updated_at = ?, status = ?,
		upvotes = ?, duplicate_upvotes = ?, duplicate_of = ?, similarity_score = ?, similarity_details = ?,
		duplicate_feedback = ?, confirmation_count = ?, dispute_count = ?,
		scheduled_deletion_at = ?, scheduled_deletion_reason = ?,
		was_reclassified = ?, reclassified_at = ?, reclassification_reason = ?,
		manually_merged = ?, merged_at = ?
	WHERE id = ?`

	result, err := s.conn.ExecContext(ctx, query,
		r.ReporterID, r.Location.Lat, r.Location.Lon, r.Category, r.Severity, r.Description,
		string(photoURLs), string(imageVectors), r.UpdatedAt, string(r.Status),
		string(upvotes), string(dupUpvotes), nullString(r.DuplicateOf), r.SimilarityScore, similarityDetails,
		string(feedback), r.ConfirmationCount, r.DisputeCount,
		scheduledAt, scheduledReason,
		r.WasReclassified, r.ReclassifiedAt, nullString(r.ReclassificationReason),
		r.ManuallyMerged, r.MergedAt,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update report %s: %w", r.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report %s: rows affected: %w", r.ID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.geoCache.Insert(r.ID, r.Location.Lat, r.Location.Lon, r.CreatedAt, r.Category)
	return nil
}

// DuplicateStatus narrows ListFilter by whether a report carries a
// duplicate_of link.
type DuplicateStatus string

const (
	DuplicateStatusAny      DuplicateStatus = ""
	DuplicateStatusLinked   DuplicateStatus = "duplicate"
	DuplicateStatusOriginal DuplicateStatus = "none"
)

// ListFilter narrows the result set for List.
type ListFilter struct {
	Category        string
	Status          models.ReportStatus
	DuplicateStatus DuplicateStatus
	Limit           int
	Offset          int
}

func (f ListFilter) normalize() (int, int) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List returns reports matching filter, newest first, plus the total count
// ignoring pagination.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*models.Report, int64, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	where := ""
	var args []any
	var conditions []string
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	switch filter.DuplicateStatus {
	case DuplicateStatusLinked:
		conditions = append(conditions, "duplicate_of IS NOT NULL")
	case DuplicateStatusOriginal:
		conditions = append(conditions, "duplicate_of IS NULL")
	}
	if len(conditions) > 0 {
		where = " WHERE " + conditions[0]
		for _, c := range conditions[1:] {
			where += " AND " + c
		}
	}

	var total int64
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	limit, offset := filter.normalize()
	query := `SELECT ` + reportColumns + ` FROM reports` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reports: %w", err)
	}
	return out, total, nil
}

// ListDuplicatesOf returns every report currently pointing at targetID via
// duplicate_of.
func (s *Store) ListDuplicatesOf(ctx context.Context, targetID string) ([]*models.Report, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE duplicate_of = ? ORDER BY created_at ASC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list duplicates of %s: %w", targetID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	var lat, lon float64
	var status string
	var photoURLs, imageVectors, upvotes, dupUpvotes, feedback string
	var duplicateOf sql.NullString
	var similarityScore sql.NullFloat64
	var similarityDetails sql.NullString
	var scheduledAt sql.NullTime
	var scheduledReason sql.NullString
	var reclassifiedAt sql.NullTime
	var reclassificationReason sql.NullString
	var mergedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.ReporterID, &lat, &lon, &r.Category, &r.Severity, &r.Description,
		&photoURLs, &imageVectors, &r.CreatedAt, &r.UpdatedAt, &status,
		&upvotes, &dupUpvotes, &duplicateOf, &similarityScore, &similarityDetails,
		&feedback, &r.ConfirmationCount, &r.DisputeCount,
		&scheduledAt, &scheduledReason,
		&r.WasReclassified, &reclassifiedAt, &reclassificationReason,
		&r.ManuallyMerged, &mergedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Location = models.Location{Lat: lat, Lon: lon}
	r.Status = models.ReportStatus(status)

	if err := json.Unmarshal([]byte(photoURLs), &r.PhotoURLs); err != nil {
		return nil, fmt.Errorf("unmarshal photo_urls: %w", err)
	}
	if err := json.Unmarshal([]byte(imageVectors), &r.ImageVectors); err != nil {
		return nil, fmt.Errorf("unmarshal image_vectors: %w", err)
	}
	if err := json.Unmarshal([]byte(upvotes), &r.Upvotes); err != nil {
		return nil, fmt.Errorf("unmarshal upvotes: %w", err)
	}
	if err := json.Unmarshal([]byte(dupUpvotes), &r.DuplicateUpvotes); err != nil {
		return nil, fmt.Errorf("unmarshal duplicate_upvotes: %w", err)
	}
	if err := json.Unmarshal([]byte(feedback), &r.DuplicateFeedback); err != nil {
		return nil, fmt.Errorf("unmarshal duplicate_feedback: %w", err)
	}

	if duplicateOf.Valid {
		r.DuplicateOf = duplicateOf.String
	}
	if similarityScore.Valid {
		score := similarityScore.Float64
		r.SimilarityScore = &score
	}
	if similarityDetails.Valid {
		var breakdown models.ScoreBreakdown
		if err := json.Unmarshal([]byte(similarityDetails.String), &breakdown); err != nil {
			return nil, fmt.Errorf("unmarshal similarity_details: %w", err)
		}
		r.SimilarityDetails = &breakdown
	}
	if scheduledAt.Valid {
		reason := ""
		if scheduledReason.Valid {
			reason = scheduledReason.String
		}
		r.ScheduledForDeletion = &models.ScheduledDeletion{DeletionAt: scheduledAt.Time, Reason: reason}
	}
	if reclassifiedAt.Valid {
		t := reclassifiedAt.Time
		r.ReclassifiedAt = &t
	}
	if reclassificationReason.Valid {
		r.ReclassificationReason = reclassificationReason.String
	}
	if mergedAt.Valid {
		t := mergedAt.Time
		r.MergedAt = &t
	}

	return &r, nil
}

func marshalOptional(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeNow returns the current time in UTC, the clock Update stamps
// UpdatedAt with.
func timeNow() time.Time {
	return time.Now().UTC()
}

// marshalBreakdown is an alias of marshalOptional used by Insert, kept as
// a distinct name so the two call sites read as "the breakdown" rather
// than a generic optional value.
func marshalBreakdown(b *models.ScoreBreakdown) (any, error) {
	return marshalOptional(b)
}
