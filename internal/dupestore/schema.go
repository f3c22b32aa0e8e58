// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package dupestore

import "fmt"

// createSchema creates the reports, archived_duplicates, and
// dedupe_audit_log tables if they do not already exist, plus the
// category/status/time/geospatial indexes the candidate pre-filter relies
// on.
//
// Nested structures (photo_urls, image_vectors, upvotes, duplicate_feedback,
// similarity_details) are stored as JSON columns rather than normalized
// into their own tables: they are always read and written whole alongside
// their parent report, so there is no query pattern that benefits from
// normalization, matching the denormalized-JSON-column idiom the teacher
// uses for its own nested analytics payloads.
func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id VARCHAR PRIMARY KEY,
			reporter_id VARCHAR NOT NULL,
			lat DOUBLE NOT NULL,
			lon DOUBLE NOT NULL,
			category VARCHAR NOT NULL,
			severity VARCHAR NOT NULL DEFAULT 'MEDIUM',
			description VARCHAR NOT NULL,
			photo_urls JSON NOT NULL,
			image_vectors JSON NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			status VARCHAR NOT NULL,
			upvotes JSON NOT NULL DEFAULT '[]',
			duplicate_upvotes JSON NOT NULL DEFAULT '[]',
			duplicate_of VARCHAR,
			similarity_score DOUBLE,
			similarity_details JSON,
			duplicate_feedback JSON NOT NULL DEFAULT '[]',
			confirmation_count INTEGER NOT NULL DEFAULT 0,
			dispute_count INTEGER NOT NULL DEFAULT 0,
			scheduled_deletion_at TIMESTAMP,
			scheduled_deletion_reason VARCHAR,
			was_reclassified BOOLEAN NOT NULL DEFAULT false,
			reclassified_at TIMESTAMP,
			reclassification_reason VARCHAR,
			manually_merged BOOLEAN NOT NULL DEFAULT false,
			merged_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_category ON reports(category);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_duplicate_of ON reports(duplicate_of);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_scheduled_deletion ON reports(scheduled_deletion_at);`,

		`CREATE TABLE IF NOT EXISTS archived_duplicates (
			original_id VARCHAR PRIMARY KEY,
			duplicate_of VARCHAR,
			category VARCHAR NOT NULL,
			lat DOUBLE NOT NULL,
			lon DOUBLE NOT NULL,
			created_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP NOT NULL,
			upvote_count INTEGER NOT NULL DEFAULT 0,
			confirmation_count INTEGER NOT NULL DEFAULT 0,
			dispute_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_archived_category ON archived_duplicates(category);`,

		`CREATE TABLE IF NOT EXISTS dedupe_audit_log (
			id VARCHAR PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			report_id VARCHAR NOT NULL,
			matched_report_id VARCHAR,
			decision VARCHAR NOT NULL,
			similarity_score DOUBLE NOT NULL,
			category VARCHAR NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_report ON dedupe_audit_log(report_id);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_decision ON dedupe_audit_log(decision);`,
	}

	for _, stmt := range statements {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}
