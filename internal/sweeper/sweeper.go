// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package sweeper periodically drains the due-deletion queue: every report
// whose grace period has elapsed is archived and removed in one atomic
// unit. It is a suture.Service, supervised alongside the HTTP server.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/events"
	"github.com/tomtom215/civicdupe/internal/logging"
	"github.com/tomtom215/civicdupe/internal/metrics"
	"github.com/tomtom215/civicdupe/internal/models"
)

// Store is the subset of internal/dupestore.Store the sweeper depends on.
type Store interface {
	DueDeletions(ctx context.Context, now time.Time) ([]*models.Report, error)
	ArchiveAndDelete(ctx context.Context, id string, deletedAt time.Time) (*models.ArchiveTombstone, error)
}

// Sweeper drains due deletions on a fixed period and on demand.
type Sweeper struct {
	store  Store
	bus    *events.Bus
	period time.Duration
	logger zerolog.Logger
	name   string
}

// New builds a Sweeper. bus may be nil — a nil bus skips event publication.
func New(store Store, bus *events.Bus, cfg config.SweeperConfig) *Sweeper {
	period := cfg.Period
	if period <= 0 {
		period = 24 * time.Hour
	}
	return &Sweeper{
		store:  store,
		bus:    bus,
		period: period,
		logger: logging.Logger().With().Str("service", "sweeper").Logger(),
		name:   "sweeper",
	}
}

// Serve implements suture.Service: it runs Sweep on a ticker, honoring
// ctx cancellation between items (never mid-item, per spec.md §5).
func (s *Sweeper) Serve(ctx context.Context) error {
	s.logger.Info().Dur("period", s.period).Msg("sweeper starting")

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("sweep run failed; entries remain for next run")
			}
		}
	}
}

// Sweep runs one drain of the due-deletion queue: enumerate, then archive
// and delete each report in turn. A failure on one report is logged and
// does not stop the remaining items — the failed report stays schedulable.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.store.DueDeletions(ctx, now)
	if err != nil {
		metrics.RecordSweeperRun("error")
		return err
	}

	archived := 0
	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		tombstone, err := s.store.ArchiveAndDelete(ctx, r.ID, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("report_id", r.ID).Msg("archive and delete failed")
			continue
		}
		archived++
		metrics.SweeperArchived.Inc()
		s.publish(tombstone.OriginalID, now)
	}

	s.logger.Info().Int("due", len(due)).Int("archived", archived).Msg("sweep complete")
	metrics.RecordSweeperRun("success")
	return nil
}

func (s *Sweeper) publish(reportID string, archivedAt time.Time) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(events.TopicReportArchived, events.ReportArchived{ReportID: reportID, ArchivedAt: archivedAt}); err != nil {
		s.logger.Warn().Err(err).Str("report_id", reportID).Msg("failed to publish archive event")
	}
}

// String returns the service name for logging, matching suture's
// identification convention.
func (s *Sweeper) String() string {
	return s.name
}
