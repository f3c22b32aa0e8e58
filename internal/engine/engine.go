// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package engine wires the candidate index, embedders, scorer, decider,
// and lifecycle manager into the single Engine value the API handlers
// drive. Nothing here is global: every dependency is injected, and the
// clock is swappable for tests.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/civicdupe/internal/blobstore"
	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/decider"
	"github.com/tomtom215/civicdupe/internal/dupeerrors"
	"github.com/tomtom215/civicdupe/internal/dupestore"
	"github.com/tomtom215/civicdupe/internal/embedding"
	"github.com/tomtom215/civicdupe/internal/events"
	"github.com/tomtom215/civicdupe/internal/lifecycle"
	"github.com/tomtom215/civicdupe/internal/logging"
	"github.com/tomtom215/civicdupe/internal/metrics"
	"github.com/tomtom215/civicdupe/internal/models"
)

// ListFilter re-exports dupestore.ListFilter so callers outside dupestore
// (internal/api) don't need a second import for one parameter type.
type ListFilter = dupestore.ListFilter

// Store is the subset of internal/dupestore.Store the engine depends on
// for ingestion and read paths; lifecycle operations go through Lifecycle.
type Store interface {
	Insert(ctx context.Context, r *models.Report) error
	Get(ctx context.Context, id string) (*models.Report, error)
	Update(ctx context.Context, r *models.Report) error
	List(ctx context.Context, filter ListFilter) ([]*models.Report, int64, error)
	ListDuplicatesOf(ctx context.Context, targetID string) ([]*models.Report, error)
	Candidates(ctx context.Context, loc models.Location, category string, now time.Time, maxDistanceMeters float64, timeWindow time.Duration) ([]*models.Report, error)
	InsertAudit(ctx context.Context, reportID, matchedReportID, decision string, score float64, category string) error
	DuplicateStats(ctx context.Context) (*models.DuplicateStats, error)
	DeletionStats(ctx context.Context) (*models.DeletionStats, error)
	WithReportLock(id string, fn func() error) error
}

// Lifecycle is the subset of internal/lifecycle.Manager the engine
// delegates feedback, upvote, merge, and cancellation operations to.
type Lifecycle interface {
	SubmitFeedback(ctx context.Context, id, userID string, kind models.FeedbackKind, comment string) (*models.Report, lifecycle.Transition, error)
	AddUpvote(ctx context.Context, id, userID string) (*models.Report, error)
	CancelDeletion(ctx context.Context, id string) error
	Merge(ctx context.Context, targetID, sourceID string) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Engine is the duplicate-detection engine: the injected context every
// handler operates through.
type Engine struct {
	Store         Store
	TextEmbedder  embedding.TextEmbedder
	ImageEmbedder embedding.ImageEmbedder
	Scorer        *similarityScorer
	Decider       *decider.Decider
	Lifecycle     Lifecycle
	Blobs         blobstore.ObjectStore
	Bus           *events.Bus
	Cfg           config.DupeConfig
	Now           Clock
}

// similarityScorer is the narrow interface the engine needs from
// internal/similarity.Scorer, named locally to avoid an import cycle
// concern as the package grows.
type similarityScorer interface {
	Score(ctx context.Context, n, c *models.Report, now time.Time) models.ScoreBreakdown
}

// New builds an Engine from its collaborators. bus may be nil.
func New(store Store, textEmbedder embedding.TextEmbedder, imageEmbedder embedding.ImageEmbedder, scorer similarityScorer, d *decider.Decider, lc Lifecycle, blobs blobstore.ObjectStore, bus *events.Bus, cfg config.DupeConfig) *Engine {
	return &Engine{
		Store:         store,
		TextEmbedder:  textEmbedder,
		ImageEmbedder: imageEmbedder,
		Scorer:        &scorer,
		Decider:       d,
		Lifecycle:     lc,
		Blobs:         blobs,
		Bus:           bus,
		Cfg:           cfg,
		Now:           time.Now,
	}
}

// Ingest runs the full pipeline for a new report: fetch candidates, score
// and classify, then persist NEW/SOFT/HARD per spec.md §4.4's disposition
// rules, publishing a domain event and recording metrics along the way.
func (e *Engine) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestDisposition, error) {
	start := e.now()

	photoURLs, imageVectors, err := e.embedPhotos(ctx, req.Photos, req.ContentTypes)
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		ID:           uuid.NewString(),
		ReporterID:   req.ReporterID,
		Location:     req.Location,
		Category:     req.Category,
		Severity:     req.Severity,
		Description:  req.Description,
		PhotoURLs:    photoURLs,
		ImageVectors: imageVectors,
		CreatedAt:    start,
		UpdatedAt:    start,
		Status:       models.StatusReported,
	}

	candidates, err := e.Store.Candidates(ctx, report.Location, report.Category, start, e.Cfg.MaxDistanceMeters, e.Cfg.TimeWindow())
	if err != nil {
		return nil, dupeerrors.DependencyUnavailable(err, "fetching candidates")
	}

	scoreStart := e.now()
	decision := e.Decider.Decide(ctx, report, candidates, start)
	metrics.RecordScoringDuration(e.now().Sub(scoreStart))
	metrics.RecordDeciderOutcome(string(decision.Outcome))

	// A hard duplicate is never persisted as an independent record: the
	// caller gets a disposition referencing the original instead.
	if decision.Outcome == decider.OutcomeHard {
		if err := e.Store.InsertAudit(ctx, report.ID, decision.Candidate.ID, string(decision.Outcome), decision.Breakdown.Overall, report.Category); err != nil {
			logging.Warn().Err(err).Msg("failed to record hard-duplicate audit entry")
		}
		report.Status = models.StatusDuplicate
		report.DuplicateOf = decision.Candidate.ID
		e.publishDecision(report, decision)
		metrics.RecordIngestion(e.now().Sub(start), len(candidates))
		return dispositionFor(report, decision), nil
	}

	if decision.Outcome == decider.OutcomeSoft {
		score := decision.Breakdown.Overall
		breakdown := decision.Breakdown
		report.Status = models.StatusDuplicate
		report.DuplicateOf = decision.Candidate.ID
		report.SimilarityScore = &score
		report.SimilarityDetails = &breakdown
	}

	if err := e.Store.Insert(ctx, report); err != nil {
		return nil, dupeerrors.Internal(err, "persisting report")
	}

	metrics.RecordIngestion(e.now().Sub(start), len(candidates))
	e.publishDecision(report, decision)

	return dispositionFor(report, decision), nil
}

// embedPhotos pushes each uploaded photo through the blob store for a URL
// and through the image embedder for a feature vector, per spec §4.1: a
// decode or provider failure degrades to the zero vector rather than
// failing ingestion, while a blob-store failure is a dependency error since
// without a URL the report has nothing to point photo_urls at.
func (e *Engine) embedPhotos(ctx context.Context, photos [][]byte, contentTypes []string) ([]string, []models.ImageVector, error) {
	urls := make([]string, 0, len(photos))
	vectors := make([]models.ImageVector, 0, len(photos))

	for i, data := range photos {
		contentType := "application/octet-stream"
		if i < len(contentTypes) && contentTypes[i] != "" {
			contentType = contentTypes[i]
		}

		url, err := e.Blobs.Put(ctx, contentType, data)
		if err != nil {
			return nil, nil, dupeerrors.DependencyUnavailable(err, "storing photo %d", i)
		}
		urls = append(urls, url)

		vector := e.ImageEmbedder.Embed(ctx, data)
		if isZeroVector(vector) {
			metrics.RecordEmbeddingFailure("image")
		}
		vectors = append(vectors, models.ImageVector{
			Vector:          vector,
			Provider:        e.ImageEmbedder.Provider(),
			ProviderVersion: e.ImageEmbedder.ProviderVersion(),
		})
	}

	return urls, vectors, nil
}

func isZeroVector(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) publishDecision(r *models.Report, decision decider.Decision) {
	if e.Bus == nil {
		return
	}
	var breakdown *models.ScoreBreakdown
	if decision.Outcome != decider.OutcomeNew {
		b := decision.Breakdown
		breakdown = &b
	}
	if err := e.Bus.Publish(events.TopicIngestionDecided, events.IngestionDecided{
		ReportID:    r.ID,
		Outcome:     string(decision.Outcome),
		DuplicateOf: r.DuplicateOf,
		Breakdown:   breakdown,
		DecidedAt:   e.now(),
	}); err != nil {
		logging.Warn().Err(err).Str("report_id", r.ID).Msg("failed to publish ingestion decision")
	}
}

// dispositionFor builds the POST /v1/reports response per spec §6: both
// SOFT and HARD outcomes surface duplicate_of/similarity_score/
// duplicate_details so the caller can explain the decision; a HARD match
// additionally reports issue_id as the literal "duplicate_detected" sentinel
// since the new report was never persisted and has no id of its own.
func dispositionFor(r *models.Report, decision decider.Decision) *models.IngestDisposition {
	d := &models.IngestDisposition{
		IssueID:   r.ID,
		CreatedAt: r.CreatedAt,
		Status:    string(r.Status),
	}
	switch decision.Outcome {
	case decider.OutcomeHard:
		d.IssueID = "duplicate_detected"
		score := decision.Breakdown.Overall
		d.DuplicateOf = r.DuplicateOf
		d.SimilarityScore = &score
		d.DuplicateDetails = newDuplicateDetails(decision)
	case decider.OutcomeSoft:
		d.DuplicateOf = r.DuplicateOf
		d.SimilarityScore = r.SimilarityScore
		d.DuplicateDetails = newDuplicateDetails(decision)
	}
	return d
}

func newDuplicateDetails(decision decider.Decision) *models.DuplicateDetails {
	c := decision.Candidate
	return &models.DuplicateDetails{
		OriginalIssue: models.OriginalSummary{
			ID:          c.ID,
			Category:    c.Category,
			Description: c.Description,
			Status:      c.Status,
			CreatedAt:   c.CreatedAt,
			PhotoURLs:   c.PhotoURLs,
		},
		SimilarityScore: decision.Breakdown.Overall,
		ScoreDetails:    decision.Breakdown,
	}
}
