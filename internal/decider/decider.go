// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package decider classifies a new report against its candidate set as
// NEW, SOFT, or HARD, selecting the single best-matching candidate.
package decider

import (
	"context"
	"time"

	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/geo"
	"github.com/tomtom215/civicdupe/internal/models"
)

// Outcome is the decider's classification of a new report.
type Outcome string

const (
	OutcomeNew  Outcome = "NEW"
	OutcomeSoft Outcome = "SOFT"
	OutcomeHard Outcome = "HARD"
)

// Scorer is the similarity component the decider scores candidates with.
// internal/similarity.Scorer satisfies this.
type Scorer interface {
	Score(ctx context.Context, n, c *models.Report, now time.Time) models.ScoreBreakdown
}

// Decider selects the best-matching candidate for an incoming report and
// classifies it against the configured thresholds.
type Decider struct {
	scorer Scorer
	tHard  float64
	tSoft  float64
}

// New builds a Decider from the scorer and the classification thresholds.
func New(scorer Scorer, cfg config.DupeConfig) *Decider {
	return &Decider{scorer: scorer, tHard: cfg.THard, tSoft: cfg.TSoft}
}

// Decision is the decider's verdict: the outcome, the best-matching
// candidate (nil for NEW with an empty candidate set), and its breakdown.
type Decision struct {
	Outcome   Outcome
	Candidate *models.Report
	Breakdown models.ScoreBreakdown
}

// Decide scores n against every candidate, selects the maximum composite,
// and classifies it against T_HARD/T_SOFT. An empty candidate set is NEW
// by definition — the scorer is never invoked. Ties on the composite score
// are broken by preferring the candidate with the smaller geo_distance to
// n, then the earlier created_at (spec.md §4.3).
func (d *Decider) Decide(ctx context.Context, n *models.Report, candidates []*models.Report, now time.Time) Decision {
	if len(candidates) == 0 {
		return Decision{Outcome: OutcomeNew}
	}

	best := candidates[0]
	bestBreakdown := d.scorer.Score(ctx, n, best, now)
	bestDistance := geo.HaversineMeters(n.Location.Lat, n.Location.Lon, best.Location.Lat, best.Location.Lon)

	for _, c := range candidates[1:] {
		breakdown := d.scorer.Score(ctx, n, c, now)
		distance := geo.HaversineMeters(n.Location.Lat, n.Location.Lon, c.Location.Lat, c.Location.Lon)

		switch {
		case breakdown.Overall > bestBreakdown.Overall:
			best, bestBreakdown, bestDistance = c, breakdown, distance
		case breakdown.Overall == bestBreakdown.Overall && distance < bestDistance:
			best, bestBreakdown, bestDistance = c, breakdown, distance
		case breakdown.Overall == bestBreakdown.Overall && distance == bestDistance && c.CreatedAt.Before(best.CreatedAt):
			best, bestBreakdown, bestDistance = c, breakdown, distance
		}
	}

	switch {
	case bestBreakdown.Overall >= d.tHard:
		return Decision{Outcome: OutcomeHard, Candidate: best, Breakdown: bestBreakdown}
	case bestBreakdown.Overall >= d.tSoft:
		return Decision{Outcome: OutcomeSoft, Candidate: best, Breakdown: bestBreakdown}
	default:
		return Decision{Outcome: OutcomeNew, Candidate: best, Breakdown: bestBreakdown}
	}
}
