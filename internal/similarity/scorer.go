// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package similarity scores a new report against a candidate report across
// four weighted components — location, text, image, recency — and produces
// the composite used by the decider and surfaced to callers for
// explainability.
package similarity

import (
	"context"
	"time"

	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/embedding"
	"github.com/tomtom215/civicdupe/internal/geo"
	"github.com/tomtom215/civicdupe/internal/models"
)

const (
	componentLocation = "location"
	componentText     = "text"
	componentImage    = "image"
	componentRecency  = "recency"
)

// Scorer computes the weighted composite similarity score between an
// incoming report and a candidate.
type Scorer struct {
	textEmbedder      embedding.TextEmbedder
	weights           map[string]float64
	maxDistanceMeters float64
	timeWindow        time.Duration
}

// New builds a Scorer from the duplicate-detection tunables. The text
// embedder is invoked once per side, per candidate comparison — callers
// scoring many candidates for one new report should cache the new report's
// embedding themselves if the encoder is expensive (the default hashing
// encoder is not).
func New(textEmbedder embedding.TextEmbedder, cfg config.DupeConfig) *Scorer {
	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	return &Scorer{
		textEmbedder:      textEmbedder,
		weights:           weights,
		maxDistanceMeters: cfg.MaxDistanceMeters,
		timeWindow:        cfg.TimeWindow(),
	}
}

// Score compares n against candidate c as of now and returns the composite
// plus its component breakdown. When c carries no image vectors (or n
// doesn't), the image weight is redistributed proportionally among the
// remaining three components rather than silently shrinking the composite.
func (s *Scorer) Score(ctx context.Context, n, c *models.Report, now time.Time) models.ScoreBreakdown {
	weights := s.effectiveWeights(n, c)

	components := map[string]float64{
		componentLocation: s.locationComponent(n, c),
		componentText:     s.textComponent(ctx, n, c),
		componentImage:    s.imageComponent(n, c),
		componentRecency:  s.recencyComponent(c, now),
	}

	var overall float64
	for name, weight := range weights {
		overall += weight * components[name]
	}

	return models.ScoreBreakdown{
		Overall:    overall,
		Components: components,
		Weights:    weights,
	}
}

// effectiveWeights returns a copy of the configured weights with the image
// component zeroed and redistributed when either side lacks image vectors,
// per spec's "weight redistributed proportionally among the remaining
// components" rule.
func (s *Scorer) effectiveWeights(n, c *models.Report) map[string]float64 {
	weights := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		weights[k] = v
	}

	if len(n.ImageVectors) > 0 && len(c.ImageVectors) > 0 {
		return weights
	}

	removed := weights[componentImage]
	if removed == 0 {
		return weights
	}
	weights[componentImage] = 0

	var remainingSum float64
	for k, v := range weights {
		if k != componentImage {
			remainingSum += v
		}
	}
	if remainingSum <= 0 {
		return weights
	}
	for k, v := range weights {
		if k == componentImage {
			continue
		}
		weights[k] = v + (v/remainingSum)*removed
	}
	return weights
}

// locationComponent is 1 - distance/MAX_DISTANCE, clamped to [0,1].
func (s *Scorer) locationComponent(n, c *models.Report) float64 {
	if s.maxDistanceMeters <= 0 {
		return 0
	}
	d := geo.HaversineMeters(n.Location.Lat, n.Location.Lon, c.Location.Lat, c.Location.Lon)
	return clamp01(1 - d/s.maxDistanceMeters)
}

// textComponent is cosine(embed(n.Description), embed(c.Description)),
// with negative similarity clamped to 0.
func (s *Scorer) textComponent(ctx context.Context, n, c *models.Report) float64 {
	a := s.textEmbedder.Embed(ctx, n.Description)
	b := s.textEmbedder.Embed(ctx, c.Description)
	sim := embedding.CosineSimilarity(a, b)
	if sim < 0 {
		return 0
	}
	return sim
}

// imageComponent averages, over each of n's image vectors, the maximum
// cosine similarity against any of c's image vectors. Empty on either side
// yields 0 — effectiveWeights has already zeroed this component's weight
// in that case, so the value here is never actually composited.
func (s *Scorer) imageComponent(n, c *models.Report) float64 {
	if len(n.ImageVectors) == 0 || len(c.ImageVectors) == 0 {
		return 0
	}
	var sumMax float64
	for _, v := range n.ImageVectors {
		var max float64
		for _, u := range c.ImageVectors {
			sim := embedding.CosineSimilarity(v.Vector, u.Vector)
			if sim > max {
				max = sim
			}
		}
		sumMax += max
	}
	return sumMax / float64(len(n.ImageVectors))
}

// recencyComponent is 1 - (now - c.CreatedAt)/TIME_WINDOW, clamped to [0,1].
func (s *Scorer) recencyComponent(c *models.Report, now time.Time) float64 {
	if s.timeWindow <= 0 {
		return 0
	}
	age := now.Sub(c.CreatedAt)
	return clamp01(1 - float64(age)/float64(s.timeWindow))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
