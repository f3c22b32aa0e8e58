// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashingTextEncoderDimensions(t *testing.T) {
	enc := NewHashingTextEncoder(100)
	if enc.Dimensions() != 100 {
		t.Fatalf("expected dimensions 100, got %d", enc.Dimensions())
	}
}

func TestHashingTextEncoderEmptyStringIsZeroVector(t *testing.T) {
	enc := NewHashingTextEncoder(100)
	vec := enc.Embed(context.Background(), "")
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector, got nonzero at index %d: %f", i, v)
		}
	}
}

func TestHashingTextEncoderIsNormalized(t *testing.T) {
	enc := NewHashingTextEncoder(100)
	vec := enc.Embed(context.Background(), "there is a large pothole on Main Street")

	var normSq float64
	for _, v := range vec {
		normSq += v * v
	}
	norm := math.Sqrt(normSq)
	if math.Abs(norm-1.0) > 1e-9 {
		t.Fatalf("expected unit-normalized vector, got norm %f", norm)
	}
}

func TestHashingTextEncoderIsDeterministic(t *testing.T) {
	enc := NewHashingTextEncoder(100)
	text := "broken streetlight near the park entrance"
	a := enc.Embed(context.Background(), text)
	b := enc.Embed(context.Background(), text)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differed at index %d", i)
		}
	}
}

func TestHashingTextEncoderSimilarTextsAreCloser(t *testing.T) {
	enc := NewHashingTextEncoder(100)
	pothole1 := enc.Embed(context.Background(), "large pothole on Main Street near the library")
	pothole2 := enc.Embed(context.Background(), "big pothole on Main Street by the library")
	unrelated := enc.Embed(context.Background(), "graffiti on the overpass near the highway")

	simSame := cosineSimilarity(pothole1, pothole2)
	simDiff := cosineSimilarity(pothole1, unrelated)

	if simSame <= simDiff {
		t.Fatalf("expected similar descriptions to score higher (%f) than unrelated ones (%f)", simSame, simDiff)
	}
}

func TestHashingTextEncoderDefaultsDimensionsWhenInvalid(t *testing.T) {
	enc := NewHashingTextEncoder(0)
	if enc.Dimensions() != 100 {
		t.Fatalf("expected default dimensions 100, got %d", enc.Dimensions())
	}
}
