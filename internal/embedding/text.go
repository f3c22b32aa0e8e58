// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`\w+`)

// HashingTextEncoder is a dependency-free text embedder: a bag-of-words
// vector built with the hashing trick, L2-normalized. It is the engine's
// only text embedder today — there is no remote text-embedding provider in
// scope, so what was a "fallback" in the original implementation is simply
// the implementation here.
type HashingTextEncoder struct {
	dimensions int
}

// NewHashingTextEncoder returns a HashingTextEncoder producing vectors of
// the given length. A non-positive dimensions falls back to 100.
func NewHashingTextEncoder(dimensions int) *HashingTextEncoder {
	if dimensions <= 0 {
		dimensions = 100
	}
	return &HashingTextEncoder{dimensions: dimensions}
}

// Dimensions implements TextEmbedder.
func (e *HashingTextEncoder) Dimensions() int {
	return e.dimensions
}

// Embed implements TextEmbedder. It lowercases the text, extracts word
// tokens, hashes each into a bucket in [0, Dimensions()), accumulates
// counts, and L2-normalizes the result. An empty string yields a zero
// vector.
func (e *HashingTextEncoder) Embed(_ context.Context, text string) []float64 {
	vec := make([]float64, e.dimensions)
	if text == "" {
		return vec
	}

	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	for _, word := range words {
		idx := hashWord(word) % uint32(e.dimensions)
		vec[idx]++
	}

	var normSq float64
	for _, v := range vec {
		normSq += v * v
	}
	if normSq == 0 {
		return vec
	}
	norm := math.Sqrt(normSq)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// hashWord is the "hashing trick" bucket assignment: FNV-1a gives a stable,
// well-distributed hash independent of Go's randomized map iteration (the
// original implementation relied on Python's built-in hash(), which is
// process-randomized by default for strings; FNV-1a is used here instead so
// the same description always hashes to the same bucket across process
// restarts, which the duplicate re-scoring path depends on).
func hashWord(word string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return h.Sum32()
}
