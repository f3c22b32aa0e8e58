// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/civicdupe/internal/logging"
	"github.com/tomtom215/civicdupe/internal/metrics"
)

// RemoteImageEmbedderConfig configures RemoteImageEmbedder.
type RemoteImageEmbedderConfig struct {
	// ProviderURL is the base URL of an external vision-embedding
	// service. An empty URL means no provider is configured: Embed
	// always returns a zero vector.
	ProviderURL string
	Dimensions  int
	Timeout     time.Duration

	// MaxConcurrent bounds the number of in-flight provider calls.
	MaxConcurrent int
	// RateLimitPerSecond bounds the steady-state call rate.
	RateLimitPerSecond float64

	ProviderName    string
	ProviderVersion int
}

// RemoteImageEmbedder calls an external HTTP vision-embedding provider
// through a circuit breaker and a bounded worker pool. A provider timeout,
// non-2xx response, circuit-open state, or unset ProviderURL all degrade to
// a zero vector: embedding failure is never surfaced as an ingestion error
// (spec.md §4.1, §7).
type RemoteImageEmbedder struct {
	cfg     RemoteImageEmbedderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]float64]
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewRemoteImageEmbedder builds a RemoteImageEmbedder from cfg, applying
// sensible defaults for zero-valued fields.
func NewRemoteImageEmbedder(cfg RemoteImageEmbedderConfig) *RemoteImageEmbedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "clip-vit-base-patch32"
	}

	settings := gobreaker.Settings{
		Name:        "image-embedding-provider",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("image embedding provider circuit breaker state change")
		},
	}

	return &RemoteImageEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[[]float64](settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.MaxConcurrent),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Dimensions implements ImageEmbedder.
func (e *RemoteImageEmbedder) Dimensions() int { return e.cfg.Dimensions }

// Provider implements ImageEmbedder.
func (e *RemoteImageEmbedder) Provider() string { return e.cfg.ProviderName }

// ProviderVersion implements ImageEmbedder.
func (e *RemoteImageEmbedder) ProviderVersion() int { return e.cfg.ProviderVersion }

type embedImageResponse struct {
	Vector []float64 `json:"vector"`
}

// Embed implements ImageEmbedder. It blocks for a worker-pool slot and a
// rate-limiter token (both bounded by ctx's deadline), then calls the
// provider through the circuit breaker. Any failure degrades to a zero
// vector rather than propagating an error.
func (e *RemoteImageEmbedder) Embed(ctx context.Context, imageBytes []byte) []float64 {
	zero := make([]float64, e.cfg.Dimensions)
	if e.cfg.ProviderURL == "" {
		metrics.EmbeddingFailures.WithLabelValues("image").Inc()
		return zero
	}

	if err := e.limiter.Wait(ctx); err != nil {
		metrics.EmbeddingFailures.WithLabelValues("image").Inc()
		return zero
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		metrics.EmbeddingFailures.WithLabelValues("image").Inc()
		return zero
	}

	vec, err := e.breaker.Execute(func() ([]float64, error) {
		return e.callProvider(ctx, imageBytes)
	})
	if err != nil {
		logging.Warn().Err(err).Msg("image embedding provider call failed, degrading to zero vector")
		metrics.EmbeddingFailures.WithLabelValues("image").Inc()
		return zero
	}
	if len(vec) != e.cfg.Dimensions {
		metrics.EmbeddingFailures.WithLabelValues("image").Inc()
		return zero
	}
	return vec
}

func (e *RemoteImageEmbedder) callProvider(ctx context.Context, imageBytes []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.ProviderURL, bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	var parsed embedImageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	return parsed.Vector, nil
}
