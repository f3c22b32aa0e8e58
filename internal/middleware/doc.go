// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

/*
Package middleware provides HTTP middleware components for the application.

This package implements infrastructure middleware for compression, request ID
tracking, and Prometheus metrics integration. CORS and rate limiting are not
part of this package; internal/api adds them from other libraries when it
builds the router.

Key Components:

  - Compression: Gzip compression for clients that accept gzip
  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: HTTP request/response instrumentation

Middleware Stack:

Each middleware wraps an http.HandlerFunc, so they nest:

	http.HandleFunc("/api/v1/endpoint",
	    middleware.PrometheusMetrics( // Layer 1: Metrics
	        middleware.Compression(    // Layer 2: Gzip
	            middleware.RequestID(  // Layer 3: Request tracking
	                handler,           // Layer 4: Business logic
	            ),
	        ),
	    ),
	)

Usage Example - Compression:

	import "github.com/tomtom215/civicdupe/internal/middleware"

	// Wrap handler with gzip compression
	http.HandleFunc("/api/v1/data",
	    middleware.Compression(handler),
	)

	// Every response is compressed when the request's
	// Accept-Encoding header contains gzip

Usage Example - Request ID:

	// Request ID middleware
	http.HandleFunc("/api/v1/logs",
	    middleware.RequestID(handler),
	)

	// Access request ID in handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Performance Characteristics:

  - Compression: 70-90% size reduction for JSON (text/json mime types)
  - Compression overhead: ~1-2ms for typical responses
  - Metrics overhead: <0.1ms per request
  - Request ID overhead: <0.01ms (UUID generation)

Compression Details:

The compression middleware:
  - Compresses every response, whatever its size or content type
  - Supports gzip encoding (Accept-Encoding: gzip) only
  - Skips WebSocket upgrade requests
  - Sets Content-Encoding: gzip and removes Content-Length
  - Does not implement http.Flusher; the gzip stream is closed when the
    handler returns

Thread Safety:

All middleware components are thread-safe:
  - Compression gives each request its own pooled gzip writer
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/api: HTTP handlers wrapped by middleware
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
