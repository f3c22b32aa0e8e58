// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package api

import (
	"net/http"

	"github.com/tomtom215/civicdupe/internal/middleware"
)

// adaptHandlerFuncMiddleware lifts a func(http.HandlerFunc) http.HandlerFunc
// middleware — internal/middleware's convention — into chi's
// func(http.Handler) http.Handler shape, so RequestID/PrometheusMetrics/
// Compression compose with chi.Use like any other chi middleware.
func adaptHandlerFuncMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		})
	}
}

var (
	requestIDMiddleware  = adaptHandlerFuncMiddleware(middleware.RequestID)
	metricsMiddleware    = adaptHandlerFuncMiddleware(middleware.PrometheusMetrics)
	compressionMiddleware = adaptHandlerFuncMiddleware(middleware.Compression)
)
