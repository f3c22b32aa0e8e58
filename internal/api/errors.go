// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package api provides HTTP handlers for the civicdupe application.
//
// errors.go - dupeerrors.Kind to HTTP status/response mapping.
package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/civicdupe/internal/dupeerrors"
	"github.com/tomtom215/civicdupe/internal/dupestore"
)

// WriteEngineError translates a dupeerrors.Kind-carrying error into the
// standardized APIResponse error envelope, picking the HTTP status per
// spec §7's propagation policy (validation -> 400, not-found -> 404,
// conflict -> 409, everything else -> 5xx). dupestore.ErrNotFound carries no Kind of its
// own — it is the sentinel the store layer returns directly — so it is
// special-cased to 404 ahead of the generic Kind lookup.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dupestore.ErrNotFound) {
		NewResponseWriter(w, r).NotFound(err.Error())
		return
	}
	kind := dupeerrors.KindOf(err)
	status, code := statusForKind(kind)
	NewResponseWriter(w, r).Error(status, code, err.Error())
}

func statusForKind(kind dupeerrors.Kind) (int, string) {
	switch kind {
	case dupeerrors.KindValidation:
		return http.StatusBadRequest, ErrCodeValidationFailed
	case dupeerrors.KindNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case dupeerrors.KindConflict:
		return http.StatusConflict, ErrCodeConflict
	case dupeerrors.KindDependencyUnavailable:
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	case dupeerrors.KindTimeout:
		return http.StatusGatewayTimeout, ErrCodeServiceUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}
