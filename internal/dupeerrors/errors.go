// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package dupeerrors defines the stable error kinds surfaced by the
// duplicate-detection engine so callers (the API layer, tests) can branch
// on kind without parsing messages.
package dupeerrors

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-facing error classification.
type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindNotFound              Kind = "NOT_FOUND"
	KindConflict              Kind = "CONFLICT"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindTimeout               Kind = "TIMEOUT"
	KindInternal              Kind = "INTERNAL"
)

// Error wraps an underlying cause with a stable Kind and a human message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error carrying cause, or returns nil if cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func DependencyUnavailable(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindDependencyUnavailable, fmt.Sprintf(format, args...), cause)
}

func Internal(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindInternal, fmt.Sprintf(format, args...), cause)
}
