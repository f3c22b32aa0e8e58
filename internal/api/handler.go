// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package api wires the duplicate-detection engine and sweeper into an
// HTTP surface: an ingestion endpoint, query endpoints over the candidate
// index, and the mutation endpoints that drive the duplicate lifecycle.
package api

import (
	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/engine"
	"github.com/tomtom215/civicdupe/internal/sweeper"
)

// Handler holds every collaborator the HTTP surface needs. All fields are
// injected; nothing here is global.
type Handler struct {
	Engine  *engine.Engine
	Sweeper *sweeper.Sweeper
	API     config.APIConfig
}

// NewHandler builds a Handler.
func NewHandler(eng *engine.Engine, swp *sweeper.Sweeper, apiCfg config.APIConfig) *Handler {
	return &Handler{Engine: eng, Sweeper: swp, API: apiCfg}
}
