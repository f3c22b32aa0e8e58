// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

// Package dupestore is the Candidate Index: a DuckDB-backed persistent store
// of reports annotated with their embeddings, indexed for geospatial,
// categorical, and temporal pre-filtering.
package dupestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/civicdupe/internal/cache"
	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/logging"
)

// geoCacheCellKM sizes the in-process proximity cache's grid cells. Civic
// reports cluster at neighborhood scale, much tighter than the ~100km
// default tuned for coarse travel-anomaly detection.
const geoCacheCellKM = 2.0

// Store wraps the DuckDB connection backing the Candidate Index.
type Store struct {
	conn             *sql.DB
	cfg              config.DatabaseConfig
	spatialAvailable bool

	// idLocks holds one *sync.Mutex per report id, acquired for the
	// duration of any mutating operation on that id, so feedback writes,
	// status updates, merges, and deletion scheduling are linearizable
	// per report without a single global write lock.
	idLocks sync.Map

	// geoCache mirrors every live report's (id, lat, lon, category) so
	// Candidates can narrow the non-spatial fallback query to an ID
	// allowlist instead of scanning every row in the category. It is a
	// best-effort accelerator, not a source of truth: it starts empty on
	// process restart, and Candidates falls back to the full category scan
	// whenever it has nothing cached for the query point.
	geoCache *cache.SpatialHashGrid
}

// New opens the DuckDB database at cfg.Path (creating it if absent), loads
// the spatial extension, and creates the schema if it does not exist.
func New(cfg config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{conn: conn, cfg: cfg, geoCache: cache.NewSpatialHashGrid(geoCacheCellKM)}

	if err := store.loadSpatialExtension(); err != nil {
		logging.Warn().Err(err).Msg("spatial extension unavailable, falling back to Go haversine distance")
	}

	if err := store.createSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err := store.warmGeoCache(); err != nil {
		logging.Warn().Err(err).Msg("failed to warm proximity cache, starting cold")
	}

	return store, nil
}

// warmGeoCache loads every live report's id/location/category into geoCache
// so a restarted process doesn't fall back to a full category scan for
// candidates it already has on disk.
func (s *Store) warmGeoCache() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `SELECT id, lat, lon, category, created_at FROM reports`)
	if err != nil {
		return fmt.Errorf("warm proximity cache: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, category string
		var lat, lon float64
		var createdAt time.Time
		if err := rows.Scan(&id, &lat, &lon, &category, &createdAt); err != nil {
			return fmt.Errorf("scan proximity cache row: %w", err)
		}
		s.geoCache.Insert(id, lat, lon, createdAt, category)
	}
	return rows.Err()
}

// loadSpatialExtension installs and loads DuckDB's spatial extension, which
// provides ST_Distance_Sphere for geodesic pre-filtering. If unavailable
// (offline environment, extension not bundled), spatialAvailable stays
// false and candidate pre-filtering falls back to an in-process haversine
// calculation over the category/status/time-filtered rows.
func (s *Store) loadSpatialExtension() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.conn.ExecContext(ctx, "INSTALL spatial;"); err != nil {
		return fmt.Errorf("install spatial extension: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, "LOAD spatial;"); err != nil {
		return fmt.Errorf("load spatial extension: %w", err)
	}
	s.spatialAvailable = true
	return nil
}

// IsSpatialAvailable reports whether ST_Distance_Sphere pre-filtering is in
// use; false means candidates() falls back to Go-side haversine distance.
func (s *Store) IsSpatialAvailable() bool {
	return s.spatialAvailable
}

// Conn exposes the underlying connection for components that need direct
// access. Nothing in this repository calls it; the sweeper goes through
// ArchiveAndDelete.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Ping checks the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("store connection is nil")
	}
	return s.conn.PingContext(ctx)
}

// lockFor returns the per-report mutex for id, creating it on first use.
func (s *Store) lockFor(id string) *sync.Mutex {
	actual, _ := s.idLocks.LoadOrStore(id, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// WithReportLock runs fn while holding the per-report lock for id,
// guaranteeing linearizable mutations per spec.md §5.
func (s *Store) WithReportLock(id string, fn func() error) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func closeQuietly(conn *sql.DB) {
	if conn != nil {
		_ = conn.Close()
	}
}

func ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 30*time.Second)
}
