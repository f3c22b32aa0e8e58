// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from environment
// variables and an optional config file.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all settings
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting
//
// Config is immutable after LoadWithKoanf() and safe for concurrent read access.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Server    ServerConfig    `koanf:"server"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
	Dupe      DupeConfig      `koanf:"dupe"`
	Sweeper   SweeperConfig   `koanf:"sweeper"`
	Embedding EmbeddingConfig `koanf:"embedding"`
}

// DatabaseConfig configures the DuckDB-backed candidate index.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port    int           `koanf:"port"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`
}

// APIConfig configures pagination defaults for list endpoints.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DupeConfig holds the duplicate-detection tunables enumerated in the
// engine's external-interface contract: pre-filter bounds, classification
// thresholds, and scorer weights.
type DupeConfig struct {
	MaxDistanceMeters float64            `koanf:"max_distance_meters"`
	TimeWindowDays    int                `koanf:"time_window_days"`
	THard             float64            `koanf:"t_hard"`
	TSoft             float64            `koanf:"t_soft"`
	Weights           map[string]float64 `koanf:"weights"`
	DImg              int                `koanf:"d_img"`
	DTxt              int                `koanf:"d_txt"`
}

// TimeWindow returns TimeWindowDays as a time.Duration.
func (c DupeConfig) TimeWindow() time.Duration {
	return time.Duration(c.TimeWindowDays) * 24 * time.Hour
}

// SweeperConfig configures the deletion-queue drain task.
type SweeperConfig struct {
	Period          time.Duration `koanf:"period"`
	GraceDays       int           `koanf:"grace_days"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// GracePeriod returns GraceDays as a time.Duration.
func (c SweeperConfig) GracePeriod() time.Duration {
	return time.Duration(c.GraceDays) * 24 * time.Hour
}

// EmbeddingConfig configures the embedding providers and their worker pool.
type EmbeddingConfig struct {
	ImageProviderURL    string        `koanf:"image_provider_url"`
	ImageProviderTimeout time.Duration `koanf:"image_provider_timeout"`
	MaxConcurrent       int           `koanf:"max_concurrent"`
	RateLimitPerSecond  float64       `koanf:"rate_limit_per_second"`
}

// Validate checks structural invariants that Koanf's provider layering
// cannot enforce by itself (interdependent fields, ranges).
func (c *Config) Validate() error {
	if c.Dupe.THard <= c.Dupe.TSoft {
		return fmt.Errorf("dupe.t_hard (%f) must be greater than dupe.t_soft (%f)", c.Dupe.THard, c.Dupe.TSoft)
	}
	if c.Dupe.MaxDistanceMeters <= 0 {
		return fmt.Errorf("dupe.max_distance_meters must be positive, got %f", c.Dupe.MaxDistanceMeters)
	}
	if c.Dupe.TimeWindowDays <= 0 {
		return fmt.Errorf("dupe.time_window_days must be positive, got %d", c.Dupe.TimeWindowDays)
	}
	sum := 0.0
	for _, w := range c.Dupe.Weights {
		sum += w
	}
	if sum != 0 && (sum < 0.999 || sum > 1.001) {
		return fmt.Errorf("dupe.weights must sum to 1.0, got %f", sum)
	}
	if c.Sweeper.GraceDays <= 0 {
		return fmt.Errorf("sweeper.grace_days must be positive, got %d", c.Sweeper.GraceDays)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
