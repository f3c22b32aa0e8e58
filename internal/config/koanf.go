// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/civicdupe/config.yaml",
	"/etc/civicdupe/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every field set to spec-default
// values, applied before the config file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:                   "/data/civicdupe.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Server: ServerConfig{
			Port:    8080,
			Host:    "0.0.0.0",
			Timeout: 30 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Dupe: DupeConfig{
			MaxDistanceMeters: 100,
			TimeWindowDays:    30,
			THard:             0.90,
			TSoft:             0.75,
			Weights: map[string]float64{
				"location": 0.3,
				"text":     0.3,
				"image":    0.3,
				"recency":  0.1,
			},
			DImg: 512,
			DTxt: 100,
		},
		Sweeper: SweeperConfig{
			Period:          24 * time.Hour,
			GraceDays:       10,
			ShutdownTimeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			ImageProviderURL:     "",
			ImageProviderTimeout: 5 * time.Second,
			MaxConcurrent:        8,
			RateLimitPerSecond:   20,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML file
//  3. Environment Variables: highest priority
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Transform environment variable names to koanf paths:
	// MAX_DISTANCE_METERS -> dupe.max_distance_meters
	// WEIGHTS is special-cased to a map value rather than a plain string,
	// since dupe.weights is map[string]float64.
	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		mapped := envTransformFunc(key)
		if mapped == "dupe.weights" {
			weights, err := parseWeightsEnv(value)
			if err != nil {
				return mapped, value
			}
			return mapped, weights
		}
		return mapped, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps the spec's published environment variable names (spec
// §6) onto the nested koanf config paths.
var envMappings = map[string]string{
	"max_distance_meters":    "dupe.max_distance_meters",
	"time_window_days":       "dupe.time_window_days",
	"t_hard":                 "dupe.t_hard",
	"t_soft":                 "dupe.t_soft",
	"d_img":                  "dupe.d_img",
	"d_txt":                  "dupe.d_txt",
	"deletion_grace_days":    "sweeper.grace_days",
	"sweeper_period":         "sweeper.period",
	"duckdb_path":            "database.path",
	"http_port":              "server.port",
	"http_host":              "server.host",
	"log_level":              "logging.level",
	"log_format":             "logging.format",
	"log_caller":             "logging.caller",
	"embedding_provider_url": "embedding.image_provider_url",
	"weights":                "dupe.weights",
}

// envTransformFunc transforms environment variable names to koanf config
// paths, honoring the legacy flat names spec.md enumerates directly
// (MAX_DISTANCE_METERS, T_HARD, ...) alongside the nested SCREAMING_SNAKE
// form for everything else (DUPE_WEIGHTS -> dupe.weights).
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return strings.ReplaceAll(key, "_", ".")
}

// parseWeightsEnv parses the WEIGHTS env var's "component=value,..." form,
// e.g. "location=0.3,text=0.3,image=0.3,recency=0.1", into the map
// DupeConfig.Weights expects. Unrecognized components are accepted as-is —
// Config.Validate is what enforces the weights sum to 1.0.
func parseWeightsEnv(value string) (map[string]float64, error) {
	pairs := strings.Split(value, ",")
	weights := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid WEIGHTS entry %q: expected component=value", pair)
		}
		name := strings.TrimSpace(kv[0])
		v, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid WEIGHTS value for %q: %w", name, err)
		}
		weights[name] = v
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("WEIGHTS env value %q contained no entries", value)
	}
	return weights, nil
}
