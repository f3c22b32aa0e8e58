// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

/*
Package main is the entry point for the civicdupe server application.

civicdupe is a duplicate-detection and duplicate-lifecycle engine for
civic-issue reports. It scores every incoming report against nearby
existing reports across location, text, image, and recency, classifies
the result as a new issue or a soft/hard duplicate, and manages the
resulting lifecycle: confirmation and dispute feedback, reclassification,
scheduled deletion with a grace period, and administrative merges.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("civicdupe")
	├── BackgroundSupervisor ("background-layer")
	│   ├── EventBus (domain event pub/sub over Watermill)
	│   └── Sweeper (due-deletion queue drain)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (Chi router)

This hierarchy isolates failures: a sweeper restart never affects the
HTTP server's ability to keep serving requests, and vice versa.

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Candidate index: DuckDB, with the spatial extension loaded when
    available and a geospatial hash-grid fallback otherwise
 4. Event bus: an in-process Watermill pub/sub for domain events
 5. Embedders, scorer, and decider: the scoring pipeline
 6. Lifecycle manager and sweeper: confirm/dispute/merge/delete
 7. Supervisor tree: background layer then API layer
 8. HTTP server: Chi router with request-id, metrics, compression,
    CORS, and rate-limiting middleware

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest
priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	# Server
	HTTP_PORT=8080
	HTTP_HOST=0.0.0.0
	LOG_LEVEL=info                  # trace, debug, info, warn, error
	LOG_FORMAT=json                 # json or console

	# Candidate index
	DUCKDB_PATH=/data/civicdupe.duckdb

	# Duplicate detection
	MAX_DISTANCE_METERS=100
	TIME_WINDOW_DAYS=30
	T_HARD=0.90
	T_SOFT=0.75
	D_IMG=512
	D_TXT=100

	# Lifecycle sweeper
	SWEEPER_PERIOD=24h
	DELETION_GRACE_DAYS=10

	# Embedding provider
	EMBEDDING_PROVIDER_URL=         # empty: every photo embeds as a zero vector

Other settings, such as the DuckDB memory limit and the embedding
concurrency and rate limits, have no environment variable and are set in
the config file.

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. The supervisor tree's root context is canceled
 2. The HTTP server stops accepting new connections and drains
    in-flight requests before closing
 3. The sweeper and event bus are stopped
 4. The candidate index connection is closed

Services that fail to stop within the shutdown timeout are not listed;
only an error returned by the supervisor tree is logged.

# See Also

  - internal/config: Configuration management
  - internal/supervisor: Process supervision
  - internal/api: HTTP handlers and routing
  - internal/engine: Ingestion pipeline orchestration
  - internal/dupestore: DuckDB-backed candidate index
  - internal/lifecycle: Duplicate feedback and deletion state machine
*/
package main
