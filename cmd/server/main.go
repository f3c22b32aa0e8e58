// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/civicdupe/internal/api"
	"github.com/tomtom215/civicdupe/internal/blobstore"
	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/decider"
	"github.com/tomtom215/civicdupe/internal/dupestore"
	"github.com/tomtom215/civicdupe/internal/embedding"
	"github.com/tomtom215/civicdupe/internal/engine"
	"github.com/tomtom215/civicdupe/internal/events"
	"github.com/tomtom215/civicdupe/internal/lifecycle"
	"github.com/tomtom215/civicdupe/internal/logging"
	"github.com/tomtom215/civicdupe/internal/similarity"
	"github.com/tomtom215/civicdupe/internal/supervisor"
	"github.com/tomtom215/civicdupe/internal/sweeper"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	log := logging.Logger()
	log.Info().Str("db_path", cfg.Database.Path).Int("port", cfg.Server.Port).Msg("civicdupe starting")

	store, err := dupestore.New(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open candidate index")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close candidate index cleanly")
		}
	}()
	log.Info().Bool("spatial_extension", store.IsSpatialAvailable()).Msg("candidate index ready")

	bus, err := events.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start event bus")
	}

	textEmbedder := embedding.NewHashingTextEncoder(cfg.Dupe.DTxt)
	imageEmbedder := embedding.NewRemoteImageEmbedder(embedding.RemoteImageEmbedderConfig{
		ProviderURL:        cfg.Embedding.ImageProviderURL,
		Dimensions:         cfg.Dupe.DImg,
		Timeout:            cfg.Embedding.ImageProviderTimeout,
		MaxConcurrent:      cfg.Embedding.MaxConcurrent,
		RateLimitPerSecond: cfg.Embedding.RateLimitPerSecond,
	})
	scorer := similarity.New(textEmbedder, cfg.Dupe)
	dec := decider.New(scorer, cfg.Dupe)
	lifecycleMgr := lifecycle.New(store, bus, cfg.Sweeper)
	blobs := blobstore.NewMemStore("civicdupe://photos")

	eng := engine.New(store, textEmbedder, imageEmbedder, scorer, dec, lifecycleMgr, blobs, bus, cfg.Dupe)
	swp := sweeper.New(store, bus, cfg.Sweeper)

	handler := api.NewHandler(eng, swp, cfg.API)
	router := api.NewRouter(handler)

	httpSvc := &httpServerService{
		addr:   fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		server: &http.Server{Handler: router, ReadHeaderTimeout: cfg.Server.Timeout},
	}

	tree, err := supervisor.NewSupervisorTree(newSlogLogger(cfg.Logging), supervisor.DefaultTreeConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build supervisor tree")
	}
	tree.AddBackgroundService(bus)
	tree.AddBackgroundService(swp)
	tree.AddAPIService(httpSvc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := tree.ServeBackground(ctx)
	log.Info().Msg("supervisor tree running")

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("supervisor tree exited with error")
		os.Exit(1)
	}
	log.Info().Msg("civicdupe stopped")
}

// newSlogLogger builds the *slog.Logger the supervisor tree's sutureslog
// event hook writes to. internal/logging is zerolog-based and deliberately
// carries no slog bridge, so supervision events get their own small JSON
// logger at the configured level instead of sharing the request logger.
func newSlogLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// httpServerService adapts net/http.Server to suture.Service so the HTTP
// listener is supervised alongside the sweeper and event bus.
type httpServerService struct {
	addr   string
	server *http.Server
}

func (h *httpServerService) Serve(ctx context.Context) error {
	log := logging.Logger()
	h.server.Addr = h.addr

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", h.addr).Msg("http server listening")
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("http server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *httpServerService) String() string {
	return "http-server"
}
