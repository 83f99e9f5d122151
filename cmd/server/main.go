// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package main is the entry point for the AdSync server.
//
// AdSync keeps a local DuckDB mirror of advertising campaigns, ad sets
// and ads fresh against a rate-limited upstream platform API. The
// server initializes components in the following order:
//
//  1. Configuration: layered via Koanf v2 (defaults, config.yaml,
//     environment variables; see internal/config)
//  2. Credential encryption: scrypt-derived AES-256-GCM when
//     SECURITY_ENCRYPTION_KEY is set
//  3. Database: DuckDB schema for the mirrored hierarchy and tokens
//  4. Rate limiters and response caches shared by all API clients
//  5. Sync engine and background services (scheduler, token refresher,
//     cache janitor)
//  6. HTTP server: sync triggers, status, health and metrics
//
// All long-running components run under a suture supervision tree and
// shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/adsync/internal/api"
	"github.com/tomtom215/adsync/internal/cache"
	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/database"
	"github.com/tomtom215/adsync/internal/logging"
	"github.com/tomtom215/adsync/internal/platform"
	"github.com/tomtom215/adsync/internal/ratelimit"
	"github.com/tomtom215/adsync/internal/supervisor"
	syncengine "github.com/tomtom215/adsync/internal/sync"
	"github.com/tomtom215/adsync/internal/token"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Msg("Starting AdSync")

	// Credential encryption. The key is base64 so it can carry raw
	// random bytes through environment variables; a missing key means
	// plaintext token storage and gets a loud warning.
	var encryptor database.Encryptor
	if cfg.Security.EncryptionKey != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.Security.EncryptionKey)
		if err != nil {
			secret = []byte(cfg.Security.EncryptionKey)
		}
		enc, err := token.NewEncryptor(secret)
		if err != nil {
			return err
		}
		encryptor = enc
	} else {
		logging.Warn().Msg("No encryption key configured, tokens will be stored in plaintext")
	}

	db, err := database.Open(cfg.Database, encryptor)
	if err != nil {
		return err
	}
	defer db.Close()

	// Shared throttling and caching state. Constructed once here and
	// injected everywhere, so the process has exactly one view of the
	// upstream quota.
	globalLimiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.Platform.Global.MaxRequests,
		Window:      cfg.Platform.Global.Window,
		MinInterval: cfg.Platform.Global.MinInterval,
	}, "global")
	resourceLimiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.Platform.Resource.MaxRequests,
		Window:      cfg.Platform.Resource.Window,
		MinInterval: cfg.Platform.Resource.MinInterval,
	}, "resource")

	caches := platform.Caches{
		Accounts: cache.New(cfg.Platform.AccountCacheTTL, "accounts"),
		Entities: cache.New(cfg.Platform.EntityCacheTTL, "entities"),
		Insights: cache.New(cfg.Platform.InsightsCacheTTL, "insights"),
	}

	engine := syncengine.NewEngine(cfg.Sync, db, db, func(accessToken string) syncengine.PlatformClient {
		return platform.NewClient(cfg.Platform, accessToken, globalLimiter, resourceLimiter, caches)
	})

	manager := token.NewManager(cfg.Platform)

	// Supervision tree.
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tree := supervisor.NewTree(slogger, supervisor.DefaultTreeConfig())

	tree.AddBackgroundService(syncengine.NewScheduler(engine, cfg.Sync.SweepInterval))
	tree.AddBackgroundService(token.NewRefresher(manager, db, cfg.Sync.SweepInterval))
	tree.AddBackgroundService(cache.NewJanitor(cfg.Platform.CacheCleanupInterval,
		caches.Accounts, caches.Entities, caches.Insights))
	tree.AddAPIService(api.NewServer(cfg.Server, cfg.Security, engine, db))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
	return nil
}
