// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package api exposes the service's HTTP surface: sync triggers and
// status per account, a fleet sweep endpoint, health, and Prometheus
// metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/logging"
	"github.com/tomtom215/adsync/internal/models"
	syncengine "github.com/tomtom215/adsync/internal/sync"
)

// AccountReader is the read-side store slice the API serves from.
type AccountReader interface {
	GetAccount(ctx context.Context, remoteID string) (*models.AdAccount, error)
	ListAccounts(ctx context.Context) ([]models.AdAccount, error)
}

// Server hosts the HTTP API. It implements suture.Service.
type Server struct {
	cfg      config.ServerConfig
	engine   *syncengine.Engine
	accounts AccountReader
	router   chi.Router
}

// NewServer wires the routes.
func NewServer(cfg config.ServerConfig, security config.SecurityConfig, engine *syncengine.Engine, accounts AccountReader) *Server {
	s := &Server{cfg: cfg, engine: engine, accounts: accounts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	if !security.RateLimitDisabled {
		r.Use(httprate.LimitByIP(security.RateLimitReqs, security.RateLimitWindow))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts", s.handleListAccounts)
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/sync", s.handleSyncStatus)
			r.Post("/sync", s.handleSyncTrigger)
		})
		r.Post("/sync/run", s.handleSweep)
	})

	s.router = r
	return s
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Serve runs the HTTP listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) String() string { return "http-server" }

// Handler returns the router, used directly by tests.
func (s *Server) Handler() http.Handler { return s.router }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.ListAccounts(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Listing accounts failed")
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []models.AdAccount{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	account, err := s.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		logging.Error().Err(err).Str("account_id", accountID).Msg("Loading account failed")
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":     account.RemoteID,
		"sync_status":    account.SyncStatus,
		"last_synced_at": account.LastSyncedAt,
		"last_error":     account.LastError,
		"needs_reauth":   account.NeedsReauth,
	})
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var opts models.SyncOptions
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	result, err := s.engine.SyncAccount(r.Context(), accountID, opts)
	if err != nil {
		logging.Error().Err(err).Str("account_id", accountID).Msg("Sync failed")
		status := http.StatusBadGateway
		if result == nil {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	// The sweep can span many accounts; run it detached from the
	// request and report acceptance.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := s.engine.SyncDueAccounts(ctx, models.SyncOptions{}); err != nil {
			logging.Error().Err(err).Msg("Fleet sweep failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}
