// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package token

import (
	"context"
	"time"
)

// Store is the credential persistence slice the refresher needs.
type Store interface {
	ListExpiringTokens(ctx context.Context, withinDays int) ([]string, error)
	GetToken(ctx context.Context, accountID string) (string, *time.Time, error)
	SaveToken(ctx context.Context, accountID, token string, expiresAt *time.Time) error
}

// Refresher periodically exchanges tokens nearing expiry for
// long-lived ones. It implements suture.Service.
type Refresher struct {
	manager  *Manager
	store    Store
	interval time.Duration
}

// NewRefresher builds a refresher sweeping on the given interval.
func NewRefresher(manager *Manager, store Store, interval time.Duration) *Refresher {
	return &Refresher{manager: manager, store: store, interval: interval}
}

// Serve runs refresh sweeps until ctx is cancelled.
func (r *Refresher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Refresher) sweep(ctx context.Context) {
	ids, err := r.store.ListExpiringTokens(ctx, r.manager.cfg.TokenRefreshThresholdDays)
	if err != nil {
		r.manager.log.Error().Err(err).Msg("Listing expiring tokens failed")
		return
	}

	for _, id := range ids {
		accessToken, expiresAt, err := r.store.GetToken(ctx, id)
		if err != nil {
			r.manager.log.Error().Err(err).Str("account_id", id).Msg("Loading expiring token failed")
			continue
		}
		if accessToken == "" {
			continue
		}

		res, err := r.manager.RefreshIfNeeded(ctx, accessToken, expiresAt)
		if err != nil {
			r.manager.log.Error().Err(err).Str("account_id", id).Msg("Token refresh failed")
			continue
		}
		if !res.Refreshed {
			continue
		}
		if err := r.store.SaveToken(ctx, id, res.Token, res.ExpiresAt); err != nil {
			r.manager.log.Error().Err(err).Str("account_id", id).Msg("Persisting refreshed token failed")
		}
	}
}

func (r *Refresher) String() string { return "token-refresher" }
