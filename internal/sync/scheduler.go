// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package sync

import (
	"context"
	"time"

	"github.com/tomtom215/adsync/internal/models"
)

// Scheduler runs the fleet sweep on a fixed interval. It implements
// suture.Service; the supervision tree owns its lifetime and restarts
// it if the sweep panics.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
}

// NewScheduler builds a scheduler sweeping on the given interval.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{engine: engine, interval: interval}
}

// Serve runs an immediate sweep and then one per interval until ctx is
// cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.engine.SyncDueAccounts(ctx, models.SyncOptions{}); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.engine.SyncDueAccounts(ctx, models.SyncOptions{}); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (s *Scheduler) String() string { return "sync-scheduler" }
