// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package ratelimit implements client-side throttling for the upstream
// advertising API. Each key (a scope such as "global" or an ad account
// id) gets two gates that must both pass before a request is sent:
//
//   - a sliding window capping how many requests may start within the
//     configured period, computed from actual request timestamps rather
//     than fixed buckets, so bursts at bucket edges cannot double the
//     effective rate
//   - a minimum spacing between consecutive requests, enforced with a
//     token bucket of depth one
//
// Instances are constructed by the caller and passed to the API client,
// so tests can use tight limits without cross-test interference.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/adsync/internal/metrics"
)

// Config bounds one limiter instance.
type Config struct {
	// MaxRequests is the cap on requests per Window.
	MaxRequests int
	// Window is the sliding period over which MaxRequests applies.
	Window time.Duration
	// MinInterval is the minimum spacing between consecutive requests
	// for the same key.
	MinInterval time.Duration
}

// Stats is a snapshot of one key's limiter state.
type Stats struct {
	Key         string        `json:"key"`
	InWindow    int           `json:"in_window"`
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
	Waits       uint64        `json:"waits"`
}

// keyState holds the per-key tracking data.
type keyState struct {
	timestamps []time.Time
	spacer     *rate.Limiter
	waits      uint64
}

// Limiter throttles requests per key under a shared Config.
type Limiter struct {
	cfg   Config
	scope string

	mu   sync.Mutex
	keys map[string]*keyState
}

// New creates a limiter. The scope label ("global" or "resource") is
// used for metrics only.
func New(cfg Config, scope string) *Limiter {
	return &Limiter{
		cfg:   cfg,
		scope: scope,
		keys:  make(map[string]*keyState),
	}
}

// state returns the tracking state for key, creating it on first use.
// Caller must hold l.mu.
func (l *Limiter) state(key string) *keyState {
	ks, ok := l.keys[key]
	if !ok {
		ks = &keyState{
			spacer: rate.NewLimiter(rate.Every(l.cfg.MinInterval), 1),
		}
		l.keys[key] = ks
	}
	return ks
}

// prune drops timestamps older than the window. Caller must hold l.mu.
func (l *Limiter) prune(ks *keyState, now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(ks.timestamps) && !ks.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ks.timestamps = append(ks.timestamps[:0], ks.timestamps[i:]...)
	}
}

// CheckLimit reports whether a request for key could start now without
// waiting. It does not reserve a slot.
func (l *Limiter) CheckLimit(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ks := l.state(key)
	l.prune(ks, now)
	if len(ks.timestamps) >= l.cfg.MaxRequests {
		return false
	}
	return ks.spacer.Tokens() >= 1
}

// WaitForLimit blocks until both gates admit a request for key, records
// the request timestamp, and returns. It returns early with the
// context's error if ctx is cancelled while waiting.
func (l *Limiter) WaitForLimit(ctx context.Context, key string) error {
	waited := false
	start := time.Now()

	for {
		now := time.Now()

		l.mu.Lock()
		ks := l.state(key)
		l.prune(ks, now)

		if len(ks.timestamps) < l.cfg.MaxRequests {
			// Window has room; the spacer wait happens outside the lock.
			ks.timestamps = append(ks.timestamps, now)
			spacer := ks.spacer
			if waited {
				ks.waits++
			}
			l.mu.Unlock()

			if err := spacer.Wait(ctx); err != nil {
				l.unrecord(key, now)
				return fmt.Errorf("rate limit spacing wait: %w", err)
			}
			if waited {
				metrics.RateLimiterWaits.WithLabelValues(l.scope).Inc()
				metrics.RateLimiterWaitDuration.WithLabelValues(l.scope).Observe(time.Since(start).Seconds())
			}
			return nil
		}

		// Window is full. Sleep until the oldest entry ages out.
		oldest := ks.timestamps[0]
		l.mu.Unlock()

		waited = true
		wait := time.Until(oldest.Add(l.cfg.Window))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit window wait: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// unrecord removes a previously recorded timestamp after a cancelled
// spacer wait, so abandoned requests do not consume window capacity.
func (l *Limiter) unrecord(key string, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ks, ok := l.keys[key]
	if !ok {
		return
	}
	for i, t := range ks.timestamps {
		if t.Equal(ts) {
			ks.timestamps = append(ks.timestamps[:i], ks.timestamps[i+1:]...)
			return
		}
	}
}

// Reset clears all tracking state for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}

// Stats returns a snapshot for key.
func (l *Limiter) Stats(key string) Stats {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ks := l.state(key)
	l.prune(ks, now)
	return Stats{
		Key:         key,
		InWindow:    len(ks.timestamps),
		MaxRequests: l.cfg.MaxRequests,
		Window:      l.cfg.Window,
		Waits:       ks.waits,
	}
}
