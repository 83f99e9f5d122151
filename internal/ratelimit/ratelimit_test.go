// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxRequests: 3,
		Window:      100 * time.Millisecond,
		MinInterval: time.Millisecond,
	}
}

func TestCheckLimitAllowsUnderCap(t *testing.T) {
	l := New(testConfig(), "test")

	if !l.CheckLimit("k") {
		t.Error("fresh key should be under the limit")
	}
}

func TestWindowCapBlocks(t *testing.T) {
	l := New(testConfig(), "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.WaitForLimit(ctx, "k"); err != nil {
			t.Fatalf("WaitForLimit() request %d: %v", i, err)
		}
	}

	if l.CheckLimit("k") {
		t.Error("CheckLimit should report full window")
	}

	// The fourth request must wait for the oldest timestamp to age out.
	start := time.Now()
	if err := l.WaitForLimit(ctx, "k"); err != nil {
		t.Fatalf("WaitForLimit() after full window: %v", err)
	}
	if waited := time.Since(start); waited < 50*time.Millisecond {
		t.Errorf("waited %v, expected to block until window slides", waited)
	}
}

func TestWindowSlides(t *testing.T) {
	l := New(testConfig(), "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.WaitForLimit(ctx, "k"); err != nil {
			t.Fatalf("WaitForLimit(): %v", err)
		}
	}

	time.Sleep(120 * time.Millisecond)
	if !l.CheckLimit("k") {
		t.Error("window should have slid past the old timestamps")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(testConfig(), "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.WaitForLimit(ctx, "a"); err != nil {
			t.Fatalf("WaitForLimit(a): %v", err)
		}
	}

	if !l.CheckLimit("b") {
		t.Error("filling key a must not throttle key b")
	}
}

func TestWaitHonorsContextCancel(t *testing.T) {
	l := New(testConfig(), "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.WaitForLimit(ctx, "k"); err != nil {
			t.Fatalf("WaitForLimit(): %v", err)
		}
	}

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.WaitForLimit(cctx, "k")
	if err == nil {
		t.Fatal("expected error from cancelled wait")
	}
}

func TestMinIntervalSpacing(t *testing.T) {
	l := New(Config{
		MaxRequests: 100,
		Window:      time.Minute,
		MinInterval: 20 * time.Millisecond,
	}, "test")
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.WaitForLimit(ctx, "k"); err != nil {
			t.Fatalf("WaitForLimit(): %v", err)
		}
	}
	// First request is free; the next two must each wait the interval.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("three requests took %v, expected spacing of at least 40ms total", elapsed)
	}
}

func TestReset(t *testing.T) {
	l := New(testConfig(), "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.WaitForLimit(ctx, "k"); err != nil {
			t.Fatalf("WaitForLimit(): %v", err)
		}
	}

	l.Reset("k")
	if !l.CheckLimit("k") {
		t.Error("Reset should clear the window")
	}
}

func TestStats(t *testing.T) {
	l := New(testConfig(), "test")
	ctx := context.Background()

	if err := l.WaitForLimit(ctx, "k"); err != nil {
		t.Fatalf("WaitForLimit(): %v", err)
	}

	s := l.Stats("k")
	if s.InWindow != 1 {
		t.Errorf("InWindow = %d, want 1", s.InWindow)
	}
	if s.MaxRequests != 3 {
		t.Errorf("MaxRequests = %d, want 3", s.MaxRequests)
	}
}
