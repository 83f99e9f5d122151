// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package models

import (
	"testing"
	"time"
)

func TestMinorToMajor(t *testing.T) {
	tests := []struct {
		minor int64
		want  float64
	}{
		{150000, 1500.00},
		{0, 0},
		{1, 0.01},
		{99, 0.99},
	}
	for _, tt := range tests {
		if got := MinorToMajor(tt.minor); got != tt.want {
			t.Errorf("MinorToMajor(%d) = %v, want %v", tt.minor, got, tt.want)
		}
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Now()

	c := Credential{}
	if got := c.DaysUntilExpiry(now); got != -1 {
		t.Errorf("no expiry: got %d, want -1", got)
	}

	future := now.Add(10*24*time.Hour + time.Hour)
	c.ExpiresAt = &future
	if got := c.DaysUntilExpiry(now); got != 10 {
		t.Errorf("10 days out: got %d, want 10", got)
	}

	past := now.Add(-time.Hour)
	c.ExpiresAt = &past
	if got := c.DaysUntilExpiry(now); got != 0 {
		t.Errorf("already expired: got %d, want 0", got)
	}
}
