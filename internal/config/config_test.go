// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestDefaultTimeouts(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Platform.ListTimeout != 30*time.Second {
		t.Errorf("expected 30s list timeout, got %v", cfg.Platform.ListTimeout)
	}
	if cfg.Platform.GetTimeout != 15*time.Second {
		t.Errorf("expected 15s get timeout, got %v", cfg.Platform.GetTimeout)
	}
	if cfg.Platform.MaxPages != 100 {
		t.Errorf("expected 100 page cap, got %d", cfg.Platform.MaxPages)
	}
	if cfg.Sync.RecencyWindow != 10*time.Minute {
		t.Errorf("expected 10m recency window, got %v", cfg.Sync.RecencyWindow)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Platform.BaseURL = "" }},
		{"zero max pages", func(c *Config) { c.Platform.MaxPages = 0 }},
		{"negative retries", func(c *Config) { c.Platform.MaxRetries = -1 }},
		{"usage threshold above 1", func(c *Config) { c.Platform.UsageThreshold = 1.5 }},
		{"zero global ceiling", func(c *Config) { c.Platform.Global.MaxRequests = 0 }},
		{"zero resource window", func(c *Config) { c.Platform.Resource.Window = 0 }},
		{"zero recency window", func(c *Config) { c.Sync.RecencyWindow = 0 }},
		{"zero sweep interval", func(c *Config) { c.Sync.SweepInterval = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"PLATFORM_BASE_URL", "platform.base_url"},
		{"SYNC_RECENCY_WINDOW", "sync.recency_window"},
		{"SERVER_PORT", "server.port"},
		{"SECURITY_ENCRYPTION_KEY", "security.encryption_key"},
		{"LOG_LEVEL", "logging.level"},
		{"LOGGING_FORMAT", "logging.format"},
		{"PATH", ""},
		{"HOME", ""},
		{"UNRELATED_THING", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.key); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
