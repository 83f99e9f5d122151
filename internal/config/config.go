// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration for AdSync.
//
// Configuration is loaded in layers (defaults, optional YAML file,
// environment variables) via LoadWithKoanf. Each sub-config maps to one
// subsystem and is passed to that subsystem's constructor from the
// composition root; no package reads configuration globally.
type Config struct {
	Platform PlatformConfig `koanf:"platform"`
	Sync     SyncConfig     `koanf:"sync"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// PlatformConfig configures the remote advertising-platform API client.
type PlatformConfig struct {
	// BaseURL is the versioned REST base, e.g. "https://graph.example.com/v19.0".
	BaseURL string `koanf:"base_url"`

	// AppID and AppSecret identify this application for token exchange.
	AppID     string `koanf:"app_id"`
	AppSecret string `koanf:"app_secret"`

	// ListTimeout bounds paginated list calls; GetTimeout bounds
	// single-entity, insights and token-validation calls.
	ListTimeout time.Duration `koanf:"list_timeout"`
	GetTimeout  time.Duration `koanf:"get_timeout"`

	// MaxPages is the hard cap on pages fetched by one list call.
	MaxPages int `koanf:"max_pages"`

	// MaxRetries bounds in-place retries for rate-limit and transient
	// upstream failures.
	MaxRetries int `koanf:"max_retries"`

	// PageSize is the per-page limit requested from the upstream.
	PageSize int `koanf:"page_size"`

	// UsageThreshold is the fraction of reported quota usage at which the
	// client proactively pauses between pages; UsagePause is how long.
	UsageThreshold float64       `koanf:"usage_threshold"`
	UsagePause     time.Duration `koanf:"usage_pause"`

	// Global is the application-wide rate limit; Resource is the narrower
	// per-sub-resource limit. Both gates are acquired before every call.
	Global   RateLimitConfig `koanf:"global_rate"`
	Resource RateLimitConfig `koanf:"resource_rate"`

	// Cache TTLs per resource class.
	AccountCacheTTL       time.Duration `koanf:"account_cache_ttl"`
	EntityCacheTTL        time.Duration `koanf:"entity_cache_ttl"`
	InsightsCacheTTL      time.Duration `koanf:"insights_cache_ttl"`
	EmptyInsightsCacheTTL time.Duration `koanf:"empty_insights_cache_ttl"`

	// CacheCleanupInterval is how often the cache janitor prunes expired
	// entries across all cache classes.
	CacheCleanupInterval time.Duration `koanf:"cache_cleanup_interval"`

	// Token lifecycle thresholds (days).
	TokenRefreshThresholdDays int `koanf:"token_refresh_threshold_days"`
	TokenSkipRefreshDays      int `koanf:"token_skip_refresh_days"`
}

// RateLimitConfig describes one sliding-window rate limit scope.
type RateLimitConfig struct {
	// MaxRequests is the ceiling within Window.
	MaxRequests int `koanf:"max_requests"`

	// Window is the trailing window duration.
	Window time.Duration `koanf:"window"`

	// MinInterval is the minimum spacing between consecutive requests for
	// the same key, enforced independently of the window count.
	MinInterval time.Duration `koanf:"min_interval"`
}

// SyncConfig configures the reconciliation engine.
type SyncConfig struct {
	// RecencyWindow is how fresh a previous sync must be for a new
	// non-forced sync of the same account to be skipped.
	RecencyWindow time.Duration `koanf:"recency_window"`

	// SweepInterval is how often the scheduler scans for due accounts.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// DatePreset is the default insights range when no explicit dates are
	// given, e.g. "last_30d".
	DatePreset string `koanf:"date_preset"`
}

// DatabaseConfig configures the local DuckDB mirror store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use runtime.NumCPU()
}

// ServerConfig configures the operational HTTP API.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecurityConfig holds credential-encryption and HTTP rate-limit settings.
type SecurityConfig struct {
	// EncryptionKey is the base64-encoded master secret used to derive
	// per-record credential encryption keys. Empty disables encryption at
	// rest (tokens stored as-is); production deployments must set it.
	EncryptionKey string `koanf:"encryption_key"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would break subsystems
// at runtime. It is called by LoadWithKoanf after all layers are merged.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validatePlatform,
		c.validateSync,
		c.validateServer,
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validatePlatform() error {
	p := &c.Platform

	if p.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if _, err := url.Parse(p.BaseURL); err != nil {
		return fmt.Errorf("platform.base_url is not a valid URL: %w", err)
	}
	if p.MaxPages <= 0 {
		return fmt.Errorf("platform.max_pages must be positive, got %d", p.MaxPages)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("platform.max_retries must not be negative, got %d", p.MaxRetries)
	}
	if p.UsageThreshold <= 0 || p.UsageThreshold > 1 {
		return fmt.Errorf("platform.usage_threshold must be in (0, 1], got %g", p.UsageThreshold)
	}
	for name, rl := range map[string]RateLimitConfig{"global_rate": p.Global, "resource_rate": p.Resource} {
		if rl.MaxRequests <= 0 {
			return fmt.Errorf("platform.%s.max_requests must be positive", name)
		}
		if rl.Window <= 0 {
			return fmt.Errorf("platform.%s.window must be positive", name)
		}
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.RecencyWindow <= 0 {
		return fmt.Errorf("sync.recency_window must be positive")
	}
	if c.Sync.SweepInterval <= 0 {
		return fmt.Errorf("sync.sweep_interval must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	return nil
}
