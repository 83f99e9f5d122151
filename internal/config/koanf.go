// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/adsync/config.yaml",
	"/etc/adsync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			BaseURL:     "https://graph.facebook.com/v19.0",
			AppID:       "",
			AppSecret:   "",
			ListTimeout: 30 * time.Second,
			GetTimeout:  15 * time.Second,
			MaxPages:    100,
			MaxRetries:  4,
			PageSize:    100,
			// The upstream reports quota usage per response; at 95% the
			// client pauses between pages regardless of local bookkeeping.
			UsageThreshold: 0.95,
			UsagePause:     2 * time.Second,
			Global: RateLimitConfig{
				MaxRequests: 200,
				Window:      time.Hour,
				MinInterval: 100 * time.Millisecond,
			},
			Resource: RateLimitConfig{
				MaxRequests: 60,
				Window:      time.Minute,
				MinInterval: 50 * time.Millisecond,
			},
			AccountCacheTTL:           30 * time.Minute,
			EntityCacheTTL:            3 * time.Minute,
			InsightsCacheTTL:          10 * time.Minute,
			EmptyInsightsCacheTTL:     2 * time.Minute,
			CacheCleanupInterval:      5 * time.Minute,
			TokenRefreshThresholdDays: 7,
			TokenSkipRefreshDays:      30,
		},
		Sync: SyncConfig{
			RecencyWindow: 10 * time.Minute,
			SweepInterval: 15 * time.Minute,
			DatePreset:    "last_30d",
		},
		Database: DatabaseConfig{
			Path:      "/data/adsync.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3900,
			Timeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			EncryptionKey:     "",
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any setting
//
// Precedence is ENV > File > Defaults. Environment variable names map to
// koanf paths by lowercasing and replacing the first underscore with a dot:
// PLATFORM_BASE_URL -> platform.base_url, SYNC_RECENCY_WINDOW ->
// sync.recency_window.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envPrefixes maps leading environment-variable segments to config sections.
// Only variables with a known prefix are loaded, so unrelated process
// environment (PATH, HOME, ...) never leaks into the config tree.
var envPrefixes = []string{
	"PLATFORM_",
	"SYNC_",
	"DATABASE_",
	"SERVER_",
	"SECURITY_",
	"LOGGING_",
	"LOG_",
}

// envTransformFunc converts an environment variable name to a koanf path.
// PLATFORM_BASE_URL becomes platform.base_url; names without a recognized
// prefix are dropped (empty key).
func envTransformFunc(key string) string {
	for _, prefix := range envPrefixes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		section := strings.ToLower(strings.TrimSuffix(prefix, "_"))
		if section == "log" {
			section = "logging"
		}
		rest := strings.ToLower(strings.TrimPrefix(key, prefix))
		if rest == "" {
			return ""
		}
		return section + "." + rest
	}
	return ""
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
