// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package database persists the mirrored entity hierarchy and account
// credentials in DuckDB. Entities are keyed by their upstream remote
// id, so sync runs are idempotent upserts rather than insert streams.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/logging"
)

// DB wraps the DuckDB handle and the credential encryptor.
type DB struct {
	conn      *sql.DB
	encryptor Encryptor
}

// Encryptor seals and opens credential records. A nil encryptor means
// tokens are stored in plaintext, which the composition root only
// allows when no master secret is configured.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(record string) (string, error)
}

// Open creates or opens the database file and ensures the schema.
func Open(cfg config.DatabaseConfig, enc Encryptor) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, threads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db := &DB{conn: conn, encryptor: enc}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("Database opened")
	return db, nil
}

// Close releases the database handle.
func (db *DB) Close() error {
	return db.conn.Close()
}

// insightsColumns is shared by all three entity tables.
const insightsColumns = `
	impressions BIGINT DEFAULT 0,
	clicks BIGINT DEFAULT 0,
	spend DOUBLE DEFAULT 0,
	reach BIGINT DEFAULT 0,
	frequency DOUBLE DEFAULT 0,
	ctr DOUBLE DEFAULT 0,
	cpc DOUBLE DEFAULT 0,
	cpm DOUBLE DEFAULT 0,
	conversions BIGINT DEFAULT 0,
	cost_per_conversion DOUBLE DEFAULT 0`

func (db *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ad_accounts (
			id VARCHAR NOT NULL,
			remote_id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL DEFAULT '',
			currency VARCHAR NOT NULL DEFAULT '',
			timezone VARCHAR NOT NULL DEFAULT '',
			status VARCHAR NOT NULL DEFAULT '',
			sync_status VARCHAR NOT NULL DEFAULT 'IDLE',
			last_synced_at TIMESTAMP,
			last_error VARCHAR NOT NULL DEFAULT '',
			needs_reauth BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id VARCHAR NOT NULL,
			remote_id VARCHAR PRIMARY KEY,
			account_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL DEFAULT '',
			status VARCHAR NOT NULL DEFAULT '',
			objective VARCHAR NOT NULL DEFAULT '',
			daily_budget DOUBLE DEFAULT 0,
			total_budget DOUBLE DEFAULT 0,
			` + insightsColumns + `,
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ad_sets (
			id VARCHAR NOT NULL,
			remote_id VARCHAR PRIMARY KEY,
			campaign_remote_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL DEFAULT '',
			status VARCHAR NOT NULL DEFAULT '',
			daily_budget DOUBLE DEFAULT 0,
			total_budget DOUBLE DEFAULT 0,
			bid_amount DOUBLE DEFAULT 0,
			` + insightsColumns + `,
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ads (
			id VARCHAR NOT NULL,
			remote_id VARCHAR PRIMARY KEY,
			adset_remote_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL DEFAULT '',
			status VARCHAR NOT NULL DEFAULT '',
			creative_id VARCHAR NOT NULL DEFAULT '',
			` + insightsColumns + `,
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			account_id VARCHAR PRIMARY KEY,
			token_record VARCHAR NOT NULL,
			encrypted BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_account ON campaigns(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_adsets_campaign ON ad_sets(campaign_remote_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ads_adset ON ads(adset_remote_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// nullTime converts a *time.Time into its sql representation.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
