// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential storage. Tokens are sealed with the configured encryptor
// before they touch disk; rows remember whether they were encrypted so
// a deployment that later enables encryption still reads old rows.

// SaveToken stores the access token for an account, replacing any
// existing credential.
func (db *DB) SaveToken(ctx context.Context, accountID, token string, expiresAt *time.Time) error {
	record := token
	encrypted := false
	if db.encryptor != nil {
		var err error
		record, err = db.encryptor.Encrypt(token)
		if err != nil {
			return fmt.Errorf("encrypting token for %s: %w", accountID, err)
		}
		encrypted = true
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO credentials (account_id, token_record, encrypted, expires_at, updated_at)
		VALUES (?, ?, ?, ?, now())
		ON CONFLICT (account_id) DO UPDATE SET
			token_record = excluded.token_record,
			encrypted = excluded.encrypted,
			expires_at = excluded.expires_at,
			updated_at = now()`,
		accountID, record, encrypted, nullTime(expiresAt))
	if err != nil {
		return fmt.Errorf("saving token for %s: %w", accountID, err)
	}
	return nil
}

// GetToken returns the plaintext token and expiry for an account, or
// empty string when no credential is stored. A record that fails to
// decrypt is a hard error, never silently returned.
func (db *DB) GetToken(ctx context.Context, accountID string) (string, *time.Time, error) {
	var record string
	var encrypted bool
	var expires sql.NullTime

	err := db.conn.QueryRowContext(ctx, `
		SELECT token_record, encrypted, expires_at
		FROM credentials WHERE account_id = ?`, accountID).
		Scan(&record, &encrypted, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("querying token for %s: %w", accountID, err)
	}

	if encrypted {
		if db.encryptor == nil {
			return "", nil, fmt.Errorf("token for %s is encrypted but no encryption key is configured", accountID)
		}
		record, err = db.encryptor.Decrypt(record)
		if err != nil {
			return "", nil, fmt.Errorf("decrypting token for %s: %w", accountID, err)
		}
	}
	return record, timePtr(expires), nil
}

// DeleteToken removes the stored credential for an account.
func (db *DB) DeleteToken(ctx context.Context, accountID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM credentials WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("deleting token for %s: %w", accountID, err)
	}
	return nil
}

// ListExpiringTokens returns the account ids whose credentials expire
// within the given number of days, soonest first. Credentials without a
// known expiry are excluded.
func (db *DB) ListExpiringTokens(ctx context.Context, withinDays int) ([]string, error) {
	cutoff := time.Now().Add(time.Duration(withinDays) * 24 * time.Hour)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT account_id FROM credentials
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing expiring tokens: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expiring token row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
