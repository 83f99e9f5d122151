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

	"github.com/google/uuid"

	"github.com/tomtom215/adsync/internal/models"
)

// flattenInsights returns the ten metric values in column order,
// defaulting to zeros when the entity has no insights.
func flattenInsights(ins *models.Insights) []any {
	if ins == nil {
		ins = &models.Insights{}
	}
	return []any{
		ins.Impressions, ins.Clicks, ins.Spend, ins.Reach, ins.Frequency,
		ins.CTR, ins.CPC, ins.CPM, ins.Conversions, ins.CostPerConversion,
	}
}

const insightsCols = "impressions, clicks, spend, reach, frequency, ctr, cpc, cpm, conversions, cost_per_conversion"

func scanInsights(ins *models.Insights) []any {
	return []any{
		&ins.Impressions, &ins.Clicks, &ins.Spend, &ins.Reach, &ins.Frequency,
		&ins.CTR, &ins.CPC, &ins.CPM, &ins.Conversions, &ins.CostPerConversion,
	}
}

// UpsertAccount creates or updates an account row keyed by remote id.
// Sync bookkeeping columns are preserved on update.
func (db *DB) UpsertAccount(ctx context.Context, a *models.AdAccount) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO ad_accounts (id, remote_id, name, currency, timezone, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (remote_id) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			timezone = excluded.timezone,
			status = excluded.status,
			updated_at = now()`,
		uuid.NewString(), a.RemoteID, a.Name, a.Currency, a.Timezone, a.Status)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.RemoteID, err)
	}
	return nil
}

const accountCols = `id, remote_id, name, currency, timezone, status,
	sync_status, last_synced_at, last_error, needs_reauth, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.AdAccount, error) {
	var a models.AdAccount
	var lastSynced sql.NullTime
	err := row.Scan(&a.ID, &a.RemoteID, &a.Name, &a.Currency, &a.Timezone, &a.Status,
		&a.SyncStatus, &lastSynced, &a.LastError, &a.NeedsReauth, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.LastSyncedAt = timePtr(lastSynced)
	return &a, nil
}

// GetAccount returns the account with the given remote id, or nil when
// it does not exist.
func (db *DB) GetAccount(ctx context.Context, remoteID string) (*models.AdAccount, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM ad_accounts WHERE remote_id = ?`, remoteID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying account %s: %w", remoteID, err)
	}
	return a, nil
}

// ListAccounts returns every tracked account.
func (db *DB) ListAccounts(ctx context.Context) ([]models.AdAccount, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+accountCols+` FROM ad_accounts ORDER BY remote_id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.AdAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// ListAccountsDue returns accounts never synced or last synced before
// cutoff, excluding those awaiting re-authentication.
func (db *DB) ListAccountsDue(ctx context.Context, cutoff time.Time) ([]models.AdAccount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+accountCols+` FROM ad_accounts
		WHERE needs_reauth = FALSE
		  AND (last_synced_at IS NULL OR last_synced_at < ?)
		ORDER BY last_synced_at NULLS FIRST`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing due accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.AdAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning due account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// SetSyncState updates the sync bookkeeping for an account.
func (db *DB) SetSyncState(ctx context.Context, remoteID string, status models.SyncStatus, lastError string, syncedAt *time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE ad_accounts
		SET sync_status = ?, last_error = ?,
		    last_synced_at = COALESCE(?, last_synced_at),
		    updated_at = now()
		WHERE remote_id = ?`,
		string(status), lastError, nullTime(syncedAt), remoteID)
	if err != nil {
		return fmt.Errorf("updating sync state for %s: %w", remoteID, err)
	}
	return nil
}

// MarkNeedsReauth flags an account whose credential was revoked.
func (db *DB) MarkNeedsReauth(ctx context.Context, remoteID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE ad_accounts
		SET needs_reauth = TRUE, sync_status = 'ERROR', updated_at = now()
		WHERE remote_id = ?`, remoteID)
	if err != nil {
		return fmt.Errorf("marking account %s for reauth: %w", remoteID, err)
	}
	return nil
}

// UpsertCampaign creates or updates a campaign keyed by remote id.
func (db *DB) UpsertCampaign(ctx context.Context, c *models.Campaign) error {
	args := []any{uuid.NewString(), c.RemoteID, c.AccountID, c.Name, c.Status,
		c.Objective, c.DailyBudget, c.TotalBudget}
	args = append(args, flattenInsights(c.Insights)...)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO campaigns (id, remote_id, account_id, name, status, objective,
			daily_budget, total_budget, `+insightsCols+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (remote_id) DO UPDATE SET
			account_id = excluded.account_id,
			name = excluded.name,
			status = excluded.status,
			objective = excluded.objective,
			daily_budget = excluded.daily_budget,
			total_budget = excluded.total_budget,
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			spend = excluded.spend,
			reach = excluded.reach,
			frequency = excluded.frequency,
			ctr = excluded.ctr,
			cpc = excluded.cpc,
			cpm = excluded.cpm,
			conversions = excluded.conversions,
			cost_per_conversion = excluded.cost_per_conversion,
			updated_at = now()`, args...)
	if err != nil {
		return fmt.Errorf("upserting campaign %s: %w", c.RemoteID, err)
	}
	return nil
}

// FindCampaign returns the campaign with the given remote id, or nil.
func (db *DB) FindCampaign(ctx context.Context, remoteID string) (*models.Campaign, error) {
	var c models.Campaign
	ins := &models.Insights{}
	dest := []any{&c.ID, &c.RemoteID, &c.AccountID, &c.Name, &c.Status, &c.Objective,
		&c.DailyBudget, &c.TotalBudget}
	dest = append(dest, scanInsights(ins)...)
	dest = append(dest, &c.CreatedAt, &c.UpdatedAt)

	err := db.conn.QueryRowContext(ctx, `
		SELECT id, remote_id, account_id, name, status, objective,
			daily_budget, total_budget, `+insightsCols+`, created_at, updated_at
		FROM campaigns WHERE remote_id = ?`, remoteID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying campaign %s: %w", remoteID, err)
	}
	c.Insights = ins
	return &c, nil
}

// ListCampaignsByAccount returns the campaigns mirrored for an account.
func (db *DB) ListCampaignsByAccount(ctx context.Context, accountID string) ([]models.Campaign, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, remote_id, account_id, name, status, objective,
			daily_budget, total_budget, `+insightsCols+`, created_at, updated_at
		FROM campaigns WHERE account_id = ? ORDER BY remote_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns for %s: %w", accountID, err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		ins := &models.Insights{}
		dest := []any{&c.ID, &c.RemoteID, &c.AccountID, &c.Name, &c.Status, &c.Objective,
			&c.DailyBudget, &c.TotalBudget}
		dest = append(dest, scanInsights(ins)...)
		dest = append(dest, &c.CreatedAt, &c.UpdatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning campaign: %w", err)
		}
		c.Insights = ins
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpsertAdSet creates or updates an ad set keyed by remote id.
func (db *DB) UpsertAdSet(ctx context.Context, s *models.AdSet) error {
	args := []any{uuid.NewString(), s.RemoteID, s.CampaignRemoteID, s.Name, s.Status,
		s.DailyBudget, s.TotalBudget, s.BidAmount}
	args = append(args, flattenInsights(s.Insights)...)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO ad_sets (id, remote_id, campaign_remote_id, name, status,
			daily_budget, total_budget, bid_amount, `+insightsCols+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (remote_id) DO UPDATE SET
			campaign_remote_id = excluded.campaign_remote_id,
			name = excluded.name,
			status = excluded.status,
			daily_budget = excluded.daily_budget,
			total_budget = excluded.total_budget,
			bid_amount = excluded.bid_amount,
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			spend = excluded.spend,
			reach = excluded.reach,
			frequency = excluded.frequency,
			ctr = excluded.ctr,
			cpc = excluded.cpc,
			cpm = excluded.cpm,
			conversions = excluded.conversions,
			cost_per_conversion = excluded.cost_per_conversion,
			updated_at = now()`, args...)
	if err != nil {
		return fmt.Errorf("upserting ad set %s: %w", s.RemoteID, err)
	}
	return nil
}

// ListAdSetsByCampaign returns the ad sets under a campaign remote id.
func (db *DB) ListAdSetsByCampaign(ctx context.Context, campaignRemoteID string) ([]models.AdSet, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, remote_id, campaign_remote_id, name, status,
			daily_budget, total_budget, bid_amount, `+insightsCols+`, created_at, updated_at
		FROM ad_sets WHERE campaign_remote_id = ? ORDER BY remote_id`, campaignRemoteID)
	if err != nil {
		return nil, fmt.Errorf("listing ad sets for %s: %w", campaignRemoteID, err)
	}
	defer rows.Close()

	var adSets []models.AdSet
	for rows.Next() {
		var s models.AdSet
		ins := &models.Insights{}
		dest := []any{&s.ID, &s.RemoteID, &s.CampaignRemoteID, &s.Name, &s.Status,
			&s.DailyBudget, &s.TotalBudget, &s.BidAmount}
		dest = append(dest, scanInsights(ins)...)
		dest = append(dest, &s.CreatedAt, &s.UpdatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning ad set: %w", err)
		}
		s.Insights = ins
		adSets = append(adSets, s)
	}
	return adSets, rows.Err()
}

// UpsertAd creates or updates an ad keyed by remote id.
func (db *DB) UpsertAd(ctx context.Context, a *models.Ad) error {
	args := []any{uuid.NewString(), a.RemoteID, a.AdSetRemoteID, a.Name, a.Status, a.CreativeID}
	args = append(args, flattenInsights(a.Insights)...)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO ads (id, remote_id, adset_remote_id, name, status, creative_id,
			`+insightsCols+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (remote_id) DO UPDATE SET
			adset_remote_id = excluded.adset_remote_id,
			name = excluded.name,
			status = excluded.status,
			creative_id = excluded.creative_id,
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			spend = excluded.spend,
			reach = excluded.reach,
			frequency = excluded.frequency,
			ctr = excluded.ctr,
			cpc = excluded.cpc,
			cpm = excluded.cpm,
			conversions = excluded.conversions,
			cost_per_conversion = excluded.cost_per_conversion,
			updated_at = now()`, args...)
	if err != nil {
		return fmt.Errorf("upserting ad %s: %w", a.RemoteID, err)
	}
	return nil
}

// ListAdsByAdSet returns the ads under an ad set remote id.
func (db *DB) ListAdsByAdSet(ctx context.Context, adSetRemoteID string) ([]models.Ad, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, remote_id, adset_remote_id, name, status, creative_id,
			`+insightsCols+`, created_at, updated_at
		FROM ads WHERE adset_remote_id = ? ORDER BY remote_id`, adSetRemoteID)
	if err != nil {
		return nil, fmt.Errorf("listing ads for %s: %w", adSetRemoteID, err)
	}
	defer rows.Close()

	var ads []models.Ad
	for rows.Next() {
		var a models.Ad
		ins := &models.Insights{}
		dest := []any{&a.ID, &a.RemoteID, &a.AdSetRemoteID, &a.Name, &a.Status, &a.CreativeID}
		dest = append(dest, scanInsights(ins)...)
		dest = append(dest, &a.CreatedAt, &a.UpdatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning ad: %w", err)
		}
		a.Insights = ins
		ads = append(ads, a)
	}
	return ads, rows.Err()
}
