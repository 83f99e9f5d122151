// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package models defines the domain types mirrored from the upstream
// advertising platform and the local bookkeeping that rides along with
// them. Remote monetary figures arrive as minor-unit integers (cents)
// and are stored locally as major-unit decimals.
package models

import (
	"time"
)

// SyncStatus is the per-account sync state machine value.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "IDLE"
	SyncSyncing SyncStatus = "SYNCING"
	SyncError   SyncStatus = "ERROR"
)

// AdAccount is a remote advertising account tracked locally, together
// with its sync bookkeeping.
type AdAccount struct {
	ID           string     `json:"id" db:"id"`
	RemoteID     string     `json:"remote_id" db:"remote_id"`
	Name         string     `json:"name" db:"name"`
	Currency     string     `json:"currency" db:"currency"`
	Timezone     string     `json:"timezone" db:"timezone"`
	Status       string     `json:"status" db:"status"`
	SyncStatus   SyncStatus `json:"sync_status" db:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	LastError    string     `json:"last_error,omitempty" db:"last_error"`
	NeedsReauth  bool       `json:"needs_reauth" db:"needs_reauth"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Campaign is the top level of the entity hierarchy.
type Campaign struct {
	ID          string    `json:"id" db:"id"`
	RemoteID    string    `json:"remote_id" db:"remote_id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Name        string    `json:"name" db:"name"`
	Status      string    `json:"status" db:"status"`
	Objective   string    `json:"objective" db:"objective"`
	DailyBudget float64   `json:"daily_budget" db:"daily_budget"`
	TotalBudget float64   `json:"total_budget" db:"total_budget"`
	Spend       float64   `json:"spend" db:"spend"`
	Insights    *Insights `json:"insights,omitempty" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// AdSet belongs to exactly one campaign, referenced by remote id.
type AdSet struct {
	ID               string    `json:"id" db:"id"`
	RemoteID         string    `json:"remote_id" db:"remote_id"`
	CampaignRemoteID string    `json:"campaign_remote_id" db:"campaign_remote_id"`
	Name             string    `json:"name" db:"name"`
	Status           string    `json:"status" db:"status"`
	DailyBudget      float64   `json:"daily_budget" db:"daily_budget"`
	TotalBudget      float64   `json:"total_budget" db:"total_budget"`
	BidAmount        float64   `json:"bid_amount" db:"bid_amount"`
	Insights         *Insights `json:"insights,omitempty" db:"-"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Ad belongs to exactly one ad set, referenced by remote id.
type Ad struct {
	ID            string    `json:"id" db:"id"`
	RemoteID      string    `json:"remote_id" db:"remote_id"`
	AdSetRemoteID string    `json:"adset_remote_id" db:"adset_remote_id"`
	Name          string    `json:"name" db:"name"`
	Status        string    `json:"status" db:"status"`
	CreativeID    string    `json:"creative_id" db:"creative_id"`
	Insights      *Insights `json:"insights,omitempty" db:"-"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Insights is the per-entity performance metric set for a date window.
type Insights struct {
	Impressions       int64   `json:"impressions" db:"impressions"`
	Clicks            int64   `json:"clicks" db:"clicks"`
	Spend             float64 `json:"spend" db:"spend"`
	Reach             int64   `json:"reach" db:"reach"`
	Frequency         float64 `json:"frequency" db:"frequency"`
	CTR               float64 `json:"ctr" db:"ctr"`
	CPC               float64 `json:"cpc" db:"cpc"`
	CPM               float64 `json:"cpm" db:"cpm"`
	Conversions       int64   `json:"conversions" db:"conversions"`
	CostPerConversion float64 `json:"cost_per_conversion" db:"cost_per_conversion"`
}

// MinorToMajor converts a minor-unit monetary amount (cents) to the
// major-unit decimal stored locally.
func MinorToMajor(minor int64) float64 {
	return float64(minor) / 100
}

// Credential is a bearer token for one account, with the attributes
// learned from introspection. The token string itself is encrypted at
// rest; this struct carries the plaintext in memory only.
type Credential struct {
	AccountID string     `json:"account_id"`
	Token     string     `json:"-"`
	AppID     string     `json:"app_id"`
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scopes    []string   `json:"scopes"`
	OwnerIDs  []string   `json:"owner_ids"`
}

// DaysUntilExpiry returns the whole days remaining before the token
// expires, or -1 when no expiry is known.
func (c *Credential) DaysUntilExpiry(now time.Time) int {
	if c.ExpiresAt == nil {
		return -1
	}
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// SyncResult summarizes one sync run for display and telemetry.
type SyncResult struct {
	Success         bool     `json:"success"`
	CampaignsSynced int      `json:"campaigns_synced"`
	AdSetsSynced    int      `json:"adsets_synced"`
	AdsSynced       int      `json:"ads_synced"`
	Errors          []string `json:"errors"`
}

// SyncOptions controls one sync run.
type SyncOptions struct {
	DateFrom string `json:"date_from,omitempty"` // YYYY-MM-DD
	DateTo   string `json:"date_to,omitempty"`   // YYYY-MM-DD
	Force    bool   `json:"force,omitempty"`
}
