// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package sync reconciles the remote advertising hierarchy into local
// storage. One run walks campaigns, then ad sets per campaign, then ads
// per ad set, upserting each entity keyed by its remote id. The batch
// is best-effort: a single item's failure is recorded and skipped,
// never aborting the run. Token expiry is the one exception; it aborts
// immediately and propagates unchanged so the account can be flagged
// for re-authentication.
package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/logging"
	"github.com/tomtom215/adsync/internal/metrics"
	"github.com/tomtom215/adsync/internal/models"
	"github.com/tomtom215/adsync/internal/platform"
	"github.com/tomtom215/adsync/internal/token"
)

// PlatformClient is the slice of the API client the engine consumes.
type PlatformClient interface {
	ListCampaigns(ctx context.Context, accountID string) ([]models.Campaign, error)
	ListAdSets(ctx context.Context, campaignID string) ([]models.AdSet, error)
	ListAds(ctx context.Context, adSetID string) ([]models.Ad, error)
	GetInsights(ctx context.Context, entityID string, opts platform.InsightsOptions) (*models.Insights, error)
}

// EntityStore is the persistence surface the engine writes through.
type EntityStore interface {
	GetAccount(ctx context.Context, remoteID string) (*models.AdAccount, error)
	SetSyncState(ctx context.Context, remoteID string, status models.SyncStatus, lastError string, syncedAt *time.Time) error
	MarkNeedsReauth(ctx context.Context, remoteID string) error
	ListAccountsDue(ctx context.Context, cutoff time.Time) ([]models.AdAccount, error)
	UpsertCampaign(ctx context.Context, c *models.Campaign) error
	UpsertAdSet(ctx context.Context, s *models.AdSet) error
	UpsertAd(ctx context.Context, a *models.Ad) error
}

// CredentialStore resolves and invalidates per-account tokens.
type CredentialStore interface {
	GetToken(ctx context.Context, accountID string) (string, *time.Time, error)
	DeleteToken(ctx context.Context, accountID string) error
}

// ClientFactory builds an API client bound to one credential.
type ClientFactory func(accessToken string) PlatformClient

// Engine orchestrates sync runs across accounts. All collaborators are
// injected; the per-account locks are the engine's only own state.
type Engine struct {
	cfg         config.SyncConfig
	store       EntityStore
	credentials CredentialStore
	newClient   ClientFactory
	log         zerolog.Logger

	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

// NewEngine builds a sync engine.
func NewEngine(cfg config.SyncConfig, store EntityStore, credentials CredentialStore, factory ClientFactory) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       store,
		credentials: credentials,
		newClient:   factory,
		log:         logging.With().Str("component", "sync-engine").Logger(),
		locks:       make(map[string]*gosync.Mutex),
	}
}

// accountLock returns the mutex guarding one account's sync runs.
func (e *Engine) accountLock(accountID string) *gosync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &gosync.Mutex{}
		e.locks[accountID] = l
	}
	return l
}

// insightsOptions maps sync options onto the reporting window.
func (e *Engine) insightsOptions(opts models.SyncOptions) platform.InsightsOptions {
	if opts.DateFrom != "" && opts.DateTo != "" {
		return platform.InsightsOptions{Since: opts.DateFrom, Until: opts.DateTo}
	}
	return platform.InsightsOptions{DatePreset: e.cfg.DatePreset}
}

// SyncAccount runs a full three-level sync for one account. Concurrent
// triggers for the same account are single-flighted: the second caller
// gets an immediate zero-count success instead of redundant upstream
// work. The recency gate likewise skips accounts synced within the
// configured window unless force is set.
func (e *Engine) SyncAccount(ctx context.Context, accountID string, opts models.SyncOptions) (*models.SyncResult, error) {
	lock := e.accountLock(accountID)
	if !lock.TryLock() {
		e.log.Debug().Str("account_id", accountID).Msg("Sync already in flight, skipping")
		metrics.SyncOperations.WithLabelValues("skipped").Inc()
		return &models.SyncResult{Success: true, Errors: []string{}}, nil
	}
	defer lock.Unlock()

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if account == nil {
		return nil, fmt.Errorf("unknown account %s", accountID)
	}
	if account.NeedsReauth {
		return nil, fmt.Errorf("account %s requires re-authentication", accountID)
	}

	if !opts.Force && account.LastSyncedAt != nil && time.Since(*account.LastSyncedAt) < e.cfg.RecencyWindow {
		e.log.Debug().Str("account_id", accountID).
			Time("last_synced", *account.LastSyncedAt).
			Msg("Account synced recently, skipping")
		metrics.SyncOperations.WithLabelValues("skipped").Inc()
		return &models.SyncResult{Success: true, Errors: []string{}}, nil
	}

	accessToken, _, err := e.credentials.GetToken(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading credential for %s: %w", accountID, err)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("no credential stored for account %s", accountID)
	}

	if err := e.store.SetSyncState(ctx, accountID, models.SyncSyncing, "", nil); err != nil {
		return nil, fmt.Errorf("marking account %s syncing: %w", accountID, err)
	}

	start := time.Now()
	result, err := e.reconcile(ctx, e.newClient(accessToken), accountID, opts)
	metrics.RecordSyncOperation(time.Since(start), len(result.Errors), err)

	if err != nil {
		// Revoked credentials get cleared so the next sweep does not
		// retry a dead token; the expiry error itself passes through.
		if token.IsRevoked(err) {
			e.log.Warn().Str("account_id", accountID).Err(err).
				Msg("Credential revoked, flagging account for re-authentication")
			if derr := e.credentials.DeleteToken(ctx, accountID); derr != nil {
				e.log.Error().Err(derr).Str("account_id", accountID).Msg("Failed to delete revoked credential")
			}
			if merr := e.store.MarkNeedsReauth(ctx, accountID); merr != nil {
				e.log.Error().Err(merr).Str("account_id", accountID).Msg("Failed to flag account for reauth")
			}
		}
		if serr := e.store.SetSyncState(ctx, accountID, models.SyncError, err.Error(), nil); serr != nil {
			e.log.Error().Err(serr).Str("account_id", accountID).Msg("Failed to record sync error state")
		}
		return result, err
	}

	now := time.Now()
	status := models.SyncIdle
	joined := ""
	if len(result.Errors) > 0 {
		status = models.SyncError
		joined = strings.Join(result.Errors, "; ")
	}
	if serr := e.store.SetSyncState(ctx, accountID, status, joined, &now); serr != nil {
		return result, fmt.Errorf("recording sync completion for %s: %w", accountID, serr)
	}

	e.log.Info().Str("account_id", accountID).
		Int("campaigns", result.CampaignsSynced).
		Int("adsets", result.AdSetsSynced).
		Int("ads", result.AdsSynced).
		Int("errors", len(result.Errors)).
		Dur("duration", time.Since(start)).
		Msg("Sync completed")
	return result, nil
}

// reconcile walks the three entity levels in order. It returns a non-nil
// result even on error so callers can see partial progress. The only
// error it returns is a batch-level failure: a level-zero fetch failure
// or token expiry anywhere.
func (e *Engine) reconcile(ctx context.Context, client PlatformClient, accountID string, opts models.SyncOptions) (*models.SyncResult, error) {
	result := &models.SyncResult{Errors: []string{}}
	insOpts := e.insightsOptions(opts)

	campaigns, err := client.ListCampaigns(ctx, accountID)
	if err != nil {
		return result, err
	}

	var syncedCampaigns []models.Campaign
	for i := range campaigns {
		c := campaigns[i]
		if err := e.attachAndUpsertCampaign(ctx, client, &c, insOpts); err != nil {
			if platform.IsTokenExpired(err) {
				return result, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("campaign %s: %v", c.RemoteID, err))
			metrics.SyncItemErrors.WithLabelValues("campaign").Inc()
			continue
		}
		result.CampaignsSynced++
		metrics.SyncEntitiesUpserted.WithLabelValues("campaign").Inc()
		syncedCampaigns = append(syncedCampaigns, c)
	}

	var syncedAdSets []models.AdSet
	for _, c := range syncedCampaigns {
		adSets, err := client.ListAdSets(ctx, c.RemoteID)
		if err != nil {
			if platform.IsTokenExpired(err) {
				return result, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("ad sets for campaign %s: %v", c.RemoteID, err))
			continue
		}
		for i := range adSets {
			s := adSets[i]
			if err := e.attachAndUpsertAdSet(ctx, client, &s, insOpts); err != nil {
				if platform.IsTokenExpired(err) {
					return result, err
				}
				result.Errors = append(result.Errors, fmt.Sprintf("ad set %s: %v", s.RemoteID, err))
				metrics.SyncItemErrors.WithLabelValues("adset").Inc()
				continue
			}
			result.AdSetsSynced++
			metrics.SyncEntitiesUpserted.WithLabelValues("adset").Inc()
			syncedAdSets = append(syncedAdSets, s)
		}
	}

	for _, s := range syncedAdSets {
		ads, err := client.ListAds(ctx, s.RemoteID)
		if err != nil {
			if platform.IsTokenExpired(err) {
				return result, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("ads for ad set %s: %v", s.RemoteID, err))
			continue
		}
		for i := range ads {
			a := ads[i]
			if err := e.attachAndUpsertAd(ctx, client, &a, insOpts); err != nil {
				if platform.IsTokenExpired(err) {
					return result, err
				}
				result.Errors = append(result.Errors, fmt.Sprintf("ad %s: %v", a.RemoteID, err))
				metrics.SyncItemErrors.WithLabelValues("ad").Inc()
				continue
			}
			result.AdsSynced++
			metrics.SyncEntitiesUpserted.WithLabelValues("ad").Inc()
		}
	}

	result.Success = true
	return result, nil
}

// fetchInsights tolerates every failure except token expiry, reading a
// failed lookup as "no insights for this window".
func (e *Engine) fetchInsights(ctx context.Context, client PlatformClient, entityID string, opts platform.InsightsOptions) (*models.Insights, error) {
	ins, err := client.GetInsights(ctx, entityID, opts)
	if err != nil {
		if platform.IsTokenExpired(err) {
			return nil, err
		}
		e.log.Debug().Err(err).Str("entity_id", entityID).Msg("Insights unavailable, continuing without")
		return nil, nil
	}
	return ins, nil
}

func (e *Engine) attachAndUpsertCampaign(ctx context.Context, client PlatformClient, c *models.Campaign, opts platform.InsightsOptions) error {
	ins, err := e.fetchInsights(ctx, client, c.RemoteID, opts)
	if err != nil {
		return err
	}
	c.Insights = ins
	if ins != nil {
		c.Spend = ins.Spend
	}
	return e.store.UpsertCampaign(ctx, c)
}

func (e *Engine) attachAndUpsertAdSet(ctx context.Context, client PlatformClient, s *models.AdSet, opts platform.InsightsOptions) error {
	ins, err := e.fetchInsights(ctx, client, s.RemoteID, opts)
	if err != nil {
		return err
	}
	s.Insights = ins
	return e.store.UpsertAdSet(ctx, s)
}

func (e *Engine) attachAndUpsertAd(ctx context.Context, client PlatformClient, a *models.Ad, opts platform.InsightsOptions) error {
	ins, err := e.fetchInsights(ctx, client, a.RemoteID, opts)
	if err != nil {
		return err
	}
	a.Insights = ins
	return e.store.UpsertAd(ctx, a)
}

// SyncDueAccounts runs SyncAccount sequentially for every account whose
// last sync is absent or older than the recency window. Sequential
// execution bounds upstream load to one account's pagination at a time.
// Per-account failures are logged and do not stop the sweep.
func (e *Engine) SyncDueAccounts(ctx context.Context, opts models.SyncOptions) error {
	cutoff := time.Now().Add(-e.cfg.RecencyWindow)
	due, err := e.store.ListAccountsDue(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing due accounts: %w", err)
	}

	e.log.Info().Int("accounts", len(due)).Msg("Starting sync sweep")
	for _, account := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.SyncAccount(ctx, account.RemoteID, opts); err != nil {
			e.log.Error().Err(err).Str("account_id", account.RemoteID).Msg("Account sync failed")
		}
	}
	return nil
}
