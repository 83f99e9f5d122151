// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/models"
	"github.com/tomtom215/adsync/internal/platform"
)

// fakeStore is an in-memory EntityStore.
type fakeStore struct {
	mu        gosync.Mutex
	accounts  map[string]*models.AdAccount
	campaigns map[string]models.Campaign
	adSets    map[string]models.AdSet
	ads       map[string]models.Ad
	upsertErr map[string]error // keyed by remote id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  make(map[string]*models.AdAccount),
		campaigns: make(map[string]models.Campaign),
		adSets:    make(map[string]models.AdSet),
		ads:       make(map[string]models.Ad),
		upsertErr: make(map[string]error),
	}
}

func (f *fakeStore) GetAccount(_ context.Context, id string) (*models.AdAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) SetSyncState(_ context.Context, id string, status models.SyncStatus, lastError string, syncedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	a.SyncStatus = status
	a.LastError = lastError
	if syncedAt != nil {
		a.LastSyncedAt = syncedAt
	}
	return nil
}

func (f *fakeStore) MarkNeedsReauth(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[id].NeedsReauth = true
	return nil
}

func (f *fakeStore) ListAccountsDue(_ context.Context, cutoff time.Time) ([]models.AdAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.AdAccount
	for _, a := range f.accounts {
		if a.NeedsReauth {
			continue
		}
		if a.LastSyncedAt == nil || a.LastSyncedAt.Before(cutoff) {
			due = append(due, *a)
		}
	}
	return due, nil
}

func (f *fakeStore) UpsertCampaign(_ context.Context, c *models.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[c.RemoteID]; err != nil {
		return err
	}
	f.campaigns[c.RemoteID] = *c
	return nil
}

func (f *fakeStore) UpsertAdSet(_ context.Context, s *models.AdSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[s.RemoteID]; err != nil {
		return err
	}
	f.adSets[s.RemoteID] = *s
	return nil
}

func (f *fakeStore) UpsertAd(_ context.Context, a *models.Ad) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[a.RemoteID]; err != nil {
		return err
	}
	f.ads[a.RemoteID] = *a
	return nil
}

// fakeCreds is an in-memory CredentialStore.
type fakeCreds struct {
	mu     gosync.Mutex
	tokens map[string]string
}

func (f *fakeCreds) GetToken(_ context.Context, id string) (string, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[id], nil, nil
}

func (f *fakeCreds) DeleteToken(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, id)
	return nil
}

// fakeClient serves a fixed remote hierarchy with injectable failures.
type fakeClient struct {
	campaigns   map[string][]models.Campaign // by account id
	adSets      map[string][]models.AdSet    // by campaign remote id
	ads         map[string][]models.Ad       // by ad set remote id
	insights    map[string]*models.Insights  // by entity remote id
	insightsErr map[string]error
	listErr     map[string]error // by parent id
	blockUntil  chan struct{}    // when set, ListCampaigns waits
}

func (f *fakeClient) ListCampaigns(_ context.Context, accountID string) ([]models.Campaign, error) {
	if f.blockUntil != nil {
		<-f.blockUntil
	}
	if err := f.listErr[accountID]; err != nil {
		return nil, err
	}
	return f.campaigns[accountID], nil
}

func (f *fakeClient) ListAdSets(_ context.Context, campaignID string) ([]models.AdSet, error) {
	if err := f.listErr[campaignID]; err != nil {
		return nil, err
	}
	return f.adSets[campaignID], nil
}

func (f *fakeClient) ListAds(_ context.Context, adSetID string) ([]models.Ad, error) {
	if err := f.listErr[adSetID]; err != nil {
		return nil, err
	}
	return f.ads[adSetID], nil
}

func (f *fakeClient) GetInsights(_ context.Context, entityID string, _ platform.InsightsOptions) (*models.Insights, error) {
	if err := f.insightsErr[entityID]; err != nil {
		return nil, err
	}
	return f.insights[entityID], nil
}

// twoByTwo builds the canonical fixture: two campaigns, one ad set
// each, one ad each.
func twoByTwo() *fakeClient {
	return &fakeClient{
		campaigns: map[string][]models.Campaign{
			"act_1": {
				{RemoteID: "c_1", AccountID: "act_1", Name: "One", DailyBudget: 1500.00},
				{RemoteID: "c_2", AccountID: "act_1", Name: "Two"},
			},
		},
		adSets: map[string][]models.AdSet{
			"c_1": {{RemoteID: "s_1", CampaignRemoteID: "c_1"}},
			"c_2": {{RemoteID: "s_2", CampaignRemoteID: "c_2"}},
		},
		ads: map[string][]models.Ad{
			"s_1": {{RemoteID: "a_1", AdSetRemoteID: "s_1"}},
			"s_2": {{RemoteID: "a_2", AdSetRemoteID: "s_2"}},
		},
		insights: map[string]*models.Insights{
			"c_1": {Impressions: 10, Spend: 5.5},
		},
		insightsErr: make(map[string]error),
		listErr:     make(map[string]error),
	}
}

func testEngine(client PlatformClient) (*Engine, *fakeStore) {
	store := newFakeStore()
	store.accounts["act_1"] = &models.AdAccount{RemoteID: "act_1", SyncStatus: models.SyncIdle}
	creds := &fakeCreds{tokens: map[string]string{"act_1": "tok"}}
	engine := NewEngine(config.SyncConfig{
		RecencyWindow: 10 * time.Minute,
		DatePreset:    "last_30d",
	}, store, creds, func(string) PlatformClient { return client })
	return engine, store
}

func TestSyncAccountEndToEnd(t *testing.T) {
	engine, store := testEngine(twoByTwo())

	result, err := engine.SyncAccount(context.Background(), "act_1",
		models.SyncOptions{DateFrom: "2024-01-01", DateTo: "2024-01-31"})
	if err != nil {
		t.Fatalf("SyncAccount() error: %v", err)
	}
	if !result.Success {
		t.Error("Success = false")
	}
	if result.CampaignsSynced != 2 || result.AdSetsSynced != 2 || result.AdsSynced != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/2/2",
			result.CampaignsSynced, result.AdSetsSynced, result.AdsSynced)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want none", result.Errors)
	}

	if len(store.campaigns) != 2 || len(store.adSets) != 2 || len(store.ads) != 2 {
		t.Errorf("stored = %d/%d/%d, want 2/2/2",
			len(store.campaigns), len(store.adSets), len(store.ads))
	}
	if c := store.campaigns["c_1"]; c.Insights == nil || c.Insights.Impressions != 10 {
		t.Errorf("campaign c_1 insights = %+v, want impressions 10", c.Insights)
	}
	if c := store.campaigns["c_1"]; c.Spend != 5.5 {
		t.Errorf("campaign c_1 spend = %v, want 5.5 from insights", c.Spend)
	}
	if c := store.campaigns["c_1"]; c.DailyBudget != 1500.00 {
		t.Errorf("campaign c_1 budget = %v, want 1500.00", c.DailyBudget)
	}

	acct := store.accounts["act_1"]
	if acct.SyncStatus != models.SyncIdle {
		t.Errorf("SyncStatus = %q, want IDLE", acct.SyncStatus)
	}
	if acct.LastSyncedAt == nil {
		t.Error("LastSyncedAt not recorded")
	}
}

func TestSyncIdempotent(t *testing.T) {
	engine, store := testEngine(twoByTwo())
	ctx := context.Background()
	opts := models.SyncOptions{Force: true}

	for i := 0; i < 2; i++ {
		if _, err := engine.SyncAccount(ctx, "act_1", opts); err != nil {
			t.Fatalf("run %d error: %v", i, err)
		}
	}
	if len(store.campaigns) != 2 || len(store.adSets) != 2 || len(store.ads) != 2 {
		t.Errorf("stored = %d/%d/%d after double sync, want 2/2/2",
			len(store.campaigns), len(store.adSets), len(store.ads))
	}
}

func TestRecencyGateSkips(t *testing.T) {
	engine, store := testEngine(twoByTwo())
	recent := time.Now().Add(-time.Minute)
	store.accounts["act_1"].LastSyncedAt = &recent

	result, err := engine.SyncAccount(context.Background(), "act_1", models.SyncOptions{})
	if err != nil {
		t.Fatalf("SyncAccount() error: %v", err)
	}
	if !result.Success || result.CampaignsSynced != 0 {
		t.Errorf("result = %+v, want zero-count success", result)
	}
	if len(store.campaigns) != 0 {
		t.Error("recency-gated run must not touch storage")
	}
}

func TestForceBypassesRecencyGate(t *testing.T) {
	engine, store := testEngine(twoByTwo())
	recent := time.Now().Add(-time.Minute)
	store.accounts["act_1"].LastSyncedAt = &recent

	result, err := engine.SyncAccount(context.Background(), "act_1", models.SyncOptions{Force: true})
	if err != nil {
		t.Fatalf("SyncAccount() error: %v", err)
	}
	if result.CampaignsSynced != 2 {
		t.Errorf("CampaignsSynced = %d, want 2 with force", result.CampaignsSynced)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	client := &fakeClient{
		campaigns: map[string][]models.Campaign{
			"act_1": {{RemoteID: "c_1", AccountID: "act_1"}},
		},
		adSets: map[string][]models.AdSet{
			"c_1": {
				{RemoteID: "s_1", CampaignRemoteID: "c_1"},
				{RemoteID: "s_2", CampaignRemoteID: "c_1"},
				{RemoteID: "s_3", CampaignRemoteID: "c_1"},
			},
		},
		ads:         map[string][]models.Ad{},
		insights:    map[string]*models.Insights{},
		insightsErr: make(map[string]error),
		listErr:     make(map[string]error),
	}
	engine, store := testEngine(client)

	// Fail the middle ad set's upsert, not just its insights; insights
	// failures alone are tolerated without failing the item.
	store.upsertErr["s_2"] = errors.New("constraint violation")

	result, err := engine.SyncAccount(context.Background(), "act_1", models.SyncOptions{})
	if err != nil {
		t.Fatalf("SyncAccount() error: %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true with partial failures")
	}
	if result.AdSetsSynced != 2 {
		t.Errorf("AdSetsSynced = %d, want 2", result.AdSetsSynced)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if want := "ad set s_2"; !strings.Contains(result.Errors[0], want) {
		t.Errorf("error %q should identify %q", result.Errors[0], want)
	}
	if _, ok := store.adSets["s_1"]; !ok {
		t.Error("sibling s_1 missing")
	}
	if _, ok := store.adSets["s_3"]; !ok {
		t.Error("sibling s_3 missing")
	}

	if store.accounts["act_1"].SyncStatus != models.SyncError {
		t.Error("partial failures should leave status ERROR with the messages recorded")
	}
}

func TestInsightsFailureTolerated(t *testing.T) {
	client := twoByTwo()
	client.insightsErr["c_1"] = errors.New("insights backend down")

	engine, store := testEngine(client)
	result, err := engine.SyncAccount(context.Background(), "act_1", models.SyncOptions{})
	if err != nil {
		t.Fatalf("SyncAccount() error: %v", err)
	}
	if result.CampaignsSynced != 2 {
		t.Errorf("CampaignsSynced = %d, want 2 despite insights failure", result.CampaignsSynced)
	}
	if c := store.campaigns["c_1"]; c.Insights != nil {
		t.Errorf("c_1 insights = %+v, want nil when lookup failed", c.Insights)
	}
}

func TestTokenExpiryPropagatesAndFlagsAccount(t *testing.T) {
	client := twoByTwo()
	expiry := &platform.TokenExpiredError{Code: 190, Message: "Session has expired"}
	client.insightsErr["s_1"] = expiry

	engine, store := testEngine(client)
	creds := engine.credentials.(*fakeCreds)

	_, err := engine.SyncAccount(context.Background(), "act_1", models.SyncOptions{})
	if err == nil {
		t.Fatal("expected token expiry error")
	}
	if !platform.IsTokenExpired(err) {
		t.Fatalf("error %v lost its token-expiry type", err)
	}
	if !store.accounts["act_1"].NeedsReauth {
		t.Error("account not flagged for re-authentication")
	}
	if tok, _, _ := creds.GetToken(context.Background(), "act_1"); tok != "" {
		t.Error("revoked credential not deleted")
	}
	if store.accounts["act_1"].SyncStatus != models.SyncError {
		t.Errorf("SyncStatus = %q, want ERROR", store.accounts["act_1"].SyncStatus)
	}
}

func TestTopLevelFetchFailure(t *testing.T) {
	client := twoByTwo()
	client.listErr["act_1"] = errors.New("upstream 500")

	engine, store := testEngine(client)
	result, err := engine.SyncAccount(context.Background(), "act_1", models.SyncOptions{})
	if err == nil {
		t.Fatal("expected batch-level error when campaign fetch fails")
	}
	if result == nil || result.Success {
		t.Errorf("result = %+v, want unsuccessful partial result", result)
	}
	if store.accounts["act_1"].SyncStatus != models.SyncError {
		t.Error("batch failure should record ERROR state")
	}
}

func TestSingleFlightPerAccount(t *testing.T) {
	client := twoByTwo()
	client.blockUntil = make(chan struct{})

	engine, _ := testEngine(client)
	ctx := context.Background()

	firstDone := make(chan *models.SyncResult, 1)
	go func() {
		r, _ := engine.SyncAccount(ctx, "act_1", models.SyncOptions{Force: true})
		firstDone <- r
	}()

	// Wait for the first run to take the lock and block in the client.
	deadline := time.After(time.Second)
	for {
		if !engine.accountLock("act_1").TryLock() {
			break
		}
		engine.accountLock("act_1").Unlock()
		select {
		case <-deadline:
			t.Fatal("first sync never took the account lock")
		case <-time.After(time.Millisecond):
		}
	}

	second, err := engine.SyncAccount(ctx, "act_1", models.SyncOptions{Force: true})
	if err != nil {
		t.Fatalf("second SyncAccount() error: %v", err)
	}
	if second.CampaignsSynced != 0 {
		t.Errorf("second run synced %d campaigns, want 0 (single-flight skip)", second.CampaignsSynced)
	}

	close(client.blockUntil)
	first := <-firstDone
	if first.CampaignsSynced != 2 {
		t.Errorf("first run synced %d campaigns, want 2", first.CampaignsSynced)
	}
}

func TestUnknownAccount(t *testing.T) {
	engine, _ := testEngine(twoByTwo())
	if _, err := engine.SyncAccount(context.Background(), "act_nope", models.SyncOptions{}); err == nil {
		t.Error("expected error for unknown account")
	}
}

func TestMissingCredential(t *testing.T) {
	engine, store := testEngine(twoByTwo())
	store.accounts["act_2"] = &models.AdAccount{RemoteID: "act_2"}

	if _, err := engine.SyncAccount(context.Background(), "act_2", models.SyncOptions{}); err == nil {
		t.Error("expected error when no credential is stored")
	}
}

func TestSyncDueAccountsSweep(t *testing.T) {
	engine, store := testEngine(twoByTwo())
	recent := time.Now()
	store.accounts["act_fresh"] = &models.AdAccount{RemoteID: "act_fresh", LastSyncedAt: &recent}

	if err := engine.SyncDueAccounts(context.Background(), models.SyncOptions{}); err != nil {
		t.Fatalf("SyncDueAccounts() error: %v", err)
	}
	if len(store.campaigns) != 2 {
		t.Errorf("sweep stored %d campaigns, want 2 from the due account", len(store.campaigns))
	}
	if store.accounts["act_1"].LastSyncedAt == nil {
		t.Error("due account not marked synced by sweep")
	}
}

