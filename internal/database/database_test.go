// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/models"
	"github.com/tomtom215/adsync/internal/token"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	enc, err := token.NewEncryptor([]byte("test-master-secret"))
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}

	db, err := Open(config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	}, enc)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountUpsertIsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := &models.AdAccount{RemoteID: "act_1", Name: "First", Currency: "USD", Status: "ACTIVE"}
	if err := db.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("UpsertAccount() error: %v", err)
	}

	a.Name = "Renamed"
	if err := db.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("second UpsertAccount() error: %v", err)
	}

	accounts, err := db.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(accounts))
	}
	if accounts[0].Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", accounts[0].Name)
	}
}

func TestGetAccountAbsentReturnsNil(t *testing.T) {
	db := testDB(t)

	a, err := db.GetAccount(context.Background(), "act_missing")
	if err != nil {
		t.Fatalf("GetAccount() error: %v", err)
	}
	if a != nil {
		t.Errorf("GetAccount() = %+v, want nil for absent account", a)
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertAccount(ctx, &models.AdAccount{RemoteID: "act_1"}); err != nil {
		t.Fatalf("UpsertAccount() error: %v", err)
	}

	now := time.Now()
	if err := db.SetSyncState(ctx, "act_1", models.SyncError, "boom", &now); err != nil {
		t.Fatalf("SetSyncState() error: %v", err)
	}

	a, err := db.GetAccount(ctx, "act_1")
	if err != nil {
		t.Fatalf("GetAccount() error: %v", err)
	}
	if a.SyncStatus != models.SyncError {
		t.Errorf("SyncStatus = %q, want ERROR", a.SyncStatus)
	}
	if a.LastError != "boom" {
		t.Errorf("LastError = %q, want boom", a.LastError)
	}
	if a.LastSyncedAt == nil {
		t.Error("LastSyncedAt not set")
	}

	// Passing a nil timestamp must preserve the previous one.
	if err := db.SetSyncState(ctx, "act_1", models.SyncIdle, "", nil); err != nil {
		t.Fatalf("SetSyncState() with nil time error: %v", err)
	}
	a, _ = db.GetAccount(ctx, "act_1")
	if a.LastSyncedAt == nil {
		t.Error("LastSyncedAt lost after status-only update")
	}
}

func TestListAccountsDue(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, id := range []string{"act_never", "act_stale", "act_fresh", "act_revoked"} {
		if err := db.UpsertAccount(ctx, &models.AdAccount{RemoteID: id}); err != nil {
			t.Fatalf("UpsertAccount(%s) error: %v", id, err)
		}
	}

	old := time.Now().Add(-time.Hour)
	recent := time.Now().Add(-time.Minute)
	if err := db.SetSyncState(ctx, "act_stale", models.SyncIdle, "", &old); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSyncState(ctx, "act_fresh", models.SyncIdle, "", &recent); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkNeedsReauth(ctx, "act_revoked"); err != nil {
		t.Fatal(err)
	}

	due, err := db.ListAccountsDue(ctx, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("ListAccountsDue() error: %v", err)
	}

	got := make(map[string]bool, len(due))
	for _, a := range due {
		got[a.RemoteID] = true
	}
	if !got["act_never"] || !got["act_stale"] {
		t.Errorf("due = %v, want act_never and act_stale", got)
	}
	if got["act_fresh"] {
		t.Error("recently synced account must not be due")
	}
	if got["act_revoked"] {
		t.Error("account awaiting reauth must not be due")
	}
}

func TestCampaignUpsertKeyedByRemoteID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	c := &models.Campaign{
		RemoteID:    "c_1",
		AccountID:   "act_1",
		Name:        "Spring Sale",
		Status:      "ACTIVE",
		DailyBudget: 1500.00,
		Insights:    &models.Insights{Impressions: 100, Clicks: 5, Spend: 12.5},
	}
	for i := 0; i < 2; i++ {
		if err := db.UpsertCampaign(ctx, c); err != nil {
			t.Fatalf("UpsertCampaign() run %d error: %v", i, err)
		}
	}

	campaigns, err := db.ListCampaignsByAccount(ctx, "act_1")
	if err != nil {
		t.Fatalf("ListCampaignsByAccount() error: %v", err)
	}
	if len(campaigns) != 1 {
		t.Fatalf("got %d campaigns, want 1 (upsert must not duplicate)", len(campaigns))
	}
	if campaigns[0].DailyBudget != 1500.00 {
		t.Errorf("DailyBudget = %v, want 1500.00", campaigns[0].DailyBudget)
	}
	if campaigns[0].Insights.Impressions != 100 {
		t.Errorf("Impressions = %d, want 100", campaigns[0].Insights.Impressions)
	}

	found, err := db.FindCampaign(ctx, "c_1")
	if err != nil {
		t.Fatalf("FindCampaign() error: %v", err)
	}
	if found == nil || found.Name != "Spring Sale" {
		t.Errorf("FindCampaign() = %+v, want Spring Sale", found)
	}
}

func TestHierarchyByParent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	s := &models.AdSet{RemoteID: "s_1", CampaignRemoteID: "c_1", Name: "Set", BidAmount: 2.5}
	if err := db.UpsertAdSet(ctx, s); err != nil {
		t.Fatalf("UpsertAdSet() error: %v", err)
	}
	a := &models.Ad{RemoteID: "a_1", AdSetRemoteID: "s_1", Name: "Ad", CreativeID: "cr_9"}
	if err := db.UpsertAd(ctx, a); err != nil {
		t.Fatalf("UpsertAd() error: %v", err)
	}

	adSets, err := db.ListAdSetsByCampaign(ctx, "c_1")
	if err != nil {
		t.Fatalf("ListAdSetsByCampaign() error: %v", err)
	}
	if len(adSets) != 1 || adSets[0].RemoteID != "s_1" {
		t.Errorf("adSets = %+v, want one s_1", adSets)
	}

	ads, err := db.ListAdsByAdSet(ctx, "s_1")
	if err != nil {
		t.Fatalf("ListAdsByAdSet() error: %v", err)
	}
	if len(ads) != 1 || ads[0].CreativeID != "cr_9" {
		t.Errorf("ads = %+v, want one a_1 with creative cr_9", ads)
	}

	if other, _ := db.ListAdSetsByCampaign(ctx, "c_other"); len(other) != 0 {
		t.Errorf("unrelated campaign returned %d ad sets", len(other))
	}
}

func TestTokenStorageEncryptedRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	expiry := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	if err := db.SaveToken(ctx, "act_1", "secret-token", &expiry); err != nil {
		t.Fatalf("SaveToken() error: %v", err)
	}

	// The stored record must not be the plaintext.
	var raw string
	if err := db.conn.QueryRowContext(ctx,
		`SELECT token_record FROM credentials WHERE account_id = ?`, "act_1").Scan(&raw); err != nil {
		t.Fatalf("reading raw record: %v", err)
	}
	if raw == "secret-token" {
		t.Error("token stored in plaintext despite encryptor")
	}

	tok, exp, err := db.GetToken(ctx, "act_1")
	if err != nil {
		t.Fatalf("GetToken() error: %v", err)
	}
	if tok != "secret-token" {
		t.Errorf("GetToken() = %q, want secret-token", tok)
	}
	if exp == nil {
		t.Error("expiry lost in round trip")
	}
}

func TestGetTokenAbsent(t *testing.T) {
	db := testDB(t)

	tok, exp, err := db.GetToken(context.Background(), "act_none")
	if err != nil {
		t.Fatalf("GetToken() error: %v", err)
	}
	if tok != "" || exp != nil {
		t.Errorf("GetToken() = %q/%v, want empty for absent credential", tok, exp)
	}
}

func TestDeleteToken(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.SaveToken(ctx, "act_1", "tok", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteToken(ctx, "act_1"); err != nil {
		t.Fatalf("DeleteToken() error: %v", err)
	}
	if tok, _, _ := db.GetToken(ctx, "act_1"); tok != "" {
		t.Error("token still readable after delete")
	}
}

func TestListExpiringTokens(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	soon := time.Now().Add(2 * 24 * time.Hour)
	far := time.Now().Add(90 * 24 * time.Hour)

	if err := db.SaveToken(ctx, "act_soon", "t1", &soon); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveToken(ctx, "act_far", "t2", &far); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveToken(ctx, "act_unknown", "t3", nil); err != nil {
		t.Fatal(err)
	}

	ids, err := db.ListExpiringTokens(ctx, 7)
	if err != nil {
		t.Fatalf("ListExpiringTokens() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "act_soon" {
		t.Errorf("ListExpiringTokens() = %v, want [act_soon]", ids)
	}
}
