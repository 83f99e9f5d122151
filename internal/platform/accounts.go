// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package platform

import (
	"context"
	"net/url"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/adsync/internal/cache"
	"github.com/tomtom215/adsync/internal/models"
)

type wireAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   int    `json:"account_status"`
	Currency string `json:"currency"`
	Timezone string `json:"timezone_name"`
}

func (w wireAccount) toModel() models.AdAccount {
	status := "ACTIVE"
	if w.Status != 1 {
		status = "INACTIVE"
	}
	return models.AdAccount{
		RemoteID: w.ID,
		Name:     w.Name,
		Status:   status,
		Currency: w.Currency,
		Timezone: w.Timezone,
	}
}

// ListBusinessAccounts fetches the owned and client (agency-managed)
// ad account lists for a business concurrently and merges them,
// deduplicating by remote id with first occurrence winning. A
// permission failure on the client list is expected when the app lacks
// the agency grant and is downgraded to an empty list; token expiry is
// always propagated.
func (c *Client) ListBusinessAccounts(ctx context.Context, businessID string) ([]models.AdAccount, error) {
	key := cache.GenerateKey("accounts", "business", businessID)
	if v, ok := c.accountCache.Get(key); ok {
		return v.([]models.AdAccount), nil
	}

	params := url.Values{}
	params.Set("fields", accountFields)

	var (
		wg                  sync.WaitGroup
		owned, agency       []json.RawMessage
		ownedErr, agencyErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		startURL := c.buildURL(businessID+"/owned_ad_accounts", cloneValues(params))
		owned, ownedErr = c.fetchAllPages(ctx, "owned_accounts", startURL, businessID)
	}()
	go func() {
		defer wg.Done()
		startURL := c.buildURL(businessID+"/client_ad_accounts", cloneValues(params))
		agency, agencyErr = c.fetchAllPages(ctx, "client_accounts", startURL, businessID)
	}()
	wg.Wait()

	if ownedErr != nil {
		return nil, ownedErr
	}
	if agencyErr != nil {
		if IsTokenExpired(agencyErr) {
			return nil, agencyErr
		}
		c.log.Warn().Err(agencyErr).Str("business_id", businessID).
			Msg("Client ad account list unavailable, continuing with owned accounts only")
		agency = nil
	}

	seen := make(map[string]struct{})
	accounts := make([]models.AdAccount, 0, len(owned)+len(agency))
	for _, w := range decodeAll[wireAccount](append(owned, agency...), c.log, "accounts") {
		if _, dup := seen[w.ID]; dup {
			continue
		}
		seen[w.ID] = struct{}{}
		accounts = append(accounts, w.toModel())
	}

	c.accountCache.Set(key, accounts)
	return accounts, nil
}

// ListUserAccounts is the legacy discovery path: a direct listing of ad
// accounts under the authenticated user, cached with the long TTL
// class.
func (c *Client) ListUserAccounts(ctx context.Context) ([]models.AdAccount, error) {
	key := cache.GenerateKey("accounts", "user")
	if v, ok := c.accountCache.Get(key); ok {
		return v.([]models.AdAccount), nil
	}

	params := url.Values{}
	params.Set("fields", accountFields)
	startURL := c.buildURL("me/adaccounts", params)

	raw, err := c.fetchAllPages(ctx, "user_accounts", startURL, "user")
	if err != nil {
		return nil, err
	}

	wires := decodeAll[wireAccount](raw, c.log, "accounts")
	accounts := make([]models.AdAccount, 0, len(wires))
	for _, w := range wires {
		accounts = append(accounts, w.toModel())
	}

	c.accountCache.Set(key, accounts)
	return accounts, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
