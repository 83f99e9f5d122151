// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package platform

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tomtom215/adsync/internal/cache"
	"github.com/tomtom215/adsync/internal/models"
)

// Upstream wire shapes for the entity hierarchy. Budgets arrive as
// minor-unit integer strings; parseMinor converts them to the
// major-unit decimals stored locally.

type wireCampaign struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Objective      string `json:"objective"`
	DailyBudget    string `json:"daily_budget"`
	LifetimeBudget string `json:"lifetime_budget"`
}

type wireAdSet struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	CampaignID     string `json:"campaign_id"`
	DailyBudget    string `json:"daily_budget"`
	LifetimeBudget string `json:"lifetime_budget"`
	BidAmount      string `json:"bid_amount"`
}

type wireAd struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	AdSetID  string `json:"adset_id"`
	Creative struct {
		ID string `json:"id"`
	} `json:"creative"`
}

// parseMinor converts a minor-unit integer string to a major-unit
// decimal. Unparseable or empty input reads as zero rather than
// failing the item.
func parseMinor(s string) float64 {
	if s == "" {
		return 0
	}
	minor, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return models.MinorToMajor(minor)
}

// ListCampaigns returns all campaigns under an ad account, paginated to
// completion. Results are cached for the entity TTL class.
func (c *Client) ListCampaigns(ctx context.Context, accountID string) ([]models.Campaign, error) {
	key := cache.GenerateKey("campaigns", accountID)
	if v, ok := c.entityCache.Get(key); ok {
		return v.([]models.Campaign), nil
	}

	params := url.Values{}
	params.Set("fields", campaignFields)
	startURL := c.buildURL(accountID+"/campaigns", params)

	raw, err := c.fetchAllPages(ctx, "campaigns", startURL, accountID)
	if err != nil {
		return nil, err
	}

	wires := decodeAll[wireCampaign](raw, c.log, "campaigns")
	campaigns := make([]models.Campaign, 0, len(wires))
	for _, w := range wires {
		campaigns = append(campaigns, models.Campaign{
			RemoteID:    w.ID,
			AccountID:   accountID,
			Name:        w.Name,
			Status:      w.Status,
			Objective:   w.Objective,
			DailyBudget: parseMinor(w.DailyBudget),
			TotalBudget: parseMinor(w.LifetimeBudget),
		})
	}

	c.entityCache.Set(key, campaigns)
	return campaigns, nil
}

// ListAdSets returns all ad sets under a campaign.
func (c *Client) ListAdSets(ctx context.Context, campaignID string) ([]models.AdSet, error) {
	key := cache.GenerateKey("adsets", campaignID)
	if v, ok := c.entityCache.Get(key); ok {
		return v.([]models.AdSet), nil
	}

	params := url.Values{}
	params.Set("fields", adSetFields)
	startURL := c.buildURL(campaignID+"/adsets", params)

	raw, err := c.fetchAllPages(ctx, "adsets", startURL, campaignID)
	if err != nil {
		return nil, err
	}

	wires := decodeAll[wireAdSet](raw, c.log, "adsets")
	adSets := make([]models.AdSet, 0, len(wires))
	for _, w := range wires {
		parent := w.CampaignID
		if parent == "" {
			parent = campaignID
		}
		adSets = append(adSets, models.AdSet{
			RemoteID:         w.ID,
			CampaignRemoteID: parent,
			Name:             w.Name,
			Status:           w.Status,
			DailyBudget:      parseMinor(w.DailyBudget),
			TotalBudget:      parseMinor(w.LifetimeBudget),
			BidAmount:        parseMinor(w.BidAmount),
		})
	}

	c.entityCache.Set(key, adSets)
	return adSets, nil
}

// ListAds returns all ads under an ad set.
func (c *Client) ListAds(ctx context.Context, adSetID string) ([]models.Ad, error) {
	key := cache.GenerateKey("ads", adSetID)
	if v, ok := c.entityCache.Get(key); ok {
		return v.([]models.Ad), nil
	}

	params := url.Values{}
	params.Set("fields", adFields)
	startURL := c.buildURL(adSetID+"/ads", params)

	raw, err := c.fetchAllPages(ctx, "ads", startURL, adSetID)
	if err != nil {
		return nil, err
	}

	wires := decodeAll[wireAd](raw, c.log, "ads")
	ads := make([]models.Ad, 0, len(wires))
	for _, w := range wires {
		parent := w.AdSetID
		if parent == "" {
			parent = adSetID
		}
		ads = append(ads, models.Ad{
			RemoteID:      w.ID,
			AdSetRemoteID: parent,
			Name:          w.Name,
			Status:        w.Status,
			CreativeID:    w.Creative.ID,
		})
	}

	c.entityCache.Set(key, ads)
	return ads, nil
}
