// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/adsync/internal/cache"
	"github.com/tomtom215/adsync/internal/models"
)

// InsightsOptions selects the reporting window. When Since and Until
// are both set they take precedence over DatePreset; otherwise the
// preset (default last_30d) applies.
type InsightsOptions struct {
	DatePreset string
	Since      string // YYYY-MM-DD
	Until      string // YYYY-MM-DD
}

// cacheParams returns the option fields that distinguish cached
// results, in a stable order.
func (o InsightsOptions) cacheParams() []string {
	return []string{o.DatePreset, o.Since, o.Until}
}

// wireInsights is the upstream metrics row. Numeric fields arrive as
// strings; actions is a list of typed counters from which conversions
// are extracted.
type wireInsights struct {
	Impressions   string       `json:"impressions"`
	Clicks        string       `json:"clicks"`
	Spend         string       `json:"spend"`
	Reach         string       `json:"reach"`
	Frequency     string       `json:"frequency"`
	CTR           string       `json:"ctr"`
	CPC           string       `json:"cpc"`
	CPM           string       `json:"cpm"`
	Actions       []wireAction `json:"actions"`
	CostPerAction []wireAction `json:"cost_per_action_type"`
}

type wireAction struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

// parseF and parseI default to zero on unparseable input so one bad
// metric never drops the whole row.
func parseF(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseI(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// actionValue returns the value of the named action type, or zero.
func actionValue(actions []wireAction, actionType string) string {
	for _, a := range actions {
		if a.ActionType == actionType {
			return a.Value
		}
	}
	return ""
}

func (w wireInsights) toModel() *models.Insights {
	return &models.Insights{
		Impressions:       parseI(w.Impressions),
		Clicks:            parseI(w.Clicks),
		Spend:             parseF(w.Spend),
		Reach:             parseI(w.Reach),
		Frequency:         parseF(w.Frequency),
		CTR:               parseF(w.CTR),
		CPC:               parseF(w.CPC),
		CPM:               parseF(w.CPM),
		Conversions:       parseI(actionValue(w.Actions, "offsite_conversion")),
		CostPerConversion: parseF(actionValue(w.CostPerAction, "offsite_conversion")),
	}
}

// emptyInsights marks a cached zero-row result so repeat lookups for
// entities with no data in the window short-circuit without being
// mistaken for a cache miss.
type emptyInsights struct{}

// GetInsights fetches the performance metrics for one entity over the
// requested window. A nil result with nil error means the upstream has
// no data for the window; that outcome is cached with a shorter TTL
// than populated results.
func (c *Client) GetInsights(ctx context.Context, entityID string, opts InsightsOptions) (*models.Insights, error) {
	key := cache.GenerateKey("insights", append([]string{entityID}, opts.cacheParams()...)...)
	if v, ok := c.insightsCache.Get(key); ok {
		if _, empty := v.(emptyInsights); empty {
			return nil, nil
		}
		return v.(*models.Insights), nil
	}

	params := url.Values{}
	params.Set("fields", insightsFields)
	switch {
	case opts.Since != "" && opts.Until != "":
		tr, err := json.Marshal(map[string]string{"since": opts.Since, "until": opts.Until})
		if err != nil {
			return nil, fmt.Errorf("encoding time range: %w", err)
		}
		params.Set("time_range", string(tr))
	case opts.DatePreset != "":
		params.Set("date_preset", opts.DatePreset)
	default:
		params.Set("date_preset", "last_30d")
	}

	rawURL := c.buildURL(entityID+"/insights", params)
	env, err := c.getSingle(ctx, "insights", rawURL, entityID)
	if err != nil {
		return nil, err
	}

	if len(env.Data) == 0 {
		c.insightsCache.SetWithTTL(key, emptyInsights{}, c.cfg.EmptyInsightsCacheTTL)
		return nil, nil
	}

	var w wireInsights
	if err := json.Unmarshal(env.Data[0], &w); err != nil {
		return nil, &APIError{Kind: KindValidation, Message: fmt.Sprintf("malformed insights row: %v", err)}
	}

	result := w.toModel()
	c.insightsCache.Set(key, result)
	return result, nil
}
