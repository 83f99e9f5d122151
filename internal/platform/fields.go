// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package platform

// Every request names an explicit minimal field list per resource.
// Requesting full projections roughly doubles payload size and counts
// against the same quota, so keep these lists tight.
const (
	accountFields  = "id,name,account_status,currency,timezone_name"
	campaignFields = "id,name,status,objective,daily_budget,lifetime_budget"
	adSetFields    = "id,name,status,campaign_id,daily_budget,lifetime_budget,bid_amount"
	adFields       = "id,name,status,adset_id,creative{id}"
	insightsFields = "impressions,clicks,spend,reach,frequency,ctr,cpc,cpm,actions,cost_per_action_type"
)
