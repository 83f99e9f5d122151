// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package token manages the access credential lifecycle against the
// upstream platform: introspection, owner-id derivation from scope
// grants, long-lived token exchange, revocation classification, and
// encryption at rest.
package token

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/logging"
	"github.com/tomtom215/adsync/internal/metrics"
	"github.com/tomtom215/adsync/internal/platform"
)

// managementScopes are the permission grants whose target ids identify
// entities the credential can manage. Owner derivation collects target
// ids from exactly these scopes.
var managementScopes = map[string]struct{}{
	"ads_management":      {},
	"business_management": {},
	"ads_read":            {},
}

// revocationPhrases are matched case-insensitively against upstream
// error text to classify a credential as revoked.
var revocationPhrases = []string{
	"session has expired",
	"access token",
	"token is invalid",
	"has been invalidated",
	"changed their password",
	"has not authorized application",
}

// ValidationResult is the structured outcome of one introspection call.
// An invalid token is a normal result, not an error; Err is set only
// when the endpoint itself could not be consulted.
type ValidationResult struct {
	IsValid   bool       `json:"is_valid"`
	UserID    string     `json:"user_id,omitempty"`
	AppID     string     `json:"app_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
	OwnerIDs  []string   `json:"owner_ids,omitempty"`
	Err       string     `json:"error,omitempty"`
}

// Manager performs token lifecycle operations. It owns no storage; the
// caller persists credentials through the credential store.
type Manager struct {
	cfg   config.PlatformConfig
	httpc *http.Client
	log   zerolog.Logger

	// validateRetries is the attempt cap for network failures during
	// introspection. Business-logic invalidity is never retried.
	validateRetries int
}

// NewManager builds a token manager from the platform configuration.
func NewManager(cfg config.PlatformConfig) *Manager {
	return &Manager{
		cfg:             cfg,
		httpc:           &http.Client{},
		log:             logging.With().Str("component", "token-manager").Logger(),
		validateRetries: 2,
	}
}

// introspection wire shapes.

type debugTokenResponse struct {
	Data struct {
		AppID          string              `json:"app_id"`
		UserID         string              `json:"user_id"`
		IsValid        bool                `json:"is_valid"`
		ExpiresAt      int64               `json:"expires_at"`
		Scopes         []string            `json:"scopes"`
		GranularScopes []granularScope     `json:"granular_scopes"`
		Error          *introspectionError `json:"error,omitempty"`
	} `json:"data"`
	Error *introspectionError `json:"error,omitempty"`
}

type granularScope struct {
	Scope     string   `json:"scope"`
	TargetIDs []string `json:"target_ids"`
}

type introspectionError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type exchangeResponse struct {
	AccessToken string              `json:"access_token"`
	TokenType   string              `json:"token_type"`
	ExpiresIn   int64               `json:"expires_in"`
	Error       *introspectionError `json:"error,omitempty"`
}

// Validate introspects the token against the platform. Network-class
// failures (timeout, connection refused, DNS) are retried with linear
// backoff up to the attempt cap; a reachable endpoint reporting the
// token invalid returns a result with IsValid false and no error.
func (m *Manager) Validate(ctx context.Context, accessToken string) (*ValidationResult, error) {
	params := url.Values{}
	params.Set("input_token", accessToken)
	params.Set("access_token", fmt.Sprintf("%s|%s", m.cfg.AppID, m.cfg.AppSecret))
	endpoint := fmt.Sprintf("%s/debug_token?%s", m.cfg.BaseURL, params.Encode())

	var lastErr error
	for attempt := 0; attempt <= m.validateRetries; attempt++ {
		if attempt > 0 {
			m.log.Debug().Int("attempt", attempt).Msg("Retrying token introspection after network failure")
			if err := sleepCtx(ctx, time.Duration(attempt)*time.Second); err != nil {
				return nil, err
			}
		}

		result, err := m.introspectOnce(ctx, endpoint)
		if err == nil {
			outcome := "invalid"
			if result.IsValid {
				outcome = "valid"
			}
			metrics.TokenValidations.WithLabelValues(outcome).Inc()
			return result, nil
		}
		if !isNetworkError(err) {
			metrics.TokenValidations.WithLabelValues("error").Inc()
			return nil, err
		}
		lastErr = err
	}

	metrics.TokenValidations.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("token introspection unreachable after %d attempts: %w", m.validateRetries+1, lastErr)
}

func (m *Manager) introspectOnce(ctx context.Context, endpoint string) (*ValidationResult, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.GetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building introspection request: %w", err)
	}

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading introspection response: %w", err)
	}

	var dt debugTokenResponse
	if err := json.Unmarshal(body, &dt); err != nil {
		return nil, fmt.Errorf("malformed introspection response: %v", err)
	}

	// A top-level error means the introspection call itself failed,
	// typically a bad app credential. A data-level error describes the
	// inspected token and is a normal invalid result.
	if dt.Error != nil {
		return nil, fmt.Errorf("introspection rejected (code %d): %s", dt.Error.Code, dt.Error.Message)
	}

	result := &ValidationResult{
		IsValid:  dt.Data.IsValid,
		AppID:    dt.Data.AppID,
		UserID:   dt.Data.UserID,
		Scopes:   dt.Data.Scopes,
		OwnerIDs: DeriveOwnerIDs(dt.Data.GranularScopes),
	}
	if dt.Data.ExpiresAt > 0 {
		t := time.Unix(dt.Data.ExpiresAt, 0)
		result.ExpiresAt = &t
	}
	if dt.Data.Error != nil {
		result.Err = dt.Data.Error.Message
	}
	return result, nil
}

// DeriveOwnerIDs collects the deduplicated target ids attached to
// management-capable scope grants, preserving first-seen order.
func DeriveOwnerIDs(scopes []granularScope) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, gs := range scopes {
		if _, ok := managementScopes[gs.Scope]; !ok {
			continue
		}
		for _, id := range gs.TargetIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// RefreshResult reports the outcome of a refresh check.
type RefreshResult struct {
	Refreshed bool
	Token     string
	ExpiresAt *time.Time
}

// RefreshIfNeeded exchanges the token for a long-lived one when it is
// close to expiry. Tokens with more than the skip threshold remaining,
// or with no known expiry, are left alone and reported as a successful
// no-op. Only tokens at or under the refresh threshold are exchanged.
func (m *Manager) RefreshIfNeeded(ctx context.Context, accessToken string, expiresAt *time.Time) (*RefreshResult, error) {
	if expiresAt == nil {
		metrics.TokenRefreshes.WithLabelValues("skipped").Inc()
		return &RefreshResult{Refreshed: false}, nil
	}

	daysLeft := int(time.Until(*expiresAt).Hours() / 24)
	if daysLeft > m.cfg.TokenSkipRefreshDays {
		metrics.TokenRefreshes.WithLabelValues("skipped").Inc()
		return &RefreshResult{Refreshed: false}, nil
	}
	if daysLeft > m.cfg.TokenRefreshThresholdDays {
		metrics.TokenRefreshes.WithLabelValues("skipped").Inc()
		m.log.Debug().Int("days_left", daysLeft).Msg("Token not yet due for refresh")
		return &RefreshResult{Refreshed: false}, nil
	}

	token, newExpiry, err := m.exchange(ctx, accessToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.TokenRefreshes.WithLabelValues("refreshed").Inc()
	m.log.Info().Int("days_left", daysLeft).Time("new_expiry", *newExpiry).Msg("Refreshed access token")
	return &RefreshResult{Refreshed: true, Token: token, ExpiresAt: newExpiry}, nil
}

// exchange calls the long-lived token exchange endpoint.
func (m *Manager) exchange(ctx context.Context, accessToken string) (string, *time.Time, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", m.cfg.AppID)
	params.Set("client_secret", m.cfg.AppSecret)
	params.Set("fb_exchange_token", accessToken)
	endpoint := fmt.Sprintf("%s/oauth/access_token?%s", m.cfg.BaseURL, params.Encode())

	cctx, cancel := context.WithTimeout(ctx, m.cfg.GetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", nil, fmt.Errorf("building exchange request: %w", err)
	}

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", nil, fmt.Errorf("reading exchange response: %w", err)
	}

	var ex exchangeResponse
	if err := json.Unmarshal(body, &ex); err != nil {
		return "", nil, fmt.Errorf("malformed exchange response: %v", err)
	}
	if ex.Error != nil {
		return "", nil, fmt.Errorf("token exchange rejected (code %d): %s", ex.Error.Code, ex.Error.Message)
	}
	if ex.AccessToken == "" {
		return "", nil, errors.New("token exchange returned no token")
	}

	var expiry *time.Time
	if ex.ExpiresIn > 0 {
		t := time.Now().Add(time.Duration(ex.ExpiresIn) * time.Second)
		expiry = &t
	}
	return ex.AccessToken, expiry, nil
}

// IsRevoked classifies an arbitrary error as a credential revocation.
// On a true result the caller must delete the stored credential and
// flag the account for re-authentication; this manager only classifies.
func IsRevoked(err error) bool {
	if err == nil {
		return false
	}
	if platform.IsTokenExpired(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range revocationPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// isNetworkError distinguishes transport-level failures, which are
// worth retrying, from responses the endpoint actually produced.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
