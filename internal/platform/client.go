// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package platform implements the client for the upstream advertising
// REST API: authenticated, rate-limited, paginated fetches with typed
// error classification, response caching, and a circuit breaker around
// the transport.
//
// The pagination loop is the heart of the package. Each page acquires
// both rate-limiter gates, carries a bounded timeout, and feeds a
// visited-URL loop guard and a hard page cap so a malformed or cyclic
// paging envelope can never hang a sync run. Rate-limit and transient
// errors are retried in place with their own backoff curves; token
// expiry aborts immediately with a typed error that propagates
// unchanged to the re-authentication flow.
package platform

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/adsync/internal/cache"
	"github.com/tomtom215/adsync/internal/config"
	"github.com/tomtom215/adsync/internal/logging"
	"github.com/tomtom215/adsync/internal/metrics"
	"github.com/tomtom215/adsync/internal/ratelimit"
)

// envelope is the upstream list response shape.
type envelope struct {
	Data   []json.RawMessage `json:"data"`
	Paging *paging           `json:"paging,omitempty"`
	Error  *wireError        `json:"error,omitempty"`
}

// paging carries the next-page URL when more results exist.
type paging struct {
	Next string `json:"next,omitempty"`
}

// wireError is the upstream error payload.
type wireError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
}

// appUsage is the quota header payload. Values are percentages.
type appUsage struct {
	CallCount int `json:"call_count"`
	TotalTime int `json:"total_time"`
	TotalCPU  int `json:"total_cputime"`
}

const usageHeader = "X-App-Usage"

// Client talks to the upstream advertising API for a single credential.
// All collaborators are injected; the client owns no global state.
type Client struct {
	cfg     config.PlatformConfig
	token   string
	httpc   *http.Client
	global  *ratelimit.Limiter
	scoped  *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker[*envelope]

	accountCache  *cache.Cache
	entityCache   *cache.Cache
	insightsCache *cache.Cache

	log zerolog.Logger
}

// Caches groups the three response cache instances by TTL class.
type Caches struct {
	Accounts *cache.Cache
	Entities *cache.Cache
	Insights *cache.Cache
}

// NewClient builds a client for one credential. The limiters and caches
// are shared across clients so the process-wide quota bookkeeping stays
// accurate regardless of how many accounts are syncing.
func NewClient(cfg config.PlatformConfig, token string, global, scoped *ratelimit.Limiter, caches Caches) *Client {
	return &Client{
		cfg:           cfg,
		token:         token,
		httpc:         &http.Client{},
		global:        global,
		scoped:        scoped,
		breaker:       newBreaker("platform-api"),
		accountCache:  caches.Accounts,
		entityCache:   caches.Entities,
		insightsCache: caches.Insights,
		log:           logging.With().Str("component", "platform-client").Logger(),
	}
}

// buildURL joins path onto the configured base and adds the token and
// any extra query parameters.
func (c *Client) buildURL(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	if params.Get("limit") == "" {
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))
	}
	return fmt.Sprintf("%s/%s?%s", c.cfg.BaseURL, path, params.Encode())
}

// doOnce issues a single GET with the given timeout and decodes the
// envelope. It returns the reported quota usage fraction alongside the
// result. An envelope carrying an upstream error is returned as a
// classified error.
func (c *Client) doOnce(ctx context.Context, rawURL string, timeout time.Duration) (*envelope, float64, error) {
	var usage float64

	env, err := c.breaker.Execute(func() (*envelope, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(cctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, &NetworkError{Op: "api request", Cause: err}
		}
		defer resp.Body.Close()

		usage = parseUsage(resp.Header.Get(usageHeader))

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, &NetworkError{Op: "reading response", Cause: err}
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, &APIError{
				Kind:       KindValidation,
				HTTPStatus: resp.StatusCode,
				Message:    fmt.Sprintf("malformed response body: %v", err),
			}
		}

		if env.Error != nil {
			return nil, classifyError(env.Error.Code, env.Error.ErrorSubcode, resp.StatusCode, env.Error.Message)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, classifyError(0, 0, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return &env, nil
	})
	if err != nil {
		return nil, usage, err
	}
	return env, usage, nil
}

// parseUsage decodes the quota header into a usage fraction in [0,1].
// The header reports the highest consumed dimension as a percentage;
// absence or garbage reads as zero.
func parseUsage(header string) float64 {
	if header == "" {
		return 0
	}
	var u appUsage
	if err := json.Unmarshal([]byte(header), &u); err != nil {
		return 0
	}
	pct := u.CallCount
	if u.TotalTime > pct {
		pct = u.TotalTime
	}
	if u.TotalCPU > pct {
		pct = u.TotalCPU
	}
	return float64(pct) / 100
}

// fetchAllPages walks the pagination chain from startURL, accumulating
// every page's data array in order. limiterKey scopes the per-resource
// rate limiter; the global limiter is always acquired as well.
func (c *Client) fetchAllPages(ctx context.Context, resource, startURL, limiterKey string) ([]json.RawMessage, error) {
	var (
		results []json.RawMessage
		visited = make(map[string]struct{})
		pageURL = startURL
		pages   = 0
		attempt = 0
	)

	start := time.Now()
	defer func() {
		metrics.APIRequestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
		metrics.APIPagesFetched.Observe(float64(pages))
	}()

	for pageURL != "" {
		if _, seen := visited[pageURL]; seen {
			c.log.Warn().Str("resource", resource).Int("pages", pages).
				Msg("Pagination loop detected, stopping with accumulated data")
			break
		}

		if pages >= c.cfg.MaxPages {
			c.log.Warn().Str("resource", resource).Int("cap", c.cfg.MaxPages).
				Msg("Page cap reached, stopping pagination")
			break
		}

		if err := c.global.WaitForLimit(ctx, "global"); err != nil {
			return nil, err
		}
		if err := c.scoped.WaitForLimit(ctx, limiterKey); err != nil {
			return nil, err
		}

		env, usage, err := c.doOnce(ctx, pageURL, c.cfg.ListTimeout)
		if err != nil {
			retry, wait := c.retryDelay(err, attempt)
			if !retry {
				metrics.APIRequests.WithLabelValues(resource, "error").Inc()
				return nil, err
			}
			attempt++
			c.log.Debug().Str("resource", resource).Int("attempt", attempt).
				Dur("backoff", wait).Str("kind", errorKind(err).String()).
				Msg("Retrying page after backoff")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		// Only successfully fetched URLs count toward the cycle check,
		// so an in-place retry of the same URL is never mistaken for a
		// pagination loop.
		visited[pageURL] = struct{}{}

		// Success resets the per-incident retry counter.
		attempt = 0
		pages++
		results = append(results, env.Data...)
		metrics.APIRequests.WithLabelValues(resource, "success").Inc()

		if usage >= c.cfg.UsageThreshold {
			c.log.Warn().Float64("usage", usage).Dur("pause", c.cfg.UsagePause).
				Msg("Quota usage near ceiling, pausing before next page")
			if err := sleepCtx(ctx, c.cfg.UsagePause); err != nil {
				return nil, err
			}
		}

		pageURL = ""
		if env.Paging != nil {
			pageURL = env.Paging.Next
		}
	}

	return results, nil
}

// retryDelay decides whether err is retryable in place and what backoff
// applies to this attempt. Rate-limit errors back off exponentially
// with jitter; transient errors back off linearly. Both share the same
// attempt cap. Everything else, token expiry included, is terminal.
func (c *Client) retryDelay(err error, attempt int) (bool, time.Duration) {
	if attempt >= c.cfg.MaxRetries {
		return false, 0
	}
	switch errorKind(err) {
	case KindRateLimit:
		metrics.APIRetries.WithLabelValues("rate_limit").Inc()
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(rand.Int64N(int64(250 * time.Millisecond)))
		return true, backoff + jitter
	case KindTransient:
		metrics.APIRetries.WithLabelValues("transient").Inc()
		return true, time.Duration(attempt+1) * time.Second
	default:
		return false, 0
	}
}

// getSingle fetches one non-paginated resource with the short timeout,
// acquiring both limiter gates first.
func (c *Client) getSingle(ctx context.Context, resource, rawURL, limiterKey string) (*envelope, error) {
	if err := c.global.WaitForLimit(ctx, "global"); err != nil {
		return nil, err
	}
	if err := c.scoped.WaitForLimit(ctx, limiterKey); err != nil {
		return nil, err
	}

	env, _, err := c.doOnce(ctx, rawURL, c.cfg.GetTimeout)
	if err != nil {
		metrics.APIRequests.WithLabelValues(resource, "error").Inc()
		return nil, err
	}
	metrics.APIRequests.WithLabelValues(resource, "success").Inc()
	return env, nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// decodeAll unmarshals each raw page item into T, skipping items that
// fail to decode. Upstream occasionally interleaves malformed objects
// in otherwise valid pages; dropping them beats failing the whole list.
func decodeAll[T any](raw []json.RawMessage, log zerolog.Logger, resource string) []T {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			log.Warn().Err(err).Str("resource", resource).Msg("Skipping undecodable item")
			continue
		}
		out = append(out, v)
	}
	return out
}
