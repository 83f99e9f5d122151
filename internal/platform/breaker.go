// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package platform

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/adsync/internal/logging"
	"github.com/tomtom215/adsync/internal/metrics"
)

// newBreaker builds the circuit breaker guarding upstream HTTP calls.
// The breaker opens after a run of consecutive failures and probes the
// upstream again after a cooldown, so a hard outage fails fast instead
// of burning the rate-limit budget on doomed requests. Rate-limit and
// auth errors are handled by the retry and classification layers and
// never reach the breaker as failures.
func newBreaker(name string) *gobreaker.CircuitBreaker[*envelope] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Only transport and server-side failures should trip the
			// breaker. Classified business errors mean the upstream is
			// reachable and answering.
			switch errorKind(err) {
			case KindNetwork, KindUnknown:
				return false
			default:
				return true
			}
		},
	}
	return gobreaker.NewCircuitBreaker[*envelope](settings)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
