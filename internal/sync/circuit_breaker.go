// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package sync

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
)

// Ensure CircuitBreakerAuthenticator implements Authenticator
var _ Authenticator = (*CircuitBreakerAuthenticator)(nil)

// CircuitBreakerAuthenticator guards datahub logins with a circuit breaker so
// a rejected account is not hammered every reconnect cycle.
type CircuitBreakerAuthenticator struct {
	next Authenticator
	cb   *gobreaker.CircuitBreaker[string]
	name string
}

// BreakerSettings tunes the login circuit breaker.
type BreakerSettings struct {
	// Consecutive failed logins that open the circuit
	MaxFailures uint32
	// Time spent open before a trial login is allowed
	OpenTimeout time.Duration
}

// DefaultBreakerSettings opens after five consecutive failures and retries
// after one minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxFailures: 5, OpenTimeout: time.Minute}
}

// NewCircuitBreakerAuthenticator wraps next with the "datahub-auth" breaker.
func NewCircuitBreakerAuthenticator(next Authenticator, settings BreakerSettings) *CircuitBreakerAuthenticator {
	cbName := "datahub-auth"
	if settings.MaxFailures == 0 {
		settings.MaxFailures = DefaultBreakerSettings().MaxFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1, // one trial login in half-open state
		Interval:    0, // counts are only cleared by state changes
		Timeout:     settings.OpenTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			shouldTrip := counts.ConsecutiveFailures >= settings.MaxFailures
			if shouldTrip {
				logging.Warn().
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening datahub login circuit")
			}
			return shouldTrip
		},

		// Cancellation is not a datahub failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerAuthenticator{
		next: next,
		cb:   cb,
		name: cbName,
	}
}

// Login runs the wrapped login through the breaker. While the circuit is open
// it fails immediately with gobreaker.ErrOpenState.
func (a *CircuitBreakerAuthenticator) Login(ctx context.Context) (string, error) {
	token, err := a.cb.Execute(func() (string, error) {
		return a.next.Login(ctx)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(a.name, "rejected").Inc()
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(a.name, "failure").Inc()
			counts := a.cb.Counts()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(a.name).Set(float64(counts.ConsecutiveFailures))
		}
		return "", err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(a.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(a.name).Set(0)
	return token, nil
}

// State returns the current breaker state.
func (a *CircuitBreakerAuthenticator) State() gobreaker.State {
	return a.cb.State()
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
