// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/palisade-project/palisade/internal/logging"
)

// Rate limit metrics.
var (
	rateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_ratelimit_checks_total",
			Help: "Rate limit checks by scope and outcome",
		},
		[]string{"scope", "outcome"}, // scope: ip, user; outcome: allowed, denied, failed_open
	)

	rateLimitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "palisade_ratelimit_breaker_state",
			Help: "Counter store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Scope identifies which identity a counter tracks.
type Scope string

const (
	// ScopeIP keys counters by resolved client address.
	ScopeIP Scope = "ip"

	// ScopeUser keys counters by authenticated user ID.
	ScopeUser Scope = "user"
)

// Policy is the pair of limits applied to one action.
type Policy struct {
	IP   Limit `json:"ip" koanf:"ip"`
	User Limit `json:"user" koanf:"user"`
}

// DefaultPolicyName is the fallback entry used when an action has no
// specific policy.
const DefaultPolicyName = "default"

// DefaultPolicies returns the built-in per-action limits. Anonymous
// pre-authentication actions carry tight IP limits; authenticated actions
// lean on the user scope.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		DefaultPolicyName: {
			IP:   Limit{MaxRequests: 120, WindowSeconds: 60},
			User: Limit{MaxRequests: 240, WindowSeconds: 60},
		},
		"login": {
			IP:   Limit{MaxRequests: 10, WindowSeconds: 300},
			User: Limit{MaxRequests: 5, WindowSeconds: 300},
		},
		"register": {
			IP:   Limit{MaxRequests: 5, WindowSeconds: 3600},
			User: Limit{MaxRequests: 5, WindowSeconds: 3600},
		},
		"password_reset": {
			IP:   Limit{MaxRequests: 5, WindowSeconds: 3600},
			User: Limit{MaxRequests: 3, WindowSeconds: 3600},
		},
		"post_create": {
			IP:   Limit{MaxRequests: 30, WindowSeconds: 60},
			User: Limit{MaxRequests: 15, WindowSeconds: 60},
		},
		"download": {
			IP:   Limit{MaxRequests: 60, WindowSeconds: 60},
			User: Limit{MaxRequests: 120, WindowSeconds: 60},
		},
	}
}

// Limiter orchestrates fixed-window counters across the IP and user scopes
// with per-action policies.
//
// When the counter store is unavailable the check fails open: availability
// of the protected action is prioritized over strict enforcement, and the
// store outage is surfaced through the FailedOpen flag, logs, and metrics.
// A circuit breaker keeps a dead store from adding latency to every
// request.
type Limiter struct {
	store   CounterStore
	breaker *gobreaker.CircuitBreaker[checkOutcome]

	mu       sync.RWMutex
	policies map[string]Policy
}

type checkOutcome struct {
	state   WindowState
	allowed bool
}

// NewLimiter creates a Limiter over store with the given policies. A nil
// or default-less policy map is completed with DefaultPolicies entries.
func NewLimiter(store CounterStore, policies map[string]Policy) *Limiter {
	merged := DefaultPolicies()
	for name, p := range policies {
		merged[name] = p
	}

	l := &Limiter{
		store:    store,
		policies: merged,
	}

	l.breaker = gobreaker.NewCircuitBreaker[checkOutcome](gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			rateLimitBreakerState.Set(breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("rate limit store breaker state change")
		},
	})

	return l
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

// ScopeKey builds the composite counter key for a scope, identifier, and
// action.
func ScopeKey(scope Scope, identifier, action string) string {
	return string(scope) + ":" + identifier + ":" + action
}

// PolicyFor resolves the policy for action, falling back to the default.
func (l *Limiter) PolicyFor(action string) Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.policies[action]; ok {
		return p
	}
	return l.policies[DefaultPolicyName]
}

// SetPolicy installs or replaces the policy for action.
func (l *Limiter) SetPolicy(action string, p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[action] = p
}

// Policies returns a copy of the current policy table.
func (l *Limiter) Policies() map[string]Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Policy, len(l.policies))
	for k, v := range l.policies {
		out[k] = v
	}
	return out
}

// Check applies the per-action policy to one request. The user-scoped
// counter is consulted first when userID is non-zero; a user-scope denial
// short-circuits without consuming the IP-scope counter. Authenticated
// identity is the primary signal when available; the IP limit is the outer
// perimeter for anonymous and pre-authentication actions.
//
// A scope whose limit has MaxRequests zero is unenforced: the scope is
// skipped rather than denying everything.
func (l *Limiter) Check(ctx context.Context, ip, action string, userID int) Result {
	policy := l.PolicyFor(action)

	if userID != 0 && policy.User.MaxRequests > 0 {
		userResult := l.checkScope(ctx, ScopeUser, fmt.Sprintf("%d", userID), action, policy.User)
		if !userResult.Allowed {
			return userResult
		}
	}

	if policy.IP.MaxRequests <= 0 {
		return Result{Allowed: true}
	}
	return l.checkScope(ctx, ScopeIP, ip, action, policy.IP)
}

func (l *Limiter) checkScope(ctx context.Context, scope Scope, identifier, action string, limit Limit) Result {
	key := ScopeKey(scope, identifier, action)

	outcome, err := l.breaker.Execute(func() (checkOutcome, error) {
		state, allowed, serr := l.store.CheckAndIncrement(ctx, key, limit)
		return checkOutcome{state: state, allowed: allowed}, serr
	})
	if err != nil {
		rateLimitChecksTotal.WithLabelValues(string(scope), "failed_open").Inc()
		logging.Ctx(ctx).Error().
			Err(err).
			Str("scope_key", key).
			Msg("counter store unavailable, failing open")
		return Result{
			Allowed:    true,
			Limit:      limit.MaxRequests,
			Remaining:  limit.MaxRequests,
			ResetAt:    time.Now().Add(limit.Window()),
			FailedOpen: true,
		}
	}

	result := Result{
		Allowed:   outcome.allowed,
		Limit:     limit.MaxRequests,
		Remaining: limit.MaxRequests - outcome.state.Count,
		ResetAt:   outcome.state.WindowResetAt,
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	if outcome.allowed {
		rateLimitChecksTotal.WithLabelValues(string(scope), "allowed").Inc()
	} else {
		rateLimitChecksTotal.WithLabelValues(string(scope), "denied").Inc()
		logging.Ctx(ctx).Debug().
			Str("scope_key", key).
			Int("limit", limit.MaxRequests).
			Time("reset_at", result.ResetAt).
			Msg("rate limit exceeded")
	}
	return result
}

// Clear resets the counter for one scope key without waiting for the
// window to lapse. Administrative.
func (l *Limiter) Clear(ctx context.Context, scope Scope, identifier, action string) error {
	return l.store.Reset(ctx, ScopeKey(scope, identifier, action))
}

// Status reports the counter state for one scope key without consuming a
// request slot. A nil state means no live window.
func (l *Limiter) Status(ctx context.Context, scope Scope, identifier, action string) (*Result, error) {
	policy := l.PolicyFor(action)
	limit := policy.IP
	if scope == ScopeUser {
		limit = policy.User
	}

	state, err := l.store.Peek(ctx, ScopeKey(scope, identifier, action))
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}

	remaining := limit.MaxRequests - state.Count
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   state.Count < limit.MaxRequests,
		Limit:     limit.MaxRequests,
		Remaining: remaining,
		ResetAt:   state.WindowResetAt,
	}, nil
}
