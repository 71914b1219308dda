// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

// Package ratelimit implements fixed-window rate limiting over per-IP and
// per-user scopes with per-action limits.
//
// The window is fixed, not sliding: a counter resets when its window
// expires, so bursts of up to twice the limit are possible across a window
// boundary. This matches the externally observable throttling behavior the
// system has always had and is kept deliberately.
//
// Counter state lives in a CounterStore; the check-then-increment must be
// atomic per scope key so concurrent requests never under-count.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Limit is the budget for one scope within one window.
type Limit struct {
	MaxRequests   int `json:"max_requests" koanf:"max_requests"`
	WindowSeconds int `json:"window_seconds" koanf:"window_seconds"`
}

// Window returns the window duration.
func (l Limit) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// WindowState is the persisted counter for one scope key. A request that
// would exceed the limit is not counted, so Count never exceeds MaxRequests.
type WindowState struct {
	Count          int       `json:"count"`
	WindowResetAt  time.Time `json:"window_reset_at"`
	FirstRequestAt time.Time `json:"first_request_at"`
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`

	// FailedOpen is set when the counter store was unavailable and the
	// check was allowed without enforcement.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// CounterStore persists fixed-window counters. Implementations must make
// CheckAndIncrement atomic per key.
type CounterStore interface {
	// CheckAndIncrement applies fixed-window semantics for key: expired or
	// absent state is reinitialized; at the limit the request is denied
	// without mutating state; otherwise the count is incremented. The
	// returned state reflects the store after the call.
	CheckAndIncrement(ctx context.Context, key string, limit Limit) (WindowState, bool, error)

	// Peek returns the current window state without consuming a request
	// slot. Returns nil when no window exists for key.
	Peek(ctx context.Context, key string) (*WindowState, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Close releases store resources.
	Close() error
}

// ErrStoreUnavailable indicates a transient counter store failure; checks
// fail open when it occurs.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")
