// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore keeps windows in process memory. Suitable for tests
// and single-instance deployments; counters do not survive restarts.
type MemoryCounterStore struct {
	mu      sync.Mutex
	windows map[string]*WindowState
	closed  bool
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{windows: make(map[string]*WindowState)}
}

// CheckAndIncrement applies fixed-window semantics under one lock, making
// the check-then-increment atomic across goroutines.
func (s *MemoryCounterStore) CheckAndIncrement(ctx context.Context, key string, limit Limit) (WindowState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return WindowState{}, false, ErrStoreUnavailable
	}

	now := time.Now()
	w, ok := s.windows[key]
	if !ok || now.After(w.WindowResetAt) {
		w = &WindowState{
			Count:          0,
			WindowResetAt:  now.Add(limit.Window()),
			FirstRequestAt: now,
		}
		s.windows[key] = w
	}

	if w.Count >= limit.MaxRequests {
		return *w, false, nil
	}

	w.Count++
	return *w, true, nil
}

// Peek returns the live window for key, or nil when absent or expired.
func (s *MemoryCounterStore) Peek(ctx context.Context, key string) (*WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreUnavailable
	}

	w, ok := s.windows[key]
	if !ok || time.Now().After(w.WindowResetAt) {
		return nil, nil
	}
	out := *w
	return &out, nil
}

// Reset removes the counter for key.
func (s *MemoryCounterStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreUnavailable
	}
	delete(s.windows, key)
	return nil
}

// Close marks the store unavailable.
func (s *MemoryCounterStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.windows = nil
	return nil
}
