// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package accesslist

import (
	"context"
	"sync"
	"time"
)

// MemoryRuleStore is an in-memory rule store for testing and for
// deployments that load a static list from configuration.
type MemoryRuleStore struct {
	mu     sync.RWMutex
	rules  map[int64]Rule
	nextID int64
	closed bool
}

// NewMemoryRuleStore creates an empty in-memory rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{
		rules:  make(map[int64]Rule),
		nextID: 1,
	}
}

// GetByType returns all rules of the given type.
func (s *MemoryRuleStore) GetByType(ctx context.Context, t RuleType) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []Rule
	for _, r := range s.rules {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetByID returns the rule with the given ID.
func (s *MemoryRuleStore) GetByID(ctx context.Context, id int64) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	r, ok := s.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

// Put inserts or updates a rule.
func (s *MemoryRuleStore) Put(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now()
	if rule.ID == 0 {
		rule.ID = s.nextID
		s.nextID++
		rule.CreatedAt = now
	} else if existing, ok := s.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
		if rule.ID >= s.nextID {
			s.nextID = rule.ID + 1
		}
	}
	rule.UpdatedAt = now

	s.rules[rule.ID] = *rule
	return nil
}

// Delete removes a rule by ID.
func (s *MemoryRuleStore) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	if _, ok := s.rules[id]; !ok {
		return false, nil
	}
	delete(s.rules, id)
	return true, nil
}

// Close marks the store closed.
func (s *MemoryRuleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.rules = nil
	return nil
}
