// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package activity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory, ordered by arrival. Used in
// tests and small deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory activity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record validates and appends one record.
func (s *MemoryStore) Record(ctx context.Context, rec *Record) error {
	if err := Validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	s.records = append(s.records, *rec)
	s.mu.Unlock()
	return nil
}

// FindByUserAndTimeRange returns records for userID within [start, end].
func (s *MemoryStore) FindByUserAndTimeRange(ctx context.Context, userID int, start, end time.Time) ([]Record, error) {
	return s.filter(func(r *Record) bool { return r.ActorUserID == userID }, start, end)
}

// FindByIPAndTimeRange returns records from ip within [start, end].
func (s *MemoryStore) FindByIPAndTimeRange(ctx context.Context, ip string, start, end time.Time) ([]Record, error) {
	return s.filter(func(r *Record) bool { return r.SourceIP == ip }, start, end)
}

func (s *MemoryStore) filter(pred func(*Record) bool, start, end time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := range s.records {
		r := &s.records[i]
		if r.OccurredAt.Before(start) || r.OccurredAt.After(end) {
			continue
		}
		if pred(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// ActivityStatistics aggregates per-action totals within [start, end].
func (s *MemoryStore) ActivityStatistics(ctx context.Context, start, end time.Time) ([]ActionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAction := make(map[string]*ActionStats)
	for i := range s.records {
		r := &s.records[i]
		if r.OccurredAt.Before(start) || r.OccurredAt.After(end) {
			continue
		}
		stats, ok := byAction[r.ActionType]
		if !ok {
			stats = &ActionStats{ActionType: r.ActionType}
			byAction[r.ActionType] = stats
		}
		stats.TotalCount++
		if r.Status.IsFailure() {
			stats.FailureCount++
		}
	}

	out := make([]ActionStats, 0, len(byAction))
	for _, stats := range byAction {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	return out, nil
}

// ActiveTargets returns the distinct users and IPs active in [start, end].
func (s *MemoryStore) ActiveTargets(ctx context.Context, start, end time.Time) (TargetSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[int]struct{})
	ips := make(map[string]struct{})
	for i := range s.records {
		r := &s.records[i]
		if r.OccurredAt.Before(start) || r.OccurredAt.After(end) {
			continue
		}
		if r.ActorUserID != 0 {
			users[r.ActorUserID] = struct{}{}
		}
		ips[r.SourceIP] = struct{}{}
	}
	return collectTargets(users, ips), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func collectTargets(users map[int]struct{}, ips map[string]struct{}) TargetSet {
	set := TargetSet{
		UserIDs: make([]int, 0, len(users)),
		IPs:     make([]string, 0, len(ips)),
	}
	for id := range users {
		set.UserIDs = append(set.UserIDs, id)
	}
	for ip := range ips {
		set.IPs = append(set.IPs, ip)
	}
	sort.Ints(set.UserIDs)
	sort.Strings(set.IPs)
	return set
}
