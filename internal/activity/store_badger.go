// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package activity

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// BadgerStore persists activity records in BadgerDB, keyed by occurrence
// time so time-ranged reads are prefix seeks rather than full scans.
// Records expire after the configured retention.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
}

const activityPrefix = "activity:"

// DefaultRetention bounds how long records are kept.
const DefaultRetention = 30 * 24 * time.Hour

// NewBadgerStore creates an activity store on an open badger database.
// A non-positive retention falls back to DefaultRetention.
func NewBadgerStore(db *badger.DB, retention time.Duration) *BadgerStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &BadgerStore{db: db, retention: retention}
}

// activityKey orders records by occurrence time; the uuid suffix keeps
// same-nanosecond records distinct.
func activityKey(at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", activityPrefix, at.UnixNano(), uuid.New().String()))
}

// Record validates and persists one record with the retention TTL.
func (s *BadgerStore) Record(ctx context.Context, rec *Record) error {
	if err := Validate(rec); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode activity record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(activityKey(rec.OccurredAt), data).WithTTL(s.retention)
		return txn.SetEntry(entry)
	})
}

// FindByUserAndTimeRange returns records for userID within [start, end].
func (s *BadgerStore) FindByUserAndTimeRange(ctx context.Context, userID int, start, end time.Time) ([]Record, error) {
	return s.scan(ctx, start, end, func(r *Record) bool { return r.ActorUserID == userID })
}

// FindByIPAndTimeRange returns records from ip within [start, end].
func (s *BadgerStore) FindByIPAndTimeRange(ctx context.Context, ip string, start, end time.Time) ([]Record, error) {
	return s.scan(ctx, start, end, func(r *Record) bool { return r.SourceIP == ip })
}

// scan seeks to the start of the time range and stops past its end; keys
// sort by occurrence time by construction.
func (s *BadgerStore) scan(ctx context.Context, start, end time.Time, pred func(*Record) bool) ([]Record, error) {
	var out []Record
	startKey := []byte(fmt.Sprintf("%s%020d:", activityPrefix, start.UnixNano()))
	endKey := []byte(fmt.Sprintf("%s%020d;", activityPrefix, end.UnixNano()))

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(activityPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(startKey); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if bytes.Compare(it.Item().Key(), endKey) > 0 {
				break
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode activity record: %w", err)
			}
			if pred(&rec) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActivityStatistics aggregates totals and failures per action type over
// [start, end].
func (s *BadgerStore) ActivityStatistics(ctx context.Context, start, end time.Time) ([]ActionStats, error) {
	records, err := s.scan(ctx, start, end, func(*Record) bool { return true })
	if err != nil {
		return nil, err
	}

	byAction := make(map[string]*ActionStats)
	for i := range records {
		r := &records[i]
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
func (s *BadgerStore) ActiveTargets(ctx context.Context, start, end time.Time) (TargetSet, error) {
	users := make(map[int]struct{})
	ips := make(map[string]struct{})
	_, err := s.scan(ctx, start, end, func(r *Record) bool {
		if r.ActorUserID != 0 {
			users[r.ActorUserID] = struct{}{}
		}
		ips[r.SourceIP] = struct{}{}
		return false
	})
	if err != nil {
		return TargetSet{}, err
	}
	return collectTargets(users, ips), nil
}

// Close is a no-op; the shared database handle is owned by the caller.
func (s *BadgerStore) Close() error {
	return nil
}
