// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// BadgerCounterStore persists windows in BadgerDB so counters survive
// restarts. Entries carry a TTL equal to the remaining window time, so
// expired windows vanish without a sweeper.
//
// Writers for one key are serialized through a striped mutex. Badger's
// SSI would otherwise abort concurrent increments of a hot key, and
// contention is not a store outage: checks must queue, not degrade.
type BadgerCounterStore struct {
	db    *badger.DB
	locks [counterLockStripes]sync.Mutex
}

const counterPrefix = "ratelimit:"

// counterLockStripes bounds lock memory; distinct keys sharing a stripe
// serialize against each other, which only costs latency.
const counterLockStripes = 64

// NewBadgerCounterStore creates a counter store on an open badger database.
func NewBadgerCounterStore(db *badger.DB) *BadgerCounterStore {
	return &BadgerCounterStore{db: db}
}

func counterKey(key string) []byte {
	return []byte(counterPrefix + key)
}

func (s *BadgerCounterStore) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%counterLockStripes]
}

// CheckAndIncrement applies fixed-window semantics inside a badger
// transaction, holding the key's stripe lock for the duration so
// concurrent checks on one key never abort each other.
func (s *BadgerCounterStore) CheckAndIncrement(ctx context.Context, key string, limit Limit) (WindowState, bool, error) {
	if err := ctx.Err(); err != nil {
		return WindowState{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	var (
		state   WindowState
		allowed bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		now := time.Now()

		w := WindowState{}
		item, err := txn.Get(counterKey(key))
		switch {
		case err == nil:
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			}); verr != nil {
				return fmt.Errorf("failed to decode window: %w", verr)
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			// No window yet.
		default:
			return err
		}

		if w.WindowResetAt.IsZero() || now.After(w.WindowResetAt) {
			w = WindowState{
				Count:          0,
				WindowResetAt:  now.Add(limit.Window()),
				FirstRequestAt: now,
			}
		}

		if w.Count >= limit.MaxRequests {
			state, allowed = w, false
			return nil
		}

		w.Count++
		data, err := json.Marshal(&w)
		if err != nil {
			return fmt.Errorf("failed to encode window: %w", err)
		}

		ttl := time.Until(w.WindowResetAt)
		if ttl <= 0 {
			ttl = time.Second
		}
		entry := badger.NewEntry(counterKey(key), data).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}

		state, allowed = w, true
		return nil
	})
	if err != nil {
		return WindowState{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return state, allowed, nil
}

// Peek reads the window for key without consuming a slot.
func (s *BadgerCounterStore) Peek(ctx context.Context, key string) (*WindowState, error) {
	var w *WindowState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(counterKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var state WindowState
		if verr := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		}); verr != nil {
			return verr
		}
		if time.Now().After(state.WindowResetAt) {
			return nil
		}
		w = &state
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return w, nil
}

// Reset removes the counter for key.
func (s *BadgerCounterStore) Reset(ctx context.Context, key string) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(counterKey(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close is a no-op; the shared database handle is owned by the caller.
func (s *BadgerCounterStore) Close() error {
	return nil
}
