// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package accesslist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// BadgerRuleStore is a BadgerDB-backed rule store for production use.
// Rules survive restarts; IDs are allocated from a badger sequence.
type BadgerRuleStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

const rulePrefix = "accessrule:"

// NewBadgerRuleStore creates a rule store on an open badger database.
// The database handle is shared with other stores and not closed here.
func NewBadgerRuleStore(db *badger.DB) (*BadgerRuleStore, error) {
	seq, err := db.GetSequence([]byte("accessrule_seq"), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule ID sequence: %w", err)
	}
	return &BadgerRuleStore{db: db, seq: seq}, nil
}

func ruleKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", rulePrefix, id))
}

// GetByType scans all rules and returns those of the given type.
func (s *BadgerRuleStore) GetByType(ctx context.Context, t RuleType) ([]Rule, error) {
	var out []Rule
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(rulePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rule Rule
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rule)
			})
			if err != nil {
				return fmt.Errorf("failed to decode rule: %w", err)
			}
			if rule.Type == t {
				out = append(out, rule)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns the rule with the given ID.
func (s *BadgerRuleStore) GetByID(ctx context.Context, id int64) (*Rule, error) {
	var rule Rule
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ruleKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rule)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Put inserts or updates a rule, allocating an ID for inserts.
func (s *BadgerRuleStore) Put(ctx context.Context, rule *Rule) error {
	now := time.Now()

	if rule.ID == 0 {
		next, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate rule ID: %w", err)
		}
		rule.ID = int64(next) + 1
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	return s.db.Update(func(txn *badger.Txn) error {
		if rule.CreatedAt.IsZero() {
			// Update path: preserve the original creation time if present.
			if item, err := txn.Get(ruleKey(rule.ID)); err == nil {
				var existing Rule
				if verr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				}); verr == nil {
					rule.CreatedAt = existing.CreatedAt
				}
			}
			if rule.CreatedAt.IsZero() {
				rule.CreatedAt = now
			}
		}

		data, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("failed to encode rule: %w", err)
		}
		return txn.Set(ruleKey(rule.ID), data)
	})
}

// Delete removes a rule by ID.
func (s *BadgerRuleStore) Delete(ctx context.Context, id int64) (bool, error) {
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(ruleKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(ruleKey(id))
	})
	return existed, err
}

// Close releases the ID sequence. The shared database handle is left open.
func (s *BadgerRuleStore) Close() error {
	return s.seq.Release()
}
