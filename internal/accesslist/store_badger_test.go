// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package accesslist

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerRuleStoreRoundTrip(t *testing.T) {
	db := openTestBadger(t)
	store, err := NewBadgerRuleStore(db)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	rule := &Rule{CIDROrIP: "10.0.0.0/8", Type: RuleBlock, Description: "internal"}
	if err := store.Put(ctx, rule); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if rule.ID == 0 {
		t.Fatal("expected assigned ID")
	}

	got, err := store.GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CIDROrIP != "10.0.0.0/8" || got.Type != RuleBlock {
		t.Errorf("round trip mismatch: %+v", got)
	}

	blocks, err := store.GetByType(ctx, RuleBlock)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 {
		t.Errorf("len(blocks) = %d, want 1", len(blocks))
	}
	allows, err := store.GetByType(ctx, RuleAllow)
	if err != nil {
		t.Fatal(err)
	}
	if len(allows) != 0 {
		t.Errorf("len(allows) = %d, want 0", len(allows))
	}
}

func TestBadgerRuleStoreUpdatePreservesCreatedAt(t *testing.T) {
	db := openTestBadger(t)
	store, err := NewBadgerRuleStore(db)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	rule := &Rule{CIDROrIP: "203.0.113.9", Type: RuleAllow}
	if err := store.Put(ctx, rule); err != nil {
		t.Fatal(err)
	}
	created := rule.CreatedAt

	update := &Rule{ID: rule.ID, UUID: rule.UUID, CIDROrIP: "203.0.113.10", Type: RuleAllow}
	if err := store.Put(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetByID(ctx, rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CIDROrIP != "203.0.113.10" {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: %v -> %v", created, got.CreatedAt)
	}
}

func TestBadgerRuleStoreDelete(t *testing.T) {
	db := openTestBadger(t)
	store, err := NewBadgerRuleStore(db)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	rule := &Rule{CIDROrIP: "10.0.0.1", Type: RuleBlock}
	if err := store.Put(ctx, rule); err != nil {
		t.Fatal(err)
	}

	deleted, err := store.Delete(ctx, rule.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}

	if _, err := store.GetByID(ctx, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("GetByID after delete err = %v, want ErrRuleNotFound", err)
	}

	deleted, err = store.Delete(ctx, rule.ID)
	if err != nil || deleted {
		t.Errorf("second Delete = %v, %v, want false, nil", deleted, err)
	}
}
