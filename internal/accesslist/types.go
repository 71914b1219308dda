// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

// Package accesslist implements the IP allow/block list gate.
//
// Allow rules and block rules are independent sets of literal addresses and
// CIDR ranges. The admission policy is: explicit allow short-circuits to
// permit, else explicit block denies, else default permit.
//
// Authoritative decisions always scan the full rule set; only single-entity
// lookups and per-IP decisions are cached, and rule writes invalidate the
// decisions they can change, so writes take effect immediately.
package accesslist

import (
	"context"
	"errors"
	"time"
)

// RuleType distinguishes allow entries from block entries.
type RuleType string

const (
	// RuleAllow entries short-circuit admission to permit.
	RuleAllow RuleType = "allow"

	// RuleBlock entries deny admission unless an allow entry also covers the IP.
	RuleBlock RuleType = "block"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	return t == RuleAllow || t == RuleBlock
}

// Rule is one allow or block entry. CIDROrIP must parse as a literal IPv4
// or IPv6 address or a CIDR range; this is enforced at write time so the
// match path never sees malformed rules.
type Rule struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	CIDROrIP    string    `json:"cidr_or_ip" validate:"required"`
	Type        RuleType  `json:"type" validate:"required,oneof=allow block"`
	ScopeUnitID int       `json:"scope_unit_id,omitempty"`
	Description string    `json:"description" validate:"max=500"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RuleStore persists access rules. Implementations must be safe for
// concurrent use.
type RuleStore interface {
	// GetByType returns all rules of the given type.
	GetByType(ctx context.Context, t RuleType) ([]Rule, error)

	// GetByID returns the rule with the given ID, or ErrRuleNotFound.
	GetByID(ctx context.Context, id int64) (*Rule, error)

	// Put inserts or updates a rule. A zero ID means insert; the assigned
	// ID is written back into the rule.
	Put(ctx context.Context, rule *Rule) error

	// Delete removes a rule by ID. Returns false if no rule existed.
	Delete(ctx context.Context, id int64) (bool, error)

	// Close releases store resources.
	Close() error
}

// Package errors.
var (
	// ErrInvalidIP indicates a non-IP string where an IP is required.
	ErrInvalidIP = errors.New("invalid IP address")

	// ErrInvalidRule indicates a rule that failed write-time validation.
	ErrInvalidRule = errors.New("invalid access rule")

	// ErrRuleNotFound indicates a lookup for a rule that does not exist.
	ErrRuleNotFound = errors.New("access rule not found")

	// ErrStoreClosed indicates use of a closed rule store.
	ErrStoreClosed = errors.New("rule store is closed")
)
