// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package accesslist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/palisade-project/palisade/internal/cache"
	"github.com/palisade-project/palisade/internal/ipmatch"
	"github.com/palisade-project/palisade/internal/logging"
	"github.com/palisade-project/palisade/internal/validation"
)

// Access list metrics.
var (
	accessDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_accesslist_decisions_total",
			Help: "Total admission decisions by outcome",
		},
		[]string{"outcome"}, // allow, block, default
	)

	accessCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_accesslist_cache_lookups_total",
			Help: "Decision cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	accessRuleWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_accesslist_rule_writes_total",
			Help: "Access rule writes by operation",
		},
		[]string{"operation"}, // upsert, delete
	)
)

// DefaultCacheTTL bounds how long a per-IP decision may be served without
// a fresh scan of the rule repository.
const DefaultCacheTTL = time.Hour

// Decision is the outcome of the admission policy for one IP.
type Decision string

const (
	// DecisionAllow means an allow rule covered the IP (short-circuit permit).
	DecisionAllow Decision = "allow"

	// DecisionBlock means a block rule covered the IP and no allow rule did.
	DecisionBlock Decision = "block"

	// DecisionDefault means no rule covered the IP (default permit).
	DecisionDefault Decision = "default"
)

// Permitted reports whether the decision admits the request.
func (d Decision) Permitted() bool {
	return d != DecisionBlock
}

// Store answers allow/block questions over a cached rule repository.
//
// The authoritative path for a decision always scans the full rule set from
// the repository; only the per-IP outcome of that scan is cached, for
// DefaultCacheTTL. Writes invalidate the cached decisions the rule can
// change: a literal rule clears the entry for that exact address, while a
// CIDR rule flushes the decision bucket for its type, since the covered
// addresses cannot be enumerated. Decisions for the other rule type are
// unaffected by the write and stay cached.
type Store struct {
	rules RuleStore
	cache *cache.Cache
	ttl   time.Duration
}

// NewStore creates a Store over the given rule repository.
func NewStore(rules RuleStore) *Store {
	return NewStoreWithTTL(rules, DefaultCacheTTL)
}

// NewStoreWithTTL creates a Store with a custom decision cache TTL.
func NewStoreWithTTL(rules RuleStore, ttl time.Duration) *Store {
	return &Store{
		rules: rules,
		cache: cache.New(ttl),
		ttl:   ttl,
	}
}

// Close stops the decision cache. The rule repository is not closed.
func (s *Store) Close() {
	s.cache.Stop()
}

func decisionKey(t RuleType, ip string) string {
	return "decision:" + string(t) + ":" + ip
}

// IsAllowed reports whether any allow rule covers ip.
func (s *Store) IsAllowed(ctx context.Context, ip string) (bool, error) {
	return s.matchType(ctx, RuleAllow, ip)
}

// IsBlocked reports whether any block rule covers ip.
func (s *Store) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return s.matchType(ctx, RuleBlock, ip)
}

func (s *Store) matchType(ctx context.Context, t RuleType, ip string) (bool, error) {
	addr := ipmatch.ParseAddr(ip)
	if !addr.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	canonical := addr.String()

	key := decisionKey(t, canonical)
	if v, ok := s.cache.Get(key); ok {
		accessCacheLookupsTotal.WithLabelValues("hit").Inc()
		return v.(bool), nil
	}
	accessCacheLookupsTotal.WithLabelValues("miss").Inc()

	rules, err := s.rules.GetByType(ctx, t)
	if err != nil {
		return false, fmt.Errorf("failed to load %s rules: %w", t, err)
	}

	matched := false
	for i := range rules {
		if ipmatch.Match(canonical, rules[i].CIDROrIP) {
			matched = true
			break
		}
	}

	s.cache.SetWithTTL(key, matched, s.ttl)
	return matched, nil
}

// Decide applies the admission policy to ip: explicit allow short-circuits
// to permit, else explicit block denies, else default permit.
//
// Rule-set read failures fail open with DecisionDefault; a store outage
// must not lock legitimate callers out.
func (s *Store) Decide(ctx context.Context, ip string) Decision {
	allowed, err := s.IsAllowed(ctx, ip)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("ip", ip).Msg("allow scan failed, failing open")
		accessDecisionsTotal.WithLabelValues("default").Inc()
		return DecisionDefault
	}
	if allowed {
		accessDecisionsTotal.WithLabelValues("allow").Inc()
		return DecisionAllow
	}

	blocked, err := s.IsBlocked(ctx, ip)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("ip", ip).Msg("block scan failed, failing open")
		accessDecisionsTotal.WithLabelValues("default").Inc()
		return DecisionDefault
	}
	if blocked {
		accessDecisionsTotal.WithLabelValues("block").Inc()
		return DecisionBlock
	}

	accessDecisionsTotal.WithLabelValues("default").Inc()
	return DecisionDefault
}

// UpsertRule validates and persists a rule, then invalidates the cache
// entries derived from it. Validation failures wrap ErrInvalidRule and the
// rule never reaches the repository.
func (s *Store) UpsertRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if verr := validation.ValidateStruct(rule); verr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, verr)
	}
	rule.CIDROrIP = strings.TrimSpace(rule.CIDROrIP)
	if err := ipmatch.ValidRule(rule.CIDROrIP); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if rule.UUID == "" {
		rule.UUID = uuid.New().String()
	}

	if err := s.rules.Put(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to persist rule: %w", err)
	}

	s.invalidate(rule)
	accessRuleWritesTotal.WithLabelValues("upsert").Inc()
	logging.Ctx(ctx).Info().
		Int64("rule_id", rule.ID).
		Str("type", string(rule.Type)).
		Str("range", rule.CIDROrIP).
		Msg("access rule upserted")
	return rule, nil
}

// DeleteRule removes a rule by ID and invalidates its cache entries.
func (s *Store) DeleteRule(ctx context.Context, id int64) (bool, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		if err == ErrRuleNotFound {
			return false, nil
		}
		return false, err
	}

	deleted, err := s.rules.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	if deleted {
		s.invalidate(rule)
		accessRuleWritesTotal.WithLabelValues("delete").Inc()
		logging.Ctx(ctx).Info().Int64("rule_id", id).Msg("access rule deleted")
	}
	return deleted, nil
}

// ListByType returns all rules of the given type directly from the
// repository.
func (s *Store) ListByType(ctx context.Context, t RuleType) ([]Rule, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRule, t)
	}
	return s.rules.GetByType(ctx, t)
}

// GetRule returns a single rule by ID.
func (s *Store) GetRule(ctx context.Context, id int64) (*Rule, error) {
	return s.rules.GetByID(ctx, id)
}

// FlushCache drops every cached decision. Exposed for administrative use
// after bulk rule imports.
func (s *Store) FlushCache() int {
	return s.cache.DeletePrefix("decision:")
}

// invalidate removes cache entries derived from rule. Literal rules clear
// the decision entry for their exact address. CIDR rules cannot enumerate
// covered addresses, so the whole decision bucket for the rule's type is
// flushed instead; the next lookup per IP rebuilds it from the repository.
func (s *Store) invalidate(rule *Rule) {
	if strings.Contains(rule.CIDROrIP, "/") {
		s.cache.DeletePrefix("decision:" + string(rule.Type) + ":")
		return
	}
	if addr := ipmatch.ParseAddr(rule.CIDROrIP); addr.IsValid() {
		s.cache.Delete(decisionKey(rule.Type, addr.String()))
	}
}
