// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"fmt"
	"sync"

	"github.com/palisade-project/palisade/internal/ipmatch"
)

// ThresholdRule is one configured limit for an action type.
type ThresholdRule struct {
	ActionType    string `json:"action_type" koanf:"action_type" validate:"required"`
	Threshold     int    `json:"threshold" koanf:"threshold" validate:"required,gt=0"`
	WindowMinutes int    `json:"window_minutes" koanf:"window_minutes" validate:"required,gt=0"`
}

// ThresholdSnapshot is a point in time copy of the full rule
// configuration, safe to hand to API clients.
type ThresholdSnapshot struct {
	FailureThresholds   []ThresholdRule `json:"failure_thresholds"`
	FrequencyThresholds []ThresholdRule `json:"frequency_thresholds"`
	DensityPerMinute    int             `json:"density_per_minute"`
	MultiUserThreshold  int             `json:"multi_user_threshold"`
	GlobalFailureRatio  float64         `json:"global_failure_ratio"`
	SuspiciousRanges    []string        `json:"suspicious_ranges"`
	DisabledRules       []string        `json:"disabled_rules"`
}

// Thresholds holds the tunable rule configuration. All accessors are
// safe for concurrent use; the analyzer reads a consistent view per
// analysis while administrative endpoints mutate in place.
type Thresholds struct {
	mu sync.RWMutex

	failure   map[string]ThresholdRule
	frequency map[string]ThresholdRule

	densityPerMinute   int
	multiUserThreshold int
	globalFailureRatio float64

	suspiciousRanges []string

	disabled map[string]bool
}

// NewThresholds returns a Thresholds populated with the default rule
// configuration.
func NewThresholds() *Thresholds {
	t := &Thresholds{}
	t.resetLocked()
	return t
}

func (t *Thresholds) resetLocked() {
	t.failure = map[string]ThresholdRule{
		"login":          {ActionType: "login", Threshold: 5, WindowMinutes: 60},
		"password_reset": {ActionType: "password_reset", Threshold: 3, WindowMinutes: 60},
		"register":       {ActionType: "register", Threshold: 5, WindowMinutes: 60},
		"post_create":    {ActionType: "post_create", Threshold: 10, WindowMinutes: 60},
	}
	t.frequency = map[string]ThresholdRule{
		"login":    {ActionType: "login", Threshold: 20, WindowMinutes: 60},
		"download": {ActionType: "download", Threshold: 100, WindowMinutes: 60},
		"view":     {ActionType: "view", Threshold: 500, WindowMinutes: 60},
	}
	t.densityPerMinute = 50
	t.multiUserThreshold = 10
	t.globalFailureRatio = 0.20
	t.suspiciousRanges = nil
	t.disabled = map[string]bool{}
}

// ResetDefaults discards all administrative overrides.
func (t *Thresholds) ResetDefaults() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// SetFailureThreshold installs or replaces the failure rate limit for an
// action type.
func (t *Thresholds) SetFailureThreshold(actionType string, threshold, windowMinutes int) error {
	if actionType == "" || threshold <= 0 || windowMinutes <= 0 {
		return fmt.Errorf("detection: invalid failure threshold %q/%d/%d", actionType, threshold, windowMinutes)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failure[actionType] = ThresholdRule{ActionType: actionType, Threshold: threshold, WindowMinutes: windowMinutes}
	return nil
}

// SetFrequencyThreshold installs or replaces the raw volume limit for an
// action type.
func (t *Thresholds) SetFrequencyThreshold(actionType string, threshold, windowMinutes int) error {
	if actionType == "" || threshold <= 0 || windowMinutes <= 0 {
		return fmt.Errorf("detection: invalid frequency threshold %q/%d/%d", actionType, threshold, windowMinutes)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frequency[actionType] = ThresholdRule{ActionType: actionType, Threshold: threshold, WindowMinutes: windowMinutes}
	return nil
}

// SetDensityPerMinute replaces the burst density limit.
func (t *Thresholds) SetDensityPerMinute(n int) error {
	if n <= 0 {
		return fmt.Errorf("detection: invalid density threshold %d", n)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.densityPerMinute = n
	return nil
}

// SetMultiUserThreshold replaces the distinct-users-per-IP limit.
func (t *Thresholds) SetMultiUserThreshold(n int) error {
	if n <= 0 {
		return fmt.Errorf("detection: invalid multi user threshold %d", n)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.multiUserThreshold = n
	return nil
}

// SetSuspiciousRanges replaces the reputation list. Every entry must be
// a valid address or CIDR or the whole update is rejected.
func (t *Thresholds) SetSuspiciousRanges(ranges []string) error {
	for _, r := range ranges {
		if err := ipmatch.ValidRule(r); err != nil {
			return fmt.Errorf("detection: suspicious range %q: %w", r, err)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspiciousRanges = append([]string(nil), ranges...)
	return nil
}

var knownRules = map[string]bool{
	RuleFailureRate:   true,
	RuleFrequency:     true,
	RuleDensity:       true,
	RuleSuspiciousIP:  true,
	RuleMultiUser:     true,
	RuleGlobalFailure: true,
}

// EnableRule re-enables a rule type previously disabled.
func (t *Thresholds) EnableRule(ruleType string) error {
	if !knownRules[ruleType] {
		return fmt.Errorf("detection: unknown rule %q", ruleType)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.disabled, ruleType)
	return nil
}

// DisableRule turns a rule type off. Disabled rules neither match nor
// contribute scores.
func (t *Thresholds) DisableRule(ruleType string) error {
	if !knownRules[ruleType] {
		return fmt.Errorf("detection: unknown rule %q", ruleType)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled[ruleType] = true
	return nil
}

// RuleEnabled reports whether a rule type is currently active.
func (t *Thresholds) RuleEnabled(ruleType string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return knownRules[ruleType] && !t.disabled[ruleType]
}

// FailureThreshold returns the failure rule for an action type, if any.
func (t *Thresholds) FailureThreshold(actionType string) (ThresholdRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.failure[actionType]
	return r, ok
}

// FrequencyThreshold returns the frequency rule for an action type, if any.
func (t *Thresholds) FrequencyThreshold(actionType string) (ThresholdRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.frequency[actionType]
	return r, ok
}

// Snapshot copies the full configuration for inspection.
func (t *Thresholds) Snapshot() ThresholdSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := ThresholdSnapshot{
		DensityPerMinute:   t.densityPerMinute,
		MultiUserThreshold: t.multiUserThreshold,
		GlobalFailureRatio: t.globalFailureRatio,
		SuspiciousRanges:   append([]string(nil), t.suspiciousRanges...),
	}
	for _, r := range t.failure {
		snap.FailureThresholds = append(snap.FailureThresholds, r)
	}
	for _, r := range t.frequency {
		snap.FrequencyThresholds = append(snap.FrequencyThresholds, r)
	}
	for name := range t.disabled {
		snap.DisabledRules = append(snap.DisabledRules, name)
	}
	return snap
}

func (t *Thresholds) densityLimit() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.densityPerMinute
}

func (t *Thresholds) multiUserLimit() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.multiUserThreshold
}

func (t *Thresholds) globalFailureLimit() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.globalFailureRatio
}

func (t *Thresholds) reputationRanges() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.suspiciousRanges...)
}
