// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

// Package detection implements rule based anomaly analysis over recorded
// activity. An Analyzer aggregates activity records for a target (a user,
// a source IP, or the whole site) inside a time window, runs each enabled
// rule against the aggregate, and merges the rule verdicts into a single
// AnalysisResult. The Advisor maps results to remediation advice and
// dispatches alerts for high severity findings.
package detection

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Severity grades how alarming a finding is. Values are ordered so that
// callers can compare severities directly: SeverityLow < SeverityMedium <
// SeverityHigh < SeverityCritical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Valid reports whether s is one of the defined severity levels.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// ParseSeverity converts a severity name back to its ordered value.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityLow, fmt.Errorf("detection: unknown severity %q", name)
}

// MarshalJSON encodes the severity as its lowercase name so API payloads
// stay readable while in-process comparisons stay numeric.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TargetType names what an analysis looked at.
type TargetType string

const (
	TargetUser   TargetType = "user"
	TargetIP     TargetType = "ip"
	TargetGlobal TargetType = "global"
)

// Rule type identifiers carried in RuleMatch.Type. These are stable
// strings consumed by the remediation advisor and by API clients.
const (
	RuleFailureRate   = "failure_rate_threshold"
	RuleFrequency     = "frequency_threshold"
	RuleDensity       = "activity_density"
	RuleSuspiciousIP  = "suspicious_ip_range"
	RuleMultiUser     = "multiple_users_same_ip"
	RuleGlobalFailure = "global_failure_ratio"
)

// RuleMatch records one rule that fired during an analysis.
type RuleMatch struct {
	// Type is one of the Rule* constants.
	Type string `json:"type"`
	// Message is a human readable account of what tripped the rule.
	Message string `json:"message"`
	// Action is the activity action type the match applies to, when the
	// rule is action scoped. Empty for target wide rules.
	Action string `json:"action,omitempty"`
	// Threshold is the configured limit the observation was compared to.
	Threshold float64 `json:"threshold"`
	// Actual is the observed value that crossed the threshold.
	Actual float64 `json:"actual"`
}

// AnalysisResult is the merged outcome of running all enabled rules
// against one target over one window.
type AnalysisResult struct {
	AnalysisID    string     `json:"analysis_id"`
	TargetType    TargetType `json:"target_type"`
	TargetID      string     `json:"target_id"`
	WindowMinutes int        `json:"window_minutes"`
	AnalyzedAt    time.Time  `json:"analyzed_at"`

	IsSuspicious bool     `json:"is_suspicious"`
	Severity     Severity `json:"severity"`
	// Confidence is the analyzer's certainty in the verdict, 0.0 to 1.0.
	// A non-suspicious result always carries 0.0.
	Confidence float64 `json:"confidence"`

	// ActivityCounts is the number of records per action type inside the
	// window. FailureCounts is the failed or blocked subset.
	ActivityCounts map[string]int `json:"activity_counts"`
	FailureCounts  map[string]int `json:"failure_counts"`

	// AnomalyScores holds one normalized 0..1 score per rule that
	// produced a signal, keyed by rule type.
	AnomalyScores map[string]float64 `json:"anomaly_scores"`

	// MatchedRules lists rule matches in rule execution order.
	MatchedRules []RuleMatch `json:"matched_rules"`

	// RecommendedAction is filled in by the Advisor, empty until then
	// and for non-suspicious results.
	RecommendedAction string `json:"recommended_action,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HasMatch reports whether a rule of the given type fired.
func (r *AnalysisResult) HasMatch(ruleType string) bool {
	for _, m := range r.MatchedRules {
		if m.Type == ruleType {
			return true
		}
	}
	return false
}
