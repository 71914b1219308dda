// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"fmt"
	"time"

	"github.com/palisade-project/palisade/internal/activity"
	"github.com/palisade-project/palisade/internal/ipmatch"
)

// verdict is the outcome of a single rule evaluation. Verdicts from all
// enabled rules are merged into the final AnalysisResult.
type verdict struct {
	suspicious bool
	severity   Severity
	confidence float64
	score      float64
	matches    []RuleMatch
}

// evalFailureRate flags action types whose failure count crossed the
// configured threshold. A failure threshold configured for a window
// different from the analysis window is skipped so that a short query
// never triggers an hour scaled rule. Severity climbs with the ratio of
// observed failures to the threshold.
func (a *Analyzer) evalFailureRate(windowMinutes int, failureCounts map[string]int) verdict {
	v := verdict{severity: SeverityLow}
	for action, failures := range failureCounts {
		rule, ok := a.thresholds.FailureThreshold(action)
		if !ok || rule.WindowMinutes != windowMinutes {
			continue
		}
		if failures < rule.Threshold {
			continue
		}
		ratio := float64(failures) / float64(rule.Threshold)
		sev := failureSeverity(ratio)
		v.suspicious = true
		if sev > v.severity {
			v.severity = sev
		}
		if score := clamp01(ratio / 3.0); score > v.score {
			v.score = score
		}
		if conf := clamp01(0.5 + ratio/6.0); conf > v.confidence {
			v.confidence = conf
		}
		v.matches = append(v.matches, RuleMatch{
			Type:      RuleFailureRate,
			Message:   fmt.Sprintf("%d failed %s attempts in %d minutes exceeds threshold %d", failures, action, windowMinutes, rule.Threshold),
			Action:    action,
			Threshold: float64(rule.Threshold),
			Actual:    float64(failures),
		})
	}
	return v
}

// failureSeverity floors at medium: any crossed failure threshold is a
// real signal, so the low band is reserved for non-triggered results.
func failureSeverity(ratio float64) Severity {
	switch {
	case ratio < 2.0:
		return SeverityMedium
	case ratio < 3.0:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// evalFrequency flags action types whose total volume crossed the
// configured threshold regardless of outcome.
func (a *Analyzer) evalFrequency(windowMinutes int, activityCounts map[string]int) verdict {
	v := verdict{severity: SeverityLow}
	for action, total := range activityCounts {
		rule, ok := a.thresholds.FrequencyThreshold(action)
		if !ok || rule.WindowMinutes != windowMinutes {
			continue
		}
		if total < rule.Threshold {
			continue
		}
		ratio := float64(total) / float64(rule.Threshold)
		sev := frequencySeverity(ratio)
		v.suspicious = true
		if sev > v.severity {
			v.severity = sev
		}
		if score := clamp01(ratio / 2.0); score > v.score {
			v.score = score
		}
		if conf := clamp01(0.5 + ratio/4.0); conf > v.confidence {
			v.confidence = conf
		}
		v.matches = append(v.matches, RuleMatch{
			Type:      RuleFrequency,
			Message:   fmt.Sprintf("%d %s requests in %d minutes exceeds threshold %d", total, action, windowMinutes, rule.Threshold),
			Action:    action,
			Threshold: float64(rule.Threshold),
			Actual:    float64(total),
		})
	}
	return v
}

func frequencySeverity(ratio float64) Severity {
	switch {
	case ratio < 1.5:
		return SeverityLow
	case ratio < 2.0:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// evalDensity buckets records into one minute slots and flags any slot
// denser than the configured per minute limit. Bursts are a weaker
// signal than explicit failures so the verdict is capped at medium with
// a fixed confidence.
func (a *Analyzer) evalDensity(records []activity.Record) verdict {
	v := verdict{severity: SeverityLow}
	limit := a.thresholds.densityLimit()
	if limit <= 0 || len(records) == 0 {
		return v
	}

	buckets := make(map[int64]int)
	peak := 0
	for _, rec := range records {
		slot := rec.OccurredAt.Truncate(time.Minute).Unix()
		buckets[slot]++
		if buckets[slot] > peak {
			peak = buckets[slot]
		}
	}
	if peak <= limit {
		return v
	}

	v.suspicious = true
	v.severity = SeverityMedium
	v.confidence = 0.7
	v.score = clamp01(float64(peak) / float64(2*limit))
	v.matches = append(v.matches, RuleMatch{
		Type:      RuleDensity,
		Message:   fmt.Sprintf("peak of %d requests in one minute exceeds density limit %d", peak, limit),
		Threshold: float64(limit),
		Actual:    float64(peak),
	})
	return v
}

// evalReputation checks an IP target against the configured suspicious
// ranges. Membership alone is a high severity signal.
func (a *Analyzer) evalReputation(ip string) verdict {
	v := verdict{severity: SeverityLow}
	ranges := a.thresholds.reputationRanges()
	for _, r := range ranges {
		if !ipmatch.Match(ip, r) {
			continue
		}
		v.suspicious = true
		v.severity = SeverityHigh
		v.confidence = 0.9
		v.score = 0.9
		v.matches = append(v.matches, RuleMatch{
			Type:      RuleSuspiciousIP,
			Message:   fmt.Sprintf("address %s falls inside flagged range %s", ip, r),
			Threshold: 0,
			Actual:    1,
		})
		return v
	}
	return v
}

// evalMultiUser flags an IP that many distinct authenticated users acted
// from inside the window. Anonymous records carry user ID zero and are
// not counted.
func (a *Analyzer) evalMultiUser(records []activity.Record) verdict {
	v := verdict{severity: SeverityLow}
	limit := a.thresholds.multiUserLimit()
	if limit <= 0 {
		return v
	}

	users := make(map[int]struct{})
	for _, rec := range records {
		if rec.ActorUserID != 0 {
			users[rec.ActorUserID] = struct{}{}
		}
	}
	if len(users) <= limit {
		return v
	}

	v.suspicious = true
	v.severity = SeverityMedium
	v.confidence = 0.8
	v.score = clamp01(float64(len(users)) / 50.0)
	v.matches = append(v.matches, RuleMatch{
		Type:      RuleMultiUser,
		Message:   fmt.Sprintf("%d distinct users active from one address exceeds limit %d", len(users), limit),
		Threshold: float64(limit),
		Actual:    float64(len(users)),
	})
	return v
}

// evalGlobalFailure compares the sitewide failure ratio to the
// configured ceiling. Confidence scales linearly until the ratio reaches
// 50 percent.
func (a *Analyzer) evalGlobalFailure(total, failed int) verdict {
	v := verdict{severity: SeverityLow}
	limit := a.thresholds.globalFailureLimit()
	if total == 0 || limit <= 0 {
		return v
	}
	ratio := float64(failed) / float64(total)
	if ratio <= limit {
		return v
	}

	v.suspicious = true
	v.severity = SeverityHigh
	v.confidence = clamp01(ratio / 0.5)
	v.score = clamp01(ratio)
	v.matches = append(v.matches, RuleMatch{
		Type:      RuleGlobalFailure,
		Message:   fmt.Sprintf("sitewide failure ratio %.2f exceeds ceiling %.2f", ratio, limit),
		Threshold: limit,
		Actual:    ratio,
	})
	return v
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
