// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/palisade-project/palisade/internal/activity"
	"github.com/palisade-project/palisade/internal/ipmatch"
	"github.com/palisade-project/palisade/internal/logging"
)

var (
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palisade_detection_analyses_total",
		Help: "Anomaly analyses run, by target type and verdict.",
	}, []string{"target", "verdict"})

	ruleMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palisade_detection_rule_matches_total",
		Help: "Individual rule matches, by rule type.",
	}, []string{"rule"})
)

// DefaultWindowMinutes is the analysis window used when a caller passes
// a non-positive window.
const DefaultWindowMinutes = 60

// Analyzer runs the detection rules against recorded activity.
type Analyzer struct {
	log        activity.Log
	thresholds *Thresholds
}

// NewAnalyzer wires an analyzer over an activity log. A nil thresholds
// gets the defaults.
func NewAnalyzer(log activity.Log, thresholds *Thresholds) *Analyzer {
	if thresholds == nil {
		thresholds = NewThresholds()
	}
	return &Analyzer{log: log, thresholds: thresholds}
}

// Thresholds exposes the live rule configuration for administrative use.
func (a *Analyzer) Thresholds() *Thresholds {
	return a.thresholds
}

// AnalyzeUser runs the user scoped rules against one user's activity in
// the trailing window. A user with no recorded activity is reported as
// not suspicious with zero confidence.
func (a *Analyzer) AnalyzeUser(ctx context.Context, userID int, windowMinutes int) (*AnalysisResult, error) {
	windowMinutes = normalizeWindow(windowMinutes)
	result := a.newResult(TargetUser, strconv.Itoa(userID), windowMinutes)

	start, end := windowBounds(result.AnalyzedAt, windowMinutes)
	records, err := a.log.FindByUserAndTimeRange(ctx, userID, start, end)
	if err != nil {
		return a.failClosed(result, fmt.Errorf("detection: user lookup: %w", err)), nil
	}

	aggregate(result, records)
	verdicts := []verdict{
		a.runRule(RuleFailureRate, func() verdict { return a.evalFailureRate(windowMinutes, result.FailureCounts) }),
		a.runRule(RuleFrequency, func() verdict { return a.evalFrequency(windowMinutes, result.ActivityCounts) }),
		a.runRule(RuleDensity, func() verdict { return a.evalDensity(records) }),
	}
	a.merge(result, verdicts)
	return result, nil
}

// AnalyzeIP runs the address scoped rules against one source IP. The
// address is canonicalized before lookup; a malformed address is an
// input error, not an internal failure.
func (a *Analyzer) AnalyzeIP(ctx context.Context, ip string, windowMinutes int) (*AnalysisResult, error) {
	addr := ipmatch.ParseAddr(ip)
	if !addr.IsValid() {
		return nil, fmt.Errorf("detection: invalid ip %q", ip)
	}
	canonical := addr.String()

	windowMinutes = normalizeWindow(windowMinutes)
	result := a.newResult(TargetIP, canonical, windowMinutes)

	start, end := windowBounds(result.AnalyzedAt, windowMinutes)
	records, err := a.log.FindByIPAndTimeRange(ctx, canonical, start, end)
	if err != nil {
		return a.failClosed(result, fmt.Errorf("detection: ip lookup: %w", err)), nil
	}

	aggregate(result, records)
	verdicts := []verdict{
		a.runRule(RuleFailureRate, func() verdict { return a.evalFailureRate(windowMinutes, result.FailureCounts) }),
		a.runRule(RuleFrequency, func() verdict { return a.evalFrequency(windowMinutes, result.ActivityCounts) }),
		a.runRule(RuleDensity, func() verdict { return a.evalDensity(records) }),
		a.runRule(RuleSuspiciousIP, func() verdict { return a.evalReputation(canonical) }),
		a.runRule(RuleMultiUser, func() verdict { return a.evalMultiUser(records) }),
	}
	a.merge(result, verdicts)
	return result, nil
}

// maxSweepTargets caps how many recently active users and addresses a
// global analysis fans out to, per kind.
const maxSweepTargets = 64

// AnalyzeGlobal inspects the trailing window sitewide: the first result
// summarizes site statistics, followed by one result per recently active
// user and source address, capped at maxSweepTargets of each.
func (a *Analyzer) AnalyzeGlobal(ctx context.Context, windowMinutes int) ([]*AnalysisResult, error) {
	windowMinutes = normalizeWindow(windowMinutes)
	summary := a.analyzeSite(ctx, windowMinutes)
	results := []*AnalysisResult{summary}

	start, end := windowBounds(summary.AnalyzedAt, windowMinutes)
	targets, err := a.log.ActiveTargets(ctx, start, end)
	if err != nil {
		logging.Error().Err(err).Msg("Active target listing failed, global analysis is summary-only")
		summary.Metadata["targets_error"] = err.Error()
		return results, nil
	}

	userIDs := targets.UserIDs
	if len(userIDs) > maxSweepTargets {
		userIDs = userIDs[:maxSweepTargets]
	}
	for _, userID := range userIDs {
		result, err := a.AnalyzeUser(ctx, userID, windowMinutes)
		if err != nil {
			logging.Warn().Err(err).Int("user_id", userID).Msg("Per-user sweep analysis failed")
			continue
		}
		results = append(results, result)
	}

	ips := targets.IPs
	if len(ips) > maxSweepTargets {
		ips = ips[:maxSweepTargets]
	}
	for _, ip := range ips {
		result, err := a.AnalyzeIP(ctx, ip, windowMinutes)
		if err != nil {
			logging.Warn().Err(err).Str("ip", ip).Msg("Per-address sweep analysis failed")
			continue
		}
		results = append(results, result)
	}

	return results, nil
}

// analyzeSite evaluates the sitewide rules over aggregated statistics.
func (a *Analyzer) analyzeSite(ctx context.Context, windowMinutes int) *AnalysisResult {
	result := a.newResult(TargetGlobal, "site", windowMinutes)

	start, end := windowBounds(result.AnalyzedAt, windowMinutes)
	stats, err := a.log.ActivityStatistics(ctx, start, end)
	if err != nil {
		return a.failClosed(result, fmt.Errorf("detection: statistics: %w", err))
	}

	total, failed := 0, 0
	for _, s := range stats {
		result.ActivityCounts[s.ActionType] = s.TotalCount
		if s.FailureCount > 0 {
			result.FailureCounts[s.ActionType] = s.FailureCount
		}
		total += s.TotalCount
		failed += s.FailureCount
	}
	result.Metadata["records_scanned"] = total

	verdicts := []verdict{
		a.runRule(RuleGlobalFailure, func() verdict { return a.evalGlobalFailure(total, failed) }),
	}
	a.merge(result, verdicts)
	return result
}

func (a *Analyzer) newResult(target TargetType, id string, windowMinutes int) *AnalysisResult {
	return &AnalysisResult{
		AnalysisID:     uuid.NewString(),
		TargetType:     target,
		TargetID:       id,
		WindowMinutes:  windowMinutes,
		AnalyzedAt:     time.Now().UTC(),
		Severity:       SeverityLow,
		ActivityCounts: map[string]int{},
		FailureCounts:  map[string]int{},
		AnomalyScores:  map[string]float64{},
		Metadata:       map[string]interface{}{},
	}
}

// runRule executes one rule if it is enabled. A disabled rule yields an
// empty verdict so it neither matches nor scores.
func (a *Analyzer) runRule(ruleType string, eval func() verdict) verdict {
	if !a.thresholds.RuleEnabled(ruleType) {
		return verdict{severity: SeverityLow}
	}
	return eval()
}

// merge folds the per rule verdicts into the result. Matches keep rule
// execution order; severity and confidence take the maximum across all
// triggered rules.
func (a *Analyzer) merge(result *AnalysisResult, verdicts []verdict) {
	for _, v := range verdicts {
		if !v.suspicious {
			continue
		}
		result.IsSuspicious = true
		if v.severity > result.Severity {
			result.Severity = v.severity
		}
		if v.confidence > result.Confidence {
			result.Confidence = v.confidence
		}
		for _, m := range v.matches {
			result.MatchedRules = append(result.MatchedRules, m)
			result.AnomalyScores[m.Type] = v.score
			ruleMatchesTotal.WithLabelValues(m.Type).Inc()
		}
	}
	if !result.IsSuspicious {
		result.Severity = SeverityLow
		result.Confidence = 0.0
	}

	verdictLabel := "clean"
	if result.IsSuspicious {
		verdictLabel = "suspicious"
		logging.Warn().
			Str("analysis_id", result.AnalysisID).
			Str("target_type", string(result.TargetType)).
			Str("target_id", result.TargetID).
			Str("severity", result.Severity.String()).
			Float64("confidence", result.Confidence).
			Int("matched_rules", len(result.MatchedRules)).
			Msg("Anomaly detected")
	}
	analysesTotal.WithLabelValues(string(result.TargetType), verdictLabel).Inc()
}

// failClosed converts an internal lookup failure into a non-suspicious
// zero confidence result so a storage outage never escalates.
func (a *Analyzer) failClosed(result *AnalysisResult, err error) *AnalysisResult {
	logging.Error().
		Err(err).
		Str("target_type", string(result.TargetType)).
		Str("target_id", result.TargetID).
		Msg("Analysis degraded, reporting non-suspicious")

	result.IsSuspicious = false
	result.Severity = SeverityLow
	result.Confidence = 0.0
	result.Metadata["error"] = err.Error()
	analysesTotal.WithLabelValues(string(result.TargetType), "degraded").Inc()
	return result
}

func aggregate(result *AnalysisResult, records []activity.Record) {
	for _, rec := range records {
		result.ActivityCounts[rec.ActionType]++
		if rec.Status.IsFailure() {
			result.FailureCounts[rec.ActionType]++
		}
	}
	result.Metadata["records_scanned"] = len(records)
}

func normalizeWindow(windowMinutes int) int {
	if windowMinutes <= 0 {
		return DefaultWindowMinutes
	}
	return windowMinutes
}

func windowBounds(now time.Time, windowMinutes int) (time.Time, time.Time) {
	return now.Add(-time.Duration(windowMinutes) * time.Minute), now
}
