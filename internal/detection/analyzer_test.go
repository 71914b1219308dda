// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/palisade-project/palisade/internal/activity"
)

// fakeLog is an in-memory activity.Log with an injectable error.
type fakeLog struct {
	records []activity.Record
	stats   []activity.ActionStats
	err     error
}

func (f *fakeLog) FindByUserAndTimeRange(_ context.Context, userID int, start, end time.Time) ([]activity.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []activity.Record
	for _, r := range f.records {
		if r.ActorUserID == userID && !r.OccurredAt.Before(start) && !r.OccurredAt.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLog) FindByIPAndTimeRange(_ context.Context, ip string, start, end time.Time) ([]activity.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []activity.Record
	for _, r := range f.records {
		if r.SourceIP == ip && !r.OccurredAt.Before(start) && !r.OccurredAt.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLog) ActivityStatistics(_ context.Context, _, _ time.Time) ([]activity.ActionStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeLog) ActiveTargets(_ context.Context, start, end time.Time) (activity.TargetSet, error) {
	if f.err != nil {
		return activity.TargetSet{}, f.err
	}
	users := make(map[int]struct{})
	ips := make(map[string]struct{})
	for _, r := range f.records {
		if r.OccurredAt.Before(start) || r.OccurredAt.After(end) {
			continue
		}
		if r.ActorUserID != 0 {
			users[r.ActorUserID] = struct{}{}
		}
		ips[r.SourceIP] = struct{}{}
	}
	var set activity.TargetSet
	for id := range users {
		set.UserIDs = append(set.UserIDs, id)
	}
	for ip := range ips {
		set.IPs = append(set.IPs, ip)
	}
	sort.Ints(set.UserIDs)
	sort.Strings(set.IPs)
	return set, nil
}

func failedLogins(userID int, ip string, n int) []activity.Record {
	now := time.Now().UTC()
	recs := make([]activity.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, activity.Record{
			ActorUserID: userID,
			SourceIP:    ip,
			ActionType:  "login",
			Status:      activity.StatusFailed,
			OccurredAt:  now.Add(-time.Duration(i+1) * time.Minute),
		})
	}
	return recs
}

func TestAnalyzeUserNoActivity(t *testing.T) {
	a := NewAnalyzer(&fakeLog{}, nil)

	result, err := a.AnalyzeUser(context.Background(), 42, 60)
	if err != nil {
		t.Fatalf("AnalyzeUser: %v", err)
	}
	if result.IsSuspicious {
		t.Error("expected no-activity result to be non-suspicious")
	}
	if result.Severity != SeverityLow {
		t.Errorf("severity = %v, want low", result.Severity)
	}
	if result.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0", result.Confidence)
	}
	if result.TargetType != TargetUser || result.TargetID != "42" {
		t.Errorf("target = %s/%s, want user/42", result.TargetType, result.TargetID)
	}
	if result.AnalysisID == "" {
		t.Error("expected an analysis ID")
	}
}

func TestAnalyzeUserFailedLoginBurst(t *testing.T) {
	// Default failure threshold for login is 5 per 60 minutes.
	a := NewAnalyzer(&fakeLog{records: failedLogins(7, "198.51.100.4", 6)}, nil)

	result, err := a.AnalyzeUser(context.Background(), 7, 60)
	if err != nil {
		t.Fatalf("AnalyzeUser: %v", err)
	}
	if !result.IsSuspicious {
		t.Fatal("expected 6 failed logins against threshold 5 to be suspicious")
	}
	if !result.HasMatch(RuleFailureRate) {
		t.Errorf("matched rules = %+v, want a %s match", result.MatchedRules, RuleFailureRate)
	}
	if result.Severity < SeverityMedium {
		t.Errorf("severity = %v, want at least medium", result.Severity)
	}
	if result.FailureCounts["login"] != 6 {
		t.Errorf("failure count = %d, want 6", result.FailureCounts["login"])
	}
	if result.Confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", result.Confidence)
	}
}

func TestFailureSeverityLadder(t *testing.T) {
	tests := []struct {
		failures int
		want     Severity
	}{
		{5, SeverityMedium},    // ratio 1.0: triggering the rule floors at medium
		{7, SeverityMedium},    // ratio 1.4
		{8, SeverityMedium},    // ratio 1.6
		{10, SeverityHigh},     // ratio 2.0
		{14, SeverityHigh},     // ratio 2.8
		{15, SeverityCritical}, // ratio 3.0
		{30, SeverityCritical},
	}
	for _, tt := range tests {
		a := NewAnalyzer(&fakeLog{records: failedLogins(1, "198.51.100.4", tt.failures)}, nil)
		result, err := a.AnalyzeUser(context.Background(), 1, 60)
		if err != nil {
			t.Fatalf("AnalyzeUser(%d failures): %v", tt.failures, err)
		}
		if result.Severity != tt.want {
			t.Errorf("%d failures: severity = %v, want %v", tt.failures, result.Severity, tt.want)
		}
	}
}

func TestFailureRuleSkipsMismatchedWindow(t *testing.T) {
	// The login failure threshold is configured for 60 minutes; a 5
	// minute analysis must not apply it.
	a := NewAnalyzer(&fakeLog{records: failedLogins(3, "198.51.100.4", 6)}, nil)

	result, err := a.AnalyzeUser(context.Background(), 3, 5)
	if err != nil {
		t.Fatalf("AnalyzeUser: %v", err)
	}
	if result.HasMatch(RuleFailureRate) {
		t.Error("failure rule fired for a window it was not configured for")
	}
}

func TestAnalyzeIPMultipleUsers(t *testing.T) {
	now := time.Now().UTC()
	var recs []activity.Record
	for uid := 1; uid <= 11; uid++ {
		recs = append(recs, activity.Record{
			ActorUserID: uid,
			SourceIP:    "203.0.113.50",
			ActionType:  "view",
			Status:      activity.StatusSuccess,
			OccurredAt:  now.Add(-time.Duration(uid) * time.Minute),
		})
	}
	a := NewAnalyzer(&fakeLog{records: recs}, nil)

	result, err := a.AnalyzeIP(context.Background(), "203.0.113.50", 60)
	if err != nil {
		t.Fatalf("AnalyzeIP: %v", err)
	}
	if !result.IsSuspicious {
		t.Fatal("expected 11 distinct users behind one IP to be suspicious")
	}
	if !result.HasMatch(RuleMultiUser) {
		t.Errorf("matched rules = %+v, want a %s match", result.MatchedRules, RuleMultiUser)
	}
	if result.Severity < SeverityMedium {
		t.Errorf("severity = %v, want at least medium", result.Severity)
	}
	if score := result.AnomalyScores[RuleMultiUser]; score <= 0 || score > 1 {
		t.Errorf("anomaly score = %v, want in (0,1]", score)
	}
}

func TestAnalyzeIPAnonymousUsersNotCounted(t *testing.T) {
	now := time.Now().UTC()
	var recs []activity.Record
	for i := 0; i < 20; i++ {
		recs = append(recs, activity.Record{
			SourceIP:   "203.0.113.50",
			ActionType: "view",
			Status:     activity.StatusSuccess,
			OccurredAt: now.Add(-time.Duration(i+1) * time.Minute),
		})
	}
	a := NewAnalyzer(&fakeLog{records: recs}, nil)

	result, err := a.AnalyzeIP(context.Background(), "203.0.113.50", 60)
	if err != nil {
		t.Fatalf("AnalyzeIP: %v", err)
	}
	if result.HasMatch(RuleMultiUser) {
		t.Error("anonymous records must not count toward the multi user rule")
	}
}

func TestAnalyzeIPSuspiciousRange(t *testing.T) {
	thresholds := NewThresholds()
	if err := thresholds.SetSuspiciousRanges([]string{"203.0.113.0/24"}); err != nil {
		t.Fatalf("SetSuspiciousRanges: %v", err)
	}
	a := NewAnalyzer(&fakeLog{}, thresholds)

	result, err := a.AnalyzeIP(context.Background(), "203.0.113.9", 60)
	if err != nil {
		t.Fatalf("AnalyzeIP: %v", err)
	}
	if !result.IsSuspicious {
		t.Fatal("expected an address in a flagged range to be suspicious")
	}
	if !result.HasMatch(RuleSuspiciousIP) {
		t.Errorf("matched rules = %+v, want a %s match", result.MatchedRules, RuleSuspiciousIP)
	}
	if result.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", result.Severity)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", result.Confidence)
	}
}

func TestAnalyzeIPInvalidAddress(t *testing.T) {
	a := NewAnalyzer(&fakeLog{}, nil)
	if _, err := a.AnalyzeIP(context.Background(), "not-an-ip", 60); err == nil {
		t.Error("expected an error for a malformed address")
	}
}

func TestAnalyzeIPDensityBurst(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Minute)
	var recs []activity.Record
	for i := 0; i < 60; i++ {
		recs = append(recs, activity.Record{
			SourceIP:   "198.51.100.77",
			ActionType: "view",
			Status:     activity.StatusSuccess,
			OccurredAt: now.Add(-time.Duration(i) * time.Second),
		})
	}
	a := NewAnalyzer(&fakeLog{records: recs}, nil)

	result, err := a.AnalyzeIP(context.Background(), "198.51.100.77", 60)
	if err != nil {
		t.Fatalf("AnalyzeIP: %v", err)
	}
	if !result.HasMatch(RuleDensity) {
		t.Fatalf("matched rules = %+v, want a %s match", result.MatchedRules, RuleDensity)
	}
	if result.Severity != SeverityMedium {
		t.Errorf("severity = %v, want medium", result.Severity)
	}
}

func TestDisabledRuleDoesNotMatch(t *testing.T) {
	thresholds := NewThresholds()
	if err := thresholds.DisableRule(RuleFailureRate); err != nil {
		t.Fatalf("DisableRule: %v", err)
	}
	a := NewAnalyzer(&fakeLog{records: failedLogins(5, "198.51.100.4", 12)}, thresholds)

	result, err := a.AnalyzeUser(context.Background(), 5, 60)
	if err != nil {
		t.Fatalf("AnalyzeUser: %v", err)
	}
	if result.HasMatch(RuleFailureRate) {
		t.Error("disabled rule still matched")
	}

	if err := thresholds.EnableRule(RuleFailureRate); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	result, err = a.AnalyzeUser(context.Background(), 5, 60)
	if err != nil {
		t.Fatalf("AnalyzeUser: %v", err)
	}
	if !result.HasMatch(RuleFailureRate) {
		t.Error("re-enabled rule did not match")
	}
}

func TestAnalyzeUserStoreFailureDegrades(t *testing.T) {
	a := NewAnalyzer(&fakeLog{err: errors.New("store offline")}, nil)

	result, err := a.AnalyzeUser(context.Background(), 9, 60)
	if err != nil {
		t.Fatalf("AnalyzeUser: %v", err)
	}
	if result.IsSuspicious {
		t.Error("degraded analysis must not be suspicious")
	}
	if result.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0", result.Confidence)
	}
	if _, ok := result.Metadata["error"]; !ok {
		t.Error("expected the lookup error in result metadata")
	}
}

func TestAnalyzeGlobalFailureRatio(t *testing.T) {
	stats := []activity.ActionStats{
		{ActionType: "login", TotalCount: 100, FailureCount: 40},
		{ActionType: "view", TotalCount: 50, FailureCount: 0},
	}
	a := NewAnalyzer(&fakeLog{stats: stats}, nil)

	results, err := a.AnalyzeGlobal(context.Background(), 60)
	if err != nil {
		t.Fatalf("AnalyzeGlobal: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least the summary result")
	}
	summary := results[0]
	if summary.TargetType != TargetGlobal {
		t.Fatalf("first result target = %s, want global", summary.TargetType)
	}
	// 40 failures out of 150 is about 27 percent, above the 20 percent
	// ceiling.
	if !summary.IsSuspicious {
		t.Fatal("expected elevated sitewide failure ratio to be suspicious")
	}
	if !summary.HasMatch(RuleGlobalFailure) {
		t.Errorf("matched rules = %+v, want a %s match", summary.MatchedRules, RuleGlobalFailure)
	}
	if summary.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", summary.Severity)
	}
}

func TestAnalyzeGlobalQuietSite(t *testing.T) {
	a := NewAnalyzer(&fakeLog{}, nil)

	results, err := a.AnalyzeGlobal(context.Background(), 60)
	if err != nil {
		t.Fatalf("AnalyzeGlobal: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("quiet site results = %d, want summary only", len(results))
	}
	if results[0].IsSuspicious {
		t.Error("a site with no activity must not be suspicious")
	}
}

func TestAnalyzeGlobalFansOutToActiveTargets(t *testing.T) {
	// One user hammering logins from one address: the fan-out must carry
	// a per-user and a per-address result alongside the summary, and the
	// per-target analyses must flag the burst.
	a := NewAnalyzer(&fakeLog{records: failedLogins(7, "198.51.100.4", 6)}, nil)

	results, err := a.AnalyzeGlobal(context.Background(), 60)
	if err != nil {
		t.Fatalf("AnalyzeGlobal: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want summary + user + ip", len(results))
	}

	byTarget := make(map[TargetType]*AnalysisResult)
	for _, r := range results {
		byTarget[r.TargetType] = r
	}
	if byTarget[TargetGlobal] == nil {
		t.Fatal("missing global summary")
	}
	user := byTarget[TargetUser]
	if user == nil || user.TargetID != "7" {
		t.Fatalf("user result = %+v, want target 7", user)
	}
	if !user.IsSuspicious || !user.HasMatch(RuleFailureRate) {
		t.Errorf("per-user result did not flag the burst: %+v", user)
	}
	ip := byTarget[TargetIP]
	if ip == nil || ip.TargetID != "198.51.100.4" {
		t.Fatalf("ip result = %+v, want target 198.51.100.4", ip)
	}
}

// targetsErrLog fails only the active-target listing.
type targetsErrLog struct {
	fakeLog
}

func (l *targetsErrLog) ActiveTargets(context.Context, time.Time, time.Time) (activity.TargetSet, error) {
	return activity.TargetSet{}, errors.New("listing offline")
}

func TestAnalyzeGlobalTargetListingFailureDegrades(t *testing.T) {
	// Statistics succeed but the target listing fails: the summary still
	// comes back, annotated, instead of the whole sweep erroring.
	log := &targetsErrLog{fakeLog{stats: []activity.ActionStats{{ActionType: "view", TotalCount: 10}}}}
	a := NewAnalyzer(log, nil)

	results, err := a.AnalyzeGlobal(context.Background(), 60)
	if err != nil {
		t.Fatalf("AnalyzeGlobal: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want summary only", len(results))
	}
	if _, ok := results[0].Metadata["targets_error"]; !ok {
		t.Error("expected the listing error in summary metadata")
	}
}

func TestMergeTakesMaxSeverityAndConfidence(t *testing.T) {
	// Failed logins well past critical plus a flagged range: severity
	// should be critical (from the failure rule) and confidence at
	// least 0.9 (from the reputation rule).
	thresholds := NewThresholds()
	if err := thresholds.SetSuspiciousRanges([]string{"198.51.100.0/24"}); err != nil {
		t.Fatalf("SetSuspiciousRanges: %v", err)
	}
	a := NewAnalyzer(&fakeLog{records: failedLogins(2, "198.51.100.4", 20)}, thresholds)

	result, err := a.AnalyzeIP(context.Background(), "198.51.100.4", 60)
	if err != nil {
		t.Fatalf("AnalyzeIP: %v", err)
	}
	if result.Severity != SeverityCritical {
		t.Errorf("severity = %v, want critical", result.Severity)
	}
	if result.Confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9", result.Confidence)
	}
	if len(result.MatchedRules) < 2 {
		t.Errorf("matched rules = %+v, want both rules", result.MatchedRules)
	}
	// Execution order: failure rate before reputation.
	if result.MatchedRules[0].Type != RuleFailureRate {
		t.Errorf("first match = %s, want %s", result.MatchedRules[0].Type, RuleFailureRate)
	}
}
