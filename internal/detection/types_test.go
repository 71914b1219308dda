// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"testing"

	json "github.com/goccy/go-json"
)

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Fatal("severity values are not ordered")
	}
}

func TestSeverityRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		parsed, err := ParseSeverity(s.String())
		if err != nil {
			t.Fatalf("ParseSeverity(%q): %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("round trip %v = %v", s, parsed)
		}
	}
	if _, err := ParseSeverity("urgent"); err == nil {
		t.Error("expected an error for an unknown severity name")
	}
}

func TestSeverityJSON(t *testing.T) {
	data, err := json.Marshal(SeverityHigh)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"high"` {
		t.Errorf("Marshal = %s, want \"high\"", data)
	}

	var s Severity
	if err := json.Unmarshal([]byte(`"critical"`), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s != SeverityCritical {
		t.Errorf("Unmarshal = %v, want critical", s)
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &s); err == nil {
		t.Error("expected an error for an unknown name")
	}
}

func TestThresholdSetters(t *testing.T) {
	th := NewThresholds()

	if err := th.SetFailureThreshold("login", 3, 30); err != nil {
		t.Fatalf("SetFailureThreshold: %v", err)
	}
	rule, ok := th.FailureThreshold("login")
	if !ok || rule.Threshold != 3 || rule.WindowMinutes != 30 {
		t.Errorf("FailureThreshold = %+v/%v, want 3 per 30 minutes", rule, ok)
	}

	if err := th.SetFailureThreshold("", 3, 30); err == nil {
		t.Error("expected an error for an empty action type")
	}
	if err := th.SetFrequencyThreshold("view", 0, 30); err == nil {
		t.Error("expected an error for a zero threshold")
	}
	if err := th.SetSuspiciousRanges([]string{"not-a-cidr"}); err == nil {
		t.Error("expected an error for a malformed range")
	}
	if err := th.DisableRule("no_such_rule"); err == nil {
		t.Error("expected an error for an unknown rule")
	}

	th.ResetDefaults()
	rule, ok = th.FailureThreshold("login")
	if !ok || rule.Threshold != 5 || rule.WindowMinutes != 60 {
		t.Errorf("after reset FailureThreshold = %+v/%v, want default 5 per 60", rule, ok)
	}
}

func TestThresholdSnapshotIsACopy(t *testing.T) {
	th := NewThresholds()
	if err := th.SetSuspiciousRanges([]string{"203.0.113.0/24"}); err != nil {
		t.Fatalf("SetSuspiciousRanges: %v", err)
	}

	snap := th.Snapshot()
	snap.SuspiciousRanges[0] = "10.0.0.0/8"

	if got := th.Snapshot().SuspiciousRanges[0]; got != "203.0.113.0/24" {
		t.Errorf("mutating a snapshot leaked into live config: %s", got)
	}
}
