// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package validation

import (
	"strings"
	"testing"
)

type ruleRequest struct {
	CIDROrIP    string `validate:"required,cidrorip"`
	Type        string `validate:"required,oneof=allow block"`
	Description string `validate:"max=10"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(&ruleRequest{CIDROrIP: "203.0.113.0/24", Type: "block"})
	if err != nil {
		t.Fatalf("ValidateStruct: %v", err)
	}
}

func TestCIDROrIPValidator(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"203.0.113.9", true},
		{"203.0.113.0/24", true},
		{"2001:db8::/32", true},
		{"2001:db8::1", true},
		{"999.0.0.1", false},
		{"203.0.113.0/40", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateStruct(&ruleRequest{CIDROrIP: tt.value, Type: "allow"})
		if (err == nil) != tt.valid {
			t.Errorf("cidrorip %q: err = %v, want valid=%v", tt.value, err, tt.valid)
		}
	}
}

func TestErrorTranslation(t *testing.T) {
	err := ValidateStruct(&ruleRequest{CIDROrIP: "bogus", Type: "quarantine", Description: "this is far too long"})
	if err == nil {
		t.Fatal("expected validation errors")
	}

	fields := err.Fields()
	if len(fields) != 3 {
		t.Fatalf("got %d field errors, want 3: %v", len(fields), err)
	}

	msg := err.Error()
	for _, want := range []string{
		"CIDROrIP must be an IP address or CIDR range",
		"Type must be one of: allow block",
		"Description must be at most 10 characters",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestDetailsShape(t *testing.T) {
	err := ValidateStruct(&ruleRequest{Type: "allow"})
	if err == nil {
		t.Fatal("expected a required error")
	}
	details := err.Details()
	if len(details) != 1 {
		t.Fatalf("details = %v", details)
	}
	if details[0]["field"] != "CIDROrIP" || details[0]["tag"] != "required" {
		t.Errorf("details[0] = %v", details[0])
	}
}

func TestSingletonReuse(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator must return the same instance")
	}
}
