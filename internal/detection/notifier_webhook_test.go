// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
)

func TestWebhookNotifierDelivers(t *testing.T) {
	var gotAuth atomic.Value
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		body.Store(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		WebhookURL:  srv.URL,
		Headers:     map[string]string{"Authorization": "Bearer test-token"},
		Enabled:     true,
		RateLimitMs: 1,
	})

	result := suspiciousResult(SeverityHigh, RuleMatch{Type: RuleFailureRate, Action: "login"})
	if err := n.Notify(context.Background(), result); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotAuth.Load() != "Bearer test-token" {
		t.Errorf("Authorization = %v, want the configured header", gotAuth.Load())
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body.Load().([]byte), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Source != "palisade" || payload.EventType != "detection_alert" {
		t.Errorf("payload envelope = %s/%s", payload.Source, payload.EventType)
	}
	if payload.Alert == nil || payload.Alert.Severity != SeverityHigh {
		t.Errorf("payload alert = %+v", payload.Alert)
	}
}

func TestWebhookNotifierDisabledIsNoOp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: srv.URL, Enabled: false})
	if err := n.Notify(context.Background(), suspiciousResult(SeverityHigh)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("disabled notifier made %d requests", calls.Load())
	}

	n.SetEnabled(true)
	if !n.Enabled() {
		t.Error("Enabled = false after SetEnabled(true)")
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: srv.URL, Enabled: true, RateLimitMs: 1})
	if err := n.Notify(context.Background(), suspiciousResult(SeverityHigh)); err == nil {
		t.Error("expected an error for a 5xx response")
	}
}
