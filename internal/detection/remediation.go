// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/palisade-project/palisade/internal/logging"
)

var alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "palisade_detection_alerts_total",
	Help: "Alerts dispatched to notifiers, by severity and delivery outcome.",
}, []string{"severity", "outcome"})

// Remediation advice strings, ordered from most to least drastic.
const (
	ActionBlockImmediately    = "block immediately"
	ActionRequireVerification = "require additional verification"
	ActionIncreaseMonitoring  = "increase monitoring"
	ActionLogForReview        = "log for review"
	ActionTemporaryLock       = "temporary account lock"
	ActionBlockIPAddress      = "block ip address"
)

// Advisor converts analysis results into remediation advice and fans
// alerts out to the configured notifiers.
type Advisor struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewAdvisor wires an advisor with zero or more notifiers.
func NewAdvisor(notifiers ...Notifier) *Advisor {
	return &Advisor{notifiers: notifiers}
}

// AddNotifier registers an additional alert sink.
func (adv *Advisor) AddNotifier(n Notifier) {
	adv.mu.Lock()
	defer adv.mu.Unlock()
	adv.notifiers = append(adv.notifiers, n)
}

// Advise fills in the recommended action on a result and returns it.
// Non-suspicious results get no recommendation.
func (adv *Advisor) Advise(result *AnalysisResult) *AnalysisResult {
	result.RecommendedAction = adv.RecommendAction(result)
	return result
}

// RecommendAction derives remediation advice from a result. The base
// advice follows severity; specific rule matches override it. A flagged
// address range always recommends blocking the address no matter how
// the other rules scored.
func (adv *Advisor) RecommendAction(result *AnalysisResult) string {
	if result == nil || !result.IsSuspicious {
		return ""
	}

	var action string
	switch result.Severity {
	case SeverityCritical:
		action = ActionBlockImmediately
	case SeverityHigh:
		action = ActionRequireVerification
	case SeverityMedium:
		action = ActionIncreaseMonitoring
	default:
		action = ActionLogForReview
	}

	for _, m := range result.MatchedRules {
		if m.Type == RuleFailureRate && strings.Contains(m.Action, "login") {
			action = ActionTemporaryLock
		}
	}
	if result.HasMatch(RuleSuspiciousIP) {
		action = ActionBlockIPAddress
	}
	return action
}

// ShouldTriggerAlert reports whether a result warrants waking the
// notifiers. Only suspicious findings of at least high severity do.
func (adv *Advisor) ShouldTriggerAlert(result *AnalysisResult) bool {
	return result != nil && result.IsSuspicious && result.Severity >= SeverityHigh
}

// TriggerAlert dispatches the result to every notifier. Delivery
// failures are logged and counted but never propagate; a broken
// notifier must not break analysis.
func (adv *Advisor) TriggerAlert(ctx context.Context, result *AnalysisResult) {
	if result == nil {
		return
	}

	adv.mu.RLock()
	notifiers := append([]Notifier(nil), adv.notifiers...)
	adv.mu.RUnlock()

	for _, n := range notifiers {
		if err := n.Notify(ctx, result); err != nil {
			alertsTotal.WithLabelValues(result.Severity.String(), "failed").Inc()
			logging.Error().
				Err(err).
				Str("notifier", n.Name()).
				Str("analysis_id", result.AnalysisID).
				Msg("Alert delivery failed")
			continue
		}
		alertsTotal.WithLabelValues(result.Severity.String(), "delivered").Inc()
	}
}
