// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

// Package config loads the layered service configuration: built-in
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/palisade-project/palisade/internal/ipmatch"
	"github.com/palisade-project/palisade/internal/validation"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Security  SecurityConfig  `koanf:"security"`
	Detection DetectionConfig `koanf:"detection"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "badger".
	Backend string `koanf:"backend" validate:"oneof=memory badger"`
	// Path is the BadgerDB directory, unused for the memory backend.
	Path string `koanf:"path"`
	// ActivityRetentionDays bounds how long activity records are kept.
	ActivityRetentionDays int `koanf:"activity_retention_days" validate:"gt=0"`
}

// RatePolicyConfig is one named rate limit policy. Zero valued scopes
// fall back to the built-in defaults for that action.
type RatePolicyConfig struct {
	IPMaxRequests     int `koanf:"ip_max_requests"`
	IPWindowSeconds   int `koanf:"ip_window_seconds"`
	UserMaxRequests   int `koanf:"user_max_requests"`
	UserWindowSeconds int `koanf:"user_window_seconds"`
}

// SecurityConfig configures admission control.
type SecurityConfig struct {
	// TrustedProxies lists addresses or CIDR ranges of reverse proxies
	// whose forwarding headers are honored.
	TrustedProxies []string `koanf:"trusted_proxies"`
	// DecisionCacheTTL bounds staleness of cached access list verdicts.
	DecisionCacheTTL time.Duration `koanf:"decision_cache_ttl"`
	// RatePolicies overrides or extends the built-in per action policies.
	RatePolicies map[string]RatePolicyConfig `koanf:"rate_policies"`
	// OuterRateLimitReqs and OuterRateLimitWindow throttle the raw HTTP
	// surface ahead of any admission logic. Zero requests disables it.
	OuterRateLimitReqs   int           `koanf:"outer_rate_limit_reqs"`
	OuterRateLimitWindow time.Duration `koanf:"outer_rate_limit_window"`
}

// DetectionConfig configures the anomaly sweeper and alerting.
type DetectionConfig struct {
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	WindowMinutes    int           `koanf:"window_minutes" validate:"gt=0"`
	SuspiciousRanges []string      `koanf:"suspicious_ranges"`

	WebhookEnabled     bool              `koanf:"webhook_enabled"`
	WebhookURL         string            `koanf:"webhook_url"`
	WebhookHeaders     map[string]string `koanf:"webhook_headers"`
	WebhookRateLimitMs int               `koanf:"webhook_rate_limit_ms"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks structural constraints plus the fields the validator
// tags cannot express.
func (c *Config) Validate() error {
	if err := validation.GetValidator().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, p := range c.Security.TrustedProxies {
		if err := ipmatch.ValidRule(p); err != nil {
			return fmt.Errorf("config: trusted proxy %q: %w", p, err)
		}
	}
	for _, r := range c.Detection.SuspiciousRanges {
		if err := ipmatch.ValidRule(r); err != nil {
			return fmt.Errorf("config: suspicious range %q: %w", r, err)
		}
	}
	for name, p := range c.Security.RatePolicies {
		if name == "" {
			return fmt.Errorf("config: rate policy with empty name")
		}
		if p.IPMaxRequests < 0 || p.IPWindowSeconds < 0 || p.UserMaxRequests < 0 || p.UserWindowSeconds < 0 {
			return fmt.Errorf("config: rate policy %q has negative values", name)
		}
	}
	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return fmt.Errorf("config: badger backend requires store.path")
	}
	if c.Detection.WebhookEnabled && c.Detection.WebhookURL == "" {
		return fmt.Errorf("config: webhook enabled without a url")
	}
	return nil
}
