// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the config file is searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"palisade.yaml",
	"palisade.yml",
	"/etc/palisade/config.yaml",
	"/etc/palisade/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "PALISADE_CONFIG"

// defaultConfig returns the built-in defaults. These are applied first,
// then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8710,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Store: StoreConfig{
			Backend:               "badger",
			Path:                  "/data/palisade",
			ActivityRetentionDays: 30,
		},
		Security: SecurityConfig{
			TrustedProxies:       []string{},
			DecisionCacheTTL:     time.Hour,
			RatePolicies:         map[string]RatePolicyConfig{},
			OuterRateLimitReqs:   300,
			OuterRateLimitWindow: time.Minute,
		},
		Detection: DetectionConfig{
			SweepInterval:      5 * time.Minute,
			WindowMinutes:      60,
			SuspiciousRanges:   []string{},
			WebhookEnabled:     false,
			WebhookURL:         "",
			WebhookHeaders:     map[string]string{},
			WebhookRateLimitMs: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the paths whose env values arrive as comma
// separated strings and must be split into slices.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"security.trusted_proxies",
	"detection.suspicious_ranges",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps PALISADE_* environment variables to config
// paths. Unmapped variables are dropped so unrelated environment noise
// never reaches the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"palisade_host":             "server.host",
		"palisade_port":             "server.port",
		"palisade_timeout":          "server.timeout",
		"palisade_shutdown_timeout": "server.shutdown_timeout",
		"palisade_cors_origins":     "server.cors_origins",

		"palisade_store_backend":        "store.backend",
		"palisade_store_path":           "store.path",
		"palisade_activity_retention":   "store.activity_retention_days",

		"palisade_trusted_proxies":         "security.trusted_proxies",
		"palisade_decision_cache_ttl":      "security.decision_cache_ttl",
		"palisade_outer_rate_limit_reqs":   "security.outer_rate_limit_reqs",
		"palisade_outer_rate_limit_window": "security.outer_rate_limit_window",

		"palisade_sweep_interval":        "detection.sweep_interval",
		"palisade_detection_window":      "detection.window_minutes",
		"palisade_suspicious_ranges":     "detection.suspicious_ranges",
		"palisade_webhook_enabled":       "detection.webhook_enabled",
		"palisade_webhook_url":           "detection.webhook_url",
		"palisade_webhook_rate_limit_ms": "detection.webhook_rate_limit_ms",

		"palisade_log_level":  "logging.level",
		"palisade_log_format": "logging.format",
		"palisade_log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
