// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

// Package main is the entry point for the Palisade server.
//
// Palisade is the admission-control and abuse-detection layer for a
// bulletin-board deployment. It sits behind the reverse proxy, resolves
// the real client address, enforces IP allow/block lists and per-action
// rate limits, records activity, and runs rule-based anomaly analyses
// with remediation advice and webhook alerting.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layering (defaults, YAML file, PALISADE_* env)
//  2. Logging: global zerolog logger
//  3. Storage: BadgerDB (or in-memory for ephemeral deployments)
//  4. Admission components: resolver, access list, rate limiter
//  5. Detection: analyzer, advisor, webhook notifier
//  6. Supervisor tree: badger GC, detection sweeper, HTTP server
//
// # Signal handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests within the configured timeout, then the stores are
// closed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/palisade-project/palisade/internal/accesslist"
	"github.com/palisade-project/palisade/internal/activity"
	"github.com/palisade-project/palisade/internal/api"
	"github.com/palisade-project/palisade/internal/clientip"
	"github.com/palisade-project/palisade/internal/config"
	"github.com/palisade-project/palisade/internal/detection"
	"github.com/palisade-project/palisade/internal/gate"
	"github.com/palisade-project/palisade/internal/logging"
	"github.com/palisade-project/palisade/internal/ratelimit"
	"github.com/palisade-project/palisade/internal/supervisor"
	"github.com/palisade-project/palisade/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("backend", cfg.Store.Backend).
		Int("port", cfg.Server.Port).
		Msg("Palisade starting")

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.close()

	access := accesslist.NewStoreWithTTL(stores.rules, cfg.Security.DecisionCacheTTL)
	defer access.Close()

	limiter := ratelimit.NewLimiter(stores.counters, ratePolicies(cfg))
	resolver := clientip.NewResolver(cfg.Security.TrustedProxies)

	thresholds := detection.NewThresholds()
	if len(cfg.Detection.SuspiciousRanges) > 0 {
		if err := thresholds.SetSuspiciousRanges(cfg.Detection.SuspiciousRanges); err != nil {
			return fmt.Errorf("suspicious ranges: %w", err)
		}
	}
	analyzer := detection.NewAnalyzer(stores.activity, thresholds)

	advisor := detection.NewAdvisor()
	history := detection.NewHistory(0)
	if cfg.Detection.WebhookEnabled {
		advisor.AddNotifier(detection.NewWebhookNotifier(detection.WebhookConfig{
			WebhookURL:  cfg.Detection.WebhookURL,
			Headers:     cfg.Detection.WebhookHeaders,
			Enabled:     true,
			RateLimitMs: cfg.Detection.WebhookRateLimitMs,
		}))
	}

	g := gate.New(resolver, access, limiter, gate.WithRecorder(stores.activity))
	srv := api.NewServer(access, limiter, analyzer, advisor, history, resolver)
	router := srv.Router(g, api.RouterConfig{
		CORSOrigins:          cfg.Server.CORSOrigins,
		OuterRateLimitReqs:   cfg.Security.OuterRateLimitReqs,
		OuterRateLimitWindow: cfg.Security.OuterRateLimitWindow,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)

	if stores.db != nil {
		tree.AddStorageService(services.NewBadgerGCService(stores.db, 10*time.Minute))
	}
	tree.AddDetectionService(detection.NewSweeper(analyzer, advisor, history, cfg.Detection.SweepInterval, cfg.Detection.WindowMinutes))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("Palisade listening")
	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service missed shutdown timeout")
		}
	}
	logging.Info().Msg("Palisade stopped")
	return nil
}

// storeSet bundles the backend-specific store implementations.
type storeSet struct {
	db       *badger.DB
	rules    accesslist.RuleStore
	counters ratelimit.CounterStore
	activity activity.Store
}

func (s *storeSet) close() {
	if err := s.activity.Close(); err != nil {
		logging.Warn().Err(err).Msg("Closing activity store")
	}
	if err := s.counters.Close(); err != nil {
		logging.Warn().Err(err).Msg("Closing counter store")
	}
	if err := s.rules.Close(); err != nil {
		logging.Warn().Err(err).Msg("Closing rule store")
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Closing badger")
		}
	}
}

func openStores(cfg *config.Config) (*storeSet, error) {
	if cfg.Store.Backend == "memory" {
		return &storeSet{
			rules:    accesslist.NewMemoryRuleStore(),
			counters: ratelimit.NewMemoryCounterStore(),
			activity: activity.NewMemoryStore(),
		}, nil
	}

	opts := badger.DefaultOptions(cfg.Store.Path).
		WithLogger(logging.NewBadgerAdapter())
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Store.Path, err)
	}

	rules, err := accesslist.NewBadgerRuleStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rule store: %w", err)
	}

	retention := time.Duration(cfg.Store.ActivityRetentionDays) * 24 * time.Hour
	return &storeSet{
		db:       db,
		rules:    rules,
		counters: ratelimit.NewBadgerCounterStore(db),
		activity: activity.NewBadgerStore(db, retention),
	}, nil
}

// ratePolicies converts configured policy overrides into limiter
// policies. Unset scopes stay unenforced.
func ratePolicies(cfg *config.Config) map[string]ratelimit.Policy {
	policies := make(map[string]ratelimit.Policy, len(cfg.Security.RatePolicies))
	for action, p := range cfg.Security.RatePolicies {
		policies[action] = ratelimit.Policy{
			IP:   ratelimit.Limit{MaxRequests: p.IPMaxRequests, WindowSeconds: p.IPWindowSeconds},
			User: ratelimit.Limit{MaxRequests: p.UserMaxRequests, WindowSeconds: p.UserWindowSeconds},
		}
	}
	return policies
}
