// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palisade-project/palisade/internal/accesslist"
	"github.com/palisade-project/palisade/internal/clientip"
	"github.com/palisade-project/palisade/internal/detection"
	"github.com/palisade-project/palisade/internal/gate"
	"github.com/palisade-project/palisade/internal/logging"
	"github.com/palisade-project/palisade/internal/ratelimit"
)

// Server holds the handler dependencies for the admin surface.
type Server struct {
	access   *accesslist.Store
	limiter  *ratelimit.Limiter
	analyzer *detection.Analyzer
	advisor  *detection.Advisor
	history  *detection.History
	resolver *clientip.Resolver
}

// RouterConfig tunes the outer HTTP middleware.
type RouterConfig struct {
	CORSOrigins []string
	// OuterRateLimitReqs throttles the raw HTTP surface ahead of any
	// handler. Zero disables the outer limiter.
	OuterRateLimitReqs   int
	OuterRateLimitWindow time.Duration
}

// NewServer wires the admin API over the admission components. A nil
// history gets a default-sized one.
func NewServer(access *accesslist.Store, limiter *ratelimit.Limiter, analyzer *detection.Analyzer, advisor *detection.Advisor, history *detection.History, resolver *clientip.Resolver) *Server {
	if history == nil {
		history = detection.NewHistory(0)
	}
	return &Server{
		access:   access,
		limiter:  limiter,
		analyzer: analyzer,
		advisor:  advisor,
		history:  history,
		resolver: resolver,
	}
}

// Router assembles the chi router: recovery and request ID middleware,
// CORS, an outer rate limit, the gate on the public check routes, and
// the admin endpoints under /api/v1.
func (s *Server) Router(g *gate.Gate, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	// chi's RealIP middleware is deliberately absent: it trusts
	// forwarding headers unconditionally, while the resolver only
	// honors them behind a trusted proxy.
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Palisade-User"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	if cfg.OuterRateLimitReqs > 0 {
		window := cfg.OuterRateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.LimitByIP(cfg.OuterRateLimitReqs, window))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Admission check endpoints, themselves behind the gate.
	if g != nil {
		r.Group(func(r chi.Router) {
			r.Use(g.Admit)
			r.With(g.Limit("default")).Get("/whoami", s.handleWhoAmI)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/access/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleUpsertRule)
			r.Get("/{id}", s.handleGetRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})
		r.Post("/access/cache/flush", s.handleFlushCache)

		r.Route("/ratelimit", func(r chi.Router) {
			r.Get("/policies", s.handleListPolicies)
			r.Put("/policies/{action}", s.handleSetPolicy)
			r.Get("/status", s.handleLimitStatus)
			r.Delete("/counters", s.handleClearCounter)
		})

		r.Route("/detection", func(r chi.Router) {
			r.Get("/thresholds", s.handleGetThresholds)
			r.Put("/thresholds/failure", s.handleSetFailureThreshold)
			r.Put("/thresholds/frequency", s.handleSetFrequencyThreshold)
			r.Post("/thresholds/reset", s.handleResetThresholds)
			r.Put("/suspicious-ranges", s.handleSetSuspiciousRanges)
			r.Put("/rules/{rule}/enable", s.handleEnableRule)
			r.Put("/rules/{rule}/disable", s.handleDisableRule)

			r.Post("/analyze/user/{id}", s.handleAnalyzeUser)
			r.Post("/analyze/ip/{ip}", s.handleAnalyzeIP)
			r.Post("/analyze/global", s.handleAnalyzeGlobal)
			r.Get("/analyses", s.handleRecentAnalyses)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// handleWhoAmI echoes the admission view of the caller. Useful for
// verifying proxy and header configuration.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	ip := gate.ClientIP(r.Context())
	if ip == "" {
		ip = s.resolver.FromRequest(r)
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"client_ip":   ip,
		"remote_addr": r.RemoteAddr,
	})
}

// requestID assigns a request ID and exposes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		ctx := logging.ContextWithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
