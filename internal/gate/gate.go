// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

// Package gate is the HTTP admission pipeline: resolve the client IP,
// consult the access list, then enforce the action's rate policy. It is
// mounted as chi middleware ahead of the board handlers.
package gate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/palisade-project/palisade/internal/accesslist"
	"github.com/palisade-project/palisade/internal/activity"
	"github.com/palisade-project/palisade/internal/clientip"
	"github.com/palisade-project/palisade/internal/logging"
	"github.com/palisade-project/palisade/internal/ratelimit"
)

var admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "palisade_gate_admissions_total",
	Help: "Admission outcomes at the gate, by outcome.",
}, []string{"outcome"})

type ctxKey int

const clientIPKey ctxKey = iota

// ClientIP returns the resolved client address stored by the gate
// middleware, or empty when the middleware did not run.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// UserIDFunc extracts the acting user's ID from a request. Zero means
// anonymous.
type UserIDFunc func(r *http.Request) int

// HeaderUserID reads the numeric user ID the board frontend forwards in
// the given header.
func HeaderUserID(header string) UserIDFunc {
	return func(r *http.Request) int {
		id, err := strconv.Atoi(r.Header.Get(header))
		if err != nil || id < 0 {
			return 0
		}
		return id
	}
}

// Gate wires the admission pipeline components.
type Gate struct {
	resolver *clientip.Resolver
	access   *accesslist.Store
	limiter  *ratelimit.Limiter
	recorder activity.Recorder
	userID   UserIDFunc
}

// Option configures a Gate.
type Option func(*Gate)

// WithRecorder makes the gate log blocked and rate limited attempts to
// the activity log.
func WithRecorder(rec activity.Recorder) Option {
	return func(g *Gate) { g.recorder = rec }
}

// WithUserIDFunc replaces the user ID extractor.
func WithUserIDFunc(fn UserIDFunc) Option {
	return func(g *Gate) { g.userID = fn }
}

// New builds a gate over the given components.
func New(resolver *clientip.Resolver, access *accesslist.Store, limiter *ratelimit.Limiter, opts ...Option) *Gate {
	g := &Gate{
		resolver: resolver,
		access:   access,
		limiter:  limiter,
		userID:   HeaderUserID("X-Palisade-User"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit resolves the client IP and enforces the access list for every
// request. The resolved address is stored on the request context for
// downstream middleware and handlers.
func (g *Gate) Admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.resolver.FromRequest(r)
		ctx := context.WithValue(r.Context(), clientIPKey, ip)
		r = r.WithContext(ctx)

		decision := g.access.Decide(ctx, ip)
		if !decision.Permitted() {
			admissionsTotal.WithLabelValues("blocked").Inc()
			g.record(ctx, r, ip, "admission", activity.StatusBlocked, map[string]interface{}{
				"decision": string(decision),
			})
			writeError(w, r, http.StatusForbidden, "FORBIDDEN", "address is blocked")
			return
		}

		admissionsTotal.WithLabelValues("admitted").Inc()
		next.ServeHTTP(w, r)
	})
}

// Limit enforces the named action's rate policy. It expects Admit to
// have run earlier in the chain; without it the address is resolved
// again from the request.
func (g *Gate) Limit(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := ClientIP(ctx)
			if ip == "" {
				ip = g.resolver.FromRequest(r)
			}
			userID := g.userID(r)

			res := g.limiter.Check(ctx, ip, action, userID)
			setRateHeaders(w, res)

			if !res.Allowed {
				admissionsTotal.WithLabelValues("rate_limited").Inc()
				g.record(ctx, r, ip, action, activity.StatusBlocked, map[string]interface{}{
					"reason":  "rate_limited",
					"user_id": userID,
				})
				retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func (g *Gate) record(ctx context.Context, r *http.Request, ip, action string, status activity.Status, meta map[string]interface{}) {
	if g.recorder == nil {
		return
	}
	meta["path"] = r.URL.Path
	rec := &activity.Record{
		ActorUserID: g.userID(r),
		SourceIP:    ip,
		ActionType:  action,
		Status:      status,
		OccurredAt:  time.Now().UTC(),
		Metadata:    meta,
	}
	if err := g.recorder.Record(ctx, rec); err != nil {
		logging.Warn().Err(err).Str("ip", ip).Str("action", action).Msg("Failed to record gate event")
	}
}

// denialBody mirrors the admin API response envelope so gate denials
// decode the same way as any handler error.
type denialBody struct {
	Success bool        `json:"success"`
	Error   denialError `json:"error"`
}

type denialError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := denialBody{
		Error: denialError{
			Code:      code,
			Message:   msg,
			RequestID: logging.RequestIDFromContext(r.Context()),
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug().Err(err).Msg(fmt.Sprintf("Failed to write %d response", status))
	}
}
