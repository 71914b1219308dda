// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/palisade-project/palisade/internal/ratelimit"
	"github.com/palisade-project/palisade/internal/validation"
)

type setPolicyRequest struct {
	IPMaxRequests     int `json:"ip_max_requests" validate:"gte=0"`
	IPWindowSeconds   int `json:"ip_window_seconds" validate:"gte=0"`
	UserMaxRequests   int `json:"user_max_requests" validate:"gte=0"`
	UserWindowSeconds int `json:"user_window_seconds" validate:"gte=0"`
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(s.limiter.Policies())
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	action := chi.URLParam(r, "action")
	if action == "" {
		rw.BadRequest("action is required")
		return
	}

	var req setPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError("invalid policy", verr.Details())
		return
	}
	if req.IPMaxRequests > 0 && req.IPWindowSeconds <= 0 {
		rw.BadRequest("ip_window_seconds must be positive when ip_max_requests is set")
		return
	}
	if req.UserMaxRequests > 0 && req.UserWindowSeconds <= 0 {
		rw.BadRequest("user_window_seconds must be positive when user_max_requests is set")
		return
	}

	policy := ratelimit.Policy{
		IP:   ratelimit.Limit{MaxRequests: req.IPMaxRequests, WindowSeconds: req.IPWindowSeconds},
		User: ratelimit.Limit{MaxRequests: req.UserMaxRequests, WindowSeconds: req.UserWindowSeconds},
	}
	s.limiter.SetPolicy(action, policy)
	rw.Success(map[string]interface{}{
		"action": action,
		"policy": policy,
	})
}

// handleLimitStatus reads the live window for one scope key without
// consuming a slot.
func (s *Server) handleLimitStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	scope, identifier, action, ok := scopeParams(rw, r)
	if !ok {
		return
	}

	result, err := s.limiter.Status(r.Context(), scope, identifier, action)
	if err != nil {
		rw.InternalError("counter store unavailable")
		return
	}
	if result == nil {
		rw.Success(map[string]interface{}{
			"active": false,
			"policy": s.limiter.PolicyFor(action),
		})
		return
	}
	rw.Success(map[string]interface{}{
		"active": true,
		"result": result,
	})
}

func (s *Server) handleClearCounter(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	scope, identifier, action, ok := scopeParams(rw, r)
	if !ok {
		return
	}

	if err := s.limiter.Clear(r.Context(), scope, identifier, action); err != nil {
		rw.InternalError("failed to clear counter")
		return
	}
	rw.NoContent()
}

func scopeParams(rw *ResponseWriter, r *http.Request) (ratelimit.Scope, string, string, bool) {
	q := r.URL.Query()
	scope := ratelimit.Scope(q.Get("scope"))
	identifier := q.Get("id")
	action := q.Get("action")

	if scope != ratelimit.ScopeIP && scope != ratelimit.ScopeUser {
		rw.BadRequest("scope must be ip or user")
		return "", "", "", false
	}
	if identifier == "" || action == "" {
		rw.BadRequest("id and action are required")
		return "", "", "", false
	}
	return scope, identifier, action, true
}
