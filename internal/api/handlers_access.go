// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/palisade-project/palisade/internal/accesslist"
	"github.com/palisade-project/palisade/internal/validation"
)

type upsertRuleRequest struct {
	ID          int64  `json:"id,omitempty"`
	CIDROrIP    string `json:"cidr_or_ip" validate:"required,cidrorip"`
	Type        string `json:"type" validate:"required,oneof=allow block"`
	ScopeUnitID int    `json:"scope_unit_id,omitempty"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

// handleListRules returns rules of one type. The type query parameter
// defaults to block.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	t := accesslist.RuleType(r.URL.Query().Get("type"))
	if t == "" {
		t = accesslist.RuleBlock
	}
	if t != accesslist.RuleAllow && t != accesslist.RuleBlock {
		rw.BadRequest("type must be allow or block")
		return
	}

	rules, err := s.access.ListByType(r.Context(), t)
	if err != nil {
		rw.InternalError("failed to list rules")
		return
	}
	rw.Success(map[string]interface{}{
		"type":  t,
		"rules": rules,
		"count": len(rules),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("rule id must be an integer")
		return
	}

	rule, err := s.access.GetRule(r.Context(), id)
	switch {
	case errors.Is(err, accesslist.ErrRuleNotFound):
		rw.NotFound("rule not found")
	case err != nil:
		rw.InternalError("failed to load rule")
	default:
		rw.Success(rule)
	}
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req upsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError("invalid rule", verr.Details())
		return
	}

	rule := &accesslist.Rule{
		ID:          req.ID,
		CIDROrIP:    req.CIDROrIP,
		Type:        accesslist.RuleType(req.Type),
		ScopeUnitID: req.ScopeUnitID,
		Description: req.Description,
	}
	saved, err := s.access.UpsertRule(r.Context(), rule)
	switch {
	case errors.Is(err, accesslist.ErrInvalidRule), errors.Is(err, accesslist.ErrInvalidIP):
		rw.ValidationError("invalid rule", err.Error())
	case errors.Is(err, accesslist.ErrRuleNotFound):
		rw.NotFound("rule not found")
	case err != nil:
		rw.InternalError("failed to save rule")
	case req.ID == 0:
		rw.Created(saved)
	default:
		rw.Success(saved)
	}
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("rule id must be an integer")
		return
	}

	deleted, err := s.access.DeleteRule(r.Context(), id)
	if err != nil {
		rw.InternalError("failed to delete rule")
		return
	}
	if !deleted {
		rw.NotFound("rule not found")
		return
	}
	rw.NoContent()
}

func (s *Server) handleFlushCache(w http.ResponseWriter, r *http.Request) {
	flushed := s.access.FlushCache()
	NewResponseWriter(w, r).Success(map[string]int{"flushed": flushed})
}
