// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/palisade-project/palisade/internal/detection"
	"github.com/palisade-project/palisade/internal/validation"
)

type thresholdRequest struct {
	ActionType    string `json:"action_type" validate:"required"`
	Threshold     int    `json:"threshold" validate:"required,gt=0"`
	WindowMinutes int    `json:"window_minutes" validate:"required,gt=0"`
}

type suspiciousRangesRequest struct {
	Ranges []string `json:"ranges" validate:"required"`
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(s.analyzer.Thresholds().Snapshot())
}

func (s *Server) handleSetFailureThreshold(w http.ResponseWriter, r *http.Request) {
	s.setThreshold(w, r, s.analyzer.Thresholds().SetFailureThreshold)
}

func (s *Server) handleSetFrequencyThreshold(w http.ResponseWriter, r *http.Request) {
	s.setThreshold(w, r, s.analyzer.Thresholds().SetFrequencyThreshold)
}

func (s *Server) setThreshold(w http.ResponseWriter, r *http.Request, apply func(string, int, int) error) {
	rw := NewResponseWriter(w, r)

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError("invalid threshold", verr.Details())
		return
	}
	if err := apply(req.ActionType, req.Threshold, req.WindowMinutes); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	rw.Success(s.analyzer.Thresholds().Snapshot())
}

func (s *Server) handleResetThresholds(w http.ResponseWriter, r *http.Request) {
	s.analyzer.Thresholds().ResetDefaults()
	NewResponseWriter(w, r).Success(s.analyzer.Thresholds().Snapshot())
}

func (s *Server) handleSetSuspiciousRanges(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req suspiciousRangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if err := s.analyzer.Thresholds().SetSuspiciousRanges(req.Ranges); err != nil {
		rw.ValidationError("invalid ranges", err.Error())
		return
	}
	rw.Success(s.analyzer.Thresholds().Snapshot())
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	s.toggleRule(w, r, s.analyzer.Thresholds().EnableRule)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	s.toggleRule(w, r, s.analyzer.Thresholds().DisableRule)
}

func (s *Server) toggleRule(w http.ResponseWriter, r *http.Request, apply func(string) error) {
	rw := NewResponseWriter(w, r)
	rule := chi.URLParam(r, "rule")
	if err := apply(rule); err != nil {
		rw.NotFound(err.Error())
		return
	}
	rw.Success(s.analyzer.Thresholds().Snapshot())
}

func (s *Server) handleAnalyzeUser(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || userID <= 0 {
		rw.BadRequest("user id must be a positive integer")
		return
	}

	s.analyze(rw, r, func(ctx context.Context, window int) (*detection.AnalysisResult, error) {
		return s.analyzer.AnalyzeUser(ctx, userID, window)
	})
}

func (s *Server) handleAnalyzeIP(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ip := chi.URLParam(r, "ip")

	s.analyze(rw, r, func(ctx context.Context, window int) (*detection.AnalysisResult, error) {
		return s.analyzer.AnalyzeIP(ctx, ip, window)
	})
}

// handleAnalyzeGlobal runs the sitewide fan-out: a summary result plus
// one per recently active target.
func (s *Server) handleAnalyzeGlobal(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	window, ok := windowParam(rw, r)
	if !ok {
		return
	}

	results, err := s.analyzer.AnalyzeGlobal(r.Context(), window)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	for _, result := range results {
		s.finishAnalysis(r, result)
	}
	rw.Success(map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// handleRecentAnalyses lists retained results, newest first. The limit
// query parameter bounds the page.
func (s *Server) handleRecentAnalyses(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = parsed
	}

	analyses := s.history.Recent(limit)
	rw.Success(map[string]interface{}{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// analyze runs one on demand analysis, attaches remediation advice, and
// raises alerts the same way the background sweeper does.
func (s *Server) analyze(rw *ResponseWriter, r *http.Request, run func(context.Context, int) (*detection.AnalysisResult, error)) {
	window, ok := windowParam(rw, r)
	if !ok {
		return
	}

	result, err := run(r.Context(), window)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	s.finishAnalysis(r, result)
	rw.Success(result)
}

func windowParam(rw *ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		rw.BadRequest("window must be a positive number of minutes")
		return 0, false
	}
	return parsed, true
}

// finishAnalysis applies advice, retains the result, and raises alerts.
func (s *Server) finishAnalysis(r *http.Request, result *detection.AnalysisResult) {
	s.advisor.Advise(result)
	s.history.Add(result)
	if s.advisor.ShouldTriggerAlert(result) {
		s.advisor.TriggerAlert(r.Context(), result)
	}
}
