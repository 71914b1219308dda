// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import "sync"

// DefaultHistorySize bounds how many results the history retains.
const DefaultHistorySize = 200

// History is a bounded in-memory ring of recent analysis results, newest
// first, serving the admin surface. Both the background sweeper and on
// demand analyses feed it.
type History struct {
	mu       sync.Mutex
	capacity int
	results  []*AnalysisResult
}

// NewHistory creates a history bounded to capacity results. Non-positive
// capacities fall back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity}
}

// Add records one result, evicting the oldest past capacity.
func (h *History) Add(result *AnalysisResult) {
	if result == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results = append(h.results, result)
	if len(h.results) > h.capacity {
		h.results = h.results[len(h.results)-h.capacity:]
	}
}

// Recent returns up to limit results, newest first. A non-positive limit
// returns everything retained.
func (h *History) Recent(limit int) []*AnalysisResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.results)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*AnalysisResult, n)
	for i := 0; i < n; i++ {
		out[i] = h.results[len(h.results)-1-i]
	}
	return out
}
