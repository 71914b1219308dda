// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package detection

import (
	"context"
	"time"

	"github.com/palisade-project/palisade/internal/logging"
)

// Sweeper periodically runs the global analysis fan-out and raises
// alerts for high severity findings. It implements the suture service
// contract so the supervisor can restart it on failure.
type Sweeper struct {
	analyzer *Analyzer
	advisor  *Advisor
	history  *History

	interval      time.Duration
	windowMinutes int
}

// NewSweeper builds a sweeper. Interval defaults to 5 minutes and the
// window to DefaultWindowMinutes when unset. A nil history is allowed;
// sweep results are then not retained.
func NewSweeper(analyzer *Analyzer, advisor *Advisor, history *History, interval time.Duration, windowMinutes int) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		analyzer:      analyzer,
		advisor:       advisor,
		history:       history,
		interval:      interval,
		windowMinutes: normalizeWindow(windowMinutes),
	}
}

// Serve runs global sweeps until the context is cancelled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", s.interval).
		Int("window_minutes", s.windowMinutes).
		Msg("Detection sweeper started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Detection sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	results, err := s.analyzer.AnalyzeGlobal(ctx, s.windowMinutes)
	if err != nil {
		logging.Error().Err(err).Msg("Global sweep failed")
		return
	}
	for _, result := range results {
		s.advisor.Advise(result)
		if s.history != nil {
			s.history.Add(result)
		}
		if s.advisor.ShouldTriggerAlert(result) {
			s.advisor.TriggerAlert(ctx, result)
		}
	}
}

func (s *Sweeper) String() string {
	return "detection-sweeper"
}
