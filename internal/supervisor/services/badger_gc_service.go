// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package services

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/palisade-project/palisade/internal/logging"
)

// BadgerGCService runs periodic value log garbage collection on the
// shared BadgerDB. Expired counters and aged-out activity records only
// reclaim disk space once GC rewrites their value log segments.
type BadgerGCService struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
}

// NewBadgerGCService wraps db with a GC loop. Interval defaults to 10
// minutes, the rewrite ratio to 0.5.
func NewBadgerGCService(db *badger.DB, interval time.Duration) *BadgerGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &BadgerGCService{db: db, interval: interval, ratio: 0.5}
}

// Serve implements suture.Service.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect runs GC passes until badger reports nothing left to rewrite.
func (s *BadgerGCService) collect() {
	for {
		err := s.db.RunValueLogGC(s.ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			logging.Debug().Err(err).Msg("Value log GC pass skipped")
			return
		}
		logging.Debug().Msg("Value log GC pass reclaimed space")
	}
}

func (s *BadgerGCService) String() string {
	return "badger-gc"
}
