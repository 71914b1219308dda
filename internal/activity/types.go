// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

// Package activity defines the activity-log contract consumed by the
// anomaly detector and provides in-memory and BadgerDB-backed stores.
//
// Records are validated at the recording boundary and immutable once
// logged; the detector only ever reads them.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/palisade-project/palisade/internal/ipmatch"
)

// Status classifies the outcome of one logged action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusBlocked Status = "blocked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusError, StatusBlocked:
		return true
	}
	return false
}

// IsFailure reports whether the status counts toward failure totals.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError || s == StatusBlocked
}

// Metadata bounds. Arbitrary payloads are rejected at the recording
// boundary so the detector never has to defend against them.
const (
	MaxMetadataKeys     = 16
	MaxMetadataValueLen = 256
)

// Record is one logged action. ActorUserID is zero for anonymous traffic.
// Metadata values must be scalars (string, bool, integer, float).
type Record struct {
	ActorUserID int                    `json:"actor_user_id,omitempty"`
	SourceIP    string                 `json:"source_ip"`
	ActionType  string                 `json:"action_type"`
	Status      Status                 `json:"status"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ActionStats aggregates one action type over a time range.
type ActionStats struct {
	ActionType   string `json:"action_type"`
	TotalCount   int    `json:"total_count"`
	FailureCount int    `json:"failure_count"`
}

// TargetSet lists the distinct identities seen in a time range. User ID
// zero (anonymous) is never included.
type TargetSet struct {
	UserIDs []int    `json:"user_ids"`
	IPs     []string `json:"ips"`
}

// Log is the read contract the detector consumes.
type Log interface {
	// FindByUserAndTimeRange returns records for one user, ordered by time.
	FindByUserAndTimeRange(ctx context.Context, userID int, start, end time.Time) ([]Record, error)

	// FindByIPAndTimeRange returns records from one source IP, ordered by time.
	FindByIPAndTimeRange(ctx context.Context, ip string, start, end time.Time) ([]Record, error)

	// ActivityStatistics aggregates totals and failures per action type.
	ActivityStatistics(ctx context.Context, start, end time.Time) ([]ActionStats, error)

	// ActiveTargets returns the distinct users and source IPs with any
	// record in the range, each list sorted.
	ActiveTargets(ctx context.Context, start, end time.Time) (TargetSet, error)
}

// Recorder is the write contract used by the request pipeline after gate
// decisions.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// Store combines both sides for implementations that serve standalone
// deployments.
type Store interface {
	Log
	Recorder
	Close() error
}

// ErrInvalidRecord indicates a record rejected at the logging boundary.
var ErrInvalidRecord = errors.New("invalid activity record")

// Validate checks rec at the recording boundary and fills a zero
// OccurredAt with the current time.
func Validate(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.ActionType == "" {
		return fmt.Errorf("%w: empty action type", ErrInvalidRecord)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, rec.Status)
	}
	if !ipmatch.IsValidIP(rec.SourceIP) {
		return fmt.Errorf("%w: source IP %q", ErrInvalidRecord, rec.SourceIP)
	}
	if len(rec.Metadata) > MaxMetadataKeys {
		return fmt.Errorf("%w: metadata exceeds %d keys", ErrInvalidRecord, MaxMetadataKeys)
	}
	for k, v := range rec.Metadata {
		switch val := v.(type) {
		case string:
			if len(val) > MaxMetadataValueLen {
				return fmt.Errorf("%w: metadata value for %q exceeds %d bytes", ErrInvalidRecord, k, MaxMetadataValueLen)
			}
		case bool, int, int32, int64, float32, float64:
			// Scalars are fine.
		default:
			return fmt.Errorf("%w: metadata value for %q is not a scalar", ErrInvalidRecord, k)
		}
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	return nil
}
