// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
//
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// https://github.com/palisade-project/palisade

package logging

import "strings"

// BadgerAdapter routes BadgerDB's internal logging through the global
// zerolog logger. It satisfies badger's Logger interface.
type BadgerAdapter struct{}

// NewBadgerAdapter returns an adapter for badger.Options.WithLogger.
func NewBadgerAdapter() *BadgerAdapter {
	return &BadgerAdapter{}
}

func (a *BadgerAdapter) Errorf(format string, args ...interface{}) {
	Error().Msgf(trimNewline(format), args...)
}

func (a *BadgerAdapter) Warningf(format string, args ...interface{}) {
	Warn().Msgf(trimNewline(format), args...)
}

// Badger's routine output is chatty; keep it out of info level.
func (a *BadgerAdapter) Infof(format string, args ...interface{}) {
	Debug().Msgf(trimNewline(format), args...)
}

func (a *BadgerAdapter) Debugf(format string, args ...interface{}) {
	Debug().Msgf(trimNewline(format), args...)
}

func trimNewline(format string) string {
	return strings.TrimSuffix(format, "\n")
}
