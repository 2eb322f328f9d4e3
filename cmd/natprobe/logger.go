// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package main

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// zerologFactory routes the library's leveled loggers into zerolog.
type zerologFactory struct {
	logger zerolog.Logger
}

func newLoggerFactory(logger zerolog.Logger) logging.LoggerFactory {
	return &zerologFactory{logger: logger}
}

func (f *zerologFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zerologLogger{logger: f.logger.With().Str("scope", scope).Logger()}
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) Trace(msg string) { l.logger.Trace().Msg(msg) }

func (l *zerologLogger) Tracef(format string, args ...any) {
	l.logger.Trace().Msgf(format, args...)
}

func (l *zerologLogger) Debug(msg string) { l.logger.Debug().Msg(msg) }

func (l *zerologLogger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *zerologLogger) Info(msg string) { l.logger.Info().Msg(msg) }

func (l *zerologLogger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *zerologLogger) Warn(msg string) { l.logger.Warn().Msg(msg) }

func (l *zerologLogger) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *zerologLogger) Error(msg string) { l.logger.Error().Msg(msg) }

func (l *zerologLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}
