// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/modelgym/modelgym/pkg/logging"
)

// EmittingLogger implements the logging.Logger interface and additionally
// mirrors log messages to the progress sink keyed by run identifier.
// This allows log messages to be broadcasted to UI components or other consumers.
type EmittingLogger struct {
	logger zerolog.Logger
	sink   ProgressSink
	runID  int64
	prefix string
}

// NewEmittingLogger creates a new EmittingLogger that wraps the provided
// zerolog.Logger and mirrors messages to the given progress sink.
func NewEmittingLogger(logger zerolog.Logger, sink ProgressSink, runID int64) logging.Logger {
	return &EmittingLogger{
		logger: logger,
		sink:   sink,
		runID:  runID,
	}
}

// Message logs a message at the specified level with optional format arguments.
// The message is logged by the logger and mirrored to the progress sink.
func (l *EmittingLogger) Message(ctx context.Context, level slog.Level, msg string, args ...any) {
	formattedMsg := fmt.Sprintf(msg, args...)
	formattedMsg = l.prefix + formattedMsg
	l.getEvent(level).Msg(formattedMsg)
	l.sink.Statusf(l.runID, "%s", formattedMsg)
}

// Error logs an error at the specified level with optional format arguments.
// The error and message are logged by the logger and mirrored to the progress sink.
func (l *EmittingLogger) Error(ctx context.Context, level slog.Level, err error, msg string, args ...any) {
	formattedMsg := fmt.Sprintf(msg, args...)
	formattedMsg = l.prefix + formattedMsg
	l.getEvent(level).Err(err).Msg(formattedMsg)
	l.sink.Statusf(l.runID, "%s: %v", formattedMsg, err)
}

// WithContext returns a new Logger that appends the specified context to the existing prefix.
func (l *EmittingLogger) WithContext(context string) logging.Logger {
	return &EmittingLogger{
		logger: l.logger,
		sink:   l.sink,
		runID:  l.runID,
		prefix: l.prefix + context + ": ",
	}
}

// getEvent returns a zerolog event for the given slog level.
func (l *EmittingLogger) getEvent(level slog.Level) *zerolog.Event {
	switch {
	case level < logging.LevelDebug:
		return l.logger.Trace()
	case level < logging.LevelInfo:
		return l.logger.Debug()
	case level < logging.LevelWarn:
		return l.logger.Info()
	case level < logging.LevelError:
		return l.logger.Warn()
	default:
		return l.logger.Error()
	}
}
