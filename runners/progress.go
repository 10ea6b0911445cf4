// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"fmt"

	"github.com/modelgym/modelgym/config"
)

// Activity describes an in-flight step shown by live UI badges.
type Activity struct {
	// ID uniquely identifies the activity within its run.
	ID string
	// DisplayName is the human-readable step name.
	DisplayName string
	// Status is the current free-text status of the activity.
	Status string
	// TestType tags the activity with the step's test type.
	TestType config.TestType
}

// ProgressSink receives live progress narration from the orchestrator.
// Implementations must never block; delivery is best-effort.
type ProgressSink interface {
	// Statusf emits a line-oriented status message keyed by run identifier.
	Statusf(runID int64, format string, args ...any)
	// ActivityStarted signals that a step activity has begun.
	ActivityStarted(runID int64, activity Activity)
	// ActivityEnded signals that a step activity has finished.
	ActivityEnded(runID int64, activity Activity)
}

// ProgressEvent is one progress notification delivered through a ChannelSink.
type ProgressEvent struct {
	// RunID keys the event to its test run.
	RunID int64
	// Message is set for line-oriented status events.
	Message string
	// Activity is set for activity start/end events.
	Activity *Activity
	// Ended distinguishes activity end events from start events.
	Ended bool
}

// ChannelSink is a channel-backed ProgressSink. Events are dropped when the
// buffer is full so the orchestrator never blocks on a slow consumer.
type ChannelSink struct {
	events chan ProgressEvent
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan ProgressEvent, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan ProgressEvent {
	return s.events
}

// Close closes the event channel. No further emissions may follow.
func (s *ChannelSink) Close() {
	close(s.events)
}

func (s *ChannelSink) Statusf(runID int64, format string, args ...any) {
	s.emit(ProgressEvent{RunID: runID, Message: fmt.Sprintf(format, args...)})
}

func (s *ChannelSink) ActivityStarted(runID int64, activity Activity) {
	s.emit(ProgressEvent{RunID: runID, Activity: &activity})
}

func (s *ChannelSink) ActivityEnded(runID int64, activity Activity) {
	s.emit(ProgressEvent{RunID: runID, Activity: &activity, Ended: true})
}

func (s *ChannelSink) emit(event ProgressEvent) {
	select {
	case s.events <- event:
	default: // drop on full buffer
	}
}

// NopSink discards all progress notifications.
type NopSink struct{}

func (NopSink) Statusf(runID int64, format string, args ...any) {}

func (NopSink) ActivityStarted(runID int64, activity Activity) {}

func (NopSink) ActivityEnded(runID int64, activity Activity) {}
