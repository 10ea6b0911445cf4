// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package store persists test runs, steps, artifacts and model scores.
// It defines the narrow collaborator interface the execution engine writes
// through, together with a SQLite-backed and an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStoreClosed is returned when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// Asset kinds produced by test steps.
const (
	AssetKindStory    = "story"
	AssetKindDialogue = "dialogue"
)

// ModelRecord describes a benchmarked model and its running quality scores.
type ModelRecord struct {
	// ID uniquely identifies the model; it matches the configured model name.
	ID string
	// Provider is the provider family serving the model.
	Provider string
	// Endpoint is the network endpoint the model is reached at, if any.
	Endpoint string
	// Enabled indicates whether the model participates in sweeps.
	Enabled bool
	// NoToolSupport is set once a run observes the model cannot do tool calling.
	// It is never cleared implicitly; only an explicit operator action resets it.
	NoToolSupport bool
	// FunctionScore is the model's running function-calling score on [0, 10].
	FunctionScore float64
	// WriterScore is the model's running narrative score on [0, 10].
	WriterScore float64
}

// TestRun is one execution of a test group against one model.
type TestRun struct {
	ID         int64
	ModelID    string
	Group      string
	WorkFolder string
	StartedAt  time.Time
	FinishedAt time.Time
	Passed     bool
	DurationMS int64
	Notes      string
}

// TestStep is the execution of a single test definition within a run.
type TestStep struct {
	ID         int64
	RunID      int64
	Number     int
	Name       string
	Input      string
	Output     string
	Passed     bool
	Error      string
	DurationMS int64
}

// TestAsset is a side artifact produced by a step, such as a generated
// narrative or a dialogue-track file.
type TestAsset struct {
	ID             string
	StepID         int64
	Kind           string
	Path           string
	LinkedEntityID string
}

// StoryEvaluation is one evaluator agent's verdict on a generated narrative.
type StoryEvaluation struct {
	ID        int64
	StoryID   string
	ModelID   string
	AgentID   string
	Total     int
	Breakdown map[string]int
	Error     string
	CreatedAt time.Time
}

// Store is the persistent test-result collaborator used by the execution engine.
// Implementations must be safe for concurrent use.
type Store interface {
	// SyncModels upserts model records from configuration, preserving the
	// NoToolSupport flag and scores of already-known models.
	SyncModels(ctx context.Context, models []ModelRecord) error
	// GetEnabledModels returns all models that participate in sweeps.
	GetEnabledModels(ctx context.Context) ([]ModelRecord, error)
	// GetModel returns the model with the given identifier.
	GetModel(ctx context.Context, id string) (ModelRecord, error)
	// MarkNoToolSupport sets the model's no-tool-support flag. Idempotent and one-way.
	MarkNoToolSupport(ctx context.Context, modelID string) error
	// ClearNoToolSupport resets the flag; this is an explicit operator action.
	ClearNoToolSupport(ctx context.Context, modelID string) error
	// UpdateFunctionScore stores the model's recomputed function-calling score.
	UpdateFunctionScore(ctx context.Context, modelID string, score float64) error
	// UpdateWriterScore stores the model's recomputed writer score.
	UpdateWriterScore(ctx context.Context, modelID string, score float64) error

	// CreateRun creates a run record and returns its identifier.
	CreateRun(ctx context.Context, modelID string, group string, workFolder string) (int64, error)
	// UpdateRunResult finalizes a run with its pass flag and duration.
	UpdateRunResult(ctx context.Context, runID int64, passed bool, durationMS int64) error
	// LatestRun returns the most recent run for the given model and group.
	LatestRun(ctx context.Context, modelID string, group string) (TestRun, error)
	// ModelGroups returns the distinct group names the model has runs for.
	ModelGroups(ctx context.Context, modelID string) ([]string, error)

	// AddStep creates a step record with its input snapshot and returns its identifier.
	AddStep(ctx context.Context, runID int64, number int, name string, input string) (int64, error)
	// UpdateStepResult records a step's outcome exactly once after the attempt.
	UpdateStepResult(ctx context.Context, stepID int64, passed bool, output string, errText string, durationMS int64) error
	// RunSteps returns all steps of a run in step-number order.
	RunSteps(ctx context.Context, runID int64) ([]TestStep, error)

	// AddAsset records a side artifact produced by a step.
	AddAsset(ctx context.Context, asset TestAsset) error
	// StepAssets returns all artifacts linked to a step.
	StepAssets(ctx context.Context, stepID int64) ([]TestAsset, error)

	// AddStoryEvaluation records an evaluator verdict for a story.
	AddStoryEvaluation(ctx context.Context, eval StoryEvaluation) error
	// StoryEvaluationsByStory returns all verdicts recorded for a story.
	StoryEvaluationsByStory(ctx context.Context, storyID string) ([]StoryEvaluation, error)
	// StoryEvaluationsByModel returns all verdicts recorded for a model's stories.
	StoryEvaluationsByModel(ctx context.Context, modelID string) ([]StoryEvaluation, error)

	// Close releases resources held by the store.
	Close() error
}
