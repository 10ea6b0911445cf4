// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps all records in memory. It is primarily used in tests
// and mirrors the semantics of the SQLite implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	models      map[string]*ModelRecord
	runs        map[int64]*TestRun
	steps       map[int64]*TestStep
	assets      []TestAsset
	evaluations []StoryEvaluation
	nextRunID   int64
	nextStepID  int64
	nextEvalID  int64
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models: make(map[string]*ModelRecord),
		runs:   make(map[int64]*TestRun),
		steps:  make(map[int64]*TestStep),
	}
}

func (s *MemoryStore) SyncModels(ctx context.Context, models []ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, model := range models {
		if existing, ok := s.models[model.ID]; ok {
			existing.Provider = model.Provider
			existing.Endpoint = model.Endpoint
			existing.Enabled = model.Enabled
			continue
		}
		record := model
		s.models[model.ID] = &record
	}
	return nil
}

func (s *MemoryStore) GetEnabledModels(ctx context.Context) ([]ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var models []ModelRecord
	for _, model := range s.models {
		if model.Enabled {
			models = append(models, *model)
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func (s *MemoryStore) GetModel(ctx context.Context, id string) (ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if model, ok := s.models[id]; ok {
		return *model, nil
	}
	return ModelRecord{}, fmt.Errorf("%w: model '%s'", ErrNotFound, id)
}

func (s *MemoryStore) MarkNoToolSupport(ctx context.Context, modelID string) error {
	return s.updateModel(modelID, func(model *ModelRecord) { model.NoToolSupport = true })
}

func (s *MemoryStore) ClearNoToolSupport(ctx context.Context, modelID string) error {
	return s.updateModel(modelID, func(model *ModelRecord) { model.NoToolSupport = false })
}

func (s *MemoryStore) UpdateFunctionScore(ctx context.Context, modelID string, score float64) error {
	return s.updateModel(modelID, func(model *ModelRecord) { model.FunctionScore = score })
}

func (s *MemoryStore) UpdateWriterScore(ctx context.Context, modelID string, score float64) error {
	return s.updateModel(modelID, func(model *ModelRecord) { model.WriterScore = score })
}

func (s *MemoryStore) updateModel(modelID string, update func(*ModelRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	model, ok := s.models[modelID]
	if !ok {
		return fmt.Errorf("%w: model '%s'", ErrNotFound, modelID)
	}
	update(model)
	return nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, modelID string, group string, workFolder string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	run := &TestRun{
		ID:         s.nextRunID,
		ModelID:    modelID,
		Group:      group,
		WorkFolder: workFolder,
		StartedAt:  time.Now().UTC(),
	}
	s.runs[run.ID] = run
	return run.ID, nil
}

func (s *MemoryStore) UpdateRunResult(ctx context.Context, runID int64, passed bool, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: run %d", ErrNotFound, runID)
	}
	run.Passed = passed
	run.DurationMS = durationMS
	run.FinishedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) LatestRun(ctx context.Context, modelID string, group string) (TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *TestRun
	for _, run := range s.runs {
		if run.ModelID != modelID || run.Group != group {
			continue
		}
		if latest == nil || run.ID > latest.ID {
			latest = run
		}
	}
	if latest == nil {
		return TestRun{}, fmt.Errorf("%w: no runs for model '%s' group '%s'", ErrNotFound, modelID, group)
	}
	return *latest, nil
}

func (s *MemoryStore) ModelGroups(ctx context.Context, modelID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var groups []string
	for _, run := range s.runs {
		if run.ModelID != modelID {
			continue
		}
		if _, ok := seen[run.Group]; !ok {
			seen[run.Group] = struct{}{}
			groups = append(groups, run.Group)
		}
	}
	sort.Strings(groups)
	return groups, nil
}

func (s *MemoryStore) AddStep(ctx context.Context, runID int64, number int, name string, input string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return 0, fmt.Errorf("%w: run %d", ErrNotFound, runID)
	}
	s.nextStepID++
	step := &TestStep{
		ID:     s.nextStepID,
		RunID:  runID,
		Number: number,
		Name:   name,
		Input:  input,
	}
	s.steps[step.ID] = step
	return step.ID, nil
}

func (s *MemoryStore) UpdateStepResult(ctx context.Context, stepID int64, passed bool, output string, errText string, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok {
		return fmt.Errorf("%w: step %d", ErrNotFound, stepID)
	}
	step.Passed = passed
	step.Output = output
	step.Error = errText
	step.DurationMS = durationMS
	return nil
}

func (s *MemoryStore) RunSteps(ctx context.Context, runID int64) ([]TestStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var steps []TestStep
	for _, step := range s.steps {
		if step.RunID == runID {
			steps = append(steps, *step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })
	return steps, nil
}

func (s *MemoryStore) AddAsset(ctx context.Context, asset TestAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, asset)
	return nil
}

func (s *MemoryStore) StepAssets(ctx context.Context, stepID int64) ([]TestAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var assets []TestAsset
	for _, asset := range s.assets {
		if asset.StepID == stepID {
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

func (s *MemoryStore) AddStoryEvaluation(ctx context.Context, eval StoryEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvalID++
	eval.ID = s.nextEvalID
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	s.evaluations = append(s.evaluations, eval)
	return nil
}

func (s *MemoryStore) StoryEvaluationsByStory(ctx context.Context, storyID string) ([]StoryEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var evals []StoryEvaluation
	for _, eval := range s.evaluations {
		if eval.StoryID == storyID {
			evals = append(evals, eval)
		}
	}
	return evals, nil
}

func (s *MemoryStore) StoryEvaluationsByModel(ctx context.Context, modelID string) ([]StoryEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var evals []StoryEvaluation
	for _, eval := range s.evaluations {
		if eval.ModelID == modelID {
			evals = append(evals, eval)
		}
	}
	return evals, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
