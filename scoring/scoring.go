// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package scoring aggregates step and evaluation results into per-group and
// per-model quality scores on the closed interval [0, 10].
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/store"
)

// MaxScore is the highest score any aggregate can reach.
const MaxScore = 10.0

// ErrRecalculateScore indicates a score recomputation could not be completed.
var ErrRecalculateScore = errors.New("failed to recalculate score")

// Aggregator computes and persists model-level scores from run, step and
// evaluation records. All recomputations are idempotent: running them twice
// over the same underlying records yields the same persisted numbers.
type Aggregator struct {
	store  store.Store
	tests  config.TestConfig
	logger logging.Logger
}

// NewAggregator creates a score aggregator over the given store and test set.
func NewAggregator(testStore store.Store, tests config.TestConfig, logger logging.Logger) *Aggregator {
	return &Aggregator{
		store:  testStore,
		tests:  tests,
		logger: logger,
	}
}

// StoryScore converts evaluator verdict totals (each on [0, 100]) into a
// score on [0, 10]. A story nobody evaluated gets the maximal score because
// evaluation is best-effort, not a blocking requirement.
func StoryScore(totals []int) float64 {
	if len(totals) == 0 {
		return MaxScore
	}
	sum := 0
	for _, total := range totals {
		sum += total
	}
	return float64(sum) / (float64(len(totals)) * 100.0) * MaxScore
}

// PassRatioScore converts step pass counts into a rounded score on [0, 10].
// A run with no steps scores 0.
func PassRatioScore(passed int, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(passed) / float64(total) * MaxScore)
}

// GroupScore resolves the latest run of the model in the given group and
// computes its score: writer groups average the evaluation-based score of
// every story the run produced, all other groups use the step pass ratio.
func (a *Aggregator) GroupScore(ctx context.Context, modelID string, group string) (float64, error) {
	run, err := a.store.LatestRun(ctx, modelID, group)
	if err != nil {
		return 0, err
	}
	if a.isWriterGroup(group) {
		return a.evaluationScore(ctx, run.ID)
	}
	steps, err := a.store.RunSteps(ctx, run.ID)
	if err != nil {
		return 0, err
	}
	passed := 0
	for _, step := range steps {
		if step.Passed {
			passed++
		}
	}
	return PassRatioScore(passed, len(steps)), nil
}

// evaluationScore averages the per-story evaluation scores of every story
// asset produced by the run's steps.
func (a *Aggregator) evaluationScore(ctx context.Context, runID int64) (float64, error) {
	steps, err := a.store.RunSteps(ctx, runID)
	if err != nil {
		return 0, err
	}
	var storyScores []float64
	for _, step := range steps {
		assets, err := a.store.StepAssets(ctx, step.ID)
		if err != nil {
			return 0, err
		}
		for _, asset := range assets {
			if asset.Kind != store.AssetKindStory {
				continue
			}
			evals, err := a.store.StoryEvaluationsByStory(ctx, asset.ID)
			if err != nil {
				return 0, err
			}
			totals := make([]int, 0, len(evals))
			for _, eval := range evals {
				if eval.Error == "" {
					totals = append(totals, eval.Total)
				}
			}
			storyScores = append(storyScores, StoryScore(totals))
		}
	}
	if len(storyScores) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, score := range storyScores {
		sum += score
	}
	return sum / float64(len(storyScores)), nil
}

// RecalculateModelScore recomputes and persists the model's overall
// function-calling score as the rounded average of its groups' most recent
// scores. Models without any recorded run keep a zero score.
func (a *Aggregator) RecalculateModelScore(ctx context.Context, modelID string) error {
	groups, err := a.store.ModelGroups(ctx, modelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecalculateScore, err)
	}
	if len(groups) == 0 {
		return a.store.UpdateFunctionScore(ctx, modelID, 0)
	}
	sum := 0.0
	for _, group := range groups {
		score, err := a.GroupScore(ctx, modelID, group)
		if err != nil {
			return fmt.Errorf("%w: group '%s': %v", ErrRecalculateScore, group, err)
		}
		sum += score
	}
	score := math.Round(sum / float64(len(groups)))
	a.logger.Message(ctx, logging.LevelDebug, "recalculated function score for model '%s': %.0f", modelID, score)
	return a.store.UpdateFunctionScore(ctx, modelID, score)
}

// RecalculateWriterScore recomputes and persists the model's writer score
// from every story evaluation ever recorded for its stories.
func (a *Aggregator) RecalculateWriterScore(ctx context.Context, modelID string) error {
	evals, err := a.store.StoryEvaluationsByModel(ctx, modelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecalculateScore, err)
	}
	sum := 0
	count := 0
	for _, eval := range evals {
		if eval.Error != "" {
			continue
		}
		sum += eval.Total
		count++
	}
	score := 0.0
	if count > 0 {
		score = float64(sum) / (float64(count) * 100.0) * MaxScore
	}
	return a.store.UpdateWriterScore(ctx, modelID, score)
}

// RecalculateAllWriterScores recomputes writer scores for every enabled model.
func (a *Aggregator) RecalculateAllWriterScores(ctx context.Context) error {
	models, err := a.store.GetEnabledModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecalculateScore, err)
	}
	for _, model := range models {
		if err := a.RecalculateWriterScore(ctx, model.ID); err != nil {
			return err
		}
	}
	return nil
}

// isWriterGroup reports whether every test definition in the group is of the
// writer type, which switches the group to evaluation-based scoring.
func (a *Aggregator) isWriterGroup(group string) bool {
	tests := a.tests.GroupTests(group)
	if len(tests) == 0 {
		return false
	}
	for _, test := range tests {
		if test.Type != config.TestTypeWriter {
			return false
		}
	}
	return true
}
