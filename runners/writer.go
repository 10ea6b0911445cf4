// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/pkg/utils"
	"github.com/modelgym/modelgym/providers"
	"github.com/modelgym/modelgym/scoring"
	"github.com/modelgym/modelgym/store"
)

const (
	// writerTemperature is the elevated sampling temperature used for narrative generation.
	writerTemperature float32 = 1.0
	// writerMaxTokens is the enlarged output budget for narrative generation.
	writerMaxTokens = 4096
	// writerPassThreshold is the minimum evaluation-based score for a passing narrative.
	writerPassThreshold = 4.0
)

// writerFallbackInstruction is the built-in system instruction used when a
// test declares no execution plan.
const writerFallbackInstruction = "You are a professional fiction author. Write a complete long-form story in English " +
	"with a clear beginning, development and ending. Use vivid language, distinct characters and natural dialogue. " +
	"Respond with the story text only."

// runWriterStep executes a narrative generation test: the story is persisted
// as an asset and scored once per active evaluator agent. With no evaluators
// configured the narrative passes with the maximal score, because evaluation
// is best-effort rather than a blocking requirement.
func (o *Orchestrator) runWriterStep(ctx context.Context, run *groupRun, stepID int64, test config.TestDefinition, prompt string) stepResult {
	session, err := run.provider.OpenSession(nil, false)
	if err != nil {
		return failedStep(err.Error())
	}

	system, err := o.loadExecutionPlan(run, test)
	if err != nil {
		run.logger.Error(ctx, logging.LevelWarn, err, "failed to load execution plan, using built-in instructions")
		system = ""
	}
	if system == "" {
		system = writerFallbackInstruction
	}

	settings := providers.ExecutionSettings{
		Temperature: utils.Ptr(writerTemperature),
		MaxTokens:   writerMaxTokens,
	}
	if run.model.IsLocal() && run.model.MaxContextTokens > 0 {
		settings.MaxContextTokens = run.model.MaxContextTokens
	}

	response, err := o.respond(ctx, run, session, providers.NewConversation(system, prompt), settings, test.Timeout())
	if err != nil {
		return failedStep(err.Error())
	}

	story := unwrapStoryEnvelope(response.Text)
	if strings.TrimSpace(story) == "" {
		return failedStep("model produced an empty narrative")
	}

	storyID, err := o.persistStoryAsset(ctx, run, stepID, story)
	if err != nil {
		run.logger.Error(ctx, logging.LevelWarn, err, "failed to persist story asset")
	}

	score := o.evaluateStory(ctx, run, storyID, story)
	result := stepResult{passed: score >= writerPassThreshold, output: story}
	if !result.passed {
		result.errMsg = fmt.Sprintf("narrative score %.1f is below the pass threshold %.1f", score, writerPassThreshold)
	}
	return result
}

// evaluateStory runs every active evaluator agent once over the story and
// returns the combined 0-10 score. Failed evaluations are recorded with their
// error text and contribute zero to the sum while still counting toward the
// evaluator denominator.
func (o *Orchestrator) evaluateStory(ctx context.Context, run *groupRun, storyID string, story string) float64 {
	if len(o.evaluators) == 0 {
		return scoring.MaxScore
	}

	sum := 0
	for _, evaluator := range o.evaluators {
		verdict, err := evaluator.Evaluate(ctx, story)
		record := store.StoryEvaluation{
			StoryID:   storyID,
			ModelID:   run.model.Name,
			AgentID:   evaluator.AgentID(),
			Total:     verdict.Total,
			Breakdown: verdict.Breakdown,
		}
		if err != nil {
			record.Error = err.Error()
			record.Total = 0
			run.logger.Error(ctx, logging.LevelWarn, err, "evaluator '%s' failed", evaluator.AgentID())
		} else {
			sum += verdict.Total
		}
		if storeErr := o.store.AddStoryEvaluation(ctx, record); storeErr != nil {
			run.logger.Error(ctx, logging.LevelWarn, storeErr, "failed to record verdict of evaluator '%s'", evaluator.AgentID())
		}
	}
	return float64(sum) / (float64(len(o.evaluators)) * 100.0) * scoring.MaxScore
}

// persistStoryAsset writes the story text next to the run's other artifacts
// and records it as a step asset. The returned story ID links evaluations to
// the asset.
func (o *Orchestrator) persistStoryAsset(ctx context.Context, run *groupRun, stepID int64, story string) (string, error) {
	storyID := ulid.Make().String()
	folder := run.workFolder
	if folder == "" {
		folder = o.cfg.WorkRoot
	}
	path := filepath.Join(folder, fmt.Sprintf("story-%s.txt", storyID))
	if err := os.WriteFile(path, []byte(story), 0o644); err != nil {
		return storyID, err
	}
	return storyID, o.store.AddAsset(ctx, store.TestAsset{
		ID:     storyID,
		StepID: stepID,
		Kind:   store.AssetKindStory,
		Path:   path,
	})
}

// unwrapStoryEnvelope extracts the narrative body from a JSON envelope such
// as {"result": ...} or {"story": ...} when the raw response is JSON.
// Non-JSON responses are returned unchanged.
func unwrapStoryEnvelope(text string) string {
	trimmed := strings.TrimSpace(utils.JSONFromMarkdown(text))
	if !strings.HasPrefix(trimmed, "{") {
		return text
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return text
	}
	for _, key := range []string{"result", "story"} {
		if raw, ok := envelope[key]; ok {
			var body string
			if err := json.Unmarshal(raw, &body); err == nil {
				return body
			}
			return string(raw)
		}
	}
	return text
}
