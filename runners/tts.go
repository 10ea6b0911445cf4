// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/dialogue"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/providers"
	"github.com/modelgym/modelgym/providers/tools"
	"github.com/modelgym/modelgym/store"
)

const (
	// ttsMaxAttempts bounds the structured-schema retry loop.
	ttsMaxAttempts = 3
	// ttsPassThreshold is the minimum comparator score for a passing artifact.
	ttsPassThreshold = 2
	// ttsRetryDelay is the constant backoff between attempts.
	ttsRetryDelay = time.Second
)

// ttsRetryPrompt re-prompts the model when an attempt produced no artifact.
const ttsRetryPrompt = "No dialogue-track file was produced. Call the confirm_dialogue_schema capability to review " +
	"the required format, then call save_dialogue_track with the complete track."

// runTTSStep executes a structured-schema synthesis test as a bounded retry
// loop of at most three attempts. The conversation grows with each model
// reply so later attempts see what was previously produced. An attempt
// succeeds when a fresh dialogue-track file appears in the working folder;
// it is then compared against the expected track for a 1-10 score.
func (o *Orchestrator) runTTSStep(ctx context.Context, run *groupRun, stepID int64, test config.TestDefinition, prompt string) stepResult {
	families := append([]string{}, test.AllowedCapabilities...)
	families = append(families, tools.SchemaFamily)
	capabilities, err := tools.NewSet(families, tools.Invocation{
		ModelID:    run.model.Name,
		WorkFolder: run.workFolder,
	})
	if err != nil {
		return failedStep(err.Error())
	}

	session, err := run.provider.OpenSession(capabilities, true)
	if err != nil {
		return failedStep(err.Error())
	}

	system, err := o.loadExecutionPlan(run, test)
	if err != nil {
		run.logger.Error(ctx, logging.LevelWarn, err, "failed to load execution plan")
		system = ""
	}
	narrative, err := o.loadReferenceNarrative(run, test)
	if err != nil {
		run.logger.Error(ctx, logging.LevelWarn, err, "failed to load reference narrative")
	} else if narrative != "" {
		prompt = prompt + "\n\nSource narrative:\n" + narrative
	}
	conversation := providers.NewConversation(system, prompt)

	seen := artifactNames(run.workFolder)
	attempts := 0
	var final stepResult

	backoff := retry.WithMaxRetries(ttsMaxAttempts-1, retry.NewConstant(ttsRetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		run.logger.Message(ctx, logging.LevelDebug, "structured-schema attempt %d/%d for '%s'", attempts, ttsMaxAttempts, test.Name)

		response, err := o.respond(ctx, run, session, conversation, providers.ExecutionSettings{}, test.Timeout())
		if err != nil {
			return retry.RetryableError(err)
		}
		conversation = conversation.Append(providers.RoleAssistant, response.Text)

		artifact, err := o.findNewArtifact(run.workFolder, seen)
		if err != nil {
			conversation = conversation.Append(providers.RoleUser, ttsRetryPrompt)
			return retry.RetryableError(err)
		}

		final = o.scoreDialogueArtifact(ctx, run, stepID, artifact)
		return nil
	})
	if err != nil {
		if errors.Is(err, dialogue.ErrNoArtifact) {
			return failedStep(fmt.Sprintf("No structured artifact generated after %d attempts", ttsMaxAttempts))
		}
		return failedStep(fmt.Sprintf("attempt %d of %d failed: %v", attempts, ttsMaxAttempts, err))
	}
	return final
}

// loadReferenceNarrative reads the staged source text the dialogue track is
// synthesized from: the first declared input file that is not the reserved
// expected-result reference. A test without one yields no narrative.
func (o *Orchestrator) loadReferenceNarrative(run *groupRun, test config.TestDefinition) (string, error) {
	if run.workFolder == "" {
		return "", nil
	}
	for _, name := range test.InputFiles {
		if strings.EqualFold(name, dialogue.ExpectedTrackFileName) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(run.workFolder, name))
		if err != nil {
			return "", err
		}
		return string(content), nil
	}
	return "", nil
}

// artifactNames records the track files already present in the working folder
// so that a pre-existing file cannot satisfy an attempt.
func artifactNames(workFolder string) map[string]struct{} {
	seen := make(map[string]struct{})
	names, err := dialogue.ListArtifacts(workFolder)
	if err != nil {
		return seen
	}
	for _, name := range names {
		seen[name] = struct{}{}
	}
	return seen
}

// findNewArtifact returns the most recent dialogue-track file that appeared
// after the step started. Detection is by file name rather than modification
// time, which on some file systems is too coarse to tell a staged file from
// a fresh artifact.
func (o *Orchestrator) findNewArtifact(workFolder string, seen map[string]struct{}) (string, error) {
	names, err := dialogue.ListArtifacts(workFolder)
	if err != nil {
		return "", err
	}

	var newest string
	var newestModTime int64
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		info, err := os.Stat(filepath.Join(workFolder, name))
		if err != nil {
			continue
		}
		if modTime := info.ModTime().UnixNano(); newest == "" || modTime > newestModTime {
			newest = filepath.Join(workFolder, name)
			newestModTime = modTime
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w: no new artifact in '%s'", dialogue.ErrNoArtifact, workFolder)
	}
	return newest, nil
}

// scoreDialogueArtifact compares the produced track against the expected
// reference track and records the artifact as a step asset.
func (o *Orchestrator) scoreDialogueArtifact(ctx context.Context, run *groupRun, stepID int64, artifact string) stepResult {
	actual, err := dialogue.Load(artifact)
	if err != nil {
		return failedStep(err.Error())
	}
	expected, err := dialogue.Load(filepath.Join(run.workFolder, dialogue.ExpectedTrackFileName))
	if err != nil {
		return failedStep(err.Error())
	}

	score := dialogue.Compare(expected, actual)
	if err := o.store.AddAsset(ctx, store.TestAsset{
		ID:     ulid.Make().String(),
		StepID: stepID,
		Kind:   store.AssetKindDialogue,
		Path:   artifact,
	}); err != nil {
		run.logger.Error(ctx, logging.LevelWarn, err, "failed to record dialogue asset")
	}

	result := stepResult{
		passed: score >= ttsPassThreshold,
		output: fmt.Sprintf("dialogue track '%s' scored %d/10", filepath.Base(artifact), score),
	}
	if !result.passed {
		result.errMsg = fmt.Sprintf("dialogue similarity score %d is below the pass threshold %d", score, ttsPassThreshold)
	}
	return result
}
