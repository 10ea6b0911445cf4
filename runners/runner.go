// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package runners provides the test run orchestrator and the per-type step
// executors that drive model invocations and collect their results.
package runners

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/evaluation"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/pkg/utils"
	"github.com/modelgym/modelgym/providers"
	"github.com/modelgym/modelgym/scoring"
	"github.com/modelgym/modelgym/store"
)

var (
	// ErrNoTests is returned when a group resolves to no test definitions.
	ErrNoTests = errors.New("no test definitions in group")
	// ErrProviderSetup is returned when the model provider cannot be opened.
	// This is the only error that aborts an entire group run.
	ErrProviderSetup = errors.New("failed to set up model provider")
)

var folderNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// RunSummary is the outcome of executing one test group against one model.
type RunSummary struct {
	// RunID identifies the persisted run record.
	RunID int64
	// ModelID identifies the benchmarked model.
	ModelID string
	// Group is the executed test group name.
	Group string
	// Passed counts the steps that passed.
	Passed int
	// Total counts all executed steps.
	Total int
	// Score is the run's 0-10 score derived from the pass ratio.
	Score float64
	// RunPassed is true iff every step passed and at least one step ran.
	RunPassed bool
	// Duration is the timed portion of the run, excluding warm-up.
	Duration time.Duration
}

// stepResult is the internal outcome of one step executor.
type stepResult struct {
	passed bool
	output string
	errMsg string
}

func failedStep(message string) stepResult {
	return stepResult{errMsg: message}
}

// groupRun carries the state shared by all steps of one group run.
type groupRun struct {
	model      config.ModelConfig
	group      string
	runID      int64
	workFolder string
	provider   providers.Provider
	limiter    *rate.Limiter
	logger     logging.Logger
}

// Orchestrator executes test groups against models, one step at a time,
// and persists every result through the test store.
type Orchestrator struct {
	store      store.Store
	cfg        config.AppConfig
	tests      config.TestConfig
	evaluators []evaluation.Evaluator
	aggregator *scoring.Aggregator
	progress   ProgressSink
	zlog       zerolog.Logger
	logger     logging.Logger

	// newProvider is overridable in tests.
	newProvider func(ctx context.Context, model config.ModelConfig, logger logging.Logger) (providers.Provider, error)
}

// NewOrchestrator creates a test run orchestrator. The evaluator list may be
// empty; narrative steps then pass with a maximal score.
func NewOrchestrator(testStore store.Store, cfg config.AppConfig, tests config.TestConfig, evaluators []evaluation.Evaluator, progress ProgressSink, zlog zerolog.Logger) *Orchestrator {
	logger := NewEmittingLogger(zlog, progress, 0)
	return &Orchestrator{
		store:      testStore,
		cfg:        cfg,
		tests:      tests,
		evaluators: evaluators,
		aggregator: scoring.NewAggregator(testStore, tests, logger),
		progress:   progress,
		zlog:       zlog,
		logger:     logger,
		newProvider: func(ctx context.Context, model config.ModelConfig, logger logging.Logger) (providers.Provider, error) {
			return providers.NewProvider(ctx, model, logger)
		},
	}
}

// RunAll executes every test group against every enabled model, strictly
// sequentially so the progress narration stays ordered.
func (o *Orchestrator) RunAll(ctx context.Context) ([]RunSummary, error) {
	models := o.cfg.GetEnabledModels()
	groups := o.tests.GroupNames()
	o.logger.Message(ctx, logging.LevelInfo, "starting sweep: %d group(s) on %d model(s)", len(groups), len(models))
	summaries := make([]RunSummary, 0, len(models)*len(groups))
	for _, model := range models {
		for _, group := range groups {
			summary, err := o.RunGroup(ctx, model, group)
			if err != nil {
				o.logger.Error(ctx, logging.LevelError, err, "run of group '%s' on model '%s' aborted", group, model.Name)
				continue
			}
			summaries = append(summaries, summary)
		}
	}
	return summaries, o.aggregator.RecalculateAllWriterScores(ctx)
}

// RunGroup executes one test group against one model. Step failures never
// abort the run; only a provider construction failure does.
func (o *Orchestrator) RunGroup(ctx context.Context, model config.ModelConfig, group string) (summary RunSummary, err error) {
	tests := o.tests.GroupTests(group)
	if len(tests) == 0 {
		return summary, fmt.Errorf("%w: '%s'", ErrNoTests, group)
	}

	workFolder := o.stageInputFiles(ctx, model, group, tests)

	runID, err := o.store.CreateRun(ctx, model.Name, group, workFolder)
	if err != nil {
		return summary, err
	}
	summary = RunSummary{RunID: runID, ModelID: model.Name, Group: group}

	logger := NewEmittingLogger(o.zlog, o.progress, runID).WithContext(model.Name).WithContext(group)

	provider, err := o.newProvider(ctx, model, logger)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrProviderSetup, err)
		if storeErr := o.store.UpdateRunResult(ctx, runID, false, 0); storeErr != nil {
			logger.Error(ctx, logging.LevelWarn, storeErr, "failed to finalize aborted run")
		}
		return summary, err
	}
	defer func() {
		if closeErr := provider.Close(ctx); closeErr != nil {
			logger.Error(ctx, logging.LevelWarn, closeErr, "failed to close provider")
		}
	}()

	run := &groupRun{
		model:      model,
		group:      group,
		runID:      runID,
		workFolder: workFolder,
		provider:   provider,
		logger:     logger,
	}
	if model.MaxRequestsPerMinute > 0 {
		// Allow a burst up to the per-minute limit.
		run.limiter = rate.NewLimiter(rate.Limit(model.MaxRequestsPerMinute)/60, model.MaxRequestsPerMinute)
	}

	if model.IsLocal() {
		o.warmUp(ctx, run)
	}

	o.progress.Statusf(runID, "starting group '%s' on model '%s' (%d tests)", group, model.Name, len(tests))
	start := time.Now()
	for number, test := range tests {
		o.runStep(ctx, run, number+1, test, &summary)
	}
	summary.Duration = time.Since(start)

	summary.Score = scoring.PassRatioScore(summary.Passed, summary.Total)
	summary.RunPassed = summary.Total > 0 && summary.Passed == summary.Total
	if err := o.store.UpdateRunResult(ctx, runID, summary.RunPassed, summary.Duration.Milliseconds()); err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "failed to finalize run")
	}

	if err := o.aggregator.RecalculateModelScore(ctx, model.Name); err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "failed to recalculate model score")
	}
	if err := o.aggregator.RecalculateWriterScore(ctx, model.Name); err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "failed to recalculate writer score")
	}

	o.progress.Statusf(runID, "group '%s' finished on model '%s': %d/%d passed, score %.0f, duration %s",
		group, model.Name, summary.Passed, summary.Total, summary.Score, summary.Duration)
	return summary, nil
}

// runStep creates the step record, dispatches to the executor matching the
// test type and records the result. Panics are captured and recorded as a
// failed step; they never abort the loop.
func (o *Orchestrator) runStep(ctx context.Context, run *groupRun, number int, test config.TestDefinition, summary *RunSummary) {
	prompt := test.ResolvePrompt(run.workFolder)
	stepID, err := o.store.AddStep(ctx, run.runID, number, test.Name, prompt)
	if err != nil {
		run.logger.Error(ctx, logging.LevelError, err, "failed to create step record for '%s'", test.Name)
		return
	}

	activity := Activity{
		ID:          fmt.Sprintf("step-%d-%d", run.runID, stepID),
		DisplayName: test.Name,
		Status:      "running",
		TestType:    test.Type,
	}
	o.progress.ActivityStarted(run.runID, activity)

	start := time.Now()
	var result stepResult
	if panicErr := utils.NoPanic(func() error {
		result = o.dispatchStep(ctx, run, stepID, test, prompt)
		return nil
	}); panicErr != nil {
		result = failedStep(panicErr.Error())
	}
	elapsed := time.Since(start)

	summary.Total++
	if result.passed {
		summary.Passed++
		activity.Status = "passed"
	} else {
		activity.Status = "failed"
	}

	if err := o.store.UpdateStepResult(ctx, stepID, result.passed, result.output, result.errMsg, elapsed.Milliseconds()); err != nil {
		run.logger.Error(ctx, logging.LevelWarn, err, "failed to record result of step '%s'", test.Name)
	}
	o.progress.ActivityEnded(run.runID, activity)
	if result.errMsg != "" {
		o.progress.Statusf(run.runID, "step '%s' failed: %s", test.Name, result.errMsg)
	} else {
		o.progress.Statusf(run.runID, "step '%s' %s in %s", test.Name, activity.Status, elapsed)
	}
}

// dispatchStep routes the test to its executor. The test type enum is closed;
// adding a new type extends this switch.
func (o *Orchestrator) dispatchStep(ctx context.Context, run *groupRun, stepID int64, test config.TestDefinition, prompt string) stepResult {
	switch test.Type {
	case config.TestTypeQuestion:
		return o.runQuestionStep(ctx, run, test, prompt)
	case config.TestTypeFunctionCall:
		return o.runFunctionCallStep(ctx, run, test, prompt)
	case config.TestTypeWriter:
		return o.runWriterStep(ctx, run, stepID, test, prompt)
	case config.TestTypeTTS:
		return o.runTTSStep(ctx, run, stepID, test, prompt)
	default:
		return failedStep(fmt.Sprintf("unsupported test type %q", test.Type))
	}
}

// stageInputFiles creates the per-run working folder and copies declared
// input files into it. Copy failures are logged but non-fatal; the tests
// proceed without the staged files.
func (o *Orchestrator) stageInputFiles(ctx context.Context, model config.ModelConfig, group string, tests []config.TestDefinition) string {
	staged := false
	for _, test := range tests {
		if len(test.InputFiles) > 0 {
			staged = true
			break
		}
	}
	if !staged {
		return ""
	}

	// A random suffix keeps same-second runs of one model and group apart.
	name := fmt.Sprintf("%s-%s-%s-%.8s",
		time.Now().Format("20060102-150405"),
		folderNameSanitizer.ReplaceAllString(model.Name, "_"),
		folderNameSanitizer.ReplaceAllString(group, "_"),
		uuid.NewString())
	workFolder := filepath.Join(o.cfg.WorkRoot, name)
	if err := os.MkdirAll(workFolder, 0o755); err != nil {
		o.logger.Error(ctx, logging.LevelWarn, err, "failed to create working folder '%s'", workFolder)
		return ""
	}

	for _, test := range tests {
		for _, fileName := range test.InputFiles {
			src := filepath.Join(o.cfg.StagingDir, fileName)
			dst := filepath.Join(workFolder, fileName)
			if err := copyFile(src, dst); err != nil {
				o.logger.Error(ctx, logging.LevelWarn, err, "failed to stage input file '%s'", fileName)
			}
		}
	}
	return workFolder
}

// warmUp performs one throwaway invocation so that cold-start latency of a
// locally hosted model is excluded from the timing measurement. Its outcome
// never affects the run.
func (o *Orchestrator) warmUp(ctx context.Context, run *groupRun) {
	session, err := run.provider.OpenSession(nil, false)
	if err != nil {
		run.logger.Error(ctx, logging.LevelWarn, err, "warm-up session could not be opened")
		return
	}
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	start := time.Now()
	_, err = session.Respond(warmCtx, providers.NewConversation("", "Reply with OK."), providers.ExecutionSettings{
		MaxTokens: 8,
	})
	if err != nil {
		run.logger.Error(ctx, logging.LevelDebug, err, "warm-up call failed")
		return
	}
	run.logger.Message(ctx, logging.LevelDebug, "warm-up call finished in %s", time.Since(start))
}

// respond invokes the session under the test's timeout and converts a
// deadline hit into the canonical timeout failure message.
func (o *Orchestrator) respond(ctx context.Context, run *groupRun, session providers.Session, conversation providers.Conversation, settings providers.ExecutionSettings, timeout time.Duration) (providers.Response, error) {
	if run.limiter != nil {
		if err := run.limiter.Wait(ctx); err != nil {
			return providers.Response{}, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	response, err := session.Respond(callCtx, conversation, settings)
	if err != nil && isTimeout(callCtx, err) {
		return response, fmt.Errorf("Timeout after %ds", int(timeout.Seconds()))
	}
	return response, err
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// loadExecutionPlan reads the test's execution-plan file to be injected as
// system instructions. A blank reference yields no plan.
func (o *Orchestrator) loadExecutionPlan(run *groupRun, test config.TestDefinition) (string, error) {
	if test.ExecutionPlan == "" {
		return "", nil
	}
	path := strings.ReplaceAll(test.ExecutionPlan, config.TestFolderPlaceholder, run.workFolder)
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.cfg.StagingDir, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
