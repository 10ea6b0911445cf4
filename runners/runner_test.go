// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/dialogue"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/providers"
	"github.com/modelgym/modelgym/store"
)

func testModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Name:     "model-a",
		Provider: config.OPENAI,
		Model:    "gpt-test",
	}
}

// newTestOrchestrator wires an orchestrator over an in-memory store with a
// scripted mock provider injected in place of the real connector factory.
func newTestOrchestrator(t *testing.T, cfg config.AppConfig, tests config.TestConfig, provider providers.Provider) (*Orchestrator, store.Store) {
	testStore := store.NewMemoryStore()
	t.Cleanup(func() { testStore.Close() })
	require.NoError(t, testStore.SyncModels(context.Background(), []store.ModelRecord{
		{ID: testModelConfig().Name, Provider: config.OPENAI, Enabled: true},
	}))

	orchestrator := NewOrchestrator(testStore, cfg, tests, nil, NopSink{}, zerolog.New(zerolog.NewTestWriter(t)))
	orchestrator.newProvider = func(ctx context.Context, model config.ModelConfig, logger logging.Logger) (providers.Provider, error) {
		return provider, nil
	}
	return orchestrator, testStore
}

func questionTests(group string, definitions ...config.TestDefinition) config.TestConfig {
	for i := range definitions {
		definitions[i].Group = group
		definitions[i].Type = config.TestTypeQuestion
	}
	return config.TestConfig{Tests: definitions}
}

func TestRunGroupAllStepsPass(t *testing.T) {
	tests := questionTests("math",
		config.TestDefinition{Name: "addition", Prompt: "What is 2+2?", ExpectedValue: "4", Priority: 1},
		config.TestDefinition{Name: "subtraction", Prompt: "What is 5-2?", ExpectedValue: "3", Priority: 2},
	)
	answers := map[string]string{"What is 2+2?": "4", "What is 5-2?": "3"}
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{Text: answers[conversation[len(conversation)-1].Content]}, nil
	}}
	orchestrator, testStore := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "math")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 10.0, summary.Score)
	assert.True(t, summary.RunPassed)

	run, err := testStore.LatestRun(context.Background(), "model-a", "math")
	require.NoError(t, err)
	assert.True(t, run.Passed)
}

func TestRunGroupPassRequiresEveryStep(t *testing.T) {
	tests := questionTests("math",
		config.TestDefinition{Name: "q1", Prompt: "p1", ExpectedValue: "a", Priority: 1},
		config.TestDefinition{Name: "q2", Prompt: "p2", ExpectedValue: "a", Priority: 2},
		config.TestDefinition{Name: "q3", Prompt: "p3", ExpectedValue: "a", Priority: 3},
		config.TestDefinition{Name: "q4", Prompt: "p4", ExpectedValue: "b", Priority: 4},
	)
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{Text: "a"}, nil
	}}
	orchestrator, testStore := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "math")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Passed)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 8.0, summary.Score)
	assert.False(t, summary.RunPassed)

	run, err := testStore.LatestRun(context.Background(), "model-a", "math")
	require.NoError(t, err)
	assert.False(t, run.Passed)

	steps, err := testStore.RunSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.False(t, steps[3].Passed)
	assert.NotEmpty(t, steps[3].Error)
}

func TestRunGroupRecordsTimeoutMessage(t *testing.T) {
	tests := questionTests("slow",
		config.TestDefinition{Name: "stall", Prompt: "p", ExpectedValue: "a", TimeoutSeconds: 1},
	)
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		time.Sleep(1200 * time.Millisecond)
		return providers.Response{}, context.DeadlineExceeded
	}}
	orchestrator, testStore := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "slow")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passed)

	run, err := testStore.LatestRun(context.Background(), "model-a", "slow")
	require.NoError(t, err)
	steps, err := testStore.RunSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Timeout after 1s", steps[0].Error)
}

func TestRunGroupNoTests(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, config.TestConfig{}, &providers.MockProvider{})

	_, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "absent")
	assert.ErrorIs(t, err, ErrNoTests)
}

func TestRunGroupProviderSetupFailureAborts(t *testing.T) {
	tests := questionTests("math",
		config.TestDefinition{Name: "q1", Prompt: "p1", ExpectedValue: "a"},
	)
	orchestrator, testStore := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, &providers.MockProvider{})
	orchestrator.newProvider = func(ctx context.Context, model config.ModelConfig, logger logging.Logger) (providers.Provider, error) {
		return nil, errors.New("no such API key")
	}

	_, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "math")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderSetup)

	// The aborted run is still finalized as failed with no steps.
	run, runErr := testStore.LatestRun(context.Background(), "model-a", "math")
	require.NoError(t, runErr)
	assert.False(t, run.Passed)
	steps, stepsErr := testStore.RunSteps(context.Background(), run.ID)
	require.NoError(t, stepsErr)
	assert.Empty(t, steps)
}

func TestRunGroupCapturesPanics(t *testing.T) {
	tests := questionTests("math",
		config.TestDefinition{Name: "boom", Prompt: "p1", Priority: 1},
		config.TestDefinition{Name: "fine", Prompt: "p2", ExpectedValue: "ok", Priority: 2},
	)
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		if call == 1 {
			panic("scripted failure")
		}
		return providers.Response{Text: "ok"}, nil
	}}
	orchestrator, _ := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "math")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Passed)
}

func TestFunctionCallMarksNoToolSupport(t *testing.T) {
	tests := config.TestConfig{Tests: []config.TestDefinition{
		{Group: "tools", Name: "call", Prompt: "use the tool", Type: config.TestTypeFunctionCall},
	}}
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{}, providers.ErrToolCallingUnsupported
	}}
	orchestrator, testStore := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "tools")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passed)

	model, err := testStore.GetModel(context.Background(), "model-a")
	require.NoError(t, err)
	assert.True(t, model.NoToolSupport)
}

func TestFunctionCallPassesOnNonEmptyResponse(t *testing.T) {
	tests := config.TestConfig{Tests: []config.TestDefinition{
		{Group: "tools", Name: "call", Prompt: "use the tool", Type: config.TestTypeFunctionCall},
	}}
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{Text: "done", CapabilityCalls: 1}, nil
	}}
	orchestrator, _ := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "tools")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.True(t, summary.RunPassed)
}

func TestWriterStepPassesWithoutEvaluators(t *testing.T) {
	tests := config.TestConfig{Tests: []config.TestDefinition{
		{Group: "fiction", Name: "short story", Prompt: "write a story", Type: config.TestTypeWriter},
	}}
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{Text: `{"story": "Once upon a time, the end."}`}, nil
	}}
	workRoot := t.TempDir()
	orchestrator, testStore := newTestOrchestrator(t, config.AppConfig{WorkRoot: workRoot}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "fiction")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.True(t, summary.RunPassed)

	// The narrative is persisted as a story asset with the envelope removed.
	run, err := testStore.LatestRun(context.Background(), "model-a", "fiction")
	require.NoError(t, err)
	steps, err := testStore.RunSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Once upon a time, the end.", steps[0].Output)

	assets, err := testStore.StepAssets(context.Background(), steps[0].ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, store.AssetKindStory, assets[0].Kind)
	contents, err := os.ReadFile(assets[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time, the end.", string(contents))
}

func TestWriterStepFailsOnEmptyNarrative(t *testing.T) {
	tests := config.TestConfig{Tests: []config.TestDefinition{
		{Group: "fiction", Name: "short story", Prompt: "write a story", Type: config.TestTypeWriter},
	}}
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{Text: "   "}, nil
	}}
	orchestrator, _ := newTestOrchestrator(t, config.AppConfig{WorkRoot: t.TempDir()}, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "fiction")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passed)
}

func ttsTestConfig() config.TestConfig {
	return config.TestConfig{Tests: []config.TestDefinition{
		{
			Group:      "speech",
			Name:       "dialogue track",
			Prompt:     "produce the dialogue track in [test_folder]",
			Type:       config.TestTypeTTS,
			InputFiles: []string{dialogue.ExpectedTrackFileName},
		},
	}}
}

// stageExpectedTrack creates a staging directory holding the expected-result
// reference track for a speech test.
func stageExpectedTrack(t *testing.T, track dialogue.Track) string {
	stagingDir := t.TempDir()
	require.NoError(t, dialogue.Save(track, filepath.Join(stagingDir, dialogue.ExpectedTrackFileName)))
	return stagingDir
}

// findWorkFolder locates the per-run working folder created under the root.
func findWorkFolder(t *testing.T, workRoot string) string {
	entries, err := os.ReadDir(workRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return filepath.Join(workRoot, entries[0].Name())
}

func TestTTSStepScoresProducedArtifact(t *testing.T) {
	track := dialogue.Track{
		Characters: []dialogue.Character{{Name: "Ava", Voice: "v1", Gender: "female"}},
		Timeline: []dialogue.Entry{
			{Kind: dialogue.KindPhrase, Character: "Ava", Text: "Hello there", Emotion: "happy"},
		},
	}
	workRoot := t.TempDir()
	cfg := config.AppConfig{WorkRoot: workRoot, StagingDir: stageExpectedTrack(t, track)}

	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		workFolder := findWorkFolder(t, workRoot)
		require.NoError(t, dialogue.Save(track, filepath.Join(workFolder, "track-1.json")))
		return providers.Response{Text: "track saved"}, nil
	}}
	orchestrator, testStore := newTestOrchestrator(t, cfg, ttsTestConfig(), provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "speech")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.True(t, summary.RunPassed)
	assert.Equal(t, 1, provider.Calls())

	run, err := testStore.LatestRun(context.Background(), "model-a", "speech")
	require.NoError(t, err)
	steps, err := testStore.RunSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	assets, err := testStore.StepAssets(context.Background(), steps[0].ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, store.AssetKindDialogue, assets[0].Kind)
}

func TestTTSStepExhaustsThreeAttempts(t *testing.T) {
	track := dialogue.Track{
		Characters: []dialogue.Character{{Name: "Ava", Voice: "v1", Gender: "female"}},
		Timeline:   []dialogue.Entry{{Kind: dialogue.KindPause, Seconds: 1}},
	}
	cfg := config.AppConfig{WorkRoot: t.TempDir(), StagingDir: stageExpectedTrack(t, track)}

	// The model never produces an artifact file.
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{Text: "I cannot do that"}, nil
	}}
	orchestrator, testStore := newTestOrchestrator(t, cfg, ttsTestConfig(), provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "speech")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passed)
	assert.Equal(t, 3, provider.Calls())

	run, err := testStore.LatestRun(context.Background(), "model-a", "speech")
	require.NoError(t, err)
	steps, err := testStore.RunSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "No structured artifact generated after 3 attempts", steps[0].Error)
}

func TestTTSStepRetryConversationGrows(t *testing.T) {
	track := dialogue.Track{Timeline: []dialogue.Entry{{Kind: dialogue.KindPause, Seconds: 1}}}
	workRoot := t.TempDir()
	cfg := config.AppConfig{WorkRoot: workRoot, StagingDir: stageExpectedTrack(t, track)}

	var lastLen int
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		lastLen = len(conversation)
		if call == 2 {
			workFolder := findWorkFolder(t, workRoot)
			require.NoError(t, dialogue.Save(track, filepath.Join(workFolder, "track-1.json")))
		}
		return providers.Response{Text: "reply"}, nil
	}}
	orchestrator, _ := newTestOrchestrator(t, cfg, ttsTestConfig(), provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "speech")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 2, provider.Calls())
	// Second attempt sees the first reply and the re-prompt on top of the original prompt.
	assert.Equal(t, 3, lastLen)
}

func TestTTSStepSendsReferenceNarrative(t *testing.T) {
	track := dialogue.Track{
		Characters: []dialogue.Character{{Name: "Ava", Voice: "v1", Gender: "female"}},
		Timeline: []dialogue.Entry{
			{Kind: dialogue.KindPhrase, Character: "Ava", Text: "Hello there", Emotion: "happy"},
		},
	}
	workRoot := t.TempDir()
	stagingDir := stageExpectedTrack(t, track)
	const narrative = "A quiet morning in the harbor. Ava greets the fishermen."
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "story.txt"), []byte(narrative), 0o644))
	cfg := config.AppConfig{WorkRoot: workRoot, StagingDir: stagingDir}

	tests := ttsTestConfig()
	tests.Tests[0].InputFiles = []string{dialogue.ExpectedTrackFileName, "story.txt"}

	var firstMessage string
	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		firstMessage = conversation[len(conversation)-1].Content
		workFolder := findWorkFolder(t, workRoot)
		require.NoError(t, dialogue.Save(track, filepath.Join(workFolder, "track-1.json")))
		return providers.Response{Text: "track saved"}, nil
	}}
	orchestrator, _ := newTestOrchestrator(t, cfg, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "speech")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	// The staged source text must reach the model with the first prompt.
	assert.Contains(t, firstMessage, narrative)
}

func TestTTSStepIgnoresPreStagedArtifact(t *testing.T) {
	track := dialogue.Track{
		Characters: []dialogue.Character{{Name: "Ava", Voice: "v1", Gender: "female"}},
		Timeline:   []dialogue.Entry{{Kind: dialogue.KindPause, Seconds: 1}},
	}
	stagingDir := stageExpectedTrack(t, track)
	// A non-reserved JSON input staged into the working folder must not be
	// mistaken for a model-produced artifact, however fresh its timestamp.
	require.NoError(t, dialogue.Save(track, filepath.Join(stagingDir, "notes.json")))
	cfg := config.AppConfig{WorkRoot: t.TempDir(), StagingDir: stagingDir}

	tests := ttsTestConfig()
	tests.Tests[0].InputFiles = []string{dialogue.ExpectedTrackFileName, "notes.json"}

	provider := &providers.MockProvider{Responder: func(call int, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
		return providers.Response{Text: "no file produced"}, nil
	}}
	orchestrator, testStore := newTestOrchestrator(t, cfg, tests, provider)

	summary, err := orchestrator.RunGroup(context.Background(), testModelConfig(), "speech")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passed)
	assert.Equal(t, 3, provider.Calls())

	run, err := testStore.LatestRun(context.Background(), "model-a", "speech")
	require.NoError(t, err)
	steps, err := testStore.RunSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "No structured artifact generated after 3 attempts", steps[0].Error)
}

func TestResolvePromptSubstitutesWorkFolder(t *testing.T) {
	test := config.TestDefinition{Prompt: "save it under [test_folder]/out.json"}
	assert.Equal(t, "save it under /work/run-1/out.json", test.ResolvePrompt("/work/run-1"))
}
