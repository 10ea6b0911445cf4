// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalProvider(t *testing.T) {
	assert.True(t, IsLocalProvider(OLLAMA))
	assert.True(t, IsLocalProvider(LMSTUDIO))
	assert.True(t, IsLocalProvider(LOCALAI))
	assert.True(t, IsLocalProvider("Ollama"))
	assert.False(t, IsLocalProvider(OPENAI))
	assert.False(t, IsLocalProvider(ANTHROPIC))
	assert.False(t, IsLocalProvider(GOOGLE))
	assert.False(t, IsLocalProvider(""))
}

func TestGetEnabledModels(t *testing.T) {
	cfg := AppConfig{Models: []ModelConfig{
		{Name: "a", Provider: OPENAI},
		{Name: "b", Provider: ANTHROPIC, Disabled: true},
		{Name: "c", Provider: GOOGLE},
	}}
	enabled := cfg.GetEnabledModels()
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].Name)
	assert.Equal(t, "c", enabled[1].Name)
}

func TestGetActiveEvaluators(t *testing.T) {
	cfg := AppConfig{Evaluators: []EvaluatorConfig{
		{Name: "judge-1"},
		{Name: "judge-2", Disabled: true},
	}}
	active := cfg.GetActiveEvaluators()
	require.Len(t, active, 1)
	assert.Equal(t, "judge-1", active[0].Name)
}

func TestParseTestType(t *testing.T) {
	tests := []struct {
		name string
		want TestType
	}{
		{name: "question", want: TestTypeQuestion},
		{name: "functioncall", want: TestTypeFunctionCall},
		{name: "writer", want: TestTypeWriter},
		{name: "tts", want: TestTypeTTS},
		{name: " Writer ", want: TestTypeWriter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTestType(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseTestType("karaoke")
	assert.ErrorIs(t, err, ErrUnknownTestType)
}

func TestTestTypeDefaultTimeouts(t *testing.T) {
	assert.Equal(t, 30*time.Second, TestTypeQuestion.DefaultTimeout())
	assert.Equal(t, 30*time.Second, TestTypeFunctionCall.DefaultTimeout())
	assert.Equal(t, 120*time.Second, TestTypeWriter.DefaultTimeout())
	assert.Equal(t, 60*time.Second, TestTypeTTS.DefaultTimeout())
}

func TestTestDefinitionTimeout(t *testing.T) {
	assert.Equal(t, 120*time.Second, TestDefinition{Type: TestTypeWriter}.Timeout())
	assert.Equal(t, 5*time.Second, TestDefinition{Type: TestTypeWriter, TimeoutSeconds: 5}.Timeout())
}

func TestResolvePrompt(t *testing.T) {
	test := TestDefinition{Prompt: "write to [test_folder]/out.json and read [test_folder]/in.json"}
	resolved := test.ResolvePrompt("/work/run-7")
	assert.Equal(t, "write to /work/run-7/out.json and read /work/run-7/in.json", resolved)
}

func TestGroupNamesPreservesFirstAppearanceOrder(t *testing.T) {
	tc := TestConfig{Tests: []TestDefinition{
		{Group: "beta", Name: "t1"},
		{Group: "alpha", Name: "t2"},
		{Group: "beta", Name: "t3"},
	}}
	assert.Equal(t, []string{"beta", "alpha"}, tc.GroupNames())
}

func TestGroupTestsOrderedByPriorityThenName(t *testing.T) {
	tc := TestConfig{Tests: []TestDefinition{
		{Group: "g", Name: "zeta", Priority: 1},
		{Group: "g", Name: "alpha", Priority: 2},
		{Group: "g", Name: "beta", Priority: 1},
		{Group: "other", Name: "ignored"},
	}}
	tests := tc.GroupTests("g")
	require.Len(t, tests, 3)
	assert.Equal(t, "beta", tests[0].Name)
	assert.Equal(t, "zeta", tests[1].Name)
	assert.Equal(t, "alpha", tests[2].Name)
}

const validConfigYAML = `config:
  test-source: tests.yaml
  work-root: /tmp/modelgym-work
  models:
    - name: gpt-test
      provider: openai
      model: gpt-4o-mini
      api-key: test-key
    - name: local-test
      provider: ollama
      model: llama3
      endpoint: http://localhost:11434/v1
`

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfigYAML), 0644))

	cfg, err := LoadConfigFromFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cfg.Config.Models, 2)
	assert.Equal(t, "gpt-test", cfg.Config.Models[0].Name)
	assert.True(t, cfg.Config.Models[1].IsLocal())
}

func TestLoadConfigFromFileRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfigYAML+"  surprise: true\n"), 0644))

	_, err := LoadConfigFromFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed configuration file")
}

func TestLoadConfigFromFileRequiresLocalEndpoint(t *testing.T) {
	content := `config:
  test-source: tests.yaml
  work-root: /tmp/w
  models:
    - name: local-test
      provider: lmstudio
      model: llama3
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadConfigFromFile(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfigProperty)
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	_, err := LoadConfigFromFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadTestsFromFile(t *testing.T) {
	content := `test-config:
  tests:
    - group: math
      name: addition
      prompt: What is 2+2?
      type: question
      expected-value: "4"
    - group: speech
      name: dialogue
      prompt: Produce the track in [test_folder]
      type: tts
      timeout-seconds: 90
      input-files:
        - expected_result.json
`
	path := filepath.Join(t.TempDir(), "tests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tests, err := LoadTestsFromFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, tests.TestConfig.Tests, 2)
	assert.Equal(t, TestTypeQuestion, tests.TestConfig.Tests[0].Type)
	assert.Equal(t, TestTypeTTS, tests.TestConfig.Tests[1].Type)
	assert.Equal(t, 90*time.Second, tests.TestConfig.Tests[1].Timeout())
}

func TestLoadTestsFromFileUnknownType(t *testing.T) {
	content := `test-config:
  tests:
    - group: g
      name: t
      prompt: p
      type: karaoke
`
	path := filepath.Join(t.TempDir(), "tests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadTestsFromFile(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTestProperty)
}

func TestIsNotBlank(t *testing.T) {
	assert.True(t, IsNotBlank("value"))
	assert.False(t, IsNotBlank(""))
	assert.False(t, IsNotBlank(" \t\n"))
}

func TestResolveFileNamePattern(t *testing.T) {
	timeRef := time.Date(2026, time.March, 7, 9, 5, 2, 0, time.UTC)
	resolved := ResolveFileNamePattern("results-{{.Year}}{{.Month}}{{.Day}}-{{.Hour}}{{.Minute}}{{.Second}}", timeRef)
	assert.Equal(t, "results-20260307-090502", resolved)

	// Unresolvable patterns come back unchanged.
	assert.Equal(t, "results-{{.Bogus", ResolveFileNamePattern("results-{{.Bogus", timeRef))
}

func TestMakeAbs(t *testing.T) {
	assert.Equal(t, filepath.Join("/base", "file.yaml"), MakeAbs("/base", "file.yaml"))
	assert.Equal(t, "/already/abs.yaml", MakeAbs("/base", "/already/abs.yaml"))
	assert.Equal(t, "", MakeAbs("/base", ""))
}

func TestResolveFlagOverride(t *testing.T) {
	override := true
	assert.True(t, ResolveFlagOverride(&override, false))
	assert.False(t, ResolveFlagOverride(nil, false))
	assert.True(t, ResolveFlagOverride(nil, true))
}
