// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestFolderPlaceholder is the prompt token resolved to the absolute
// per-run working folder path before a test executes.
const TestFolderPlaceholder = "[test_folder]"

var (
	// ErrInvalidTestProperty indicates invalid test definition.
	ErrInvalidTestProperty = errors.New("invalid test property")
	// ErrUnknownTestType is returned when a test type name is not recognized.
	ErrUnknownTestType = errors.New("unknown test type")
)

// TestType is the closed set of supported test kinds. The orchestrator
// dispatches on it exhaustively; adding a new kind is a compile-time-checked
// extension.
type TestType int

const (
	// TestTypeQuestion is a single-turn question with a literal or range expectation.
	TestTypeQuestion TestType = iota
	// TestTypeFunctionCall is a tool-calling test validated for structured output.
	TestTypeFunctionCall
	// TestTypeWriter is a long-form narrative generation test scored by evaluator agents.
	TestTypeWriter
	// TestTypeTTS is a structured dialogue-track synthesis test with a bounded retry loop.
	TestTypeTTS
)

var testTypeNames = map[TestType]string{
	TestTypeQuestion:     "question",
	TestTypeFunctionCall: "functioncall",
	TestTypeWriter:       "writer",
	TestTypeTTS:          "tts",
}

// String returns the canonical lower-case name of the test type.
func (t TestType) String() string {
	if name, ok := testTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("testtype(%d)", int(t))
}

// ParseTestType converts a test type name to its TestType value.
func ParseTestType(name string) (TestType, error) {
	for testType, typeName := range testTypeNames {
		if typeName == strings.ToLower(strings.TrimSpace(name)) {
			return testType, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTestType, name)
}

// UnmarshalYAML implements custom YAML unmarshaling for TestType.
func (t *TestType) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTestProperty, err)
	}
	parsed, err := ParseTestType(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTestProperty, err)
	}
	*t = parsed
	return nil
}

// MarshalYAML implements custom YAML marshaling for TestType.
func (t TestType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// DefaultTimeout returns the default per-invocation timeout for the test type.
func (t TestType) DefaultTimeout() time.Duration {
	switch t {
	case TestTypeQuestion, TestTypeFunctionCall:
		return 30 * time.Second
	case TestTypeTTS:
		return 60 * time.Second
	case TestTypeWriter:
		return 120 * time.Second
	default:
		return 30 * time.Second
	}
}

// TestDefinition defines a single test case to be executed against a model.
type TestDefinition struct {
	// Group is the name of the test group this definition belongs to.
	Group string `yaml:"group" validate:"required"`

	// Name is a display-friendly identifier shown in results.
	Name string `yaml:"name" validate:"required"`

	// Library is the target capability/library name exercised by the test.
	Library string `yaml:"library" validate:"omitempty"`

	// Function is the function name under test within the library.
	Function string `yaml:"function" validate:"omitempty"`

	// Prompt that will be sent to the model. It may contain the
	// [test_folder] placeholder resolved to the run's working folder.
	Prompt string `yaml:"prompt" validate:"required"`

	// Type selects the executor used for this test.
	Type TestType `yaml:"type" validate:"omitempty"`

	// TimeoutSeconds overrides the per-invocation timeout.
	// Zero means the type-specific default applies.
	TimeoutSeconds int `yaml:"timeout-seconds" validate:"omitempty,min=0"`

	// Priority determines execution order within the group; lower runs first.
	Priority int `yaml:"priority" validate:"omitempty"`

	// ExpectedValue is the literal expected response. Empty together with an
	// empty ExpectedRange means any non-empty response passes.
	ExpectedValue string `yaml:"expected-value" validate:"omitempty"`

	// ExpectedRange is a range expression: either numeric bounds "lo-hi"
	// or a case-insensitive enumeration "A,B,C".
	ExpectedRange string `yaml:"expected-range" validate:"omitempty"`

	// ResponseSchema is a path to a JSON Schema document the response must
	// conform to. When set, the invocation runs in structured-output mode.
	ResponseSchema string `yaml:"response-schema" validate:"omitempty"`

	// ExecutionPlan is a path to a text file injected as system instructions.
	ExecutionPlan string `yaml:"execution-plan" validate:"omitempty"`

	// AllowedCapabilities restricts which tool function families the model may see.
	AllowedCapabilities []string `yaml:"allowed-capabilities" validate:"omitempty"`

	// InputFiles lists file names to stage from the staging directory into
	// the per-run working folder before execution.
	InputFiles []string `yaml:"input-files" validate:"omitempty"`
}

// Timeout returns the effective per-invocation timeout for this test.
func (d TestDefinition) Timeout() time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return d.Type.DefaultTimeout()
}

// ResolvePrompt substitutes the working-folder placeholder in the prompt.
func (d TestDefinition) ResolvePrompt(workFolder string) string {
	return strings.ReplaceAll(d.Prompt, TestFolderPlaceholder, workFolder)
}

// Tests represents the top-level test definitions structure.
type Tests struct {
	// TestConfig contains all test definitions and settings.
	TestConfig TestConfig `yaml:"test-config" validate:"required"`
}

// TestConfig represents test definitions and global settings.
type TestConfig struct {
	// Tests is a list of test definitions across all groups.
	Tests []TestDefinition `yaml:"tests" validate:"required,dive"`
}

// GroupNames returns the distinct group names in first-appearance order.
func (tc TestConfig) GroupNames() []string {
	seen := make(map[string]struct{}, len(tc.Tests))
	names := make([]string, 0, len(tc.Tests))
	for _, test := range tc.Tests {
		if _, ok := seen[test.Group]; !ok {
			seen[test.Group] = struct{}{}
			names = append(names, test.Group)
		}
	}
	return names
}

// GroupTests returns the definitions belonging to the named group,
// ordered by priority and then by name.
func (tc TestConfig) GroupTests(group string) []TestDefinition {
	tests := make([]TestDefinition, 0, len(tc.Tests))
	for _, test := range tc.Tests {
		if test.Group == group {
			tests = append(tests, test)
		}
	}
	sort.SliceStable(tests, func(i, j int) bool {
		if tests[i].Priority != tests[j].Priority {
			return tests[i].Priority < tests[j].Priority
		}
		return tests[i].Name < tests[j].Name
	})
	return tests
}
