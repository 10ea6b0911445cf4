// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package config contains the data models representing the structure of configuration
// and test definition files for the ModelGym application. It provides configuration management
// and handles loading and validation of application settings, model configurations,
// and test definitions from YAML files.
package config

import (
	"errors"
	"strings"
)

const (
	// OPENAI identifies the OpenAI provider.
	OPENAI string = "openai"
	// ANTHROPIC identifies the Anthropic provider.
	ANTHROPIC string = "anthropic"
	// GOOGLE identifies the Google AI provider.
	GOOGLE string = "google"
	// OLLAMA identifies a locally hosted Ollama endpoint.
	OLLAMA string = "ollama"
	// LMSTUDIO identifies a locally hosted LM Studio endpoint.
	LMSTUDIO string = "lmstudio"
	// LOCALAI identifies a generic local OpenAI-compatible endpoint.
	LOCALAI string = "localai"
)

// ErrInvalidConfigProperty indicates invalid configuration.
var ErrInvalidConfigProperty = errors.New("invalid configuration property")

// IsLocalProvider reports whether the given provider name belongs to the locally
// hosted model family. Local models get a warm-up call before timed runs and may
// request an enlarged context window.
func IsLocalProvider(name string) bool {
	switch strings.ToLower(name) {
	case OLLAMA, LMSTUDIO, LOCALAI:
		return true
	default:
		return false
	}
}

// Config represents the top-level configuration structure.
type Config struct {
	// Config contains application-wide settings.
	Config AppConfig `yaml:"config" validate:"required"`
}

// AppConfig defines application-wide settings.
type AppConfig struct {
	// LogFile specifies path to the log file.
	LogFile string `yaml:"log-file" validate:"omitempty,filepath"`

	// DatabaseFile specifies path to the SQLite result database.
	// Blank means an in-memory database.
	DatabaseFile string `yaml:"database-file" validate:"omitempty,filepath"`

	// TestSource specifies path to the test definitions file.
	TestSource string `yaml:"test-source" validate:"required,filepath"`

	// StagingDir specifies the fixed source directory test input files are copied from.
	StagingDir string `yaml:"staging-dir" validate:"omitempty"`

	// WorkRoot specifies the directory under which per-run working folders are created.
	WorkRoot string `yaml:"work-root" validate:"required"`

	// Models lists configurations for the models to benchmark.
	Models []ModelConfig `yaml:"models" validate:"required,unique=Name,dive"`

	// Evaluators lists evaluator agent configurations used to score generated narratives.
	Evaluators []EvaluatorConfig `yaml:"evaluators" validate:"omitempty,unique=Name,dive"`
}

// GetEnabledModels returns models that are not disabled.
func (ac AppConfig) GetEnabledModels() []ModelConfig {
	enabled := make([]ModelConfig, 0, len(ac.Models))
	for _, model := range ac.Models {
		if !model.Disabled {
			enabled = append(enabled, model)
		}
	}
	return enabled
}

// GetActiveEvaluators returns evaluator agents that are not disabled.
func (ac AppConfig) GetActiveEvaluators() []EvaluatorConfig {
	active := make([]EvaluatorConfig, 0, len(ac.Evaluators))
	for _, evaluator := range ac.Evaluators {
		if !evaluator.Disabled {
			active = append(active, evaluator)
		}
	}
	return active
}

// ModelConfig defines settings for a single benchmarked model.
type ModelConfig struct {
	// Name specifies unique identifier of the model shown in results.
	Name string `yaml:"name" validate:"required"`

	// Provider specifies which provider family serves this model.
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic google ollama lmstudio localai"`

	// Model specifies the provider-side model identifier.
	Model string `yaml:"model" validate:"required"`

	// Endpoint specifies the network endpoint URL for the API.
	// Required for local providers, optional otherwise.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// APIKey is the API key for the provider. Local providers may leave it blank.
	APIKey string `yaml:"api-key" validate:"omitempty"`

	// Disabled indicates if this model should be skipped during sweeps.
	Disabled bool `yaml:"disabled" validate:"omitempty"`

	// MaxContextTokens is the largest safe context window known for this model.
	// Only used for local providers on long-form generation tests.
	MaxContextTokens int `yaml:"max-context-tokens" validate:"omitempty,min=0"`

	// MaxRequestsPerMinute limits the number of API requests per minute sent to this model.
	// Value of 0 means no rate limiting will be applied.
	MaxRequestsPerMinute int `yaml:"max-requests-per-minute" validate:"omitempty,numeric,min=0"`
}

// IsLocal reports whether this model is served by a local provider family.
func (mc ModelConfig) IsLocal() bool {
	return IsLocalProvider(mc.Provider)
}

// EvaluatorConfig defines an evaluator agent whose sole role is to score
// generated narratives across fixed categories.
type EvaluatorConfig struct {
	// Name specifies unique identifier of the evaluator agent.
	Name string `yaml:"name" validate:"required"`

	// Model references the model configuration used to run evaluations.
	Model ModelConfig `yaml:"model" validate:"required"`

	// Disabled indicates if this evaluator should be skipped.
	Disabled bool `yaml:"disabled" validate:"omitempty"`

	// RetryPolicy specifies retry behavior on transient evaluation errors.
	RetryPolicy *RetryPolicy `yaml:"retry-policy" validate:"omitempty"`
}

// RetryPolicy defines retry behavior on transient errors.
type RetryPolicy struct {
	// MaxRetryAttempts specifies the maximum number of retry attempts.
	// Value of 0 means no retry attempts will be made.
	MaxRetryAttempts uint `yaml:"max-retry-attempts" validate:"omitempty,min=0"`

	// InitialDelaySeconds specifies the initial delay in seconds before the first retry attempt.
	InitialDelaySeconds int `yaml:"initial-delay-seconds" validate:"omitempty,gt=0"`
}
