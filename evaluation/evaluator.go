// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package evaluation implements the story-evaluation collaborator. An
// evaluator agent is a configured model whose sole role is to score a
// generated narrative across fixed categories.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/invopop/jsonschema"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/pkg/utils"
	"github.com/modelgym/modelgym/providers"
	"github.com/modelgym/modelgym/providers/execution"
)

// CategoryMax is the highest score of a single evaluation category.
const CategoryMax = 20

// Categories are the fixed evaluation categories, each scored 0 to CategoryMax.
var Categories = []string{"plot", "characters", "language", "coherence", "originality"}

var (
	// ErrCreateEvaluator is returned when an evaluator agent cannot be constructed.
	ErrCreateEvaluator = errors.New("failed to create evaluator")
	// ErrEvaluateStory is returned when a story evaluation fails.
	ErrEvaluateStory = errors.New("failed to evaluate story")
)

// Verdict is one evaluator agent's scoring of a narrative.
type Verdict struct {
	// AgentID identifies the evaluator agent that produced the verdict.
	AgentID string
	// Total is the sum of all category scores, 0 to 100.
	Total int
	// Breakdown holds the per-category scores.
	Breakdown map[string]int
}

// Evaluator scores generated narratives.
type Evaluator interface {
	// AgentID returns the configured name of the evaluator agent.
	AgentID() string
	// Evaluate scores the given narrative across the fixed categories.
	Evaluate(ctx context.Context, story string) (Verdict, error)
	// Close releases the underlying provider.
	Close(ctx context.Context) error
}

// verdictResponse is the structured reply requested from the evaluator model.
type verdictResponse struct {
	Plot        int    `json:"plot" jsonschema:"minimum=0,maximum=20" jsonschema_description:"Plot quality, 0-20."`
	Characters  int    `json:"characters" jsonschema:"minimum=0,maximum=20" jsonschema_description:"Character depth and believability, 0-20."`
	Language    int    `json:"language" jsonschema:"minimum=0,maximum=20" jsonschema_description:"Language and style, 0-20."`
	Coherence   int    `json:"coherence" jsonschema:"minimum=0,maximum=20" jsonschema_description:"Structural coherence, 0-20."`
	Originality int    `json:"originality" jsonschema:"minimum=0,maximum=20" jsonschema_description:"Originality, 0-20."`
	Reasoning   string `json:"reasoning" jsonschema_description:"Short justification of the scores."`
}

// verdictResponseSchema is a lazily initialized JSON schema for the verdict reply.
var verdictResponseSchema = sync.OnceValue(func() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(verdictResponse{}))
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrCreateEvaluator, err))
	}
	return raw
})

// evaluationPromptTemplate defines the grading prompt sent to evaluator agents.
var evaluationPromptTemplate = template.Must(template.New("evaluationPrompt").Parse(`You are a literary critic grading a generated narrative.

Score the narrative in each category from 0 (unacceptable) to {{.CategoryMax}} (outstanding):
{{- range .Categories}}
- {{.}}
{{- end}}

Be strict and consistent. Respond only with the structured scores and a short reasoning.

Narrative to grade:
{{.Story}}`))

// storyEvaluator drives a judge-style structured prompt over a provider session.
type storyEvaluator struct {
	agent    config.EvaluatorConfig
	provider providers.Provider
	executor *execution.Executor
	logger   logging.Logger
}

// NewEvaluator creates an evaluator agent from its configuration.
func NewEvaluator(ctx context.Context, agent config.EvaluatorConfig, logger logging.Logger) (Evaluator, error) {
	provider, err := providers.NewProvider(ctx, agent.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateEvaluator, err)
	}
	session, err := provider.OpenSession(nil, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateEvaluator, err)
	}
	return &storyEvaluator{
		agent:    agent,
		provider: provider,
		executor: execution.NewExecutor(session, agent.RetryPolicy, agent.Model.MaxRequestsPerMinute),
		logger:   logger.WithContext(agent.Name),
	}, nil
}

// NewEvaluators creates all active evaluator agents from configuration.
func NewEvaluators(ctx context.Context, agents []config.EvaluatorConfig, logger logging.Logger) ([]Evaluator, error) {
	evaluators := make([]Evaluator, 0, len(agents))
	for _, agent := range agents {
		evaluator, err := NewEvaluator(ctx, agent, logger)
		if err != nil {
			return evaluators, err
		}
		evaluators = append(evaluators, evaluator)
	}
	return evaluators, nil
}

func (e *storyEvaluator) AgentID() string {
	return e.agent.Name
}

func (e *storyEvaluator) Evaluate(ctx context.Context, story string) (verdict Verdict, err error) {
	verdict.AgentID = e.agent.Name

	prompt, err := createEvaluationPrompt(story)
	if err != nil {
		return verdict, fmt.Errorf("%w: %v", ErrEvaluateStory, err)
	}

	response, err := e.executor.Respond(ctx, e.logger, providers.NewConversation("", prompt), providers.ExecutionSettings{
		ResponseSchema: verdictResponseSchema(),
	})
	if err != nil {
		return verdict, fmt.Errorf("%w: %v", ErrEvaluateStory, err)
	}

	parsed, err := parseVerdictResponse(response.Text)
	if err != nil {
		return verdict, err
	}

	verdict.Breakdown = map[string]int{
		"plot":        clampCategory(parsed.Plot),
		"characters":  clampCategory(parsed.Characters),
		"language":    clampCategory(parsed.Language),
		"coherence":   clampCategory(parsed.Coherence),
		"originality": clampCategory(parsed.Originality),
	}
	for _, score := range verdict.Breakdown {
		verdict.Total += score
	}
	e.logger.Message(ctx, logging.LevelDebug, "story scored %d/100 by '%s'", verdict.Total, e.agent.Name)
	return verdict, nil
}

func (e *storyEvaluator) Close(ctx context.Context) error {
	return e.provider.Close(ctx)
}

func parseVerdictResponse(text string) (parsed verdictResponse, err error) {
	content := utils.JSONFromMarkdown(strings.TrimSpace(text))
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		repaired, repairErr := utils.RepairTextJSON(content)
		if repairErr != nil {
			return parsed, fmt.Errorf("%w: %v", ErrEvaluateStory, providers.NewErrUnmarshalResponse(err, []byte(text), nil))
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return parsed, fmt.Errorf("%w: %v", ErrEvaluateStory, providers.NewErrUnmarshalResponse(err, []byte(text), nil))
		}
	}
	return parsed, nil
}

func clampCategory(score int) int {
	if score < 0 {
		return 0
	}
	if score > CategoryMax {
		return CategoryMax
	}
	return score
}

func createEvaluationPrompt(story string) (string, error) {
	data := struct {
		Categories  []string
		CategoryMax int
		Story       string
	}{
		Categories:  Categories,
		CategoryMax: CategoryMax,
		Story:       story,
	}

	var result strings.Builder
	if err := evaluationPromptTemplate.Execute(&result, data); err != nil {
		return "", err
	}

	return result.String(), nil
}
