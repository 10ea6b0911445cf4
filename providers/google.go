// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/providers/tools"
)

// NewGoogleAI creates a new GoogleAI provider instance with the given configuration.
// It returns an error if client initialization fails.
func NewGoogleAI(ctx context.Context, cfg config.ModelConfig, logger logging.Logger) (*GoogleAI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	return &GoogleAI{
		client: client,
		cfg:    cfg,
		logger: logger.WithContext(config.GOOGLE),
	}, nil
}

// GoogleAI implements the Provider interface for Google AI generative models.
type GoogleAI struct {
	client *genai.Client
	cfg    config.ModelConfig
	logger logging.Logger
}

func (o GoogleAI) Name() string {
	return config.GOOGLE
}

func (o *GoogleAI) OpenSession(capabilities []tools.Capability, toolCalling bool) (Session, error) {
	return &googleSession{
		client:       o.client,
		cfg:          o.cfg,
		logger:       o.logger,
		capabilities: capabilities,
		toolCalling:  toolCalling,
	}, nil
}

func (o *GoogleAI) Close(ctx context.Context) error {
	return nil
}

type googleSession struct {
	client       *genai.Client
	cfg          config.ModelConfig
	logger       logging.Logger
	capabilities []tools.Capability
	toolCalling  bool
}

func (s *googleSession) Respond(ctx context.Context, conversation Conversation, settings ExecutionSettings) (response Response, err error) {
	generateConfig := &genai.GenerateContentConfig{
		CandidateCount: 1,
	}
	if settings.Temperature != nil {
		generateConfig.Temperature = settings.Temperature
	}
	if settings.MaxTokens > 0 {
		generateConfig.MaxOutputTokens = int32(settings.MaxTokens)
	}
	if settings.ResponseSchema != nil {
		wrapped, err := WrapResponseSchema(settings.ResponseSchema)
		if err != nil {
			return response, err
		}
		var schema map[string]interface{}
		if err := json.Unmarshal(wrapped, &schema); err != nil {
			return response, fmt.Errorf("%w: %v", ErrCompileSchema, err)
		}
		generateConfig.ResponseMIMEType = "application/json"
		generateConfig.ResponseJsonSchema = schema
	}
	if system := conversation.System(); system != "" {
		generateConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}}
	}
	if s.toolCalling && len(s.capabilities) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(s.capabilities))
		for _, capability := range s.capabilities {
			var schema map[string]interface{}
			if err := json.Unmarshal(capability.Parameters(), &schema); err != nil {
				return response, fmt.Errorf("%w: %v", ErrCompileSchema, err)
			}
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 capability.Name(),
				Description:          capability.Description(),
				ParametersJsonSchema: schema,
			})
		}
		generateConfig.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	contents := make([]*genai.Content, 0, len(conversation))
	for _, message := range conversation {
		switch message.Role {
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleUser))
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleModel))
		}
	}

	// Conversation loop to handle capability calls.
	for turn := 0; turn < maxCapabilityTurns; turn++ {
		resp, err := timed(func() (*genai.GenerateContentResponse, error) {
			return s.client.Models.GenerateContent(ctx, s.cfg.Model, contents, generateConfig)
		}, &response.Duration)
		if err != nil {
			return response, WrapErrGenerateResponse(err)
		} else if resp == nil || len(resp.Candidates) == 0 {
			return response, nil
		}
		if resp.UsageMetadata != nil {
			recordUsage(&resp.UsageMetadata.PromptTokenCount, &resp.UsageMetadata.CandidatesTokenCount, &response.Usage)
		}

		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			contents = append(contents, candidate.Content)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			response.Text = resp.Text()
			return response, nil
		}

		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				return response, fmt.Errorf("%w: %v", ErrCreatePromptRequest, err)
			}
			result := s.executeCapability(ctx, call.Name, args)
			response.CapabilityCalls++
			parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, map[string]any{"result": result}))
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	} // move to the next conversation turn
	return response, WrapErrGenerateResponse(fmt.Errorf("capability call limit of %d turns exceeded", maxCapabilityTurns))
}

func (s *googleSession) executeCapability(ctx context.Context, name string, args json.RawMessage) string {
	capability, err := tools.Find(s.capabilities, name)
	if err != nil {
		return err.Error()
	}
	result, err := capability.Call(ctx, s.logger, args)
	if err != nil {
		s.logger.Error(ctx, logging.LevelWarn, err, "capability '%s' failed", name)
		return err.Error()
	}
	return result
}
