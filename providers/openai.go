// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/providers/tools"
)

// maxCapabilityTurns bounds the tool-call conversation loop of a single invocation.
const maxCapabilityTurns = 8

// NewOpenAI creates a new OpenAI-compatible provider instance. The same
// connector serves the hosted OpenAI API and the local provider family,
// which exposes an OpenAI-compatible endpoint.
func NewOpenAI(cfg config.ModelConfig, logger logging.Logger) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger.WithContext(cfg.Provider),
	}
}

// OpenAI implements the Provider interface for OpenAI-compatible endpoints.
type OpenAI struct {
	client *openai.Client
	cfg    config.ModelConfig
	logger logging.Logger
}

func (o OpenAI) Name() string {
	return o.cfg.Provider
}

func (o *OpenAI) OpenSession(capabilities []tools.Capability, toolCalling bool) (Session, error) {
	return &openAISession{
		client:       o.client,
		cfg:          o.cfg,
		logger:       o.logger,
		capabilities: capabilities,
		toolCalling:  toolCalling,
	}, nil
}

func (o *OpenAI) Close(ctx context.Context) error {
	return nil
}

type openAISession struct {
	client       *openai.Client
	cfg          config.ModelConfig
	logger       logging.Logger
	capabilities []tools.Capability
	toolCalling  bool
}

func (s *openAISession) Respond(ctx context.Context, conversation Conversation, settings ExecutionSettings) (response Response, err error) {
	request := openai.ChatCompletionRequest{
		Model:    s.cfg.Model,
		Messages: toOpenAIMessages(conversation),
		N:        1, // generate only one candidate response
	}
	if settings.Temperature != nil {
		request.Temperature = *settings.Temperature
	}
	if settings.MaxTokens > 0 {
		request.MaxTokens = settings.MaxTokens
	}
	if settings.ResponseSchema != nil {
		schema, err := WrapResponseSchema(settings.ResponseSchema)
		if err != nil {
			return response, err
		}
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: schema,
				Strict: true,
			},
		}
	}
	if s.toolCalling && len(s.capabilities) > 0 {
		request.Tools = toOpenAITools(s.capabilities)
	}

	// Conversation loop to handle capability calls.
	for turn := 0; turn < maxCapabilityTurns; turn++ {
		resp, err := timed(func() (openai.ChatCompletionResponse, error) {
			return s.client.CreateChatCompletion(ctx, request)
		}, &response.Duration)
		if err != nil {
			return response, s.wrapAPIError(err)
		}
		recordUsage(&resp.Usage.PromptTokens, &resp.Usage.CompletionTokens, &response.Usage)
		if len(resp.Choices) == 0 {
			return response, WrapErrGenerateResponse(errors.New("no response candidates"))
		}

		message := resp.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			response.Text = message.Content
			return response, nil
		}

		// Append the assistant turn before the capability results so the
		// next request sees the full exchange.
		request.Messages = append(request.Messages, message)
		for _, call := range message.ToolCalls {
			content := s.executeCapability(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			response.CapabilityCalls++
			request.Messages = append(request.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}
	return response, WrapErrGenerateResponse(fmt.Errorf("capability call limit of %d turns exceeded", maxCapabilityTurns))
}

func (s *openAISession) executeCapability(ctx context.Context, name string, args json.RawMessage) string {
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

func (s *openAISession) wrapAPIError(err error) error {
	if isToolSupportError(err) {
		return fmt.Errorf("%w: %v", ErrToolCallingUnsupported, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := NewErrAPIResponse(WrapErrGenerateResponse(err), []byte(apiErr.Message))
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return WrapErrRetryable(wrapped)
		}
		return wrapped
	}
	return WrapErrGenerateResponse(err)
}

// isToolSupportError detects the provider-side rejection of tool calling.
// Local OpenAI-compatible servers report it in the error text.
func isToolSupportError(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, NoToolSupportMarker) ||
		strings.Contains(text, "tool use is not supported") ||
		strings.Contains(text, "tools are not supported")
}

func toOpenAIMessages(conversation Conversation) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(conversation))
	for _, message := range conversation {
		role := openai.ChatMessageRoleUser
		switch message.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: message.Content,
		})
	}
	return messages
}

func toOpenAITools(capabilities []tools.Capability) []openai.Tool {
	converted := make([]openai.Tool, 0, len(capabilities))
	for _, capability := range capabilities {
		var parameters map[string]any
		if err := json.Unmarshal(capability.Parameters(), &parameters); err != nil {
			parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		converted = append(converted, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        capability.Name(),
				Description: capability.Description(),
				Parameters:  parameters,
			},
		})
	}
	return converted
}
