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

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/providers/tools"
)

const structuredResponseToolName = "record_response"
const anthropicDefaultMaxTokens = 2048

// NewAnthropic creates a new Anthropic provider instance with the given configuration.
func NewAnthropic(cfg config.ModelConfig, logger logging.Logger) *Anthropic {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, anthropicoption.WithBaseURL(cfg.Endpoint))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger.WithContext(config.ANTHROPIC),
	}
}

// Anthropic implements the Provider interface for Anthropic generative models.
type Anthropic struct {
	client anthropic.Client
	cfg    config.ModelConfig
	logger logging.Logger
}

func (o Anthropic) Name() string {
	return config.ANTHROPIC
}

func (o *Anthropic) OpenSession(capabilities []tools.Capability, toolCalling bool) (Session, error) {
	return &anthropicSession{
		client:       o.client,
		cfg:          o.cfg,
		logger:       o.logger,
		capabilities: capabilities,
		toolCalling:  toolCalling,
	}, nil
}

func (o *Anthropic) Close(ctx context.Context) error {
	return nil
}

type anthropicSession struct {
	client       anthropic.Client
	cfg          config.ModelConfig
	logger       logging.Logger
	capabilities []tools.Capability
	toolCalling  bool
}

// inputSchema is the subset of a JSON-schema document the Anthropic tool
// parameter format needs.
type inputSchema struct {
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}

func (s *anthropicSession) Respond(ctx context.Context, conversation Conversation, settings ExecutionSettings) (response Response, err error) {
	request := anthropic.MessageNewParams{
		MaxTokens: anthropicDefaultMaxTokens,
		Model:     anthropic.Model(s.cfg.Model),
	}
	if settings.MaxTokens > 0 {
		request.MaxTokens = int64(settings.MaxTokens)
	}
	if settings.Temperature != nil {
		request.Temperature = anthropic.Float(float64(*settings.Temperature))
	}
	if system := conversation.System(); system != "" {
		request.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, message := range conversation {
		switch message.Role {
		case RoleUser:
			request.Messages = append(request.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(message.Content)))
		case RoleAssistant:
			request.Messages = append(request.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(message.Content)))
		}
	}

	// Structured output is expressed as a forced tool whose input schema is
	// the declared response schema.
	structured := settings.ResponseSchema != nil
	if structured {
		wrapped, err := WrapResponseSchema(settings.ResponseSchema)
		if err != nil {
			return response, err
		}
		var schema inputSchema
		if err := json.Unmarshal(wrapped, &schema); err != nil {
			return response, fmt.Errorf("%w: %v", ErrCompileSchema, err)
		}
		request.Tools = append(request.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        structuredResponseToolName,
				Description: anthropic.String("Record the response using well-structured JSON."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
		request.ToolChoice = anthropic.ToolChoiceParamOfTool(structuredResponseToolName)
	}
	if s.toolCalling && len(s.capabilities) > 0 {
		for _, capability := range s.capabilities {
			var schema inputSchema
			if err := json.Unmarshal(capability.Parameters(), &schema); err != nil {
				return response, fmt.Errorf("%w: %v", ErrCompileSchema, err)
			}
			request.Tools = append(request.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        capability.Name(),
					Description: anthropic.String(capability.Description()),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: schema.Properties,
						Required:   schema.Required,
					},
				},
			})
		}
		// With model-selectable capabilities present, tool choice stays auto.
		request.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}

	// Conversation loop to handle capability calls.
	for turn := 0; turn < maxCapabilityTurns; turn++ {
		resp, err := timed(func() (*anthropic.Message, error) {
			return s.client.Messages.New(ctx, request)
		}, &response.Duration)
		if err != nil {
			return response, WrapErrGenerateResponse(err)
		} else if resp == nil {
			return response, nil
		}
		recordUsage(&resp.Usage.InputTokens, &resp.Usage.OutputTokens, &response.Usage)

		// Append assistant message to conversation history before handling capability calls.
		request.Messages = append(request.Messages, resp.ToParam())

		calledCapability := false
		for _, block := range resp.Content {
			switch block := block.AsAny().(type) {
			case anthropic.TextBlock:
				response.Text = block.Text
			case anthropic.ToolUseBlock:
				if block.Name == structuredResponseToolName {
					response.Text = string(block.Input)
					return response, nil
				}
				calledCapability = true
				response.CapabilityCalls++
				result, err := s.executeCapability(ctx, block.Name, json.RawMessage(block.Input))
				isError := err != nil
				content := result
				if isError {
					content = err.Error()
				}
				// Capability results must be sent in a user message.
				request.Messages = append(request.Messages, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(block.ID, content, isError),
				))
			}
		}
		if !calledCapability {
			// Either a plain text reply or, under a forced tool choice, a
			// model that answered in text anyway.
			return response, nil
		}
	} // move to the next conversation turn
	return response, WrapErrGenerateResponse(fmt.Errorf("capability call limit of %d turns exceeded", maxCapabilityTurns))
}

func (s *anthropicSession) executeCapability(ctx context.Context, name string, args json.RawMessage) (string, error) {
	capability, err := tools.Find(s.capabilities, name)
	if err != nil {
		return "", err
	}
	result, err := capability.Call(ctx, s.logger, args)
	if err != nil {
		s.logger.Error(ctx, logging.LevelWarn, err, "capability '%s' failed", name)
		return "", err
	}
	return result, nil
}
