// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package providers implements the model-invocation connectors supported by ModelGym.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelgym/modelgym/providers/tools"
)

var (
	// ErrUnknownProviderName is returned when provider name is not recognized.
	ErrUnknownProviderName = errors.New("unknown provider name")
	// ErrCreateClient is returned when provider client initialization fails.
	ErrCreateClient = errors.New("failed to create client")
	// ErrCompileSchema is returned when response schema preparation fails.
	ErrCompileSchema = errors.New("failed to compile response schema")
	// ErrGenerateResponse is returned when response generation fails.
	ErrGenerateResponse = errors.New("failed to generate response")
	// ErrCreatePromptRequest is returned when request generation fails.
	ErrCreatePromptRequest = errors.New("failed to create prompt request")
	// ErrRetryable is returned when an operation can be retried.
	ErrRetryable = errors.New("retryable error")
)

// NoToolSupportMarker is the substring in invocation error text indicating the
// model does not support tool calling. Seeing it flips the model record's
// no-tool-support flag persistently.
const NoToolSupportMarker = "does not support tools"

// ErrToolCallingUnsupported is returned when tool calling was requested from a
// model that cannot do it. Its text contains NoToolSupportMarker.
var ErrToolCallingUnsupported = fmt.Errorf("model %s", NoToolSupportMarker)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem carries system instructions.
	RoleSystem Role = "system"
	// RoleUser carries operator or test prompts.
	RoleUser Role = "user"
	// RoleAssistant carries model replies.
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to a model.
type Message struct {
	Role    Role
	Content string
}

// Conversation is an ordered message history. The structured-schema retry loop
// grows it with each model reply so later attempts see earlier output.
type Conversation []Message

// NewConversation builds a conversation from optional system instructions and
// the first user prompt.
func NewConversation(system string, prompt string) Conversation {
	conversation := make(Conversation, 0, 2)
	if system != "" {
		conversation = append(conversation, Message{Role: RoleSystem, Content: system})
	}
	return append(conversation, Message{Role: RoleUser, Content: prompt})
}

// Append returns the conversation extended with a new message.
func (c Conversation) Append(role Role, content string) Conversation {
	return append(c, Message{Role: role, Content: content})
}

// System returns the concatenated system instructions of the conversation.
func (c Conversation) System() string {
	system := ""
	for _, message := range c {
		if message.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += message.Content
		}
	}
	return system
}

// ExecutionSettings tune a single model invocation.
type ExecutionSettings struct {
	// Temperature overrides the sampling temperature when set.
	Temperature *float32
	// MaxTokens limits the response output budget when positive.
	MaxTokens int
	// ResponseSchema constrains the output to the given JSON-schema document
	// when set. Non-object schemas are wrapped in {"result": <schema>}.
	ResponseSchema json.RawMessage
	// MaxContextTokens requests an enlarged context window on providers that
	// support it. Only meaningful for the local provider family.
	MaxContextTokens int
}

// Usage represents the token usage statistics for a response.
type Usage struct {
	InputTokens  *int64 // Tokens used by the input if available.
	OutputTokens *int64 // Tokens used by the output if available.
}

// Response is the outcome of one model invocation.
type Response struct {
	// Text is the final textual (or serialized structured) reply.
	Text string
	// Duration is the wall-clock time of the invocation.
	Duration time.Duration
	// Usage holds token usage statistics when the provider reports them.
	Usage Usage
	// CapabilityCalls counts how many tool calls the model made during the turn.
	CapabilityCalls int
}

// Session is a model conversation handle scoped to one test invocation.
type Session interface {
	// Respond sends the conversation to the model and returns its reply.
	// The context carries the per-invocation timeout boundary.
	Respond(ctx context.Context, conversation Conversation, settings ExecutionSettings) (Response, error)
}

// Provider interacts with one AI model service.
type Provider interface {
	// Name returns the provider's unique identifier.
	Name() string
	// OpenSession creates a conversation session with the given capability
	// scope. Capabilities are only offered to the model when toolCalling is true.
	OpenSession(capabilities []tools.Capability, toolCalling bool) (Session, error)
	// Close releases resources when the provider is no longer needed.
	Close(ctx context.Context) error
}

// ErrUnmarshalResponse is returned when response unmarshaling fails.
type ErrUnmarshalResponse struct {
	// Cause is the underlying error that caused the unmarshaling to fail.
	Cause error
	// RawMessage is the raw message that failed to be unmarshaled.
	RawMessage []byte
	// StopReason contains the reason why the model stopped generating the response.
	StopReason []byte
}

func (e *ErrUnmarshalResponse) Error() string {
	return fmt.Sprintf("failed to unmarshal the response: %v", e.Cause)
}

func (e *ErrUnmarshalResponse) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewErrUnmarshalResponse creates a new ErrUnmarshalResponse instance.
func NewErrUnmarshalResponse(cause error, rawMessage []byte, stopReason []byte) *ErrUnmarshalResponse {
	return &ErrUnmarshalResponse{
		Cause:      cause,
		RawMessage: rawMessage,
		StopReason: stopReason,
	}
}

// ErrAPIResponse holds additional information about an API error returned
// by a provider, including the raw HTTP response body when available.
type ErrAPIResponse struct {
	// Cause is the underlying error that caused the API call to fail.
	Cause error
	// Body contains the raw HTTP response body returned by the provider API when available.
	Body []byte
}

func (e *ErrAPIResponse) Error() string {
	return e.Cause.Error()
}

func (e *ErrAPIResponse) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewErrAPIResponse creates a new ErrAPIResponse instance.
func NewErrAPIResponse(cause error, body []byte) *ErrAPIResponse {
	return &ErrAPIResponse{Cause: cause, Body: body}
}

// WrapErrRetryable wraps an error as retryable, preserving the original error chain.
func WrapErrRetryable(err error) error {
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// WrapErrGenerateResponse wraps an error as a generate response error, preserving the original error chain.
func WrapErrGenerateResponse(err error) error {
	return fmt.Errorf("%w: %w", ErrGenerateResponse, err)
}

// WrapResponseSchema normalizes a JSON-schema document for structured output.
// Providers require a top-level object schema, so non-object schemas are
// wrapped as {"result": <schema>}.
func WrapResponseSchema(raw json.RawMessage) (json.RawMessage, error) {
	var document map[string]interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompileSchema, err)
	}
	if schemaType, ok := document["type"].(string); ok && schemaType == "object" {
		return raw, nil
	}
	wrapped, err := json.Marshal(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"result": document,
		},
		"required":             []string{"result"},
		"additionalProperties": false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompileSchema, err)
	}
	return wrapped, nil
}

func timed[T any](f func() (T, error), out *time.Duration) (response T, err error) {
	start := time.Now()
	response, err = f()
	*out = time.Since(start)
	return
}

func recordUsage[T int | int32 | int64](inputTokens *T, outputTokens *T, out *Usage) {
	addIfNotNil(&out.InputTokens, inputTokens)
	addIfNotNil(&out.OutputTokens, outputTokens)
}

func addIfNotNil[S int | int32 | int64](dst **int64, src *S) {
	if src != nil {
		if *dst == nil {
			*dst = new(int64)
		}
		**dst += int64(*src)
	}
}
