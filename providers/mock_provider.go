// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"sync"

	"github.com/modelgym/modelgym/providers/tools"
)

// MockResponder produces the scripted reply for one mock invocation.
// The call argument is 1-based and counts invocations across all sessions
// opened from the same MockProvider.
type MockResponder func(call int, conversation Conversation, settings ExecutionSettings) (Response, error)

// MockProvider is a scripted Provider implementation used in tests.
type MockProvider struct {
	// ProviderName is returned by Name.
	ProviderName string
	// Responder produces replies. A nil Responder echoes an empty response.
	Responder MockResponder

	mu    sync.Mutex
	calls int
}

func (m *MockProvider) Name() string {
	return m.ProviderName
}

func (m *MockProvider) OpenSession(capabilities []tools.Capability, toolCalling bool) (Session, error) {
	return &mockSession{provider: m, capabilities: capabilities, toolCalling: toolCalling}, nil
}

func (m *MockProvider) Close(ctx context.Context) error {
	return nil
}

// Calls returns the number of invocations made so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockSession struct {
	provider     *MockProvider
	capabilities []tools.Capability
	toolCalling  bool
}

func (s *mockSession) Respond(ctx context.Context, conversation Conversation, settings ExecutionSettings) (Response, error) {
	s.provider.mu.Lock()
	s.provider.calls++
	call := s.provider.calls
	responder := s.provider.Responder
	s.provider.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if responder == nil {
		return Response{}, nil
	}
	return responder(call, conversation, settings)
}
