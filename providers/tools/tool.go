// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package tools provides the capability (tool) instances a model may invoke
// during a test. Capabilities are constructed per invocation and carry only
// the model/agent attribution context they need, so no state leaks between
// tests.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/modelgym/modelgym/pkg/logging"
)

var (
	// ErrCapabilityNotAvailable is returned when a requested capability family is not available.
	ErrCapabilityNotAvailable = errors.New("capability not available")
	// ErrCapabilityFailed is returned when a capability executes but fails with an error.
	ErrCapabilityFailed = errors.New("capability execution failed")
	// ErrInvalidCapabilityArguments is returned when capability arguments don't match the expected schema.
	ErrInvalidCapabilityArguments = errors.New("invalid capability arguments")
)

// Capability is a named function the model may call during a test invocation.
// Instances are single-use: one is constructed per test invocation.
type Capability interface {
	// Name returns the capability's unique function name.
	Name() string
	// Description returns the natural-language description sent to the model.
	Description() string
	// Parameters returns the JSON-schema document describing the call arguments.
	Parameters() json.RawMessage
	// Call executes the capability with the given raw JSON arguments and
	// returns the textual result sent back to the model.
	Call(ctx context.Context, logger logging.Logger, args json.RawMessage) (string, error)
}

// Invocation carries the per-test context a capability instance is
// constructed with.
type Invocation struct {
	// ModelID attributes produced artifacts to the model under test.
	ModelID string
	// AgentID attributes produced artifacts to the requesting agent, if any.
	AgentID string
	// WorkFolder is the run's working folder artifacts are written into.
	WorkFolder string
}

type factory func(inv Invocation) Capability

// builtin capability families keyed by the library name used in test definitions.
var builtin = map[string][]factory{
	DialogueFamily: {newSaveDialogueTrack},
	SchemaFamily:   {newConfirmDialogueSchema},
}

// NewSet constructs fresh capability instances for the requested families.
// Unknown family names are rejected.
func NewSet(families []string, inv Invocation) ([]Capability, error) {
	seen := make(map[string]struct{}, len(families))
	capabilities := make([]Capability, 0, len(families))
	for _, family := range families {
		if _, ok := seen[family]; ok {
			continue
		}
		seen[family] = struct{}{}
		factories, ok := builtin[family]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityNotAvailable, family)
		}
		for _, create := range factories {
			capabilities = append(capabilities, create(inv))
		}
	}
	return capabilities, nil
}

// Find returns the capability with the given function name from the set.
func Find(capabilities []Capability, name string) (Capability, error) {
	for _, capability := range capabilities {
		if capability.Name() == name {
			return capability, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCapabilityNotAvailable, name)
}

// schemaFor reflects a JSON schema for the given argument struct type.
func schemaFor(value any) json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(value))
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrInvalidCapabilityArguments, err))
	}
	return raw
}
