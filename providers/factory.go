// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"fmt"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
)

// NewProvider creates a new model provider based on the given configuration.
// The local provider family is served by the OpenAI-compatible connector
// pointed at the configured endpoint. It returns an error if the provider
// name is unknown or initialization fails.
func NewProvider(ctx context.Context, cfg config.ModelConfig, logger logging.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.OPENAI, config.OLLAMA, config.LMSTUDIO, config.LOCALAI:
		return NewOpenAI(cfg, logger), nil
	case config.ANTHROPIC:
		return NewAnthropic(cfg, logger), nil
	case config.GOOGLE:
		return NewGoogleAI(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProviderName, cfg.Provider)
}
