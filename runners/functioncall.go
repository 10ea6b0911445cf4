// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/providers"
	"github.com/modelgym/modelgym/providers/tools"
	"github.com/modelgym/modelgym/validators"
)

// runFunctionCallStep executes a tool-calling test. The model may invoke any
// capability in the test's allowed-capability list. When the provider reports
// that the model cannot do tool calling, the model record's no-tool-support
// flag is set persistently in addition to failing the step.
func (o *Orchestrator) runFunctionCallStep(ctx context.Context, run *groupRun, test config.TestDefinition, prompt string) stepResult {
	capabilities, err := tools.NewSet(test.AllowedCapabilities, tools.Invocation{
		ModelID:    run.model.Name,
		WorkFolder: run.workFolder,
	})
	if err != nil {
		return failedStep(err.Error())
	}

	session, err := run.provider.OpenSession(capabilities, true)
	if err != nil {
		return failedStep(err.Error())
	}

	settings := providers.ExecutionSettings{}
	var schema *jsonSchema
	if test.ResponseSchema != "" {
		schema, err = o.loadResponseSchema(run, test)
		if err != nil {
			return failedStep(err.Error())
		}
		settings.ResponseSchema = schema.raw
	}

	response, err := o.respond(ctx, run, session, providers.NewConversation("", prompt), settings, test.Timeout())
	if err != nil {
		if strings.Contains(err.Error(), providers.NoToolSupportMarker) {
			if flagErr := o.store.MarkNoToolSupport(ctx, run.model.Name); flagErr != nil {
				run.logger.Error(ctx, logging.LevelWarn, flagErr, "failed to flag missing tool support")
			} else {
				run.logger.Message(ctx, logging.LevelWarn, "model '%s' flagged as lacking tool support", run.model.Name)
			}
		}
		return failedStep(err.Error())
	}

	var verdict validators.Result
	if schema != nil {
		verdict = validators.ValidateStructured(response.Text, schema.compiled)
	} else {
		verdict = validators.ValidateNonEmpty(response.Text)
	}
	result := stepResult{passed: verdict.Passed, output: response.Text}
	if !verdict.Passed {
		result.errMsg = verdict.Reason
	}
	return result
}

// jsonSchema pairs a compiled response schema with its raw document, which is
// also sent to the provider to constrain structured output.
type jsonSchema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// loadResponseSchema reads and compiles the test's declared response schema.
func (o *Orchestrator) loadResponseSchema(run *groupRun, test config.TestDefinition) (*jsonSchema, error) {
	path := test.ResponseSchema
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.cfg.StagingDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	compiled, err := validators.CompileSchema(raw)
	if err != nil {
		return nil, err
	}
	return &jsonSchema{raw: raw, compiled: compiled}, nil
}
