// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package runners

import (
	"context"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/providers"
	"github.com/modelgym/modelgym/validators"
)

// runQuestionStep executes a single-turn question test and validates the
// textual response against the test's literal or range expectation.
func (o *Orchestrator) runQuestionStep(ctx context.Context, run *groupRun, test config.TestDefinition, prompt string) stepResult {
	session, err := run.provider.OpenSession(nil, false)
	if err != nil {
		return failedStep(err.Error())
	}

	response, err := o.respond(ctx, run, session, providers.NewConversation("", prompt), providers.ExecutionSettings{}, test.Timeout())
	if err != nil {
		return failedStep(err.Error())
	}

	verdict := validators.Validate(test.ExpectedValue, test.ExpectedRange, response.Text)
	result := stepResult{passed: verdict.Passed, output: response.Text}
	if !verdict.Passed {
		result.errMsg = verdict.Reason
	}
	return result
}
