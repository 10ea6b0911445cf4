// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package validators provides validation mechanisms for model responses.
// All checks are pure functions deciding pass/fail for a single response
// given a test's declared expectation: exact value, numeric or enumerated
// range, JSON-schema conformance, or plain non-emptiness.
package validators

import (
	"strings"
)

// Result contains the outcome of a validation check.
// A failed check is not an error; the reason explains it in operator-readable terms.
type Result struct {
	// Passed indicates whether the validation passed.
	Passed bool
	// Reason provides a human-readable explanation of the outcome.
	Reason string
}

func pass(reason string) Result {
	return Result{Passed: true, Reason: reason}
}

func fail(reason string) Result {
	return Result{Passed: false, Reason: reason}
}

// Validate checks a textual response against a test's declared expectation.
// A literal expected value takes precedence; otherwise a non-empty range
// expression is evaluated; with neither declared, any non-empty response passes.
func Validate(expectedValue string, expectedRange string, response string) Result {
	if strings.TrimSpace(expectedValue) != "" {
		return ValidateExact(response, expectedValue)
	}
	if strings.TrimSpace(expectedRange) != "" {
		return ValidateRange(response, expectedRange)
	}
	return ValidateNonEmpty(response)
}

// ValidateExact compares the response with the expected literal value.
// Both sides are trimmed and compared case-insensitively.
func ValidateExact(response string, expected string) Result {
	got := strings.TrimSpace(response)
	want := strings.TrimSpace(expected)
	if strings.EqualFold(got, want) {
		return pass("response matches the expected value")
	}
	return fail("expected " + quote(want) + ", got " + quote(got))
}

// ValidateNonEmpty passes iff the response contains non-whitespace characters.
func ValidateNonEmpty(response string) Result {
	if strings.TrimSpace(response) == "" {
		return fail("response is empty")
	}
	return pass("response is not empty")
}

func quote(value string) string {
	return "'" + value + "'"
}
