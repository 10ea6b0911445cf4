// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package validators

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateRange checks a response against a range expression.
// Two forms are supported:
//   - numeric bounds "lo-hi": the response must parse as a number within the
//     closed interval;
//   - enumeration "A,B,C": the response must equal one of the listed values,
//     compared case-insensitively after trimming.
//
// Failure reasons always name both the offending value and the declared range.
func ValidateRange(response string, rangeExpr string) Result {
	value := strings.TrimSpace(response)
	expr := strings.TrimSpace(rangeExpr)

	if strings.Contains(expr, ",") {
		return validateEnum(value, expr)
	}
	if lo, hi, ok := parseNumericBounds(expr); ok {
		return validateNumeric(value, lo, hi, expr)
	}
	// A single-element enumeration without commas.
	return validateEnum(value, expr)
}

func validateNumeric(value string, lo float64, hi float64, expr string) Result {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fail(fmt.Sprintf("value '%s' is not numeric, expected a number in range %s", value, expr))
	}
	if parsed < lo {
		return fail(fmt.Sprintf("value %s is below the lower bound %s of range %s", value, formatBound(lo), expr))
	}
	if parsed > hi {
		return fail(fmt.Sprintf("value %s is above the upper bound %s of range %s", value, formatBound(hi), expr))
	}
	return pass(fmt.Sprintf("value %s is within range %s", value, expr))
}

func validateEnum(value string, expr string) Result {
	options := strings.Split(expr, ",")
	for _, option := range options {
		if strings.EqualFold(strings.TrimSpace(option), value) {
			return pass(fmt.Sprintf("value '%s' is one of the allowed values %s", value, expr))
		}
	}
	return fail(fmt.Sprintf("value '%s' is not one of the allowed values %s", value, expr))
}

// parseNumericBounds recognizes a "lo-hi" expression. Negative bounds are
// supported: the separator is the first dash that follows the initial number.
func parseNumericBounds(expr string) (lo float64, hi float64, ok bool) {
	sep := strings.Index(expr[1:], "-")
	if sep < 0 {
		return 0, 0, false
	}
	sep++ // offset by the skipped first character

	lo, errLo := strconv.ParseFloat(strings.TrimSpace(expr[:sep]), 64)
	hi, errHi := strconv.ParseFloat(strings.TrimSpace(expr[sep+1:]), 64)
	if errLo != nil || errHi != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func formatBound(bound float64) string {
	return strconv.FormatFloat(bound, 'f', -1, 64)
}
