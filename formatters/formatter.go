// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package formatters provides output formatting functionality for ModelGym
// run summaries. It supports CSV and text log outputs.
package formatters

import (
	"errors"
	"io"
	"time"

	"github.com/modelgym/modelgym/pkg/utils"
	"github.com/modelgym/modelgym/runners"
)

// ErrPrintResults indicates that result formatting failed.
var ErrPrintResults = errors.New("failed to print formatted results")

// Formatter handles converting run summaries into specific output formats.
type Formatter interface {
	// FileExt returns the formatter's file extension.
	FileExt() string
	// Write outputs formatted summaries to the writer.
	Write(summaries []runners.RunSummary, out io.Writer) error
}

// ByModel groups run summaries by model identifier, preserving the original
// order of each model's runs.
func ByModel(summaries []runners.RunSummary) map[string][]runners.RunSummary {
	grouped := make(map[string][]runners.RunSummary)
	for _, summary := range summaries {
		grouped[summary.ModelID] = append(grouped[summary.ModelID], summary)
	}
	return grouped
}

// ForEachOrdered visits map entries in ascending key order, stopping at the
// first error.
func ForEachOrdered[V any](m map[string]V, fn func(key string, value V) error) error {
	for _, key := range utils.SortedKeys(m) {
		if err := fn(key, m[key]); err != nil {
			return err
		}
	}
	return nil
}

// ToStatus renders a run outcome as a short status label.
func ToStatus(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

// RoundToMS rounds a duration down to whole milliseconds for display.
func RoundToMS(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}

// Percent converts a 0-1 ratio to a 0-100 percentage.
func Percent(ratio float64) float64 {
	return ratio * 100
}

// PassRate is the fraction of runs that passed.
func PassRate(summaries []runners.RunSummary) float64 {
	if len(summaries) == 0 {
		return 0
	}
	passed := 0
	for _, summary := range summaries {
		if summary.RunPassed {
			passed++
		}
	}
	return float64(passed) / float64(len(summaries))
}

// AverageScore is the mean 0-10 score across runs.
func AverageScore(summaries []runners.RunSummary) float64 {
	if len(summaries) == 0 {
		return 0
	}
	var sum float64
	for _, summary := range summaries {
		sum += summary.Score
	}
	return sum / float64(len(summaries))
}

// TotalDuration sums the timed portions of all runs.
func TotalDuration(summaries []runners.RunSummary) time.Duration {
	var total time.Duration
	for _, summary := range summaries {
		total += summary.Duration
	}
	return total
}
