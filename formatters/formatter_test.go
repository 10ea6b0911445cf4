// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package formatters

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgym/modelgym/runners"
)

func sampleSummaries() []runners.RunSummary {
	return []runners.RunSummary{
		{RunID: 1, ModelID: "model-b", Group: "math", Passed: 4, Total: 4, Score: 10, RunPassed: true, Duration: 1500 * time.Millisecond},
		{RunID: 2, ModelID: "model-a", Group: "math", Passed: 3, Total: 4, Score: 8, RunPassed: false, Duration: 2 * time.Second},
		{RunID: 3, ModelID: "model-a", Group: "logic", Passed: 2, Total: 2, Score: 10, RunPassed: true, Duration: time.Second},
	}
}

func TestByModel(t *testing.T) {
	grouped := ByModel(sampleSummaries())
	require.Len(t, grouped, 2)
	require.Len(t, grouped["model-a"], 2)
	assert.Equal(t, "math", grouped["model-a"][0].Group)
	assert.Equal(t, "logic", grouped["model-a"][1].Group)
	require.Len(t, grouped["model-b"], 1)
}

func TestForEachOrdered(t *testing.T) {
	visited := []string{}
	err := ForEachOrdered(map[string]int{"zebra": 1, "apple": 2, "mango": 3}, func(key string, _ int) error {
		visited = append(visited, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "mango", "zebra"}, visited)
}

func TestForEachOrderedStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	visited := 0
	err := ForEachOrdered(map[string]int{"a": 1, "b": 2, "c": 3}, func(key string, _ int) error {
		visited++
		if key == "b" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, visited)
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, "PASS", ToStatus(true))
	assert.Equal(t, "FAIL", ToStatus(false))
}

func TestRoundToMS(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, RoundToMS(1500*time.Millisecond+200*time.Microsecond))
}

func TestPassRate(t *testing.T) {
	assert.InDelta(t, 2.0/3.0, PassRate(sampleSummaries()), 1e-9)
	assert.Zero(t, PassRate(nil))
}

func TestAverageScore(t *testing.T) {
	assert.InDelta(t, 28.0/3.0, AverageScore(sampleSummaries()), 1e-9)
	assert.Zero(t, AverageScore(nil))
}

func TestTotalDuration(t *testing.T) {
	assert.Equal(t, 4500*time.Millisecond, TotalDuration(sampleSummaries()))
	assert.Zero(t, TotalDuration(nil))
}

func TestPercent(t *testing.T) {
	assert.InDelta(t, 66.7, Percent(0.667), 1e-9)
}
