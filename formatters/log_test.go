// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package formatters

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormatterFileExt(t *testing.T) {
	assert.Equal(t, "log", NewLogFormatter().FileExt())
}

func TestLogFormatterWrite(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewLogFormatter().Write(sampleSummaries(), buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Contains(t, lines[0], "RunID")
	assert.Contains(t, lines[0], "Duration")

	assert.Contains(t, lines[1], "model-a")
	assert.Contains(t, lines[1], "FAIL")
	assert.Contains(t, lines[1], "3/4")
	assert.Contains(t, lines[2], "logic")
	assert.Contains(t, lines[2], "PASS")
	assert.Contains(t, lines[3], "model-b")
	assert.Contains(t, lines[3], "10.0")
}

func TestSummaryLogFormatterFileExt(t *testing.T) {
	assert.Equal(t, "summary.log", NewSummaryLogFormatter().FileExt())
}

func TestSummaryLogFormatterWrite(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewSummaryLogFormatter().Write(sampleSummaries(), buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3) // header plus one aggregate row per model

	assert.Contains(t, lines[0], "Pass Rate (%)")
	assert.Contains(t, lines[1], "model-a")
	assert.Contains(t, lines[1], "50.00") // one of two groups passed
	assert.Contains(t, lines[1], "9.0")   // (8 + 10) / 2
	assert.Contains(t, lines[2], "model-b")
	assert.Contains(t, lines[2], "100.00")
}
