// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package formatters

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVFormatterFileExt(t *testing.T) {
	assert.Equal(t, "csv", NewCSVFormatter().FileExt())
}

func TestCSVFormatterWrite(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewCSVFormatter().Write(sampleSummaries(), buf))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"Model", "Group", "Status", "Passed", "Total", "Score", "Duration"}, records[0])

	// Rows are grouped by model in ascending model order.
	assert.Equal(t, []string{"model-a", "math", "FAIL", "3", "4", "8.0", "2s"}, records[1])
	assert.Equal(t, []string{"model-a", "logic", "PASS", "2", "2", "10.0", "1s"}, records[2])
	assert.Equal(t, []string{"model-b", "math", "PASS", "4", "4", "10.0", "1.5s"}, records[3])
}

func TestCSVFormatterWriteEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewCSVFormatter().Write(nil, buf))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1) // header only
}
