// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPtr(t *testing.T) {
	value := Ptr(42)
	require.NotNil(t, value)
	assert.Equal(t, 42, *value)

	text := Ptr("hello")
	assert.Equal(t, "hello", *text)
}

func TestNoPanic(t *testing.T) {
	err := NoPanic(func() error {
		panic("scripted failure")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scripted failure")
}

func TestNoPanicPassesThroughError(t *testing.T) {
	want := errors.New("regular failure")
	assert.ErrorIs(t, NoPanic(func() error { return want }), want)
	assert.NoError(t, NoPanic(func() error { return nil }))
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"charlie": 3, "alpha": 1, "bravo": 2})
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, keys)
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestJSONFromMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "json fence",
			content: "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
			want:    `{"a": 1}`,
		},
		{
			name:    "plain fence",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "no fence returns content unchanged",
			content: `{"a": 1}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "plain prose returns content unchanged",
			content: "no json here",
			want:    "no json here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JSONFromMarkdown(tt.content))
		})
	}
}

func TestRepairTextJSON(t *testing.T) {
	repaired, err := RepairTextJSON(`{"a": 1, "b": 2,}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1, "b": 2}`, repaired)
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, Words("Hello, World!"))
	assert.Equal(t, []string{"don't", "stop"}, Words("Don't stop."))
	assert.Equal(t, []string{"42", "things"}, Words("42 things"))
	assert.Empty(t, Words("..."))
}
