// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgym/modelgym/dialogue"
	"github.com/modelgym/modelgym/pkg/testutils"
)

func TestNewSet(t *testing.T) {
	capabilities, err := NewSet([]string{DialogueFamily, SchemaFamily}, Invocation{ModelID: "model-a"})
	require.NoError(t, err)
	require.Len(t, capabilities, 2)

	names := []string{capabilities[0].Name(), capabilities[1].Name()}
	assert.Contains(t, names, "save_dialogue_track")
	assert.Contains(t, names, "confirm_dialogue_schema")
}

func TestNewSetDeduplicatesFamilies(t *testing.T) {
	capabilities, err := NewSet([]string{SchemaFamily, SchemaFamily}, Invocation{})
	require.NoError(t, err)
	assert.Len(t, capabilities, 1)
}

func TestNewSetUnknownFamily(t *testing.T) {
	_, err := NewSet([]string{"filesystem"}, Invocation{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapabilityNotAvailable)
	assert.Contains(t, err.Error(), "filesystem")
}

func TestNewSetEmpty(t *testing.T) {
	capabilities, err := NewSet(nil, Invocation{})
	require.NoError(t, err)
	assert.Empty(t, capabilities)
}

func TestFind(t *testing.T) {
	capabilities, err := NewSet([]string{DialogueFamily}, Invocation{})
	require.NoError(t, err)

	capability, err := Find(capabilities, "save_dialogue_track")
	require.NoError(t, err)
	assert.Equal(t, "save_dialogue_track", capability.Name())

	_, err = Find(capabilities, "unknown_tool")
	assert.ErrorIs(t, err, ErrCapabilityNotAvailable)
}

func TestCapabilityMetadata(t *testing.T) {
	capabilities, err := NewSet([]string{DialogueFamily, SchemaFamily}, Invocation{})
	require.NoError(t, err)

	for _, capability := range capabilities {
		assert.NotEmpty(t, capability.Description(), capability.Name())

		var schema map[string]interface{}
		require.NoError(t, json.Unmarshal(capability.Parameters(), &schema), capability.Name())
		assert.Equal(t, "object", schema["type"], capability.Name())
	}
}

func TestSaveDialogueTrackWritesArtifact(t *testing.T) {
	workFolder := t.TempDir()
	capabilities, err := NewSet([]string{DialogueFamily}, Invocation{ModelID: "model-a", WorkFolder: workFolder})
	require.NoError(t, err)
	capability, err := Find(capabilities, "save_dialogue_track")
	require.NoError(t, err)

	track := dialogue.Track{
		Characters: []dialogue.Character{{Name: "Ava", Voice: "v1", Gender: "female"}},
		Timeline: []dialogue.Entry{
			{Kind: dialogue.KindPhrase, Character: "Ava", Text: "Hello", Emotion: "happy"},
			{Kind: dialogue.KindPause, Seconds: 2},
		},
	}
	args, err := json.Marshal(track)
	require.NoError(t, err)

	result, err := capability.Call(context.Background(), testutils.NewTestLogger(t), args)
	require.NoError(t, err)
	assert.Contains(t, result, "dialogue track saved")

	entries, err := os.ReadDir(workFolder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "track-"))

	saved, err := dialogue.Load(filepath.Join(workFolder, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, track, saved)
}

func TestSaveDialogueTrackRejectsUnknownEmotion(t *testing.T) {
	capabilities, err := NewSet([]string{DialogueFamily}, Invocation{WorkFolder: t.TempDir()})
	require.NoError(t, err)
	capability, err := Find(capabilities, "save_dialogue_track")
	require.NoError(t, err)

	args := []byte(`{"characters": [], "timeline": [{"kind": "phrase", "character": "Ava", "text": "hi", "emotion": "ecstatic"}]}`)
	_, err = capability.Call(context.Background(), testutils.NewTestLogger(t), args)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCapabilityArguments)
}

func TestSaveDialogueTrackRejectsMalformedArguments(t *testing.T) {
	capabilities, err := NewSet([]string{DialogueFamily}, Invocation{WorkFolder: t.TempDir()})
	require.NoError(t, err)
	capability, err := Find(capabilities, "save_dialogue_track")
	require.NoError(t, err)

	_, err = capability.Call(context.Background(), testutils.NewTestLogger(t), []byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidCapabilityArguments)
}

func TestConfirmDialogueSchemaReturnsFormat(t *testing.T) {
	capabilities, err := NewSet([]string{SchemaFamily}, Invocation{ModelID: "model-a"})
	require.NoError(t, err)
	capability, err := Find(capabilities, "confirm_dialogue_schema")
	require.NoError(t, err)

	result, err := capability.Call(context.Background(), testutils.NewTestLogger(t), []byte(`{"acknowledged": true}`))
	require.NoError(t, err)
	assert.Contains(t, result, "characters")
	assert.Contains(t, result, "timeline")
	assert.Contains(t, result, "save_dialogue_track")
}
