// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/modelgym/modelgym/dialogue"
	"github.com/modelgym/modelgym/pkg/logging"
)

const (
	// DialogueFamily is the capability family producing dialogue-track artifacts.
	DialogueFamily = "dialogue"
	// SchemaFamily is the schema-building capability family the structured-schema
	// executor always grants in addition to the test's allowed capabilities.
	SchemaFamily = "schema"
)

const (
	saveDialogueTrackName     = "save_dialogue_track"
	confirmDialogueSchemaName = "confirm_dialogue_schema"
)

// dialogueSchemaDescription is sent back by the schema-confirmation capability
// so the model knows the exact artifact format it must produce.
const dialogueSchemaDescription = `The dialogue track must be a JSON object with two keys:
"characters": a list of {"name": string, "voice": string, "gender": string};
"timeline": an ordered list of entries, each either
{"kind": "phrase", "character": string, "text": string, "emotion": one of neutral|happy|sad|angry|fearful|disgusted|surprised}
or {"kind": "pause", "seconds": integer}.
Call save_dialogue_track with the complete track to write the artifact file.`

type saveDialogueTrack struct {
	inv Invocation
}

func newSaveDialogueTrack(inv Invocation) Capability {
	return &saveDialogueTrack{inv: inv}
}

func (t *saveDialogueTrack) Name() string {
	return saveDialogueTrackName
}

func (t *saveDialogueTrack) Description() string {
	return "Save a complete dialogue track (characters and timeline) as a JSON artifact file in the working folder."
}

func (t *saveDialogueTrack) Parameters() json.RawMessage {
	return schemaFor(dialogue.Track{})
}

func (t *saveDialogueTrack) Call(ctx context.Context, logger logging.Logger, args json.RawMessage) (string, error) {
	var track dialogue.Track
	if err := json.Unmarshal(args, &track); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCapabilityArguments, err)
	}
	for _, entry := range track.Timeline {
		if entry.Kind == dialogue.KindPhrase && !dialogue.IsValidEmotion(entry.Emotion) {
			return "", fmt.Errorf("%w: unknown emotion '%s'", ErrInvalidCapabilityArguments, entry.Emotion)
		}
	}
	fileName := fmt.Sprintf("track-%s.json", ulid.Make())
	path := filepath.Join(t.inv.WorkFolder, fileName)
	if err := dialogue.Save(track, path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCapabilityFailed, err)
	}
	logger.Message(ctx, logging.LevelDebug, "model '%s' saved dialogue track to '%s'", t.inv.ModelID, path)
	return fmt.Sprintf("dialogue track saved to %s", fileName), nil
}

type confirmDialogueSchema struct {
	inv Invocation
}

func newConfirmDialogueSchema(inv Invocation) Capability {
	return &confirmDialogueSchema{inv: inv}
}

func (t *confirmDialogueSchema) Name() string {
	return confirmDialogueSchemaName
}

func (t *confirmDialogueSchema) Description() string {
	return "Confirm the required dialogue-track schema before producing the artifact. Returns the exact format specification."
}

func (t *confirmDialogueSchema) Parameters() json.RawMessage {
	return schemaFor(confirmSchemaArgs{})
}

func (t *confirmDialogueSchema) Call(ctx context.Context, logger logging.Logger, args json.RawMessage) (string, error) {
	var parsed confirmSchemaArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidCapabilityArguments, err)
		}
	}
	logger.Message(ctx, logging.LevelTrace, "model '%s' requested dialogue schema confirmation", t.inv.ModelID)
	return dialogueSchemaDescription, nil
}

type confirmSchemaArgs struct {
	// Acknowledged indicates the model has understood the artifact format.
	Acknowledged bool `json:"acknowledged,omitempty" jsonschema_description:"Set to true once the schema is understood."`
}
