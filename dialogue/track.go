// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package dialogue defines the on-disk structured dialogue-track artifact
// format produced by synthesis tests and the structural comparator that
// scores an actual track against an expected one.
package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry kinds in a dialogue timeline.
const (
	KindPhrase = "phrase"
	KindPause  = "pause"
)

// ExpectedTrackFileName is the reserved name of the expected-result reference
// file inside a run's working folder. Artifact scans skip it.
const ExpectedTrackFileName = "expected_result.json"

var (
	// ErrReadTrack is returned when a dialogue track file cannot be read or parsed.
	ErrReadTrack = errors.New("failed to read dialogue track")
	// ErrWriteTrack is returned when a dialogue track file cannot be written.
	ErrWriteTrack = errors.New("failed to write dialogue track")
	// ErrNoArtifact is returned when a working folder contains no qualifying artifact file.
	ErrNoArtifact = errors.New("no dialogue artifact found")
)

// validEmotions is the closed set of emotion tags a phrase entry may carry.
var validEmotions = map[string]bool{
	"neutral":   true,
	"happy":     true,
	"sad":       true,
	"angry":     true,
	"fearful":   true,
	"disgusted": true,
	"surprised": true,
}

// IsValidEmotion reports whether the given emotion tag is recognized.
func IsValidEmotion(emotion string) bool {
	return validEmotions[strings.ToLower(emotion)]
}

// Character describes a voice participating in a dialogue track.
type Character struct {
	// Name uniquely identifies the character within the track.
	Name string `json:"name"`
	// Voice names the synthesis voice assigned to the character.
	Voice string `json:"voice"`
	// Gender is the declared gender of the character.
	Gender string `json:"gender"`
}

// Entry is one element of a dialogue timeline: either a spoken phrase
// or a pause of a given length.
type Entry struct {
	// Kind discriminates between "phrase" and "pause".
	Kind string `json:"kind"`
	// Character names the speaker; phrase entries only.
	Character string `json:"character,omitempty"`
	// Text is the spoken content; phrase entries only.
	Text string `json:"text,omitempty"`
	// Emotion is the emotion tag of the phrase; phrase entries only.
	Emotion string `json:"emotion,omitempty"`
	// Seconds is the pause length; pause entries only.
	Seconds int `json:"seconds,omitempty"`
}

// Track is a complete structured dialogue: its characters and ordered timeline.
type Track struct {
	Characters []Character `json:"characters"`
	Timeline   []Entry     `json:"timeline"`
}

// Load reads and parses a dialogue track from the given file path.
func Load(path string) (Track, error) {
	var track Track
	contents, err := os.ReadFile(path)
	if err != nil {
		return track, fmt.Errorf("%w: %v", ErrReadTrack, err)
	}
	if err := json.Unmarshal(contents, &track); err != nil {
		return track, fmt.Errorf("%w: %v", ErrReadTrack, err)
	}
	return track, nil
}

// Save writes the dialogue track as indented JSON to the given file path.
func Save(track Track, path string) error {
	contents, err := json.MarshalIndent(track, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteTrack, err)
	}
	if err := os.WriteFile(path, contents, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteTrack, err)
	}
	return nil
}

// ListArtifacts returns the names of all candidate track files in a working
// folder, excluding directories, non-JSON entries and the reserved
// expected-result reference file.
func ListArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoArtifact, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		if strings.EqualFold(entry.Name(), ExpectedTrackFileName) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// FindLatestArtifact scans a working folder for the most recently created
// JSON file that is not the reserved expected-result reference file.
// Returns ErrNoArtifact when no qualifying file exists.
func FindLatestArtifact(dir string) (string, error) {
	names, err := ListArtifacts(dir)
	if err != nil {
		return "", err
	}

	var newest string
	var newestModTime int64
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if modTime := info.ModTime().UnixNano(); newest == "" || modTime > newestModTime {
			newest = filepath.Join(dir, name)
			newestModTime = modTime
		}
	}

	if newest == "" {
		return "", ErrNoArtifact
	}
	return newest, nil
}
