// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package dialogue

import (
	"strings"

	"github.com/modelgym/modelgym/pkg/utils"
)

// Penalty weights for structural differences between tracks.
const (
	penaltyMissingCharacter = 3
	penaltyWrongGender      = 3
	penaltyKindMismatch     = 2
	penaltyWrongSpeaker     = 2
	penaltyMissingWord      = 1
	penaltyWrongEmotion     = 1
)

// Compare computes a structural similarity score between an expected and an
// actual dialogue track on the closed interval [1, 10]. The function is pure:
// given the same two tracks it always returns the same score.
//
// Penalties accumulate for missing or misgendered characters, entry kind
// mismatches, missing words, misattributed speakers and wrong emotion tags;
// the total converts to a score as 10 - floor(penalty/3), clamped to [1, 10].
func Compare(expected Track, actual Track) int {
	penalty := compareCharacters(expected.Characters, actual.Characters)
	penalty += compareTimelines(expected.Timeline, actual.Timeline)

	score := 10 - penalty/3
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

func compareCharacters(expected []Character, actual []Character) (penalty int) {
	actualByName := make(map[string]Character, len(actual))
	for _, character := range actual {
		actualByName[strings.ToLower(character.Name)] = character
	}

	for _, want := range expected {
		got, present := actualByName[strings.ToLower(want.Name)]
		if !present {
			penalty += penaltyMissingCharacter
			continue
		}
		if !strings.EqualFold(want.Gender, got.Gender) {
			penalty += penaltyWrongGender
		}
	}
	return penalty
}

func compareTimelines(expected []Entry, actual []Entry) (penalty int) {
	shared := min(len(expected), len(actual))
	for i := 0; i < shared; i++ {
		penalty += compareEntries(expected[i], actual[i])
	}

	// Expected entries with no positional counterpart count as kind mismatches;
	// an empty actual track must not score better than a structurally wrong one.
	if missing := len(expected) - shared; missing > 0 {
		penalty += missing * penaltyKindMismatch
	}
	return penalty
}

func compareEntries(expected Entry, actual Entry) (penalty int) {
	if !strings.EqualFold(expected.Kind, actual.Kind) {
		return penaltyKindMismatch
	}
	if !strings.EqualFold(expected.Kind, KindPhrase) {
		return 0
	}

	actualWords := make(map[string]bool)
	for _, word := range utils.Words(actual.Text) {
		actualWords[word] = true
	}
	for _, word := range utils.Words(expected.Text) {
		if !actualWords[word] {
			penalty += penaltyMissingWord
		}
	}

	if !strings.EqualFold(expected.Character, actual.Character) {
		penalty += penaltyWrongSpeaker
	}
	if !strings.EqualFold(expected.Emotion, actual.Emotion) {
		penalty += penaltyWrongEmotion
	}
	return penalty
}
