// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package utils provides small generic helpers shared across the ModelGym application.
package utils

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	markdownJSONMatcher = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	wordMatcher         = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// Ptr returns a pointer to the given value.
func Ptr[T any](value T) *T {
	return &value
}

// NoPanic invokes fn and converts any panic into an error.
func NoPanic(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("recovered from panic: %v", p)
		}
	}()
	return fn()
}

// SortedKeys returns the keys of the given map in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSONFromMarkdown extracts the first fenced JSON code block from the given content.
// If no fenced block is present, the content is returned unchanged.
func JSONFromMarkdown(content string) string {
	if match := markdownJSONMatcher.FindStringSubmatch(content); len(match) > 1 {
		return match[1]
	}
	return content
}

// RepairTextJSON attempts to recover a well-formed JSON document from free-form
// model output. It strips markdown fences first and then repairs common defects
// such as trailing commas or missing quotes.
func RepairTextJSON(content string) (string, error) {
	repaired, err := jsonrepair.JSONRepair(JSONFromMarkdown(content))
	if err != nil {
		return "", fmt.Errorf("failed to repair JSON content: %w", err)
	}
	return repaired, nil
}

// Words tokenizes text into lower-case words, stripping punctuation.
// Apostrophes inside words are preserved so contractions survive tokenization.
func Words(text string) []string {
	return wordMatcher.FindAllString(strings.ToLower(text), -1)
}
