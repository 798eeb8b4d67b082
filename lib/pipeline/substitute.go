// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// matrixTokenPattern matches {{matrix}} and {{matrix.NAME}}, with
// optional inner spaces.
var matrixTokenPattern = regexp.MustCompile(`\{\{\s*matrix(?:\.([A-Za-z0-9_\-]+))?\s*\}\}`)

// SubstituteMatrix replaces matrix tokens in text. The simple list
// form stores its value under the empty name. Tokens naming an
// unknown dimension are left in place.
func SubstituteMatrix(text string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	return matrixTokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := matrixTokenPattern.FindStringSubmatch(match)
		if value, ok := values[groups[1]]; ok {
			return value
		}
		return match
	})
}

// MatrixTokens returns the dimension names referenced in text, with
// "" for a bare {{matrix}}.
func MatrixTokens(text string) []string {
	var names []string
	for _, groups := range matrixTokenPattern.FindAllStringSubmatch(text, -1) {
		names = append(names, groups[1])
	}
	return names
}

// variablePattern matches ${NAME} and ${NAME:-default}. Bare $NAME is
// left for the shell.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Interpolate expands ${NAME} and ${NAME:-default} using lookup. "$$"
// produces a literal "$". References with no value and no default
// are reported together.
func Interpolate(text string, lookup func(string) (string, bool)) (string, error) {
	if !strings.Contains(text, "$") {
		return text, nil
	}

	const escaped = "\x00hangar-dollar\x00"
	working := strings.ReplaceAll(text, "$$", escaped)

	var unresolved []string
	result := variablePattern.ReplaceAllStringFunc(working, func(match string) string {
		groups := variablePattern.FindStringSubmatch(match)
		if value, ok := lookup(groups[1]); ok {
			return value
		}
		if strings.Contains(match, ":-") {
			return groups[2]
		}
		unresolved = append(unresolved, groups[1])
		return match
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}
	return strings.ReplaceAll(result, escaped, "$"), nil
}

// MapLookup adapts a map for Interpolate.
func MapLookup(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}
