// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "strings"

// MatchBranches reports whether branch passes a space-separated
// branch filter. Patterns use "*" as a wildcard that also matches
// "/"; a leading "!" excludes. With no positive patterns every branch
// not excluded passes. An empty filter passes everything.
func MatchBranches(patterns, branch string) bool {
	included := false
	hasPositive := false
	for _, pattern := range strings.Fields(patterns) {
		if negated, ok := strings.CutPrefix(pattern, "!"); ok {
			if wildcardMatch(negated, branch) {
				return false
			}
			continue
		}
		hasPositive = true
		if wildcardMatch(pattern, branch) {
			included = true
		}
	}
	return included || !hasPositive
}

// wildcardMatch matches text against pattern where "*" matches any
// run of characters.
func wildcardMatch(pattern, text string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == text
	}
	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, middle := range parts[1 : len(parts)-1] {
		index := strings.Index(text, middle)
		if index < 0 {
			return false
		}
		text = text[index+len(middle):]
	}
	return strings.HasSuffix(text, last)
}
