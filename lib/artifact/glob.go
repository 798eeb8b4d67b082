// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"path"
	"strings"
)

// SplitPatterns splits a ";"-separated pattern list, dropping empty
// entries.
func SplitPatterns(patterns string) []string {
	var result []string
	for _, pattern := range strings.Split(patterns, ";") {
		pattern = strings.TrimSpace(pattern)
		if pattern != "" {
			result = append(result, path.Clean(strings.TrimPrefix(pattern, "./")))
		}
	}
	return result
}

// ValidatePattern reports a malformed glob.
func ValidatePattern(pattern string) error {
	for _, segment := range strings.Split(pattern, "/") {
		if segment == "**" {
			continue
		}
		if _, err := path.Match(segment, ""); err != nil {
			return fmt.Errorf("invalid artifact pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// MatchPath reports whether the slash-separated relative path name
// matches pattern. Malformed patterns match nothing.
func MatchPath(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for skip := 0; skip <= len(name); skip++ {
				if matchSegments(rest, name[skip:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		matched, err := path.Match(pattern[0], name[0])
		if err != nil || !matched {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0
}
