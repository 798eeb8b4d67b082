// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"strings"

	"github.com/hangar-build/hangar/lib/schema/pipeline"
)

// Normalize tidies presentation text in place: step labels, prompts,
// field labels and hints, and option labels and hints. Line endings
// become "\n", trailing whitespace is trimmed from every line, runs
// of blank lines collapse to one, and leading and trailing blank
// lines are removed. Commands, keys and values are never touched.
// Normalize is idempotent; Parse applies it.
func Normalize(p *pipeline.Pipeline) {
	normalizeSteps(p.Steps)
}

func normalizeSteps(steps []pipeline.Step) {
	for index := range steps {
		step := &steps[index]
		step.Label = NormalizeText(step.Label)
		switch {
		case step.Block != nil:
			step.Block.Prompt = NormalizeText(step.Block.Prompt)
			normalizeFields(step.Block.Fields)
		case step.Input != nil:
			step.Input.Prompt = NormalizeText(step.Input.Prompt)
			normalizeFields(step.Input.Fields)
		case step.Group != nil:
			normalizeSteps(step.Group.Steps)
		}
	}
}

func normalizeFields(fields []pipeline.Field) {
	for index := range fields {
		field := &fields[index]
		field.Label = NormalizeText(field.Label)
		field.Hint = NormalizeText(field.Hint)
		for optionIndex := range field.Options {
			option := &field.Options[optionIndex]
			option.Label = NormalizeText(option.Label)
			option.Hint = NormalizeText(option.Hint)
		}
	}
}

// NormalizeText applies Normalize's rules to one string.
func NormalizeText(text string) string {
	if text == "" {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r\f\v")
		if line == "" {
			if len(result) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			result = append(result, "")
			blank = false
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}
