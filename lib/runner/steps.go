// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/pipelinedef"
	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

// runBlock passes an unblocked block or input job, storing its field
// values as build metadata.
func (r *Runner) runBlock(ctx context.Context, planned PlannedJob, fields []schema.Field) JobResult {
	started := r.clock.Now()
	values, err := resolveFields(fields, r.config.FieldValues)
	if err != nil {
		result := r.finish(planned, pipeline.StateFailed, "invalid field values", started)
		result.Err = err
		return result
	}
	if r.config.Builder != nil {
		for _, key := range slices.Sorted(maps.Keys(values)) {
			if err := r.config.Builder.SetMetadata(ctx, key, values[key]); err != nil {
				result := r.finish(planned, pipeline.StateFailed, "storing field values", started)
				result.Err = err
				return result
			}
		}
	}
	return r.finish(planned, pipeline.StatePassed, "", started)
}

// resolveFields validates provided values against fields, applying
// defaults. Multiple select values are newline separated.
func resolveFields(fields []schema.Field, provided map[string]string) (map[string]string, error) {
	values := make(map[string]string, len(fields))
	for _, field := range fields {
		value, ok := provided[field.Key]
		if !ok && len(field.Default) > 0 {
			value, ok = strings.Join(field.Default, "\n"), true
		}
		if !ok || value == "" {
			if field.Required {
				return nil, fmt.Errorf("field %q is required", field.Key)
			}
			continue
		}

		switch field.Kind {
		case schema.FieldText:
			if field.Format != "" {
				format, err := regexp.Compile("^(?:" + field.Format + ")$")
				if err != nil {
					return nil, fmt.Errorf("field %q: format: %w", field.Key, err)
				}
				if !format.MatchString(value) {
					return nil, fmt.Errorf("field %q: %q does not match %s", field.Key, value, field.Format)
				}
			}
		case schema.FieldSelect:
			chosen := strings.Split(value, "\n")
			if len(chosen) > 1 && !field.Multiple {
				return nil, fmt.Errorf("field %q accepts one option", field.Key)
			}
			for _, choice := range chosen {
				if !slices.ContainsFunc(field.Options, func(option schema.Option) bool { return option.Value == choice }) {
					return nil, fmt.Errorf("field %q: %q is not an option", field.Key, choice)
				}
			}
		}
		values[field.Key] = value
	}
	return values, nil
}

// runTrigger runs another pipeline as a child build. Async triggers
// pass at once and run after this build.
func (r *Runner) runTrigger(ctx context.Context, planned PlannedJob, trigger *schema.TriggerStep) JobResult {
	started := r.clock.Now()
	fail := func(reason string, err error) JobResult {
		state := pipeline.StateFailed
		if trigger.SoftFail {
			state = pipeline.StatePassedWithWarning
		}
		result := r.finish(planned, state, reason, started)
		result.Err = err
		return result
	}

	if r.config.depth >= maxTriggerDepth {
		return fail("trigger depth exceeded", fmt.Errorf("triggers nest deeper than %d", maxTriggerDepth))
	}
	child, err := r.triggerChild(trigger)
	if err != nil {
		return fail("loading triggered pipeline", err)
	}
	if trigger.Build != nil && r.config.Builder != nil {
		for _, key := range slices.Sorted(maps.Keys(trigger.Build.MetaData)) {
			if err := r.config.Builder.SetMetadata(ctx, key, trigger.Build.MetaData[key]); err != nil {
				return fail("storing trigger metadata", err)
			}
		}
	}

	if trigger.Async {
		r.async = append(r.async, child)
		return r.finish(planned, pipeline.StatePassed, "runs after this build", started)
	}

	summary, err := child.Run(ctx)
	if err != nil {
		return fail("triggered build did not run", err)
	}
	if ctx.Err() != nil {
		return r.finish(planned, pipeline.StateCanceled, "build canceled", started)
	}
	if summary.Passed() {
		return r.finish(planned, pipeline.StatePassed, "", started)
	}
	return fail("triggered build "+string(summary.State), nil)
}

// triggerChild loads a trigger's pipeline and prepares its build.
func (r *Runner) triggerChild(trigger *schema.TriggerStep) (*Runner, error) {
	path := trigger.Pipeline
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.config.PipelineDir, path)
	}
	p, err := pipelinedef.ReadFile(path)
	if err != nil {
		return nil, err
	}

	parent := r.config.Build
	build := Build{
		ID:      uuid.NewString(),
		Branch:  parent.Branch,
		Commit:  parent.Commit,
		Message: parent.Message,
		Source:  "trigger",
	}
	if overrides := trigger.Build; overrides != nil {
		if overrides.Branch != "" {
			build.Branch = overrides.Branch
		}
		if overrides.Commit != "" {
			build.Commit = overrides.Commit
		}
		if overrides.Message != "" {
			build.Message = overrides.Message
		}
		build.Env = maps.Clone(overrides.Env)
	}

	config := r.config
	config.Pipeline = p
	config.Name = path
	config.PipelineDir = filepath.Dir(path)
	config.Build = build
	config.Result = nil
	config.Logger = r.config.Logger.With("trigger", path)
	config.depth = r.config.depth + 1
	return New(config)
}
