// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/hangar-build/hangar/lib/pipeline"
	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

// Build describes the build a pipeline runs for. Its fields feed if
// conditions, branch filters and the HANGAR_* environment.
type Build struct {
	// ID identifies the run. Artifacts and metadata are scoped to it.
	ID string

	Branch  string
	Commit  string
	Message string

	// Source is "local", or "trigger" for triggered builds.
	Source string

	// Env is overlaid on the pipeline env. Trigger steps set it.
	Env map[string]string
}

// Variables returns the condition variables for a pipeline:
// build.id, build.branch, build.commit, build.message, build.source,
// and build.env.NAME for every pipeline and build env entry.
func (b Build) Variables(p *schema.Pipeline) map[string]string {
	vars := map[string]string{
		"build.id":      b.ID,
		"build.branch":  b.Branch,
		"build.commit":  b.Commit,
		"build.message": b.Message,
		"build.source":  b.Source,
	}
	for name, value := range b.pipelineEnv(p) {
		vars["build.env."+name] = value
	}
	return vars
}

func (b Build) pipelineEnv(p *schema.Pipeline) map[string]string {
	env := maps.Clone(p.Env)
	if env == nil {
		env = make(map[string]string)
	}
	maps.Copy(env, b.Env)
	return env
}

// jobEnvironment returns the environment a job's commands see:
// pipeline env, then step env, then the HANGAR_* variables. ${NAME}
// references in pipeline and step values are expanded against the
// HANGAR_* variables, earlier layers and the runner's own
// environment.
func (b Build) jobEnvironment(p *schema.Pipeline, job pipeline.Job, attempt int) (map[string]string, error) {
	hangar := map[string]string{
		"CI":                 "true",
		"HANGAR":             "true",
		"HANGAR_BUILD_ID":    b.ID,
		"HANGAR_BRANCH":      b.Branch,
		"HANGAR_COMMIT":      b.Commit,
		"HANGAR_MESSAGE":     b.Message,
		"HANGAR_SOURCE":      b.Source,
		"HANGAR_JOB_ID":      job.ID,
		"HANGAR_STEP_KEY":    job.Step.Key,
		"HANGAR_LABEL":       job.Step.DisplayName(),
		"HANGAR_RETRY_COUNT": strconv.Itoa(attempt - 1),
	}
	if job.Step.Command != nil && len(job.Step.Command.ArtifactPaths) > 0 {
		hangar["HANGAR_ARTIFACT_PATHS"] = strings.Join(job.Step.Command.ArtifactPaths, ";")
	}

	env := make(map[string]string)
	layers := []map[string]string{b.pipelineEnv(p)}
	if job.Step.Command != nil {
		layers = append(layers, job.Step.Command.Env)
	}
	for _, layer := range layers {
		resolved, err := resolveLayer(layer, hangar, env)
		if err != nil {
			return nil, err
		}
		maps.Copy(env, resolved)
	}
	maps.Copy(env, hangar)
	return env, nil
}

// resolveLayer expands the ${NAME} references in one env layer. A
// name resolves to the HANGAR_* variables first, then to another key
// of the same layer, then to earlier layers and the runner's own
// environment. A key referring to itself sees the value from below
// its layer, so TARGET: ${TARGET}-x extends the inherited TARGET.
// Keys are expanded in sorted order so the first error is stable.
func resolveLayer(layer, hangar, below map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(layer))
	active := make(map[string]bool)

	var lookup func(name string) (string, bool)
	lookup = func(name string) (string, bool) {
		if value, ok := hangar[name]; ok {
			return value, true
		}
		if value, ok := resolved[name]; ok {
			return value, true
		}
		if raw, ok := layer[name]; ok && !active[name] {
			active[name] = true
			expanded, err := pipeline.Interpolate(raw, lookup)
			active[name] = false
			if err == nil {
				resolved[name] = expanded
				return expanded, true
			}
		}
		if value, ok := below[name]; ok {
			return value, true
		}
		return os.LookupEnv(name)
	}

	for _, name := range slices.Sorted(maps.Keys(layer)) {
		if _, done := resolved[name]; done {
			continue
		}
		active[name] = true
		expanded, err := pipeline.Interpolate(layer[name], lookup)
		active[name] = false
		if err != nil {
			return nil, &EnvironmentError{Name: name, Err: err}
		}
		resolved[name] = expanded
	}
	return resolved, nil
}
