// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"maps"
	"strconv"
	"strings"

	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

// Environment variables set on parallel jobs.
const (
	ParallelJobVariable      = "HANGAR_PARALLEL_JOB"
	ParallelJobCountVariable = "HANGAR_PARALLEL_JOB_COUNT"
)

// Flatten returns steps with every group replaced by its children.
// Children inherit the group's depends_on (prepended), its if
// (combined with &&), its branches when they have none, and its
// allow_dependency_failure.
func Flatten(steps []schema.Step) []schema.Step {
	var flat []schema.Step
	for _, step := range steps {
		if step.Group == nil {
			flat = append(flat, step)
			continue
		}
		for _, child := range step.Group.Steps {
			flat = append(flat, inheritGroup(step, child))
		}
	}
	return flat
}

// inheritGroup applies a group's base fields to one child.
func inheritGroup(group, child schema.Step) schema.Step {
	if len(group.DependsOn) > 0 {
		dependencies := make([]schema.Dependency, 0, len(group.DependsOn)+len(child.DependsOn))
		dependencies = append(dependencies, group.DependsOn...)
		dependencies = append(dependencies, child.DependsOn...)
		child.DependsOn = dependencies
	}
	switch {
	case group.If == "":
	case child.If == "":
		child.If = group.If
	default:
		child.If = "(" + group.If + ") && (" + child.If + ")"
	}
	if child.Branches == "" {
		child.Branches = group.Branches
	}
	child.AllowDependencyFailure = child.AllowDependencyFailure || group.AllowDependencyFailure
	return child
}

// Expansion is one concrete step produced by ExpandMatrix or
// ExpandParallelism.
type Expansion struct {
	Step schema.Step

	// Matrix holds the combination's values, nil when not expanded
	// from a matrix.
	Matrix map[string]string

	// ParallelIndex and ParallelCount are set for parallel jobs;
	// ParallelCount is zero otherwise.
	ParallelIndex int
	ParallelCount int
}

// ExpandMatrix returns one Expansion per matrix combination, in
// cartesian order with the first dimension varying slowest, followed
// by combinations added by adjustments. Matrix tokens are substituted
// in the label, commands, env, agents and artifact paths, and
// adjustment skip and soft_fail values are applied. Steps without a
// matrix yield themselves.
func ExpandMatrix(step schema.Step) []Expansion {
	if step.Command == nil || step.Command.Matrix == nil {
		return []Expansion{{Step: step}}
	}
	matrix := step.Command.Matrix

	combinations := cartesian(matrix.Setup)
	adjusted := make([]*schema.Adjustment, len(combinations))
	for index := range matrix.Adjustments {
		adjustment := &matrix.Adjustments[index]
		position := -1
		for candidate, combination := range combinations {
			if maps.Equal(combination, adjustment.With) {
				position = candidate
				break
			}
		}
		if position < 0 {
			combinations = append(combinations, maps.Clone(adjustment.With))
			adjusted = append(adjusted, adjustment)
			continue
		}
		adjusted[position] = adjustment
	}

	expansions := make([]Expansion, 0, len(combinations))
	for index, values := range combinations {
		concrete := substituteStep(step, values)
		if adjustment := adjusted[index]; adjustment != nil {
			if adjustment.Skip.Skipped {
				concrete.Command.Skip = adjustment.Skip
			}
			if !adjustment.SoftFail.IsZero() {
				concrete.Command.SoftFail = adjustment.SoftFail
			}
		}
		expansions = append(expansions, Expansion{Step: concrete, Matrix: values})
	}
	return expansions
}

// cartesian returns every combination of dimension values in
// declaration order.
func cartesian(dimensions []schema.Dimension) []map[string]string {
	combinations := []map[string]string{{}}
	for _, dimension := range dimensions {
		next := make([]map[string]string, 0, len(combinations)*len(dimension.Values))
		for _, partial := range combinations {
			for _, value := range dimension.Values {
				combination := maps.Clone(partial)
				combination[dimension.Name] = value
				next = append(next, combination)
			}
		}
		combinations = next
	}
	return combinations
}

// substituteStep copies step with matrix tokens replaced and the
// matrix removed.
func substituteStep(step schema.Step, values map[string]string) schema.Step {
	command := *step.Command
	command.Matrix = nil

	step.Label = SubstituteMatrix(step.Label, values)
	command.Commands = substituteList(command.Commands, values)
	command.ArtifactPaths = substituteList(command.ArtifactPaths, values)
	command.Env = substituteMap(command.Env, values)
	command.Agents = schema.AgentQuery(substituteMap(command.Agents, values))

	step.Command = &command
	return step
}

func substituteList(items []string, values map[string]string) []string {
	if items == nil {
		return nil
	}
	result := make([]string, len(items))
	for index, item := range items {
		result[index] = SubstituteMatrix(item, values)
	}
	return result
}

func substituteMap(items map[string]string, values map[string]string) map[string]string {
	if items == nil {
		return nil
	}
	result := make(map[string]string, len(items))
	for key, item := range items {
		result[key] = SubstituteMatrix(item, values)
	}
	return result
}

// ExpandParallelism returns parallelism copies of a command step,
// each with HANGAR_PARALLEL_JOB (zero-based) and
// HANGAR_PARALLEL_JOB_COUNT set and "%n" / "%t" in the label replaced
// by the job number and count. Steps with parallelism below 2 yield
// themselves.
func ExpandParallelism(step schema.Step) []Expansion {
	if step.Command == nil || step.Command.Parallelism < 2 {
		return []Expansion{{Step: step}}
	}
	count := step.Command.Parallelism
	expansions := make([]Expansion, 0, count)
	for index := range count {
		concrete := step
		command := *step.Command
		command.Parallelism = 0
		command.Env = maps.Clone(command.Env)
		if command.Env == nil {
			command.Env = make(map[string]string, 2)
		}
		command.Env[ParallelJobVariable] = strconv.Itoa(index)
		command.Env[ParallelJobCountVariable] = strconv.Itoa(count)
		concrete.Command = &command
		concrete.Label = strings.NewReplacer("%n", strconv.Itoa(index), "%t", strconv.Itoa(count)).Replace(step.Label)
		expansions = append(expansions, Expansion{Step: concrete, ParallelIndex: index, ParallelCount: count})
	}
	return expansions
}

// expand applies matrix then parallelism expansion.
func expand(step schema.Step) []Expansion {
	var result []Expansion
	for _, matrixExpansion := range ExpandMatrix(step) {
		for _, parallelExpansion := range ExpandParallelism(matrixExpansion.Step) {
			parallelExpansion.Matrix = matrixExpansion.Matrix
			result = append(result, parallelExpansion)
		}
	}
	return result
}

// matrixSuffix renders a combination in dimension order for job IDs,
// for example "[os=linux,arch=arm64]" or "[3.12]".
func matrixSuffix(matrix *schema.Matrix, values map[string]string) string {
	if values == nil {
		return ""
	}
	if matrix != nil && matrix.IsSimple() {
		return "[" + values[""] + "]"
	}
	var names []string
	if matrix != nil {
		for _, dimension := range matrix.Setup {
			names = append(names, dimension.Name)
		}
	}
	var parts []string
	for _, name := range names {
		if value, ok := values[name]; ok {
			parts = append(parts, name+"="+value)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}
