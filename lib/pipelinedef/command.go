// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"maps"
	"regexp"
	"slices"

	"github.com/hangar-build/hangar/lib/artifact"
	stepgraph "github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/schema/pipeline"
)

var commandKeys = []string{
	"command", "commands", "label", "name", "agents", "artifact_paths",
	"timeout_in_minutes", "env", "secrets", "plugins", "parallelism",
	"concurrency", "concurrency_group", "concurrency_method", "matrix",
	"retry", "skip", "soft_fail",
}

// environmentNamePattern matches variable names a secret can be
// exported under.
var environmentNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dimensionNamePattern matches the names {{matrix.NAME}} can refer to.
var dimensionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Matrix size limits.
const (
	maxMatrixDimensions  = 6
	maxMatrixValues      = 20
	maxMatrixAdjustments = 12
)

// signalReasons are the accepted retry signal_reason values.
var signalReasons = []string{
	"*", "none", "cancel", "timeout", "agent_stop", "agent_refused",
	"process_run_error", "signature_rejected",
}

func (d *decoder) command(path string, m *mapping, base *pipeline.Base) *pipeline.CommandStep {
	d.closedKeys(path, m, pipeline.KindCommand, commandKeys, baseKeys)
	d.label(path, m, base, "label", "name")

	command := &pipeline.CommandStep{}
	if m.has("command") && m.has("commands") {
		d.addf(path, "set command or commands, not both")
	}
	for _, name := range []string{"command", "commands"} {
		if value, ok := m.get(name); ok {
			command.Commands = d.stringList(path+"."+name, value)
		}
	}
	if value, ok := m.get("agents"); ok {
		command.Agents = d.agents(path+".agents", value)
	}
	if value, ok := m.get("artifact_paths"); ok {
		command.ArtifactPaths = d.artifactPaths(path+".artifact_paths", value)
	}
	if value, ok := m.get("timeout_in_minutes"); ok {
		command.TimeoutInMinutes = d.positiveInt(path+".timeout_in_minutes", value)
	}
	if value, ok := m.get("env"); ok {
		command.Env = d.stringMap(path+".env", value)
	}
	if value, ok := m.get("secrets"); ok {
		command.Secrets = d.secrets(path+".secrets", value)
	}
	if value, ok := m.get("plugins"); ok {
		command.Plugins = d.plugins(path+".plugins", value)
	}
	if value, ok := m.get("parallelism"); ok {
		command.Parallelism = d.positiveInt(path+".parallelism", value)
	}
	d.concurrency(path, m, command)
	if value, ok := m.get("matrix"); ok {
		command.Matrix = d.matrix(path+".matrix", value)
	}
	if value, ok := m.get("retry"); ok {
		command.Retry = d.retry(path+".retry", value)
	}
	if value, ok := m.get("skip"); ok {
		command.Skip = d.skip(path+".skip", value)
	}
	if value, ok := m.get("soft_fail"); ok {
		command.SoftFail = d.softFail(path+".soft_fail", value)
	}

	if command.Matrix != nil {
		if command.Parallelism > 1 {
			d.addf(path, "matrix and parallelism cannot be combined")
		}
		d.matrixTokens(path, *base, command)
	}
	return command
}

func (d *decoder) agents(path string, value any) pipeline.AgentQuery {
	query, err := stepgraph.NormalizeAgents(plainValue(value))
	if err != nil {
		d.addf(path, "%v", err)
		return nil
	}
	return query
}

// artifactPaths accepts a list or a ";"-separated string of globs.
func (d *decoder) artifactPaths(path string, value any) []string {
	var patterns []string
	if text, ok := value.(string); ok {
		patterns = artifact.SplitPatterns(text)
	} else {
		patterns = d.stringList(path, value)
	}
	for _, pattern := range patterns {
		if err := artifact.ValidatePattern(pattern); err != nil {
			d.addf(path, "%v", err)
		}
	}
	return patterns
}

// secrets accepts a list of names (exported under the same name) or
// a mapping from environment variable to secret key.
func (d *decoder) secrets(path string, value any) map[string]string {
	var secrets map[string]string
	if list, ok := value.([]any); ok {
		secrets = make(map[string]string, len(list))
		for index, item := range list {
			if name, ok := d.text(fmt.Sprintf("%s[%d]", path, index), item); ok {
				secrets[name] = name
			}
		}
	} else {
		secrets = d.stringMap(path, value)
	}
	for name, key := range secrets {
		if !environmentNamePattern.MatchString(name) {
			d.addf(path, "%q is not a valid environment variable name", name)
		}
		if key == "" {
			d.addf(path+"."+name, "secret key must not be empty")
		}
	}
	return secrets
}

// plugins accepts a list of names or single-key mappings, or a
// mapping from name to configuration.
func (d *decoder) plugins(path string, value any) []pipeline.Plugin {
	switch typed := value.(type) {
	case *mapping:
		var plugins []pipeline.Plugin
		for _, name := range typed.keys {
			plugins = append(plugins, pipeline.Plugin{Name: name, Config: plainValue(typed.values[name])})
		}
		return plugins
	case []any:
		var plugins []pipeline.Plugin
		for index, item := range typed {
			itemPath := fmt.Sprintf("%s[%d]", path, index)
			switch entry := item.(type) {
			case string:
				plugins = append(plugins, pipeline.Plugin{Name: entry})
			case *mapping:
				if len(entry.keys) != 1 {
					d.addf(itemPath, "a plugin mapping must have exactly one key, got %d", len(entry.keys))
					continue
				}
				name := entry.keys[0]
				plugins = append(plugins, pipeline.Plugin{Name: name, Config: plainValue(entry.values[name])})
			default:
				d.addf(itemPath, "expected a plugin name or mapping, got %s", typeName(item))
			}
		}
		return plugins
	default:
		d.addf(path, "expected a list or a mapping, got %s", typeName(value))
		return nil
	}
}

func (d *decoder) concurrency(path string, m *mapping, command *pipeline.CommandStep) {
	limit, hasLimit := m.get("concurrency")
	group, hasGroup := m.get("concurrency_group")
	if hasLimit {
		command.Concurrency = d.positiveInt(path+".concurrency", limit)
	}
	if hasGroup {
		command.ConcurrencyGroup, _ = d.text(path+".concurrency_group", group)
	}
	if hasLimit != hasGroup {
		d.addf(path, "concurrency and concurrency_group must be set together")
	}
	if value, ok := m.get("concurrency_method"); ok {
		method, _ := d.text(path+".concurrency_method", value)
		switch pipeline.ConcurrencyMethod(method) {
		case pipeline.ConcurrencyOrdered, pipeline.ConcurrencyEager:
			command.ConcurrencyMethod = pipeline.ConcurrencyMethod(method)
		default:
			d.addf(path+".concurrency_method", "must be ordered or eager, got %q", method)
		}
		if !hasLimit {
			d.addf(path+".concurrency_method", "requires concurrency")
		}
	}
}

func (d *decoder) skip(path string, value any) pipeline.Skip {
	switch typed := value.(type) {
	case bool:
		return pipeline.Skip{Skipped: typed}
	case string:
		return pipeline.Skip{Skipped: typed != "", Reason: typed}
	default:
		d.addf(path, "expected a boolean or a reason, got %s", typeName(value))
		return pipeline.Skip{}
	}
}

// softFail accepts a boolean or a list of {exit_status} rules, where
// "*" soft-fails every status.
func (d *decoder) softFail(path string, value any) pipeline.SoftFail {
	switch typed := value.(type) {
	case bool:
		return pipeline.SoftFail{All: typed}
	case []any:
		var softFail pipeline.SoftFail
		for index, item := range typed {
			itemPath := fmt.Sprintf("%s[%d]", path, index)
			rule, ok := d.asMapping(itemPath, item)
			if !ok {
				continue
			}
			d.closedKeys(itemPath, rule, "", []string{"exit_status"})
			status, ok := rule.get("exit_status")
			if !ok {
				d.addf(itemPath, "exit_status is required")
				continue
			}
			if status == "*" {
				softFail.All = true
				continue
			}
			if code, ok := d.integer(itemPath+".exit_status", status); ok {
				softFail.ExitStatuses = append(softFail.ExitStatuses, code)
			}
		}
		if softFail.All {
			softFail.ExitStatuses = nil
		}
		return softFail
	default:
		d.addf(path, "expected a boolean or a list of exit_status rules, got %s", typeName(value))
		return pipeline.SoftFail{}
	}
}

func (d *decoder) retry(path string, value any) *pipeline.Retry {
	m, ok := d.asMapping(path, value)
	if !ok {
		return nil
	}
	d.closedKeys(path, m, "", []string{"automatic", "manual"})
	retry := &pipeline.Retry{}

	if value, ok := m.get("automatic"); ok {
		automaticPath := path + ".automatic"
		switch typed := value.(type) {
		case bool:
			if typed {
				retry.Automatic = []pipeline.AutomaticRetry{{
					ExitStatus: pipeline.ExitStatusMatch{Any: true},
					Limit:      pipeline.DefaultRetryLimit,
				}}
			}
		case *mapping:
			if rule, ok := d.retryRule(automaticPath, typed); ok {
				retry.Automatic = append(retry.Automatic, rule)
			}
		case []any:
			for index, item := range typed {
				itemPath := fmt.Sprintf("%s[%d]", automaticPath, index)
				ruleMapping, ok := d.asMapping(itemPath, item)
				if !ok {
					continue
				}
				if rule, ok := d.retryRule(itemPath, ruleMapping); ok {
					retry.Automatic = append(retry.Automatic, rule)
				}
			}
		default:
			d.addf(automaticPath, "expected a boolean, a rule, or a list of rules, got %s", typeName(value))
		}
	}

	if value, ok := m.get("manual"); ok {
		manualPath := path + ".manual"
		switch typed := value.(type) {
		case bool:
			retry.Manual = &pipeline.ManualRetry{Allowed: typed}
		case *mapping:
			d.closedKeys(manualPath, typed, "", []string{"allowed", "permit_on_passed", "reason"})
			manual := &pipeline.ManualRetry{Allowed: true}
			if allowed, ok := typed.get("allowed"); ok {
				manual.Allowed, _ = d.boolean(manualPath+".allowed", allowed)
			}
			if permit, ok := typed.get("permit_on_passed"); ok {
				manual.PermitOnPassed, _ = d.boolean(manualPath+".permit_on_passed", permit)
			}
			if reason, ok := typed.get("reason"); ok {
				manual.Reason, _ = d.text(manualPath+".reason", reason)
			}
			retry.Manual = manual
		default:
			d.addf(manualPath, "expected a boolean or a mapping, got %s", typeName(value))
		}
	}
	return retry
}

func (d *decoder) retryRule(path string, m *mapping) (pipeline.AutomaticRetry, bool) {
	d.closedKeys(path, m, "", []string{"exit_status", "signal", "signal_reason", "limit"})
	rule := pipeline.AutomaticRetry{Limit: pipeline.DefaultRetryLimit}
	valid := true

	if value, ok := m.get("exit_status"); ok {
		switch typed := value.(type) {
		case string:
			if typed != "*" {
				d.addf(path+".exit_status", "expected \"*\", an integer, or a list of integers, got %q", typed)
				valid = false
			}
			rule.ExitStatus.Any = true
		case int64:
			rule.ExitStatus.Codes = []int{int(typed)}
		case []any:
			for index, item := range typed {
				if code, ok := d.integer(fmt.Sprintf("%s.exit_status[%d]", path, index), item); ok {
					rule.ExitStatus.Codes = append(rule.ExitStatus.Codes, code)
				} else {
					valid = false
				}
			}
		default:
			d.addf(path+".exit_status", "expected \"*\", an integer, or a list of integers, got %s", typeName(value))
			valid = false
		}
	}
	if value, ok := m.get("signal"); ok {
		rule.Signal, _ = d.text(path+".signal", value)
	}
	if value, ok := m.get("signal_reason"); ok {
		reason, _ := d.text(path+".signal_reason", value)
		if !slices.Contains(signalReasons, reason) {
			d.addf(path+".signal_reason", "unknown signal reason %q", reason)
			valid = false
		}
		rule.SignalReason = reason
	}
	if value, ok := m.get("limit"); ok {
		limit, ok := d.integer(path+".limit", value)
		if ok && (limit < 0 || limit > pipeline.MaxRetryLimit) {
			d.addf(path+".limit", "must be between 0 and %d, got %d", pipeline.MaxRetryLimit, limit)
			valid = false
		}
		rule.Limit = limit
	}
	return rule, valid
}

func (d *decoder) matrix(path string, value any) *pipeline.Matrix {
	matrix := &pipeline.Matrix{}
	switch typed := value.(type) {
	case []any:
		matrix.Setup = []pipeline.Dimension{{Values: d.matrixValues(path, typed)}}
		return matrix
	case *mapping:
		d.closedKeys(path, typed, "", []string{"setup", "adjustments"})
		setup, ok := typed.get("setup")
		if !ok {
			d.addf(path, "setup is required")
			return matrix
		}
		switch dimensions := setup.(type) {
		case []any:
			matrix.Setup = []pipeline.Dimension{{Values: d.matrixValues(path+".setup", dimensions)}}
		case *mapping:
			if len(dimensions.keys) == 0 {
				d.addf(path+".setup", "at least one dimension is required")
			}
			if len(dimensions.keys) > maxMatrixDimensions {
				d.addf(path+".setup", "at most %d dimensions are allowed, got %d", maxMatrixDimensions, len(dimensions.keys))
			}
			for _, name := range dimensions.keys {
				dimensionPath := path + ".setup." + name
				if !dimensionNamePattern.MatchString(name) {
					d.addf(dimensionPath, "dimension names may only contain letters, digits, _ and -")
				}
				items, ok := d.list(dimensionPath, dimensions.values[name])
				if !ok {
					continue
				}
				matrix.Setup = append(matrix.Setup, pipeline.Dimension{Name: name, Values: d.matrixValues(dimensionPath, items)})
			}
		default:
			d.addf(path+".setup", "expected a list or a mapping of dimensions, got %s", typeName(setup))
			return matrix
		}
		if adjustments, ok := typed.get("adjustments"); ok {
			matrix.Adjustments = d.adjustments(path+".adjustments", matrix, adjustments)
		}
		return matrix
	default:
		d.addf(path, "expected a list of values or a mapping with setup, got %s", typeName(value))
		return nil
	}
}

func (d *decoder) matrixValues(path string, items []any) []string {
	if len(items) == 0 {
		d.addf(path, "at least one value is required")
	}
	if len(items) > maxMatrixValues {
		d.addf(path, "at most %d values are allowed, got %d", maxMatrixValues, len(items))
	}
	values := make([]string, 0, len(items))
	for index, item := range items {
		text, ok := d.scalar(fmt.Sprintf("%s[%d]", path, index), item)
		if !ok {
			continue
		}
		if slices.Contains(values, text) {
			d.addf(path, "duplicate value %q", text)
			continue
		}
		values = append(values, text)
	}
	return values
}

func (d *decoder) adjustments(path string, matrix *pipeline.Matrix, value any) []pipeline.Adjustment {
	items, ok := d.list(path, value)
	if !ok {
		return nil
	}
	if len(items) > maxMatrixAdjustments {
		d.addf(path, "at most %d adjustments are allowed, got %d", maxMatrixAdjustments, len(items))
	}
	var adjustments []pipeline.Adjustment
	for index, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, index)
		m, ok := d.asMapping(itemPath, item)
		if !ok {
			continue
		}
		d.closedKeys(itemPath, m, "", []string{"with", "skip", "soft_fail"})
		with, ok := m.get("with")
		if !ok {
			d.addf(itemPath, "with is required")
			continue
		}
		adjustment := pipeline.Adjustment{With: d.adjustmentWith(itemPath+".with", matrix, with)}
		if adjustment.With == nil {
			continue
		}
		if skip, ok := m.get("skip"); ok {
			adjustment.Skip = d.skip(itemPath+".skip", skip)
		}
		if softFail, ok := m.get("soft_fail"); ok {
			adjustment.SoftFail = d.softFail(itemPath+".soft_fail", softFail)
		}
		adjustments = append(adjustments, adjustment)
	}
	return adjustments
}

// adjustmentWith decodes a combination. The simple form takes a
// scalar; the named form must give a value for every dimension.
func (d *decoder) adjustmentWith(path string, matrix *pipeline.Matrix, value any) map[string]string {
	if matrix.IsSimple() {
		text, ok := d.scalar(path, value)
		if !ok {
			return nil
		}
		return map[string]string{"": text}
	}
	m, ok := d.asMapping(path, value)
	if !ok {
		return nil
	}
	with := make(map[string]string, len(m.keys))
	valid := true
	for _, name := range m.keys {
		if _, known := matrix.Dimension(name); !known {
			d.addf(path, "unknown dimension %q", name)
			valid = false
			continue
		}
		text, ok := d.scalar(path+"."+name, m.values[name])
		if !ok {
			valid = false
			continue
		}
		with[name] = text
	}
	for _, dimension := range matrix.Setup {
		if _, given := with[dimension.Name]; !given && valid {
			d.addf(path, "missing a value for dimension %q", dimension.Name)
			valid = false
		}
	}
	if !valid {
		return nil
	}
	return with
}

// matrixTokens checks that every {{matrix}} token names a dimension.
func (d *decoder) matrixTokens(path string, base pipeline.Base, command *pipeline.CommandStep) {
	texts := []string{base.Label}
	texts = append(texts, command.Commands...)
	texts = append(texts, command.ArtifactPaths...)
	texts = append(texts, slices.Sorted(maps.Values(command.Env))...)
	texts = append(texts, slices.Sorted(maps.Values(command.Agents))...)
	reported := make(map[string]bool)
	for _, text := range texts {
		for _, name := range stepgraph.MatrixTokens(text) {
			_, known := command.Matrix.Dimension(name)
			if command.Matrix.IsSimple() {
				known = name == ""
			}
			if known || reported[name] {
				continue
			}
			reported[name] = true
			if name == "" {
				d.addf(path, "{{matrix}} needs a dimension name in a named matrix")
			} else {
				d.addf(path, "{{matrix.%s}} refers to an unknown dimension", name)
			}
		}
	}
}
