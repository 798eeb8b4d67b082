// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/hangar-build/hangar/lib/schema/pipeline"
)

// Marshal serializes a pipeline. Parsing the output yields the same
// pipeline after Normalize. Tagged step values carry labels
// (block: "Release"), and mapping keys follow a fixed order.
func Marshal(p *pipeline.Pipeline, format Format) ([]byte, error) {
	document := encodePipeline(p)
	switch format {
	case FormatYAML:
		node, err := toYAMLNode(document)
		if err != nil {
			return nil, fmt.Errorf("encoding pipeline: %w", err)
		}
		var buffer bytes.Buffer
		encoder := yaml.NewEncoder(&buffer)
		encoder.SetIndent(2)
		if err := encoder.Encode(node); err != nil {
			return nil, fmt.Errorf("encoding pipeline: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return nil, fmt.Errorf("encoding pipeline: %w", err)
		}
		return buffer.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(document, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding pipeline: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, &UnsupportedFormatError{Format: string(format)}
	}
}

func encodePipeline(p *pipeline.Pipeline) *mapping {
	document := newMapping()
	if p.Env != nil {
		document.set("env", stringMapping(p.Env))
	}
	if p.Agents != nil {
		document.set("agents", stringMapping(p.Agents))
	}
	if p.Notify != nil {
		notify := make([]any, 0, len(p.Notify))
		for _, notification := range p.Notify {
			notify = append(notify, encodeNotification(notification))
		}
		document.set("notify", notify)
	}
	document.set("steps", encodeSteps(p.Steps))
	return document
}

func encodeSteps(steps []pipeline.Step) []any {
	encoded := make([]any, 0, len(steps))
	for _, step := range steps {
		encoded = append(encoded, encodeStep(step))
	}
	return encoded
}

func encodeStep(step pipeline.Step) *mapping {
	m := newMapping()
	switch {
	case step.Block != nil:
		m.set("block", optionalString(step.Label))
	case step.Input != nil:
		m.set("input", optionalString(step.Label))
	case step.Wait != nil:
		m.set("wait", optionalString(step.Label))
	case step.Group != nil:
		m.set("group", optionalString(step.Label))
	case step.Trigger != nil:
		m.set("trigger", step.Trigger.Pipeline)
		setString(m, "label", step.Label)
	case step.Command != nil:
		setString(m, "label", step.Label)
	}
	encodeBase(m, step.Base)

	switch {
	case step.Command != nil:
		encodeCommand(m, step.Command)
	case step.Block != nil:
		setString(m, "prompt", step.Block.Prompt)
		encodeFields(m, step.Block.Fields)
		setString(m, "blocked_state", step.Block.BlockedState)
	case step.Input != nil:
		setString(m, "prompt", step.Input.Prompt)
		encodeFields(m, step.Input.Fields)
	case step.Wait != nil:
		if step.Wait.ContinueOnFailure {
			m.set("continue_on_failure", true)
		}
	case step.Trigger != nil:
		encodeTrigger(m, step.Trigger)
	case step.Group != nil:
		m.set("steps", encodeSteps(step.Group.Steps))
	}
	return m
}

func encodeBase(m *mapping, base pipeline.Base) {
	setString(m, "key", base.Key)
	if base.DependsOn != nil {
		dependencies := make([]any, 0, len(base.DependsOn))
		for _, dependency := range base.DependsOn {
			if !dependency.AllowFailure {
				dependencies = append(dependencies, dependency.Step)
				continue
			}
			entry := newMapping()
			entry.set("step", dependency.Step)
			entry.set("allow_failure", true)
			dependencies = append(dependencies, entry)
		}
		m.set("depends_on", dependencies)
	}
	if base.AllowDependencyFailure {
		m.set("allow_dependency_failure", true)
	}
	setString(m, "if", base.If)
	setString(m, "branches", base.Branches)
}

func encodeCommand(m *mapping, command *pipeline.CommandStep) {
	switch {
	case command.Commands == nil:
		m.set("type", string(pipeline.KindCommand))
	case len(command.Commands) == 1:
		m.set("command", command.Commands[0])
	default:
		m.set("command", stringList(command.Commands))
	}
	if command.Agents != nil {
		m.set("agents", stringMapping(command.Agents))
	}
	if command.Env != nil {
		m.set("env", stringMapping(command.Env))
	}
	if command.Secrets != nil {
		m.set("secrets", stringMapping(command.Secrets))
	}
	if command.ArtifactPaths != nil {
		m.set("artifact_paths", stringList(command.ArtifactPaths))
	}
	setInt(m, "timeout_in_minutes", command.TimeoutInMinutes)
	setInt(m, "parallelism", command.Parallelism)
	setInt(m, "concurrency", command.Concurrency)
	setString(m, "concurrency_group", command.ConcurrencyGroup)
	setString(m, "concurrency_method", string(command.ConcurrencyMethod))
	if command.Matrix != nil {
		m.set("matrix", encodeMatrix(command.Matrix))
	}
	if command.Retry != nil {
		m.set("retry", encodeRetry(command.Retry))
	}
	if skip := encodeSkip(command.Skip); skip != nil {
		m.set("skip", skip)
	}
	if softFail := encodeSoftFail(command.SoftFail); softFail != nil {
		m.set("soft_fail", softFail)
	}
	if command.Plugins != nil {
		plugins := make([]any, 0, len(command.Plugins))
		for _, plugin := range command.Plugins {
			if plugin.Config == nil {
				plugins = append(plugins, plugin.Name)
				continue
			}
			entry := newMapping()
			entry.set(plugin.Name, plugin.Config)
			plugins = append(plugins, entry)
		}
		m.set("plugins", plugins)
	}
}

func encodeMatrix(matrix *pipeline.Matrix) any {
	if matrix.IsSimple() && matrix.Adjustments == nil {
		return stringList(matrix.Setup[0].Values)
	}
	m := newMapping()
	if matrix.IsSimple() {
		m.set("setup", stringList(matrix.Setup[0].Values))
	} else {
		setup := newMapping()
		for _, dimension := range matrix.Setup {
			setup.set(dimension.Name, stringList(dimension.Values))
		}
		m.set("setup", setup)
	}
	if matrix.Adjustments != nil {
		adjustments := make([]any, 0, len(matrix.Adjustments))
		for _, adjustment := range matrix.Adjustments {
			entry := newMapping()
			if matrix.IsSimple() {
				entry.set("with", adjustment.With[""])
			} else {
				with := newMapping()
				for _, dimension := range matrix.Setup {
					with.set(dimension.Name, adjustment.With[dimension.Name])
				}
				entry.set("with", with)
			}
			if skip := encodeSkip(adjustment.Skip); skip != nil {
				entry.set("skip", skip)
			}
			if softFail := encodeSoftFail(adjustment.SoftFail); softFail != nil {
				entry.set("soft_fail", softFail)
			}
			adjustments = append(adjustments, entry)
		}
		m.set("adjustments", adjustments)
	}
	return m
}

func encodeRetry(retry *pipeline.Retry) *mapping {
	m := newMapping()
	if retry.Automatic != nil {
		rules := make([]any, 0, len(retry.Automatic))
		for _, rule := range retry.Automatic {
			entry := newMapping()
			switch {
			case rule.ExitStatus.Any:
				entry.set("exit_status", "*")
			case len(rule.ExitStatus.Codes) == 1:
				entry.set("exit_status", int64(rule.ExitStatus.Codes[0]))
			case len(rule.ExitStatus.Codes) > 1:
				codes := make([]any, 0, len(rule.ExitStatus.Codes))
				for _, code := range rule.ExitStatus.Codes {
					codes = append(codes, int64(code))
				}
				entry.set("exit_status", codes)
			}
			setString(entry, "signal", rule.Signal)
			setString(entry, "signal_reason", rule.SignalReason)
			entry.set("limit", int64(rule.Limit))
			rules = append(rules, entry)
		}
		m.set("automatic", rules)
	}
	if retry.Manual != nil {
		manual := newMapping()
		manual.set("allowed", retry.Manual.Allowed)
		if retry.Manual.PermitOnPassed {
			manual.set("permit_on_passed", true)
		}
		setString(manual, "reason", retry.Manual.Reason)
		m.set("manual", manual)
	}
	return m
}

func encodeSkip(skip pipeline.Skip) any {
	switch {
	case !skip.Skipped:
		return nil
	case skip.Reason != "":
		return skip.Reason
	default:
		return true
	}
}

func encodeSoftFail(softFail pipeline.SoftFail) any {
	if softFail.All {
		return true
	}
	if len(softFail.ExitStatuses) == 0 {
		return nil
	}
	rules := make([]any, 0, len(softFail.ExitStatuses))
	for _, status := range softFail.ExitStatuses {
		rule := newMapping()
		rule.set("exit_status", int64(status))
		rules = append(rules, rule)
	}
	return rules
}

func encodeFields(m *mapping, fields []pipeline.Field) {
	if fields == nil {
		return
	}
	encoded := make([]any, 0, len(fields))
	for _, field := range fields {
		entry := newMapping()
		entry.set(string(field.Kind), field.Label)
		entry.set("key", field.Key)
		setString(entry, "hint", field.Hint)
		if !field.Required {
			entry.set("required", false)
		}
		setString(entry, "format", field.Format)
		if field.Multiple {
			entry.set("multiple", true)
		}
		if field.Options != nil {
			options := make([]any, 0, len(field.Options))
			for _, option := range field.Options {
				optionEntry := newMapping()
				optionEntry.set("label", option.Label)
				optionEntry.set("value", option.Value)
				setString(optionEntry, "hint", option.Hint)
				options = append(options, optionEntry)
			}
			entry.set("options", options)
		}
		switch {
		case field.Default == nil:
		case field.Kind == pipeline.FieldSelect && field.Multiple:
			entry.set("default", stringList(field.Default))
		default:
			entry.set("default", field.Default[0])
		}
		encoded = append(encoded, entry)
	}
	m.set("fields", encoded)
}

func encodeTrigger(m *mapping, trigger *pipeline.TriggerStep) {
	if trigger.Async {
		m.set("async", true)
	}
	if skip := encodeSkip(trigger.Skip); skip != nil {
		m.set("skip", skip)
	}
	if trigger.SoftFail {
		m.set("soft_fail", true)
	}
	if trigger.Build != nil {
		build := newMapping()
		setString(build, "branch", trigger.Build.Branch)
		setString(build, "commit", trigger.Build.Commit)
		setString(build, "message", trigger.Build.Message)
		if trigger.Build.Env != nil {
			build.set("env", stringMapping(trigger.Build.Env))
		}
		if trigger.Build.MetaData != nil {
			build.set("meta_data", stringMapping(trigger.Build.MetaData))
		}
		m.set("build", build)
	}
}

func encodeNotification(notification pipeline.Notification) any {
	var target any
	switch {
	case notification.Options != nil:
		target = notification.Options
	case notification.Target != "":
		target = notification.Target
	case notification.If == "":
		return notification.Kind
	}
	m := newMapping()
	m.set(notification.Kind, target)
	setString(m, "if", notification.If)
	return m
}

func setString(m *mapping, key, value string) {
	if value != "" {
		m.set(key, value)
	}
}

func setInt(m *mapping, key string, value int) {
	if value != 0 {
		m.set(key, int64(value))
	}
}

func optionalString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func stringList(values []string) []any {
	items := make([]any, len(values))
	for index, value := range values {
		items[index] = value
	}
	return items
}

// stringMapping orders a string map by key.
func stringMapping[M ~map[string]string](values M) *mapping {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	m := newMapping()
	for _, key := range keys {
		m.set(key, values[key])
	}
	return m
}
