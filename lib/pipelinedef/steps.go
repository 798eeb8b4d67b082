// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/hangar-build/hangar/lib/schema/pipeline"
)

var (
	blockKeys   = []string{"block", "label", "name", "prompt", "fields", "blocked_state"}
	inputKeys   = []string{"input", "label", "name", "prompt", "fields"}
	waitKeys    = []string{"wait", "waiter", "continue_on_failure"}
	triggerKeys = []string{"trigger", "label", "name", "async", "build", "skip", "soft_fail"}
	groupKeys   = []string{"group", "label", "name", "steps"}

	fieldKeys        = []string{"text", "select", "key", "hint", "required", "default", "format", "options", "multiple"}
	triggerBuildKeys = []string{"branch", "commit", "message", "env", "meta_data"}
)

// fieldKeyPattern matches block and input field keys.
var fieldKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-/]+$`)

// notificationKinds are the accepted notify channels.
var notificationKinds = []string{
	"email", "slack", "webhook", "pagerduty_change_event",
	"github_commit_status", "github_check",
}

func (d *decoder) block(path string, m *mapping, base *pipeline.Base) *pipeline.BlockStep {
	d.closedKeys(path, m, pipeline.KindBlock, blockKeys, baseKeys)
	d.taggedLabel(path, m, base, "block")
	block := &pipeline.BlockStep{}
	if value, ok := m.get("prompt"); ok {
		block.Prompt, _ = d.text(path+".prompt", value)
	}
	if value, ok := m.get("fields"); ok {
		block.Fields = d.fields(path+".fields", value)
	}
	if value, ok := m.get("blocked_state"); ok {
		state, _ := d.text(path+".blocked_state", value)
		switch state {
		case "passed", "failed", "running":
			block.BlockedState = state
		default:
			d.addf(path+".blocked_state", "must be passed, failed, or running, got %q", state)
		}
	}
	return block
}

func (d *decoder) input(path string, m *mapping, base *pipeline.Base) *pipeline.InputStep {
	d.closedKeys(path, m, pipeline.KindInput, inputKeys, baseKeys)
	d.taggedLabel(path, m, base, "input")
	input := &pipeline.InputStep{}
	if value, ok := m.get("prompt"); ok {
		input.Prompt, _ = d.text(path+".prompt", value)
	}
	if value, ok := m.get("fields"); ok {
		input.Fields = d.fields(path+".fields", value)
	}
	return input
}

func (d *decoder) fields(path string, value any) []pipeline.Field {
	items, ok := d.list(path, value)
	if !ok {
		return nil
	}
	var fields []pipeline.Field
	seen := make(map[string]bool)
	for index, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, index)
		m, ok := d.asMapping(itemPath, item)
		if !ok {
			continue
		}
		field, ok := d.field(itemPath, m)
		if !ok {
			continue
		}
		if seen[field.Key] {
			d.addf(itemPath+".key", "duplicate field key %q", field.Key)
		}
		seen[field.Key] = true
		fields = append(fields, field)
	}
	return fields
}

func (d *decoder) field(path string, m *mapping) (pipeline.Field, bool) {
	d.closedKeys(path, m, "", fieldKeys)
	field := pipeline.Field{Required: true}

	text, isText := m.get("text")
	selectLabel, isSelect := m.get("select")
	switch {
	case isText && isSelect:
		d.addf(path, "set text or select, not both")
		return field, false
	case isText:
		field.Kind = pipeline.FieldText
		field.Label, _ = d.text(path+".text", text)
	case isSelect:
		field.Kind = pipeline.FieldSelect
		field.Label, _ = d.text(path+".select", selectLabel)
	default:
		d.addf(path, "a field needs text or select")
		return field, false
	}

	keyValue, ok := m.get("key")
	if !ok {
		d.addf(path, "key is required")
	} else if key, ok := d.text(path+".key", keyValue); ok {
		if !fieldKeyPattern.MatchString(key) {
			d.addf(path+".key", "%q may only contain letters, digits, and the characters _ - /", key)
		}
		field.Key = key
	}
	if value, ok := m.get("hint"); ok {
		field.Hint, _ = d.text(path+".hint", value)
	}
	if value, ok := m.get("required"); ok {
		field.Required, _ = d.boolean(path+".required", value)
	}

	if field.Kind == pipeline.FieldText {
		for _, name := range []string{"options", "multiple"} {
			if m.has(name) {
				d.addf(path+"."+name, "only applies to select fields")
			}
		}
		if value, ok := m.get("format"); ok {
			if format, ok := d.text(path+".format", value); ok {
				if _, err := regexp.Compile(format); err != nil {
					d.addf(path+".format", "invalid regular expression: %v", err)
				}
				field.Format = format
			}
		}
		if value, ok := m.get("default"); ok {
			if text, ok := d.text(path+".default", value); ok {
				field.Default = []string{text}
			}
		}
		return field, true
	}

	if m.has("format") {
		d.addf(path+".format", "only applies to text fields")
	}
	if value, ok := m.get("multiple"); ok {
		field.Multiple, _ = d.boolean(path+".multiple", value)
	}
	options, ok := m.get("options")
	if !ok {
		d.addf(path, "options is required for select fields")
	} else {
		field.Options = d.options(path+".options", options)
	}
	if value, ok := m.get("default"); ok {
		field.Default = d.stringList(path+".default", value)
		if len(field.Default) > 1 && !field.Multiple {
			d.addf(path+".default", "only multiple select fields take several defaults")
		}
		for _, selected := range field.Default {
			if !slices.ContainsFunc(field.Options, func(option pipeline.Option) bool { return option.Value == selected }) {
				d.addf(path+".default", "%q is not one of the options", selected)
			}
		}
	}
	return field, true
}

func (d *decoder) options(path string, value any) []pipeline.Option {
	items, ok := d.list(path, value)
	if !ok {
		return nil
	}
	if len(items) == 0 {
		d.addf(path, "at least one option is required")
	}
	var options []pipeline.Option
	for index, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, index)
		m, ok := d.asMapping(itemPath, item)
		if !ok {
			continue
		}
		d.closedKeys(itemPath, m, "", []string{"label", "value", "hint"})
		var option pipeline.Option
		if label, ok := m.get("label"); ok {
			option.Label, _ = d.text(itemPath+".label", label)
		} else {
			d.addf(itemPath, "label is required")
		}
		if optionValue, ok := m.get("value"); ok {
			option.Value, _ = d.scalar(itemPath+".value", optionValue)
		} else {
			d.addf(itemPath, "value is required")
		}
		if hint, ok := m.get("hint"); ok {
			option.Hint, _ = d.text(itemPath+".hint", hint)
		}
		for _, existing := range options {
			if existing.Value == option.Value {
				d.addf(itemPath+".value", "duplicate option value %q", option.Value)
			}
		}
		options = append(options, option)
	}
	return options
}

func (d *decoder) wait(path string, m *mapping, base *pipeline.Base) *pipeline.WaitStep {
	d.closedKeys(path, m, pipeline.KindWait, waitKeys, baseKeys)
	if m.has("wait") && m.has("waiter") {
		d.addf(path, "set wait or waiter, not both")
	}
	for _, tag := range []string{"wait", "waiter"} {
		if value, ok := m.get(tag); ok && value != nil {
			base.Label, _ = d.text(path+"."+tag, value)
		}
	}
	wait := &pipeline.WaitStep{}
	if value, ok := m.get("continue_on_failure"); ok {
		wait.ContinueOnFailure, _ = d.boolean(path+".continue_on_failure", value)
	}
	return wait
}

func (d *decoder) trigger(path string, m *mapping, base *pipeline.Base) *pipeline.TriggerStep {
	d.closedKeys(path, m, pipeline.KindTrigger, triggerKeys, baseKeys)
	d.label(path, m, base, "label", "name")
	trigger := &pipeline.TriggerStep{}

	value, ok := m.get("trigger")
	if !ok {
		d.addf(path, "trigger is required")
	} else if target, ok := d.text(path+".trigger", value); ok {
		if target == "" {
			d.addf(path+".trigger", "must name a pipeline")
		}
		trigger.Pipeline = target
	}
	if value, ok := m.get("async"); ok {
		trigger.Async, _ = d.boolean(path+".async", value)
	}
	if value, ok := m.get("skip"); ok {
		trigger.Skip = d.skip(path+".skip", value)
	}
	if value, ok := m.get("soft_fail"); ok {
		trigger.SoftFail, _ = d.boolean(path+".soft_fail", value)
	}
	if value, ok := m.get("build"); ok {
		buildPath := path + ".build"
		if build, ok := d.asMapping(buildPath, value); ok {
			d.closedKeys(buildPath, build, "", triggerBuildKeys)
			trigger.Build = &pipeline.TriggerBuild{}
			if value, ok := build.get("branch"); ok {
				trigger.Build.Branch, _ = d.text(buildPath+".branch", value)
			}
			if value, ok := build.get("commit"); ok {
				trigger.Build.Commit, _ = d.text(buildPath+".commit", value)
			}
			if value, ok := build.get("message"); ok {
				trigger.Build.Message, _ = d.text(buildPath+".message", value)
			}
			if value, ok := build.get("env"); ok {
				trigger.Build.Env = d.stringMap(buildPath+".env", value)
			}
			if value, ok := build.get("meta_data"); ok {
				trigger.Build.MetaData = d.stringMap(buildPath+".meta_data", value)
			}
		}
	}
	return trigger
}

func (d *decoder) group(path string, m *mapping, base *pipeline.Base) *pipeline.GroupStep {
	d.closedKeys(path, m, pipeline.KindGroup, groupKeys, baseKeys)
	d.taggedLabel(path, m, base, "group")
	group := &pipeline.GroupStep{}

	value, ok := m.get("steps")
	if !ok {
		d.addf(path, "steps is required")
		return group
	}
	items, ok := d.list(path+".steps", value)
	if !ok {
		return group
	}
	if len(items) == 0 {
		d.addf(path+".steps", "at least one step is required")
	}
	for index, item := range items {
		if step, ok := d.step(fmt.Sprintf("%s.steps[%d]", path, index), item, true); ok {
			group.Steps = append(group.Steps, step)
		}
	}
	return group
}

func (d *decoder) notifications(path string, value any) []pipeline.Notification {
	items, ok := d.list(path, value)
	if !ok {
		return nil
	}
	var notifications []pipeline.Notification
	for index, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, index)
		if kind, isString := item.(string); isString {
			if !slices.Contains(notificationKinds, kind) {
				d.addf(itemPath, "unknown notification %q", kind)
				continue
			}
			notifications = append(notifications, pipeline.Notification{Kind: kind})
			continue
		}
		m, ok := d.asMapping(itemPath, item)
		if !ok {
			continue
		}
		var notification pipeline.Notification
		for _, key := range m.keys {
			entry := m.values[key]
			switch {
			case key == "if":
				notification.If, _ = d.text(itemPath+".if", entry)
			case slices.Contains(notificationKinds, key):
				if notification.Kind != "" {
					d.addf(itemPath, "set one channel per notification, got %s and %s", notification.Kind, key)
					continue
				}
				notification.Kind = key
				switch target := entry.(type) {
				case nil:
				case string:
					notification.Target = target
				case *mapping:
					notification.Options = plainValue(target).(map[string]any)
				default:
					d.addf(itemPath+"."+key, "expected a string or a mapping, got %s", typeName(entry))
				}
			default:
				d.addf(itemPath, "unknown notification key %q", key)
			}
		}
		if notification.Kind == "" {
			d.addf(itemPath, "a notification needs one of %v", notificationKinds)
			continue
		}
		notifications = append(notifications, notification)
	}
	return notifications
}
