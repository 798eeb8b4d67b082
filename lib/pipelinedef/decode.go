// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/hangar-build/hangar/lib/schema/pipeline"
)

// stepKeyPattern matches valid step keys. Keys are part of job IDs,
// so "[", "]" and "#" are excluded.
var stepKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]+$`)

const maxKeyLength = 100

// Keys accepted on every step variant.
var baseKeys = []string{"key", "identifier", "if", "depends_on", "allow_dependency_failure", "branches", "type"}

var pipelineKeys = []string{"steps", "env", "agents", "notify"}

// Top-level keys with this prefix are ignored, so they can hold YAML
// anchors for steps to merge.
const extensionPrefix = "x-"

// decoder builds typed values from a document and collects every
// issue instead of stopping at the first.
type decoder struct {
	issues []string

	// keys maps each step key to the path that declared it.
	keys map[string]string
}

func decodeDocument(document any) (*pipeline.Pipeline, error) {
	d := &decoder{keys: make(map[string]string)}
	result := d.document(document)
	if len(d.issues) > 0 {
		return nil, &SchemaError{Issues: d.issues}
	}
	Normalize(result)
	return result, nil
}

func (d *decoder) addf(path, format string, args ...any) {
	d.issues = append(d.issues, path+": "+fmt.Sprintf(format, args...))
}

func (d *decoder) document(document any) *pipeline.Pipeline {
	result := &pipeline.Pipeline{}
	var steps any
	switch typed := document.(type) {
	case []any:
		steps = typed
	case *mapping:
		d.closedKeys("pipeline", typed, "", pipelineKeys)
		value, ok := typed.get("steps")
		if !ok {
			d.addf("pipeline", "steps is required")
			return result
		}
		steps = value
		if value, ok := typed.get("env"); ok {
			result.Env = d.stringMap("env", value)
		}
		if value, ok := typed.get("agents"); ok {
			result.Agents = d.agents("agents", value)
		}
		if value, ok := typed.get("notify"); ok {
			result.Notify = d.notifications("notify", value)
		}
	default:
		d.addf("pipeline", "expected a mapping with steps or a list of steps, got %s", typeName(document))
		return result
	}

	list, ok := d.list("steps", steps)
	if !ok {
		return result
	}
	if len(list) == 0 {
		d.addf("steps", "at least one step is required")
	}
	for index, item := range list {
		if step, ok := d.step(fmt.Sprintf("steps[%d]", index), item, false); ok {
			result.Steps = append(result.Steps, step)
		}
	}
	return result
}

// step decodes one step. inGroup rejects nested groups.
func (d *decoder) step(path string, value any, inGroup bool) (pipeline.Step, bool) {
	var step pipeline.Step
	switch typed := value.(type) {
	case string:
		switch typed {
		case "wait", "waiter":
			step.Wait = &pipeline.WaitStep{}
		case "block":
			step.Block = &pipeline.BlockStep{}
		case "input":
			step.Input = &pipeline.InputStep{}
		default:
			d.addf(path, "unknown step type %q", typed)
			return step, false
		}
		return step, true
	case *mapping:
		kind, ok := d.stepKind(path, typed)
		if !ok {
			return step, false
		}
		d.base(path, typed, &step.Base)
		switch kind {
		case pipeline.KindCommand:
			step.Command = d.command(path, typed, &step.Base)
		case pipeline.KindBlock:
			step.Block = d.block(path, typed, &step.Base)
		case pipeline.KindInput:
			step.Input = d.input(path, typed, &step.Base)
		case pipeline.KindWait:
			step.Wait = d.wait(path, typed, &step.Base)
		case pipeline.KindTrigger:
			step.Trigger = d.trigger(path, typed, &step.Base)
		case pipeline.KindGroup:
			if inGroup {
				d.addf(path, "groups cannot be nested")
				return step, false
			}
			step.Group = d.group(path, typed, &step.Base)
		}
		return step, true
	default:
		d.addf(path, "expected a step mapping or one of \"wait\", \"block\", \"input\", got %s", typeName(value))
		return step, false
	}
}

// stepKind picks the variant from the tag keys present, checked
// against an explicit type key.
func (d *decoder) stepKind(path string, m *mapping) (pipeline.StepKind, bool) {
	var tags []pipeline.StepKind
	if m.has("command") || m.has("commands") {
		tags = append(tags, pipeline.KindCommand)
	}
	if m.has("block") {
		tags = append(tags, pipeline.KindBlock)
	}
	if m.has("input") {
		tags = append(tags, pipeline.KindInput)
	}
	if m.has("wait") || m.has("waiter") {
		tags = append(tags, pipeline.KindWait)
	}
	if m.has("trigger") {
		tags = append(tags, pipeline.KindTrigger)
	}
	if m.has("group") {
		tags = append(tags, pipeline.KindGroup)
	}

	var declared pipeline.StepKind
	if value, ok := m.get("type"); ok {
		text, isString := value.(string)
		if text == "script" {
			text = string(pipeline.KindCommand)
		}
		if !isString || !slices.Contains(pipeline.Kinds, pipeline.StepKind(text)) {
			d.addf(path+".type", "must be one of %s", joinKinds(pipeline.Kinds))
			return "", false
		}
		declared = pipeline.StepKind(text)
	}

	switch {
	case len(tags) > 1:
		d.addf(path, "ambiguous step: sets %s", joinKinds(tags))
		return "", false
	case len(tags) == 1:
		if declared != "" && declared != tags[0] {
			d.addf(path+".type", "%q conflicts with the %s attribute", declared, tags[0])
			return "", false
		}
		return tags[0], true
	case declared != "":
		return declared, true
	case m.has("plugins"):
		return pipeline.KindCommand, true
	default:
		d.addf(path, "unknown step type: expected one of %s", joinKinds(pipeline.Kinds))
		return "", false
	}
}

func joinKinds(kinds []pipeline.StepKind) string {
	names := make([]string, len(kinds))
	for index, kind := range kinds {
		names[index] = string(kind)
	}
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

func (d *decoder) base(path string, m *mapping, base *pipeline.Base) {
	keyValue, hasKey := m.get("key")
	identifier, hasIdentifier := m.get("identifier")
	switch {
	case hasKey && hasIdentifier:
		d.addf(path, "set key or identifier, not both")
	case hasIdentifier:
		keyValue, hasKey = identifier, true
	}
	if hasKey {
		base.Key = d.stepKey(path+".key", keyValue)
	}
	if value, ok := m.get("if"); ok {
		base.If, _ = d.text(path+".if", value)
	}
	if value, ok := m.get("depends_on"); ok {
		base.DependsOn = d.dependencies(path+".depends_on", value)
	}
	if value, ok := m.get("allow_dependency_failure"); ok {
		base.AllowDependencyFailure, _ = d.boolean(path+".allow_dependency_failure", value)
	}
	if value, ok := m.get("branches"); ok {
		switch typed := value.(type) {
		case []any:
			branches := d.stringList(path+".branches", typed)
			base.Branches = strings.Join(branches, " ")
		default:
			base.Branches, _ = d.text(path+".branches", value)
		}
	}
}

// label reads a label from the first of names present.
func (d *decoder) label(path string, m *mapping, base *pipeline.Base, names ...string) {
	found := ""
	for _, name := range names {
		value, ok := m.get(name)
		if !ok {
			continue
		}
		if found != "" {
			d.addf(path, "set %s or %s, not both", found, name)
			return
		}
		found = name
		base.Label, _ = d.text(path+"."+name, value)
	}
}

// taggedLabel reads the label from a tag value (block: "Release"),
// falling back to a label key when the tag value is null.
func (d *decoder) taggedLabel(path string, m *mapping, base *pipeline.Base, tag string) {
	value, _ := m.get(tag)
	if value != nil {
		base.Label, _ = d.text(path+"."+tag, value)
		if m.has("label") || m.has("name") {
			d.addf(path, "set the label with %s or label, not both", tag)
		}
		return
	}
	d.label(path, m, base, "label", "name")
}

func (d *decoder) stepKey(path string, value any) string {
	key, ok := d.text(path, value)
	if !ok {
		return ""
	}
	switch {
	case key == "":
		d.addf(path, "must not be empty")
	case len(key) > maxKeyLength:
		d.addf(path, "%q is longer than %d characters", key, maxKeyLength)
	case !stepKeyPattern.MatchString(key):
		d.addf(path, "%q may only contain letters, digits, and the characters _ . : -", key)
	case isUUID(key):
		d.addf(path, "%q must not be a UUID", key)
	}
	if key == "" {
		return key
	}
	if first, exists := d.keys[key]; exists {
		d.addf(path, "duplicate key %q (first used at %s)", key, first)
	} else {
		d.keys[key] = path
	}
	return key
}

func isUUID(text string) bool {
	_, err := uuid.Parse(text)
	return err == nil
}

func (d *decoder) dependencies(path string, value any) []pipeline.Dependency {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		if typed == "" {
			d.addf(path, "must not be empty")
			return nil
		}
		return []pipeline.Dependency{{Step: typed}}
	case []any:
		var dependencies []pipeline.Dependency
		for index, item := range typed {
			itemPath := fmt.Sprintf("%s[%d]", path, index)
			switch entry := item.(type) {
			case string:
				if entry == "" {
					d.addf(itemPath, "must not be empty")
					continue
				}
				dependencies = append(dependencies, pipeline.Dependency{Step: entry})
			case *mapping:
				d.closedKeys(itemPath, entry, "", []string{"step", "allow_failure"})
				var dependency pipeline.Dependency
				stepValue, ok := entry.get("step")
				if !ok {
					d.addf(itemPath, "step is required")
					continue
				}
				dependency.Step, _ = d.text(itemPath+".step", stepValue)
				if dependency.Step == "" {
					d.addf(itemPath+".step", "must not be empty")
					continue
				}
				if allow, ok := entry.get("allow_failure"); ok {
					dependency.AllowFailure, _ = d.boolean(itemPath+".allow_failure", allow)
				}
				dependencies = append(dependencies, dependency)
			default:
				d.addf(itemPath, "expected a step key or a mapping with step, got %s", typeName(item))
			}
		}
		return dependencies
	default:
		d.addf(path, "expected a step key or a list, got %s", typeName(value))
		return nil
	}
}

// closedKeys reports keys outside allowed. kind names the variant in
// the message.
func (d *decoder) closedKeys(path string, m *mapping, kind pipeline.StepKind, allowed []string, more ...[]string) {
	for _, key := range m.keys {
		if slices.Contains(allowed, key) {
			continue
		}
		if path == "pipeline" && strings.HasPrefix(key, extensionPrefix) {
			continue
		}
		known := false
		for _, set := range more {
			if slices.Contains(set, key) {
				known = true
				break
			}
		}
		if known {
			continue
		}
		if kind != "" {
			d.addf(path, "unknown key %q for a %s step", key, kind)
		} else {
			d.addf(path, "unknown key %q", key)
		}
	}
}

func (d *decoder) text(path string, value any) (string, bool) {
	text, ok := value.(string)
	if !ok {
		d.addf(path, "expected a string, got %s", typeName(value))
	}
	return text, ok
}

// scalar accepts any scalar and renders it as text.
func (d *decoder) scalar(path string, value any) (string, bool) {
	text, ok := scalarText(value)
	if !ok {
		d.addf(path, "expected a scalar value, got %s", typeName(value))
	}
	return text, ok
}

func (d *decoder) boolean(path string, value any) (bool, bool) {
	flag, ok := value.(bool)
	if !ok {
		d.addf(path, "expected a boolean, got %s", typeName(value))
	}
	return flag, ok
}

func (d *decoder) integer(path string, value any) (int, bool) {
	number, ok := value.(int64)
	if !ok {
		d.addf(path, "expected an integer, got %s", typeName(value))
		return 0, false
	}
	return int(number), true
}

// positiveInt reads an integer that must be at least 1.
func (d *decoder) positiveInt(path string, value any) int {
	number, ok := d.integer(path, value)
	if ok && number < 1 {
		d.addf(path, "must be at least 1, got %d", number)
	}
	return number
}

func (d *decoder) list(path string, value any) ([]any, bool) {
	items, ok := value.([]any)
	if !ok {
		d.addf(path, "expected a list, got %s", typeName(value))
	}
	return items, ok
}

func (d *decoder) asMapping(path string, value any) (*mapping, bool) {
	m, ok := value.(*mapping)
	if !ok {
		d.addf(path, "expected a mapping, got %s", typeName(value))
	}
	return m, ok
}

// stringList accepts a single string or a list of strings.
func (d *decoder) stringList(path string, value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		return []string{typed}
	case []any:
		var items []string
		for index, item := range typed {
			if text, ok := d.text(fmt.Sprintf("%s[%d]", path, index), item); ok {
				items = append(items, text)
			}
		}
		return items
	default:
		d.addf(path, "expected a string or a list of strings, got %s", typeName(value))
		return nil
	}
}

// stringMap reads a mapping of scalars.
func (d *decoder) stringMap(path string, value any) map[string]string {
	if value == nil {
		return nil
	}
	m, ok := d.asMapping(path, value)
	if !ok {
		return nil
	}
	result := make(map[string]string, len(m.keys))
	for _, key := range m.keys {
		item := m.values[key]
		if item == nil {
			result[key] = ""
			continue
		}
		if text, ok := d.scalar(path+"."+key, item); ok {
			result[key] = text
		}
	}
	return result
}
