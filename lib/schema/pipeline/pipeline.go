// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

// Pipeline is a validated pipeline definition.
type Pipeline struct {
	// Env is merged into every command step's environment. Step env
	// wins on conflict.
	Env map[string]string

	// Agents is the default agent query for command steps.
	Agents AgentQuery

	Notify []Notification

	// Steps holds at least one step. Keys are unique across the
	// whole tree, group children included.
	Steps []Step
}

// AgentQuery is the canonical key/value form of an agent query. Both
// the legacy "key=value" list and the map form normalize to it.
type AgentQuery map[string]string

// Notification is a build-level notification target. Hangar records
// notifications in the run result; it does not deliver them.
type Notification struct {
	// Kind is the channel: email, slack, webhook,
	// pagerduty_change_event, github_commit_status, or github_check.
	Kind string

	// Target is set when the channel value is a plain string.
	Target string

	// Options is set when the channel value is a mapping.
	Options map[string]any

	If string
}

// StepKind names a Step variant.
type StepKind string

const (
	KindCommand StepKind = "command"
	KindBlock   StepKind = "block"
	KindInput   StepKind = "input"
	KindWait    StepKind = "wait"
	KindTrigger StepKind = "trigger"
	KindGroup   StepKind = "group"
)

// Kinds lists every variant in declaration order.
var Kinds = []StepKind{KindCommand, KindBlock, KindInput, KindWait, KindTrigger, KindGroup}

// Step is one pipeline step. Exactly one variant pointer is non-nil
// in a decoded Step.
type Step struct {
	Base

	Command *CommandStep
	Block   *BlockStep
	Input   *InputStep
	Wait    *WaitStep
	Trigger *TriggerStep
	Group   *GroupStep
}

// Base holds the fields shared by every variant.
type Base struct {
	// Key identifies the step for depends_on references.
	Key string

	// Label is the display name. Block, input and group steps take
	// it from their tag value.
	Label string

	// If is a condition over build variables; the step is skipped
	// when it evaluates false.
	If string

	DependsOn []Dependency

	// AllowDependencyFailure lets the step run after a dependency
	// fails.
	AllowDependencyFailure bool

	// Branches is a space-separated list of branch globs, "!"
	// negating.
	Branches string
}

// Dependency is one depends_on entry.
type Dependency struct {
	Step string

	// AllowFailure makes this edge soft: the dependent runs even when
	// the dependency fails.
	AllowFailure bool
}

// Tags returns the kinds whose variant pointer is set. A decoded
// Step has exactly one.
func (s Step) Tags() []StepKind {
	var tags []StepKind
	if s.Command != nil {
		tags = append(tags, KindCommand)
	}
	if s.Block != nil {
		tags = append(tags, KindBlock)
	}
	if s.Input != nil {
		tags = append(tags, KindInput)
	}
	if s.Wait != nil {
		tags = append(tags, KindWait)
	}
	if s.Trigger != nil {
		tags = append(tags, KindTrigger)
	}
	if s.Group != nil {
		tags = append(tags, KindGroup)
	}
	return tags
}

// Kind returns the variant kind, or "" when zero or several variants
// are set.
func (s Step) Kind() StepKind {
	tags := s.Tags()
	if len(tags) != 1 {
		return ""
	}
	return tags[0]
}

// IsBarrier reports whether the step orders every earlier step
// before every later one: wait, block and input steps.
func (s Step) IsBarrier() bool {
	return s.Wait != nil || s.Block != nil || s.Input != nil
}

// DisplayName returns the label, falling back to the key and then to
// the variant kind.
func (s Step) DisplayName() string {
	switch {
	case s.Label != "":
		return s.Label
	case s.Key != "":
		return s.Key
	default:
		return string(s.Kind())
	}
}
