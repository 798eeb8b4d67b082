// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

// CommandStep runs shell commands.
type CommandStep struct {
	// Commands run in order, each as a separate shell invocation.
	Commands []string

	Agents AgentQuery

	// ArtifactPaths are globs uploaded after the step finishes,
	// whether it passed or failed.
	ArtifactPaths []string

	// TimeoutInMinutes bounds each attempt. Zero means no limit.
	TimeoutInMinutes int

	Env map[string]string

	// Secrets maps an environment variable name to the secret key
	// whose value it receives.
	Secrets map[string]string

	Plugins []Plugin

	// Parallelism, when above 1, runs the step that many times.
	Parallelism int

	// Concurrency limits how many jobs in ConcurrencyGroup run at
	// once. Both are set or neither.
	Concurrency       int
	ConcurrencyGroup  string
	ConcurrencyMethod ConcurrencyMethod

	Matrix   *Matrix
	Retry    *Retry
	Skip     Skip
	SoftFail SoftFail
}

// ConcurrencyMethod controls ordering within a concurrency group.
type ConcurrencyMethod string

const (
	// ConcurrencyOrdered runs jobs in creation order. The default.
	ConcurrencyOrdered ConcurrencyMethod = "ordered"
	// ConcurrencyEager runs jobs as soon as a slot frees up.
	ConcurrencyEager ConcurrencyMethod = "eager"
)

// Plugin is one plugin reference with its configuration.
type Plugin struct {
	// Name is the plugin source, for example "docker#v5.12.0".
	Name string

	// Config is the plugin's configuration document, or nil.
	Config any
}

// Skip is the skip attribute: false, true, or a reason string (which
// implies true).
type Skip struct {
	Skipped bool
	Reason  string
}

// SoftFail converts failures into passed-with-warning.
type SoftFail struct {
	// All soft-fails every non-zero exit status.
	All bool

	// ExitStatuses soft-fails only these statuses.
	ExitStatuses []int
}

// Matches reports whether a failing exit status is soft.
func (s SoftFail) Matches(exitStatus int) bool {
	if s.All {
		return true
	}
	for _, status := range s.ExitStatuses {
		if status == exitStatus {
			return true
		}
	}
	return false
}

// IsZero reports whether no soft-fail policy is set.
func (s SoftFail) IsZero() bool {
	return !s.All && len(s.ExitStatuses) == 0
}

// BlockStep pauses the build until it is unblocked.
type BlockStep struct {
	Prompt string
	Fields []Field

	// BlockedState is the build state shown while blocked: passed,
	// failed, or running. Empty means passed.
	BlockedState string
}

// InputStep collects field values without implying a deploy gate.
type InputStep struct {
	Prompt string
	Fields []Field
}

// FieldKind is text or select.
type FieldKind string

const (
	FieldText   FieldKind = "text"
	FieldSelect FieldKind = "select"
)

// Field is one block or input step field.
type Field struct {
	Kind FieldKind

	// Label is the value of the text or select attribute.
	Label string

	Key  string
	Hint string

	// Required defaults to true.
	Required bool

	// Default holds zero or one value, or several for a multiple
	// select.
	Default []string

	// Format is a regular expression text values must match.
	Format string

	// Options and Multiple apply to select fields.
	Options  []Option
	Multiple bool
}

// Option is one select field choice.
type Option struct {
	Label string
	Value string
	Hint  string
}

// WaitStep is a barrier between the steps before and after it.
type WaitStep struct {
	// ContinueOnFailure lets later steps run even if an earlier step
	// failed.
	ContinueOnFailure bool
}

// TriggerStep runs another pipeline.
type TriggerStep struct {
	// Pipeline is the path to the triggered pipeline file, relative
	// to the triggering pipeline's directory.
	Pipeline string

	// Async lets the step pass as soon as the triggered pipeline is
	// started.
	Async bool

	Build *TriggerBuild

	Skip     Skip
	SoftFail bool
}

// TriggerBuild overrides attributes of the triggered build.
type TriggerBuild struct {
	Branch   string
	Commit   string
	Message  string
	Env      map[string]string
	MetaData map[string]string
}

// GroupStep is a named list of steps. Groups do not nest.
type GroupStep struct {
	Steps []Step
}
