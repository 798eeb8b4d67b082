// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "fmt"

// State is the runtime state of one job.
type State string

const (
	StatePending           State = "pending"
	StateRunning           State = "running"
	StatePassed            State = "passed"
	StatePassedWithWarning State = "passed_with_warning"
	StateFailed            State = "failed"
	StateSkipped           State = "skipped"
	StateBlocked           State = "blocked"
	StateCanceled          State = "canceled"
)

// IsTerminal reports whether the job has finished.
func (s State) IsTerminal() bool {
	switch s {
	case StatePassed, StatePassedWithWarning, StateFailed, StateSkipped, StateBlocked, StateCanceled:
		return true
	default:
		return false
	}
}

// Satisfies reports whether a dependency in this state lets its
// dependents run. Skipped steps satisfy their dependents.
func (s State) Satisfies() bool {
	switch s {
	case StatePassed, StatePassedWithWarning, StateSkipped:
		return true
	default:
		return false
	}
}

// Transition validates a state change.
//
//	pending -> running | skipped | blocked | canceled
//	running -> passed | passed_with_warning | failed | canceled
func Transition(from, to State) error {
	if !allowedTransition(from, to) {
		return fmt.Errorf("invalid job state transition %s -> %s", from, to)
	}
	return nil
}

func allowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateSkipped || to == StateBlocked || to == StateCanceled
	case StateRunning:
		return to == StatePassed || to == StatePassedWithWarning || to == StateFailed || to == StateCanceled
	default:
		return false
	}
}
