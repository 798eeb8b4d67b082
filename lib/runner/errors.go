// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"errors"
	"fmt"
)

// ErrStepNotFound is returned by RunStep for an unknown job ID.
var ErrStepNotFound = errors.New("no such step")

// EnvironmentError reports an env value that could not be expanded.
type EnvironmentError struct {
	Name string
	Err  error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("env %s: %v", e.Name, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// ConditionError reports an if condition that could not be
// evaluated.
type ConditionError struct {
	// Step is the job ID.
	Step string
	Err  error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }
