// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"strings"
)

// DependencyError reports a depends_on reference that cannot be
// satisfied: a key that names no step, or a cycle.
type DependencyError struct {
	// Key is the referenced key.
	Key string

	// Step is the job that holds the reference.
	Step string

	// Cycle is set for cycles: the job IDs along the cycle, with the
	// first repeated at the end.
	Cycle []string
}

func (e *DependencyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("step %q depends on unknown step %q", e.Step, e.Key)
}
