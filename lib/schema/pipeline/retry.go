// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

// MaxRetryLimit bounds AutomaticRetry.Limit.
const MaxRetryLimit = 10

// DefaultRetryLimit applies when a rule omits limit.
const DefaultRetryLimit = 2

// Retry holds the automatic and manual retry policies. They are
// independent.
type Retry struct {
	// Automatic rules are checked in order; the first matching rule's
	// limit applies.
	Automatic []AutomaticRetry

	Manual *ManualRetry
}

// AutomaticRetry is one automatic retry rule. Zero-valued matchers
// match anything.
type AutomaticRetry struct {
	ExitStatus ExitStatusMatch

	// Signal matches the terminating signal name ("SIGKILL" or
	// "kill"), or "*" for any signal. Empty matches anything.
	Signal string

	// SignalReason matches why the job was signaled. Hangar reports
	// "cancel" and "timeout"; "*" and "" match anything and "none"
	// matches when there was no signal.
	SignalReason string

	Limit int
}

// ExitStatusMatch is "*", one status, or a list of statuses.
type ExitStatusMatch struct {
	Any   bool
	Codes []int
}

// Matches reports whether exitStatus matches. A zero match is a
// wildcard.
func (m ExitStatusMatch) Matches(exitStatus int) bool {
	if m.Any || len(m.Codes) == 0 {
		return true
	}
	for _, code := range m.Codes {
		if code == exitStatus {
			return true
		}
	}
	return false
}

// ManualRetry controls whether a finished job may be retried by hand.
type ManualRetry struct {
	Allowed        bool
	PermitOnPassed bool
	Reason         string
}
