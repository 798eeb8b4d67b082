// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"strings"
)

// Error reports a command that ran to completion but did not exit
// with status zero.
type Error struct {
	// Command is the argv that was executed.
	Command []string

	// ExitCode is the numeric exit status, or -1 when the process was
	// terminated by a signal.
	ExitCode int

	// Signal is the terminating signal name (e.g. "SIGKILL"), empty
	// for a normal exit.
	Signal string
}

func (e *Error) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("command %s terminated by %s", CommandLine(e.Command), e.Signal)
	}
	return fmt.Sprintf("command %s exited with code %d", CommandLine(e.Command), e.ExitCode)
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var processError *Error
	if errors.As(err, &processError) {
		return processError, true
	}
	return nil, false
}

// CommandLine renders argv as a single shell-quoted line for error
// messages and logs.
func CommandLine(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quote(arg)
	}
	return strings.Join(quoted, " ")
}

func quote(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n\"'\\$`|&;<>()*?[]{}~#!") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
