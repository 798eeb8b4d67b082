// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"testing"

	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

func TestNormalizeAgents(t *testing.T) {
	t.Parallel()

	fromList, err := NormalizeAgents([]any{"queue=default", "os = linux"})
	if err != nil {
		t.Fatalf("NormalizeAgents(list): %v", err)
	}
	fromMap, err := NormalizeAgents(map[string]any{"queue": "default", "os": "linux"})
	if err != nil {
		t.Fatalf("NormalizeAgents(map): %v", err)
	}
	if FormatAgents(fromList) != FormatAgents(fromMap) {
		t.Errorf("list form %v != map form %v", fromList, fromMap)
	}
	if got := FormatAgents(fromMap); got != "os=linux queue=default" {
		t.Errorf("FormatAgents = %q", got)
	}

	for _, bad := range []any{[]any{"noequals"}, []any{1}, "queue=default", map[string]any{"x": []any{}}} {
		if _, err := NormalizeAgents(bad); err == nil {
			t.Errorf("NormalizeAgents(%v) succeeded, want error", bad)
		}
	}
}

func TestResolveAgentsStepWins(t *testing.T) {
	t.Parallel()

	merged := ResolveAgents(
		schema.AgentQuery{"queue": "default", "os": "linux"},
		schema.AgentQuery{"os": "macos"},
	)
	if merged["os"] != "macos" || merged["queue"] != "default" {
		t.Errorf("ResolveAgents = %v", merged)
	}
}

func TestResolvePlatform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query schema.AgentQuery
		want  Platform
	}{
		{nil, Platform{Kind: SandboxHost}},
		{schema.AgentQuery{"queue": "x"}, Platform{Kind: SandboxHost}},
		{schema.AgentQuery{"os": "linux"}, Platform{Family: "linux", Kind: SandboxContainer}},
		{schema.AgentQuery{"os": "linux", "sandbox": "vm", "arch": "aarch64"}, Platform{Family: "linux", Arch: "arm64", Kind: SandboxVM}},
		{schema.AgentQuery{"os": "darwin", "arch": "arm64"}, Platform{Family: "macos", Arch: "arm64", Kind: SandboxVM}},
		{schema.AgentQuery{"os": "windows", "image": "win-2022"}, Platform{Family: "windows", Kind: SandboxVM, Image: "win-2022"}},
	}
	for _, test := range tests {
		got, err := ResolvePlatform(test.query)
		if err != nil {
			t.Errorf("ResolvePlatform(%v): %v", test.query, err)
			continue
		}
		if got != test.want {
			t.Errorf("ResolvePlatform(%v) = %+v, want %+v", test.query, got, test.want)
		}
	}
}

func TestResolvePlatformUnsupported(t *testing.T) {
	t.Parallel()

	for _, query := range []schema.AgentQuery{
		{"os": "plan9"},
		{"os": "linux", "arch": "mips"},
		{"os": "macos", "sandbox": "container"},
		{"sandbox": "vm"},
	} {
		_, err := ResolvePlatform(query)
		var unsupported *UnsupportedPlatformError
		if !errors.As(err, &unsupported) {
			t.Errorf("ResolvePlatform(%v) error = %v, want *UnsupportedPlatformError", query, err)
		}
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	if err := Transition(StatePending, StateRunning); err != nil {
		t.Errorf("pending -> running: %v", err)
	}
	if err := Transition(StateRunning, StatePassedWithWarning); err != nil {
		t.Errorf("running -> passed_with_warning: %v", err)
	}
	for _, bad := range [][2]State{
		{StatePassed, StateRunning},
		{StatePending, StatePassed},
		{StateBlocked, StateRunning},
	} {
		if err := Transition(bad[0], bad[1]); err == nil {
			t.Errorf("%s -> %s succeeded, want error", bad[0], bad[1])
		}
	}
	if !StateSkipped.Satisfies() || StateFailed.Satisfies() || StateRunning.IsTerminal() {
		t.Error("state predicates disagree with the state table")
	}
}
