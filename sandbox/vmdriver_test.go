// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"slices"
	"testing"

	"github.com/hangar-build/hangar/lib/process"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	status, err := parseStatus([]byte(`{"status": "running", "ip": "192.168.64.3"}`))
	if err != nil {
		t.Fatalf("parseStatus: %v", err)
	}
	if status != VMRunning {
		t.Errorf("status = %q, want running", status)
	}

	for _, input := range []string{`{"status": "suspended"}`, `running`, ``} {
		if _, err := parseStatus([]byte(input)); err == nil {
			t.Errorf("parseStatus(%q) succeeded, want error", input)
		}
	}
}

func TestCLIDriverStatus(t *testing.T) {
	t.Parallel()

	var argv []string
	driver := &CLIDriver{
		Executable: "tart-driver",
		Run: func(ctx context.Context, command []string, options process.Options) (int, error) {
			argv = command
			options.OnStdout([]byte(`{"status":`))
			options.OnStdout([]byte(` "starting"}`))
			return 0, nil
		},
	}
	status, err := driver.Status(context.Background(), "hangar-tok")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != VMStarting {
		t.Errorf("status = %q", status)
	}
	if want := []string{"tart-driver", "status", "hangar-tok", "--json"}; !slices.Equal(argv, want) {
		t.Errorf("argv = %q, want %q", argv, want)
	}
}

func TestCLIDriverExec(t *testing.T) {
	t.Parallel()

	var argv []string
	var env map[string]string
	driver := &CLIDriver{
		Executable: "tart-driver",
		Run: func(ctx context.Context, command []string, options process.Options) (int, error) {
			argv = command
			env = options.Env
			return 3, nil
		},
	}
	status, err := driver.Exec(context.Background(), "hangar-tok", "/Volumes/hangar/workspace",
		[]string{"hangar", "run", "--step", "ios"},
		process.Options{Dir: "/ignored", Env: map[string]string{"B": "2", "A": "1"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if status != 3 {
		t.Errorf("status = %d", status)
	}
	want := []string{
		"tart-driver", "exec", "hangar-tok", "--workdir", "/Volumes/hangar/workspace",
		"--env", "A", "--env", "B", "--", "hangar", "run", "--step", "ios",
	}
	if !slices.Equal(argv, want) {
		t.Errorf("argv = %q, want %q", argv, want)
	}
	if env["A"] != "1" || env["B"] != "2" {
		t.Errorf("env = %v", env)
	}
}
