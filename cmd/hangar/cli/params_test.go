// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"maps"
	"slices"
	"testing"
	"time"
)

type testParams struct {
	JSONOutput
	Workspace string            `flag:"workspace,w" desc:"workspace" default:"."`
	Attempt   int               `flag:"attempt" default:"1"`
	DryRun    bool              `flag:"dry-run"`
	Timeout   time.Duration     `flag:"timeout" default:"5m"`
	Unblock   []string          `flag:"unblock"`
	Fields    map[string]string `flag:"field"`
}

func TestBindFlagsDefaults(t *testing.T) {
	t.Parallel()
	var params testParams
	flagSet := FlagsFromParams("test", &params)
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.Workspace != "." || params.Attempt != 1 || params.Timeout != 5*time.Minute || params.OutputJSON {
		t.Errorf("defaults = %+v", params)
	}
}

func TestBindFlagsParse(t *testing.T) {
	t.Parallel()
	var params testParams
	flagSet := FlagsFromParams("test", &params)
	err := flagSet.Parse([]string{
		"-w", "/src",
		"--attempt", "3",
		"--json",
		"--unblock", "gate,a",
		"--unblock", "deploy",
		"--field", "version=v1",
		"--field", "channel=beta",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.Workspace != "/src" || params.Attempt != 3 || !params.OutputJSON {
		t.Errorf("params = %+v", params)
	}
	if want := []string{"gate,a", "deploy"}; !slices.Equal(params.Unblock, want) {
		t.Errorf("unblock = %v, want %v", params.Unblock, want)
	}
	if want := map[string]string{"version": "v1", "channel": "beta"}; !maps.Equal(params.Fields, want) {
		t.Errorf("fields = %v, want %v", params.Fields, want)
	}
}

func TestBindFlagsRejectsUnsupportedType(t *testing.T) {
	t.Parallel()
	var params struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&params, FlagsFromParams("empty", &struct{}{})); err == nil {
		t.Error("BindFlags accepted a float32 field")
	}
	if err := BindFlags(params, FlagsFromParams("empty", &struct{}{})); err == nil {
		t.Error("BindFlags accepted a non-pointer")
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want int
	}{
		{"", "run", 3},
		{"run", "run", 0},
		{"valdiate", "validate", 2},
		{"plan", "plans", 1},
		{"doctor", "version", 6},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
