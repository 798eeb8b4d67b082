// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hangar-build/hangar/lib/process"
)

// fakeAgent stands in for the buildkite-agent CLI.
type fakeAgent struct {
	mu       sync.Mutex
	commands []string
	stdins   []string
	dirs     []string

	secrets  map[string]string
	metadata map[string]string
}

func (f *fakeAgent) run(ctx context.Context, argv []string, options process.Options) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, strings.Join(argv[1:], " "))
	f.stdins = append(f.stdins, string(options.Stdin))
	f.dirs = append(f.dirs, options.Dir)

	fail := func(status int, stderr string) (int, error) {
		if options.OnStderr != nil {
			options.OnStderr([]byte(stderr))
		}
		if options.IgnoreReturnCode {
			return status, nil
		}
		return status, &process.Error{Command: argv, ExitCode: status}
	}

	switch strings.Join(argv[1:3], " ") {
	case "secret get":
		value, ok := f.secrets[argv[3]]
		if !ok {
			return fail(1, "fatal: secret not found\n")
		}
		options.OnStdout([]byte(value + "\n"))
	case "meta-data set":
		f.metadata[argv[3]] = string(options.Stdin)
	case "meta-data exists":
		if _, ok := f.metadata[argv[3]]; !ok {
			return fail(100, "")
		}
	case "meta-data get":
		options.OnStdout([]byte(f.metadata[argv[3]] + "\n"))
	case "artifact download":
		if argv[3] == "missing/*" {
			return fail(1, "no artifacts found\n")
		}
	}
	return 0, nil
}

func (f *fakeAgent) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

func newTestAgent(t *testing.T, fake *fakeAgent) *Agent {
	t.Helper()
	agent, err := NewAgent(AgentConfig{
		Binary: "buildkite-agent",
		Run:    fake.run,
		SessionOptions: SessionOptions{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	})
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	t.Cleanup(func() { agent.Close() })
	return agent
}

func TestAgentSecrets(t *testing.T) {
	t.Parallel()

	fake := &fakeAgent{secrets: map[string]string{"DEPLOY_KEY": "dk-0123456789"}}
	agent := newTestAgent(t, fake)
	ctx := context.Background()

	value, err := agent.GetSecret(ctx, "DEPLOY_KEY")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if value != "dk-0123456789" {
		t.Errorf("DEPLOY_KEY = %q", value)
	}
	// Cached: no second CLI call.
	if _, err := agent.GetSecret(ctx, "DEPLOY_KEY"); err != nil {
		t.Fatalf("GetSecret cached: %v", err)
	}

	want := []string{"secret get DEPLOY_KEY", "redactor add"}
	if got := fake.recorded(); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
	if fake.stdins[1] != "dk-0123456789" {
		t.Errorf("redactor stdin = %q", fake.stdins[1])
	}
	if got := agent.Redactor().Redact("key dk-0123456789"); got != "key [REDACTED]" {
		t.Errorf("local redaction = %q", got)
	}

	if _, err := agent.GetSecret(ctx, "UNKNOWN"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("GetSecret unknown = %v, want ErrSecretNotFound", err)
	}
}

func TestAgentMetadata(t *testing.T) {
	t.Parallel()

	fake := &fakeAgent{metadata: map[string]string{}}
	agent := newTestAgent(t, fake)
	ctx := context.Background()

	if _, err := agent.GetMetadata(ctx, "version"); !errors.Is(err, ErrMetadataNotFound) {
		t.Errorf("GetMetadata unset = %v, want ErrMetadataNotFound", err)
	}
	if err := agent.SetMetadata(ctx, "version", "2.0.1"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	value, err := agent.GetMetadata(ctx, "version")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if value != "2.0.1" {
		t.Errorf("version = %q", value)
	}
	for _, command := range fake.recorded() {
		if strings.Contains(command, "2.0.1") {
			t.Errorf("metadata value on command line: %q", command)
		}
	}
}

func TestAgentArtifacts(t *testing.T) {
	t.Parallel()

	fake := &fakeAgent{}
	agent := newTestAgent(t, fake)
	ctx := context.Background()

	if err := agent.UploadArtifact(ctx, "build", "/src", "dist/**/*"); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if err := agent.DownloadArtifact(ctx, "dist/*", "/tmp/out"); err != nil {
		t.Fatalf("DownloadArtifact: %v", err)
	}
	err := agent.DownloadArtifact(ctx, "missing/*", "/tmp/out")
	if err == nil || !strings.Contains(err.Error(), "no artifacts found") {
		t.Errorf("DownloadArtifact missing = %v, want error carrying stderr", err)
	}

	want := []string{
		"artifact upload dist/**/*",
		"artifact download dist/* /tmp/out",
		"artifact download missing/* /tmp/out",
	}
	if got := fake.recorded(); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
	if fake.dirs[0] != "/src" {
		t.Errorf("upload ran in %q, want /src", fake.dirs[0])
	}
}
