// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hangar-build/hangar/lib/process"
	"github.com/hangar-build/hangar/lib/secret"
)

// metadataMissingStatus is the exit status of "meta-data exists" for
// an unset key.
const metadataMissingStatus = 100

// AgentConfig configures an Agent builder.
type AgentConfig struct {
	// Binary is the buildkite-agent executable.
	Binary string

	// Run executes the agent CLI. Defaults to process.Run.
	Run CommandRunner

	SessionOptions
}

// Agent is a Builder that drives the buildkite-agent CLI. Values
// (metadata, redactions) go over stdin, never on a command line.
type Agent struct {
	base
	config AgentConfig
}

// NewAgent creates an Agent builder.
func NewAgent(config AgentConfig) (*Agent, error) {
	if config.Binary == "" {
		config.Binary = "buildkite-agent"
	}
	if config.Run == nil {
		config.Run = process.Run
	}
	agent := &Agent{config: config}
	shared, err := newBase(agent.fetchSecret, agent.Redact, config.SessionOptions)
	if err != nil {
		return nil, err
	}
	agent.base = shared
	return agent, nil
}

func (a *Agent) Name() string { return "buildkite" }

// output holds a command's captured streams.
type output struct {
	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// run executes one agent subcommand, capturing its output.
func (a *Agent) run(ctx context.Context, dir string, stdin []byte, ignoreStatus bool, args ...string) (int, *output, error) {
	captured := &output{}
	argv := append([]string{a.config.Binary}, args...)
	status, err := a.config.Run(ctx, argv, process.Options{
		Dir:    dir,
		Stdin:  stdin,
		Output: process.OutputPipe,
		OnStdout: func(chunk []byte) {
			captured.mu.Lock()
			captured.stdout.Write(chunk)
			captured.mu.Unlock()
		},
		OnStderr: func(chunk []byte) {
			captured.mu.Lock()
			captured.stderr.Write(chunk)
			captured.mu.Unlock()
		},
		IgnoreReturnCode: ignoreStatus,
	})
	if err != nil {
		if stderr := strings.TrimSpace(captured.stderr.String()); stderr != "" {
			err = fmt.Errorf("%w: %s", err, a.Redactor().Redact(stderr))
		}
	}
	return status, captured, err
}

func (a *Agent) fetchSecret(ctx context.Context, key string) (string, error) {
	status, captured, err := a.run(ctx, "", nil, true, "secret", "get", key)
	if err != nil {
		return "", err
	}
	if status != 0 {
		stderr := strings.ToLower(captured.stderr.String())
		if strings.Contains(stderr, "not found") || strings.Contains(stderr, "404") {
			return "", fmt.Errorf("%q: %w", key, secret.ErrNotFound)
		}
		return "", &process.Error{Command: []string{a.config.Binary, "secret", "get", key}, ExitCode: status}
	}
	return strings.TrimSuffix(captured.stdout.String(), "\n"), nil
}

func (a *Agent) UploadArtifact(ctx context.Context, stepKey, workspace, pattern string) error {
	if _, _, err := a.run(ctx, workspace, nil, false, "artifact", "upload", pattern); err != nil {
		return fmt.Errorf("uploading artifacts %q for step %s: %w", pattern, stepKey, err)
	}
	return nil
}

func (a *Agent) DownloadArtifact(ctx context.Context, pattern, destination string) error {
	if _, _, err := a.run(ctx, "", nil, false, "artifact", "download", pattern, destination); err != nil {
		return fmt.Errorf("downloading artifacts %q: %w", pattern, err)
	}
	return nil
}

func (a *Agent) SetMetadata(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("empty metadata key")
	}
	if _, _, err := a.run(ctx, "", []byte(value), false, "meta-data", "set", key); err != nil {
		return fmt.Errorf("setting metadata %q: %w", key, err)
	}
	return nil
}

func (a *Agent) GetMetadata(ctx context.Context, key string) (string, error) {
	status, _, err := a.run(ctx, "", nil, true, "meta-data", "exists", key)
	if err != nil {
		return "", err
	}
	switch status {
	case 0:
	case metadataMissingStatus:
		return "", fmt.Errorf("%q: %w", key, ErrMetadataNotFound)
	default:
		return "", &process.Error{Command: []string{a.config.Binary, "meta-data", "exists", key}, ExitCode: status}
	}
	_, captured, err := a.run(ctx, "", nil, false, "meta-data", "get", key)
	if err != nil {
		return "", fmt.Errorf("reading metadata %q: %w", key, err)
	}
	return strings.TrimSuffix(captured.stdout.String(), "\n"), nil
}

// Redact masks value locally and registers it with the agent, which
// masks it in the job log and in uploaded artifacts.
func (a *Agent) Redact(value string) {
	a.redactor.Add(value)
	if _, _, err := a.run(context.Background(), "", []byte(value), false, "redactor", "add"); err != nil {
		a.logger.Warn("registering value with agent redactor", "error", err)
	}
}
