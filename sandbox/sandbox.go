// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hangar-build/hangar/lib/clock"
	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/process"
)

// Phase is the lifecycle state of the manager's scope.
type Phase int

const (
	Outside Phase = iota
	Entering
	Inside
	Exiting
)

func (p Phase) String() string {
	switch p {
	case Outside:
		return "outside"
	case Entering:
		return "entering"
	case Inside:
		return "inside"
	case Exiting:
		return "exiting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// teardownTimeout bounds best-effort release after a failure or
// cancellation.
const teardownTimeout = 2 * time.Minute

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Context is where this process runs, from DetectContext.
	Context Context

	// Backends maps sandbox kinds to the backend that provisions
	// them. Host needs no backend.
	Backends map[pipeline.SandboxKind]Backend

	// StateDir holds records of active scopes. Empty disables
	// recording.
	StateDir string

	// RunnerPath is the runner executable used for in-place runs.
	// Defaults to os.Executable.
	RunnerPath string

	// Run executes host commands for in-place environments. Defaults
	// to process.Run.
	Run CommandRunner

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager owns at most one sandbox scope at a time.
type Manager struct {
	config ManagerConfig
	logger *slog.Logger

	mu      sync.Mutex
	phase   Phase
	current *Environment
}

// NewManager creates a Manager in the Outside phase.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Run == nil {
		config.Run = process.Run
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RunnerPath == "" {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating runner executable: %w", err)
		}
		config.RunnerPath = executable
	}
	return &Manager{config: config, logger: config.Logger}, nil
}

// Context returns the configured process context.
func (m *Manager) Context() Context { return m.config.Context }

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Environment is an entered scope.
type Environment struct {
	manager   *Manager
	platform  pipeline.Platform
	workspace string
	token     string
	started   time.Time

	// instance is nil when running in place.
	instance Instance
}

// Platform returns the platform the environment was entered for.
func (e *Environment) Platform() pipeline.Platform { return e.platform }

// InPlace reports whether commands run in the current process's own
// environment rather than in a provisioned sandbox.
func (e *Environment) InPlace() bool { return e.instance == nil }

// Workdir is the workspace path commands run in.
func (e *Environment) Workdir() string {
	if e.instance == nil {
		return e.workspace
	}
	return e.instance.Workdir()
}

// RunnerPath is the hangar runner executable inside the environment.
func (e *Environment) RunnerPath() string {
	if e.instance == nil {
		return e.manager.config.RunnerPath
	}
	return e.instance.RunnerPath()
}

// Run executes argv in the environment's workspace. For a nested
// invocation argv starts with RunnerPath.
func (e *Environment) Run(ctx context.Context, argv []string, options process.Options) (int, error) {
	if e.instance == nil {
		options.Dir = e.workspace
		return e.manager.config.Run(ctx, argv, options)
	}
	return e.instance.Run(ctx, argv, options)
}

// Enter moves into a sandbox for platform with workspace as the host
// working directory. Host platforms, and platforms of the kind the
// process already runs in, provision nothing: commands run in place. A
// second Enter before Exit fails with ErrScopeBusy.
func (m *Manager) Enter(ctx context.Context, platform pipeline.Platform, workspace string) (*Environment, error) {
	m.mu.Lock()
	if m.phase != Outside {
		phase := m.phase
		m.mu.Unlock()
		return nil, fmt.Errorf("entering %s sandbox while %s: %w", platform, phase, ErrScopeBusy)
	}
	m.phase = Entering
	m.mu.Unlock()

	environment, err := m.enter(ctx, platform, workspace)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.phase = Outside
		return nil, err
	}
	m.phase = Inside
	m.current = environment
	return environment, nil
}

func (m *Manager) enter(ctx context.Context, platform pipeline.Platform, workspace string) (*Environment, error) {
	environment := &Environment{
		manager:   m,
		platform:  platform,
		workspace: workspace,
		token:     uuid.NewString(),
		started:   m.config.Clock.Now(),
	}

	if platform.Kind == pipeline.SandboxHost || platform.Kind == m.config.Context.Kind() {
		m.logger.Debug("running in place", "platform", platform.String(), "context", m.config.Context.String())
		return environment, nil
	}
	if m.config.Context != Host {
		return nil, &ProvisionError{
			Platform: platform,
			Op:       "nest",
			Err:      fmt.Errorf("cannot start a %s sandbox from inside a %s", platform.Kind, m.config.Context),
		}
	}
	backend, ok := m.config.Backends[platform.Kind]
	if !ok {
		return nil, &ProvisionError{Platform: platform, Op: "select backend", Err: fmt.Errorf("no %s backend configured", platform.Kind)}
	}

	m.logger.Info("provisioning sandbox", "platform", platform.String(), "token", environment.token)
	instance, err := backend.Provision(ctx, platform, environment.token)
	if err != nil {
		var provisionErr *ProvisionError
		if errors.As(err, &provisionErr) {
			return nil, err
		}
		return nil, &ProvisionError{Platform: platform, Op: "provision", Err: err}
	}
	environment.instance = instance

	if err := m.recordScope(environment); err != nil {
		m.logger.Warn("recording sandbox scope", "error", err)
	}

	if err := instance.CopyIn(ctx, workspace); err != nil {
		m.release(environment)
		return nil, asTransferError(err, CopyIn, instance.Name(), workspace)
	}
	return environment, nil
}

// Exit copies the workspace back and releases the sandbox. The
// sandbox is released even when the copy fails, and the copy failure
// is returned as a *TransferError. Exit is a no-op when Outside.
func (m *Manager) Exit(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != Inside {
		phase := m.phase
		m.mu.Unlock()
		if phase == Outside {
			return nil
		}
		return fmt.Errorf("exiting sandbox while %s", phase)
	}
	m.phase = Exiting
	environment := m.current
	m.mu.Unlock()

	var copyErr, releaseErr error
	if environment.instance != nil {
		if err := environment.instance.CopyOut(ctx, environment.workspace); err != nil {
			copyErr = asTransferError(err, CopyOut, environment.instance.Name(), environment.workspace)
		}
		releaseErr = m.releaseWith(ctx, environment)
	}

	m.mu.Lock()
	m.phase = Outside
	m.current = nil
	m.mu.Unlock()

	return errors.Join(copyErr, releaseErr)
}

// Execute enters a sandbox, runs argv in it and exits.
func (m *Manager) Execute(ctx context.Context, platform pipeline.Platform, workspace string, argv []string, options process.Options) (int, error) {
	return m.Within(ctx, platform, workspace, func(ctx context.Context, environment *Environment) (int, error) {
		return environment.Run(ctx, argv, options)
	})
}

// Within enters a sandbox, calls body and exits. Teardown runs even
// when ctx is canceled. A failed copy-out after body returned zero is
// logged and does not fail the call.
func (m *Manager) Within(ctx context.Context, platform pipeline.Platform, workspace string, body func(ctx context.Context, environment *Environment) (int, error)) (int, error) {
	environment, err := m.Enter(ctx, platform, workspace)
	if err != nil {
		return -1, err
	}

	status, runErr := body(ctx, environment)

	exitCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		exitCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
	}
	exitErr := m.Exit(exitCtx)
	if exitErr == nil {
		return status, runErr
	}

	var transferErr *TransferError
	if runErr == nil && status == 0 && errors.As(exitErr, &transferErr) && !hasReleaseError(exitErr) {
		m.logger.Warn("copying workspace out of sandbox failed", "platform", platform.String(), "error", exitErr)
		return status, nil
	}
	if runErr != nil {
		m.logger.Warn("sandbox teardown failed", "platform", platform.String(), "error", exitErr)
		return status, runErr
	}
	return status, exitErr
}

// hasReleaseError reports whether a joined Exit error carries more
// than the copy-out failure.
func hasReleaseError(err error) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return false
	}
	for _, inner := range joined.Unwrap() {
		var transferErr *TransferError
		if !errors.As(inner, &transferErr) {
			return true
		}
	}
	return false
}

// release tears down after a failed Enter, ignoring the caller's
// cancellation.
func (m *Manager) release(environment *Environment) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := m.releaseWith(ctx, environment); err != nil {
		m.logger.Warn("releasing sandbox", "sandbox", environment.instance.Name(), "error", err)
	}
}

func (m *Manager) releaseWith(ctx context.Context, environment *Environment) error {
	if err := environment.instance.Release(ctx); err != nil {
		return fmt.Errorf("releasing sandbox %s: %w", environment.instance.Name(), err)
	}
	if err := m.removeScope(environment.token); err != nil {
		m.logger.Warn("removing sandbox scope record", "token", environment.token, "error", err)
	}
	m.logger.Info("released sandbox", "sandbox", environment.instance.Name(), "duration", m.config.Clock.Now().Sub(environment.started))
	return nil
}

func asTransferError(err error, direction Direction, sandbox, path string) error {
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		return err
	}
	return &TransferError{Direction: direction, Sandbox: sandbox, Path: path, Err: err}
}

// scopeDir is where scope records live.
func scopeDir(stateDir string) string {
	return filepath.Join(stateDir, "sandboxes")
}
