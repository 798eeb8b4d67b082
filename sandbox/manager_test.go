// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hangar-build/hangar/lib/clock"
	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/process"
)

// fakeBackend records lifecycle calls in order.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	provisionErr error
	copyInErr    error
	copyOutErr   error
	releaseErr   error

	// onRun, when set, replaces the instance's Run.
	onRun func(ctx context.Context, argv []string, options process.Options) (int, error)

	// releaseCtxErr is the error of the context Release saw.
	releaseCtxErr error
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *fakeBackend) Provision(ctx context.Context, platform pipeline.Platform, token string) (Instance, error) {
	b.record("provision " + string(platform.Kind))
	if b.provisionErr != nil {
		return nil, b.provisionErr
	}
	return &fakeInstance{backend: b, name: "fake-" + token}, nil
}

type fakeInstance struct {
	backend *fakeBackend
	name    string
}

func (i *fakeInstance) Name() string       { return i.name }
func (i *fakeInstance) Workdir() string    { return "/workspace" }
func (i *fakeInstance) RunnerPath() string { return "/usr/local/bin/hangar" }

func (i *fakeInstance) CopyIn(ctx context.Context, hostDir string) error {
	i.backend.record("copy-in " + hostDir)
	return i.backend.copyInErr
}

func (i *fakeInstance) Run(ctx context.Context, argv []string, options process.Options) (int, error) {
	i.backend.record("run " + process.CommandLine(argv))
	if i.backend.onRun != nil {
		return i.backend.onRun(ctx, argv, options)
	}
	return 0, nil
}

func (i *fakeInstance) CopyOut(ctx context.Context, hostDir string) error {
	i.backend.record("copy-out " + hostDir)
	return i.backend.copyOutErr
}

func (i *fakeInstance) Release(ctx context.Context) error {
	i.backend.record("release")
	i.backend.mu.Lock()
	i.backend.releaseCtxErr = ctx.Err()
	i.backend.mu.Unlock()
	return i.backend.releaseErr
}

var (
	linuxContainer = pipeline.Platform{Family: "linux", Kind: pipeline.SandboxContainer}
	macosVM        = pipeline.Platform{Family: "macos", Arch: "arm64", Kind: pipeline.SandboxVM}
)

func newTestManager(t *testing.T, current Context, backend *fakeBackend) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{
		Context: current,
		Backends: map[pipeline.SandboxKind]Backend{
			pipeline.SandboxContainer: backend,
			pipeline.SandboxVM:        backend,
		},
		StateDir:   t.TempDir(),
		RunnerPath: "/opt/hangar/bin/hangar",
		Run: func(ctx context.Context, argv []string, options process.Options) (int, error) {
			backend.record("host " + options.Dir + " " + process.CommandLine(argv))
			return 0, nil
		},
		Clock:  clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func TestExecuteInContainer(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := newTestManager(t, Host, backend)

	var scopesDuringRun []ScopeRecord
	backend.onRun = func(ctx context.Context, argv []string, options process.Options) (int, error) {
		records, err := ListScopes(manager.config.StateDir)
		if err != nil {
			t.Errorf("ListScopes: %v", err)
		}
		scopesDuringRun = records
		if manager.Phase() != Inside {
			t.Errorf("phase during run = %s, want inside", manager.Phase())
		}
		return 0, nil
	}

	status, err := manager.Execute(context.Background(), linuxContainer, "/src", []string{"/usr/local/bin/hangar", "run", "--step", "build"}, process.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}

	want := []string{
		"provision container",
		"copy-in /src",
		"run /usr/local/bin/hangar run --step build",
		"copy-out /src",
		"release",
	}
	if got := backend.recorded(); !slices.Equal(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}

	if len(scopesDuringRun) != 1 {
		t.Fatalf("scopes during run = %d, want 1", len(scopesDuringRun))
	}
	record := scopesDuringRun[0]
	if record.Kind != pipeline.SandboxContainer || record.Family != "linux" || record.Workspace != "/src" {
		t.Errorf("scope record = %+v", record)
	}
	if record.Instance != "fake-"+record.Token {
		t.Errorf("scope instance = %q, token %q", record.Instance, record.Token)
	}

	after, err := ListScopes(manager.config.StateDir)
	if err != nil {
		t.Fatalf("ListScopes: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("scopes after release = %+v, want none", after)
	}
	if manager.Phase() != Outside {
		t.Errorf("phase after Execute = %s", manager.Phase())
	}
}

func TestExecuteHostRunsInPlace(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := newTestManager(t, Host, backend)

	host := pipeline.Platform{Kind: pipeline.SandboxHost}
	if _, err := manager.Execute(context.Background(), host, "/src", []string{"make"}, process.Options{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"host /src make"}
	if got := backend.recorded(); !slices.Equal(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestEnterSameKindRunsInPlace(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := newTestManager(t, InsideContainer, backend)

	environment, err := manager.Enter(context.Background(), linuxContainer, "/workspace")
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if !environment.InPlace() {
		t.Error("expected in-place environment")
	}
	if environment.Workdir() != "/workspace" {
		t.Errorf("Workdir = %q", environment.Workdir())
	}
	if environment.RunnerPath() != "/opt/hangar/bin/hangar" {
		t.Errorf("RunnerPath = %q", environment.RunnerPath())
	}
	if err := manager.Exit(context.Background()); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if got := backend.recorded(); len(got) != 0 {
		t.Errorf("backend calls = %q, want none", got)
	}
}

func TestEnterOtherKindFromInsideSandbox(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := newTestManager(t, InsideContainer, backend)

	_, err := manager.Enter(context.Background(), macosVM, "/workspace")
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) {
		t.Fatalf("Enter error = %v, want *ProvisionError", err)
	}
	if provisionErr.Platform != macosVM {
		t.Errorf("error platform = %+v", provisionErr.Platform)
	}
	if manager.Phase() != Outside {
		t.Errorf("phase = %s, want outside", manager.Phase())
	}
}

func TestEnterWhileInside(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := newTestManager(t, Host, backend)

	if _, err := manager.Enter(context.Background(), linuxContainer, "/src"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if _, err := manager.Enter(context.Background(), macosVM, "/src"); !errors.Is(err, ErrScopeBusy) {
		t.Errorf("second Enter error = %v, want ErrScopeBusy", err)
	}
	if err := manager.Exit(context.Background()); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if err := manager.Exit(context.Background()); err != nil {
		t.Errorf("Exit while outside = %v, want nil", err)
	}
}

func TestEnterProvisionFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{provisionErr: errors.New("no capacity")}
	manager := newTestManager(t, Host, backend)

	_, err := manager.Enter(context.Background(), macosVM, "/src")
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) {
		t.Fatalf("Enter error = %v, want *ProvisionError", err)
	}
	if provisionErr.Op != "provision" {
		t.Errorf("Op = %q", provisionErr.Op)
	}
	if manager.Phase() != Outside {
		t.Errorf("phase = %s, want outside", manager.Phase())
	}
}

func TestEnterCopyInFailureReleases(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{copyInErr: errors.New("disk full")}
	manager := newTestManager(t, Host, backend)

	_, err := manager.Enter(context.Background(), linuxContainer, "/src")
	var transferErr *TransferError
	if !errors.As(err, &transferErr) || transferErr.Direction != CopyIn {
		t.Fatalf("Enter error = %v, want copy-in *TransferError", err)
	}
	want := []string{"provision container", "copy-in /src", "release"}
	if got := backend.recorded(); !slices.Equal(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
	records, err := ListScopes(manager.config.StateDir)
	if err != nil {
		t.Fatalf("ListScopes: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("leaked scope records: %+v", records)
	}
}

func TestExecuteCopyOutFailureAfterSuccess(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{copyOutErr: errors.New("connection reset")}
	manager := newTestManager(t, Host, backend)

	status, err := manager.Execute(context.Background(), linuxContainer, "/src", []string{"true"}, process.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != 0 {
		t.Errorf("status = %d", status)
	}
	if calls := backend.recorded(); calls[len(calls)-1] != "release" {
		t.Errorf("last call = %q, want release", calls[len(calls)-1])
	}
}

func TestExecuteCopyOutFailureAfterFailure(t *testing.T) {
	t.Parallel()

	runErr := &process.Error{Command: []string{"false"}, ExitCode: 1}
	backend := &fakeBackend{copyOutErr: errors.New("connection reset")}
	backend.onRun = func(context.Context, []string, process.Options) (int, error) {
		return 1, runErr
	}
	manager := newTestManager(t, Host, backend)

	status, err := manager.Execute(context.Background(), linuxContainer, "/src", []string{"false"}, process.Options{})
	if status != 1 {
		t.Errorf("status = %d, want 1", status)
	}
	if !errors.Is(err, runErr) {
		t.Errorf("error = %v, want the command's error", err)
	}
}

func TestExecuteReleaseFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{releaseErr: errors.New("container busy")}
	manager := newTestManager(t, Host, backend)

	_, err := manager.Execute(context.Background(), linuxContainer, "/src", []string{"true"}, process.Options{})
	if err == nil {
		t.Fatal("expected release failure to be reported")
	}
	if manager.Phase() != Outside {
		t.Errorf("phase = %s, want outside", manager.Phase())
	}
}

func TestExecuteCanceledStillReleases(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{}
	backend.onRun = func(ctx context.Context, argv []string, options process.Options) (int, error) {
		cancel()
		return -1, ctx.Err()
	}
	manager := newTestManager(t, Host, backend)

	_, err := manager.Execute(ctx, linuxContainer, "/src", []string{"sleep", "60"}, process.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	want := []string{
		"provision container",
		"copy-in /src",
		"run sleep 60",
		"copy-out /src",
		"release",
	}
	if got := backend.recorded(); !slices.Equal(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.releaseCtxErr != nil {
		t.Errorf("release saw canceled context: %v", backend.releaseCtxErr)
	}
}

func TestEnterMissingBackend(t *testing.T) {
	t.Parallel()

	manager, err := NewManager(ManagerConfig{
		Context:    Host,
		RunnerPath: "/opt/hangar/bin/hangar",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, err = manager.Enter(context.Background(), macosVM, "/src")
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) || provisionErr.Op != "select backend" {
		t.Errorf("Enter error = %v, want select backend ProvisionError", err)
	}
}

func TestHostPlatformInsideContainerRunsInPlace(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	manager := newTestManager(t, InsideContainer, backend)

	host := pipeline.Platform{Kind: pipeline.SandboxHost}
	status, err := manager.Within(context.Background(), host, "/workspace", func(ctx context.Context, environment *Environment) (int, error) {
		if !environment.InPlace() {
			t.Error("expected in-place environment")
		}
		return environment.Run(ctx, []string{"sh", "-c", "make test"}, process.Options{})
	})
	if err != nil || status != 0 {
		t.Fatalf("Within = %d, %v", status, err)
	}
	want := []string{"host /workspace sh -c 'make test'"}
	if got := backend.recorded(); !slices.Equal(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}
