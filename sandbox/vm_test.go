// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hangar-build/hangar/lib/clock"
	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/process"
	"github.com/hangar-build/hangar/lib/testutil"
)

// fakeDriver is a VMDriver that records calls and reports statuses
// from a script.
type fakeDriver struct {
	mu       sync.Mutex
	calls    []string
	statuses []VMStatus
	failOn   string

	// markers holds the contents of files copied to the marker path.
	markers []string
}

func (d *fakeDriver) record(format string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	call := fmt.Sprintf(format, args...)
	d.calls = append(d.calls, call)
	if d.failOn != "" && strings.HasPrefix(call, d.failOn) {
		return errors.New(d.failOn + " failed")
	}
	return nil
}

func (d *fakeDriver) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

func (d *fakeDriver) Clone(ctx context.Context, baseImage, name string) error {
	return d.record("clone %s %s", baseImage, name)
}

func (d *fakeDriver) Start(ctx context.Context, name string) error {
	return d.record("start %s", name)
}

func (d *fakeDriver) Status(ctx context.Context, name string) (VMStatus, error) {
	if err := d.record("status %s", name); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.statuses) == 0 {
		return VMStarting, nil
	}
	status := d.statuses[0]
	if len(d.statuses) > 1 {
		d.statuses = d.statuses[1:]
	}
	return status, nil
}

func (d *fakeDriver) Stop(ctx context.Context, name string) error {
	return d.record("stop %s", name)
}

func (d *fakeDriver) Delete(ctx context.Context, name string) error {
	return d.record("delete %s", name)
}

func (d *fakeDriver) CreateDisk(ctx context.Context, disk string, sizeGB int) error {
	return d.record("disk-create %s %d", disk, sizeGB)
}

func (d *fakeDriver) AttachDisk(ctx context.Context, name, disk string) error {
	return d.record("disk-attach %s %s", name, disk)
}

func (d *fakeDriver) DetachDisk(ctx context.Context, name, disk string) error {
	return d.record("disk-detach %s %s", name, disk)
}

func (d *fakeDriver) DeleteDisk(ctx context.Context, disk string) error {
	return d.record("disk-delete %s", disk)
}

func (d *fakeDriver) CopyTo(ctx context.Context, name, hostPath, guestPath string) error {
	if strings.HasSuffix(guestPath, VMMarkerName) {
		data, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.markers = append(d.markers, string(data))
		d.mu.Unlock()
		hostPath = "MARKER"
	}
	return d.record("copy-to %s %s %s", name, hostPath, guestPath)
}

func (d *fakeDriver) CopyFrom(ctx context.Context, name, guestPath, hostPath string) error {
	return d.record("copy-from %s %s %s", name, guestPath, hostPath)
}

func (d *fakeDriver) Exec(ctx context.Context, name, dir string, argv []string, options process.Options) (int, error) {
	return 0, d.record("exec %s %s %s", name, dir, process.CommandLine(argv))
}

const (
	testPollInterval = 250 * time.Millisecond
	testBootTimeout  = 5 * time.Minute
)

func newTestVMBackend(driver *fakeDriver, fakeClock *clock.FakeClock) *VMBackend {
	return NewVMBackend(VMConfig{
		Driver:       driver,
		BaseImages:   map[string]string{"macos": "sequoia-xcode"},
		MountPath:    "/Volumes/hangar",
		DiskSizeGB:   40,
		PollInterval: testPollInterval,
		BootTimeout:  testBootTimeout,
		RunnerPath:   "/usr/local/bin/hangar",
		RunnerBinary: "/opt/hangar/bin/hangar-darwin-arm64",
		Clock:        fakeClock,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

type provisionResult struct {
	instance Instance
	err      error
}

func provisionAsync(backend *VMBackend, platform pipeline.Platform) <-chan provisionResult {
	done := make(chan provisionResult, 1)
	go func() {
		instance, err := backend.Provision(context.Background(), platform, "tok")
		done <- provisionResult{instance, err}
	}()
	return done
}

func TestVMLifecycle(t *testing.T) {
	t.Parallel()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	driver := &fakeDriver{statuses: []VMStatus{VMStarting, VMRunning}}
	backend := newTestVMBackend(driver, fakeClock)

	done := provisionAsync(backend, macosVM)
	// Boot deadline and poll ticker.
	fakeClock.WaitForTimers(2)
	fakeClock.Advance(testPollInterval)

	result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Provision")
	if result.err != nil {
		t.Fatalf("Provision: %v", result.err)
	}
	instance := result.instance
	if instance.Workdir() != "/Volumes/hangar/workspace" {
		t.Errorf("Workdir = %q", instance.Workdir())
	}

	ctx := context.Background()
	if err := instance.CopyIn(ctx, "/src"); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	if _, err := instance.Run(ctx, []string{"/usr/local/bin/hangar", "run", "--step", "ios"}, process.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := instance.CopyOut(ctx, "/src"); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	if err := instance.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	want := []string{
		"clone sequoia-xcode hangar-tok",
		"disk-create hangar-tok-workspace 40",
		"disk-attach hangar-tok hangar-tok-workspace",
		"start hangar-tok",
		"status hangar-tok",
		"status hangar-tok",
		"copy-to hangar-tok MARKER /Volumes/hangar/.hangar-vm",
		"copy-to hangar-tok /opt/hangar/bin/hangar-darwin-arm64 /usr/local/bin/hangar",
		"copy-to hangar-tok /src /Volumes/hangar/workspace",
		"exec hangar-tok /Volumes/hangar/workspace /usr/local/bin/hangar run --step ios",
		"copy-from hangar-tok /Volumes/hangar/workspace /src",
		"stop hangar-tok",
		"disk-detach hangar-tok hangar-tok-workspace",
		"disk-delete hangar-tok-workspace",
		"delete hangar-tok",
	}
	if got := driver.recorded(); !slices.Equal(got, want) {
		t.Errorf("driver calls:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	if len(driver.markers) != 1 || driver.markers[0] != "tok\n" {
		t.Errorf("markers = %q", driver.markers)
	}
}

func TestVMBootTimeout(t *testing.T) {
	t.Parallel()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	driver := &fakeDriver{}
	backend := newTestVMBackend(driver, fakeClock)

	done := provisionAsync(backend, macosVM)
	fakeClock.WaitForTimers(2)
	fakeClock.Advance(testBootTimeout)

	result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Provision")
	var provisionErr *ProvisionError
	if !errors.As(result.err, &provisionErr) || provisionErr.Op != "boot" {
		t.Fatalf("Provision error = %v, want boot ProvisionError", result.err)
	}

	calls := driver.recorded()
	cleanup := calls[len(calls)-4:]
	want := []string{
		"stop hangar-tok",
		"disk-detach hangar-tok hangar-tok-workspace",
		"disk-delete hangar-tok-workspace",
		"delete hangar-tok",
	}
	if !slices.Equal(cleanup, want) {
		t.Errorf("cleanup calls = %q, want %q", cleanup, want)
	}
}

func TestVMReportsFailed(t *testing.T) {
	t.Parallel()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	driver := &fakeDriver{statuses: []VMStatus{VMFailed}}
	backend := newTestVMBackend(driver, fakeClock)

	_, err := backend.Provision(context.Background(), macosVM, "tok")
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) || provisionErr.Op != "boot" {
		t.Fatalf("Provision error = %v, want boot ProvisionError", err)
	}
}

func TestVMCloneFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	driver := &fakeDriver{failOn: "clone"}
	backend := newTestVMBackend(driver, fakeClock)

	_, err := backend.Provision(context.Background(), macosVM, "tok")
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) || provisionErr.Op != "clone" {
		t.Fatalf("Provision error = %v, want clone ProvisionError", err)
	}
	if got := driver.recorded(); len(got) != 1 {
		t.Errorf("driver calls = %q, want only the clone", got)
	}
}

func TestVMAttachFailureCleansUp(t *testing.T) {
	t.Parallel()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	driver := &fakeDriver{failOn: "disk-attach"}
	backend := newTestVMBackend(driver, fakeClock)

	_, err := backend.Provision(context.Background(), macosVM, "tok")
	if err == nil {
		t.Fatal("expected attach failure")
	}
	want := []string{
		"clone sequoia-xcode hangar-tok",
		"disk-create hangar-tok-workspace 40",
		"disk-attach hangar-tok hangar-tok-workspace",
		"disk-delete hangar-tok-workspace",
		"delete hangar-tok",
	}
	if got := driver.recorded(); !slices.Equal(got, want) {
		t.Errorf("driver calls = %q, want %q", got, want)
	}
}

func TestVMMissingBaseImage(t *testing.T) {
	t.Parallel()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	driver := &fakeDriver{}
	backend := newTestVMBackend(driver, fakeClock)

	windows := pipeline.Platform{Family: "windows", Kind: pipeline.SandboxVM}
	_, err := backend.Provision(context.Background(), windows, "tok")
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) || provisionErr.Op != "select image" {
		t.Fatalf("Provision error = %v, want select image ProvisionError", err)
	}
	if got := driver.recorded(); len(got) != 0 {
		t.Errorf("driver calls = %q, want none", got)
	}
}
