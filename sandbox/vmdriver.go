// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/hangar-build/hangar/lib/process"
)

// CLIDriver is a VMDriver backed by an external driver executable.
// Each method is one invocation:
//
//	DRIVER clone BASE NAME
//	DRIVER start NAME
//	DRIVER status NAME --json       prints {"status": "running"}
//	DRIVER stop NAME
//	DRIVER delete NAME
//	DRIVER disk-create DISK --size-gb N
//	DRIVER disk-attach NAME DISK
//	DRIVER disk-detach NAME DISK
//	DRIVER disk-delete DISK
//	DRIVER copy-to NAME HOST GUEST
//	DRIVER copy-from NAME GUEST HOST
//	DRIVER exec NAME --workdir DIR [--env KEY]... -- ARGV...
//
// Values of exec environment variables are passed through the
// driver's own environment, never on its command line.
type CLIDriver struct {
	Executable string

	// Run executes the driver. Defaults to process.Run.
	Run CommandRunner
}

func (d *CLIDriver) run(ctx context.Context, args ...string) error {
	_, err := d.runner()(ctx, append([]string{d.Executable}, args...), process.Options{Output: process.OutputDiscard})
	return err
}

func (d *CLIDriver) runner() CommandRunner {
	if d.Run == nil {
		return process.Run
	}
	return d.Run
}

func (d *CLIDriver) Clone(ctx context.Context, baseImage, name string) error {
	return d.run(ctx, "clone", baseImage, name)
}

func (d *CLIDriver) Start(ctx context.Context, name string) error {
	return d.run(ctx, "start", name)
}

func (d *CLIDriver) Status(ctx context.Context, name string) (VMStatus, error) {
	var stdout bytes.Buffer
	_, err := d.runner()(ctx, []string{d.Executable, "status", name, "--json"}, process.Options{
		Output:   process.OutputPipe,
		OnStdout: func(chunk []byte) { stdout.Write(chunk) },
	})
	if err != nil {
		return "", err
	}
	return parseStatus(stdout.Bytes())
}

func parseStatus(data []byte) (VMStatus, error) {
	var reply struct {
		Status VMStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("parsing VM status: %w", err)
	}
	switch reply.Status {
	case VMStopped, VMStarting, VMRunning, VMFailed:
		return reply.Status, nil
	default:
		return "", fmt.Errorf("unknown VM status %q", reply.Status)
	}
}

func (d *CLIDriver) Stop(ctx context.Context, name string) error {
	return d.run(ctx, "stop", name)
}

func (d *CLIDriver) Delete(ctx context.Context, name string) error {
	return d.run(ctx, "delete", name)
}

func (d *CLIDriver) CreateDisk(ctx context.Context, disk string, sizeGB int) error {
	return d.run(ctx, "disk-create", disk, "--size-gb", strconv.Itoa(sizeGB))
}

func (d *CLIDriver) AttachDisk(ctx context.Context, name, disk string) error {
	return d.run(ctx, "disk-attach", name, disk)
}

func (d *CLIDriver) DetachDisk(ctx context.Context, name, disk string) error {
	return d.run(ctx, "disk-detach", name, disk)
}

func (d *CLIDriver) DeleteDisk(ctx context.Context, disk string) error {
	return d.run(ctx, "disk-delete", disk)
}

func (d *CLIDriver) CopyTo(ctx context.Context, name, hostPath, guestPath string) error {
	return d.run(ctx, "copy-to", name, hostPath, guestPath)
}

func (d *CLIDriver) CopyFrom(ctx context.Context, name, guestPath, hostPath string) error {
	return d.run(ctx, "copy-from", name, guestPath, hostPath)
}

func (d *CLIDriver) Exec(ctx context.Context, name, dir string, argv []string, options process.Options) (int, error) {
	command := []string{d.Executable, "exec", name, "--workdir", dir}
	for _, key := range slices.Sorted(maps.Keys(options.Env)) {
		command = append(command, "--env", key)
	}
	command = append(command, "--")
	command = append(command, argv...)
	options.Dir = ""
	return d.runner()(ctx, command, options)
}
