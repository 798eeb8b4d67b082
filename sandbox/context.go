// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/hangar-build/hangar/lib/pipeline"
)

// Context is where the current process runs.
type Context int

const (
	// Host is the invoking machine, outside any sandbox.
	Host Context = iota
	// InsideContainer is inside a container started by hangar or
	// any other container runtime.
	InsideContainer
	// InsideVM is inside a VM provisioned by hangar.
	InsideVM
)

func (c Context) String() string {
	switch c {
	case Host:
		return "host"
	case InsideContainer:
		return "container"
	case InsideVM:
		return "vm"
	default:
		return "unknown"
	}
}

// Kind returns the sandbox kind this context satisfies.
func (c Context) Kind() pipeline.SandboxKind {
	switch c {
	case InsideContainer:
		return pipeline.SandboxContainer
	case InsideVM:
		return pipeline.SandboxVM
	default:
		return pipeline.SandboxHost
	}
}

// VMMarkerName is the file hangar places next to a VM's workspace
// directory. Its presence means the process runs in a hangar VM.
const VMMarkerName = ".hangar-vm"

// Markers are the files DetectContext probes.
type Markers struct {
	// VM is the VM marker file.
	VM string

	// DockerEnv and ContainerEnv are created by docker and podman.
	DockerEnv    string
	ContainerEnv string

	// Cgroup is read for container runtime names when neither file
	// exists.
	Cgroup string
}

// DefaultMarkers returns the standard marker locations for a VM
// workspace mounted at vmMountPath.
func DefaultMarkers(vmMountPath string) Markers {
	return Markers{
		VM:           filepath.Join(vmMountPath, VMMarkerName),
		DockerEnv:    "/.dockerenv",
		ContainerEnv: "/run/.containerenv",
		Cgroup:       "/proc/1/cgroup",
	}
}

// DetectContext probes markers once. Empty marker paths are skipped.
// The VM marker wins over container markers.
func DetectContext(markers Markers) Context {
	if fileExists(markers.VM) {
		return InsideVM
	}
	if fileExists(markers.DockerEnv) || fileExists(markers.ContainerEnv) {
		return InsideContainer
	}
	if cgroupIndicatesContainer(markers.Cgroup) {
		return InsideContainer
	}
	return Host
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// cgroupIndicatesContainer looks for container runtime names in a
// cgroup v1 membership file. On cgroup v2 hosts the file reads
// "0::/" and carries no signal.
func cgroupIndicatesContainer(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		for _, runtime := range []string{"docker", "containerd", "kubepods", "libpod", "lxc"} {
			if strings.Contains(line, runtime) {
				return true
			}
		}
	}
	return false
}
