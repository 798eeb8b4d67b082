// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/testutil"
)

func TestDetectContext(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"vm/.hangar-vm":        "token\n",
		"docker/.dockerenv":    "",
		"podman/.containerenv": "",
		"cgroup/host":          "0::/init.scope\n",
		"cgroup/containerd":    "12:pids:/kubepods/besteffort/pod1234/abcdef\n",
		"cgroup/docker":        "0::/system.slice/docker-0123abcd.scope\n",
	})
	missing := filepath.Join(root, "missing")

	tests := []struct {
		name    string
		markers Markers
		want    Context
	}{
		{"nothing", Markers{VM: missing, DockerEnv: missing, ContainerEnv: missing, Cgroup: missing}, Host},
		{"empty paths", Markers{}, Host},
		{"host cgroup", Markers{Cgroup: filepath.Join(root, "cgroup/host")}, Host},
		{"vm marker", Markers{VM: filepath.Join(root, "vm/.hangar-vm")}, InsideVM},
		{"vm wins over docker", Markers{
			VM:        filepath.Join(root, "vm/.hangar-vm"),
			DockerEnv: filepath.Join(root, "docker/.dockerenv"),
		}, InsideVM},
		{"dockerenv", Markers{DockerEnv: filepath.Join(root, "docker/.dockerenv")}, InsideContainer},
		{"containerenv", Markers{ContainerEnv: filepath.Join(root, "podman/.containerenv")}, InsideContainer},
		{"kubepods cgroup", Markers{Cgroup: filepath.Join(root, "cgroup/containerd")}, InsideContainer},
		{"docker cgroup", Markers{Cgroup: filepath.Join(root, "cgroup/docker")}, InsideContainer},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectContext(test.markers); got != test.want {
				t.Errorf("DetectContext = %s, want %s", got, test.want)
			}
		})
	}
}

func TestContextKind(t *testing.T) {
	t.Parallel()

	if Host.Kind() != pipeline.SandboxHost {
		t.Errorf("Host.Kind() = %s", Host.Kind())
	}
	if InsideContainer.Kind() != pipeline.SandboxContainer {
		t.Errorf("InsideContainer.Kind() = %s", InsideContainer.Kind())
	}
	if InsideVM.Kind() != pipeline.SandboxVM {
		t.Errorf("InsideVM.Kind() = %s", InsideVM.Kind())
	}
}

func TestDefaultMarkers(t *testing.T) {
	t.Parallel()

	markers := DefaultMarkers("/Volumes/hangar")
	if markers.VM != "/Volumes/hangar/.hangar-vm" {
		t.Errorf("VM marker = %q", markers.VM)
	}
	if markers.DockerEnv != "/.dockerenv" {
		t.Errorf("DockerEnv = %q", markers.DockerEnv)
	}
}
