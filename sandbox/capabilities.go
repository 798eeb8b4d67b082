// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os/exec"
	"strings"
)

// Capabilities describes which sandbox backends this system can use.
type Capabilities struct {
	// Context is where the current process runs.
	Context Context

	// ContainerRuntime is the configured runtime name.
	ContainerRuntime string

	// ContainerRuntimePath is the resolved runtime executable, empty
	// when it is not installed.
	ContainerRuntimePath string

	// ContainerRuntimeVersion is the runtime's --version output.
	ContainerRuntimeVersion string

	// VMDriver is the configured VM driver executable.
	VMDriver string

	// VMDriverPath is the resolved driver, empty when not installed.
	VMDriverPath string
}

// DetectCapabilities looks up the container runtime and VM driver on
// PATH.
func DetectCapabilities(current Context, runtime, driver string) *Capabilities {
	caps := &Capabilities{
		Context:          current,
		ContainerRuntime: runtime,
		VMDriver:         driver,
	}

	if path, err := exec.LookPath(runtime); err == nil {
		caps.ContainerRuntimePath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.ContainerRuntimeVersion = strings.TrimSpace(string(out))
		}
	}

	if path, err := exec.LookPath(driver); err == nil {
		caps.VMDriverPath = path
	}

	return caps
}

// CanRunContainers returns true if container steps can be provisioned
// from here.
func (c *Capabilities) CanRunContainers() bool {
	return c.Context == InsideContainer || (c.Context == Host && c.ContainerRuntimePath != "")
}

// CanRunVMs returns true if VM steps can be provisioned from here.
func (c *Capabilities) CanRunVMs() bool {
	return c.Context == InsideVM || (c.Context == Host && c.VMDriverPath != "")
}

// SkipReason returns a human-readable reason why container sandboxes
// aren't available, or empty string if they are.
func (c *Capabilities) SkipReason() string {
	if c.CanRunContainers() {
		return ""
	}
	if c.Context != Host {
		return "containers cannot be started from inside a " + c.Context.String()
	}
	return c.ContainerRuntime + " not installed"
}

// VMSkipReason is SkipReason for VM sandboxes.
func (c *Capabilities) VMSkipReason() string {
	if c.CanRunVMs() {
		return ""
	}
	if c.Context != Host {
		return "VMs cannot be started from inside a " + c.Context.String()
	}
	return "VM driver " + c.VMDriver + " not installed"
}
