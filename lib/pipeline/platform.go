// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

// SandboxKind is the isolation used for a job.
type SandboxKind string

const (
	// SandboxHost runs on the invoking host without isolation.
	SandboxHost SandboxKind = "host"
	// SandboxContainer runs in a docker or podman container.
	SandboxContainer SandboxKind = "container"
	// SandboxVM runs in a virtual machine.
	SandboxVM SandboxKind = "vm"
)

// Platform is the resolved target of a job.
type Platform struct {
	// Family is linux, macos, or windows; empty for host jobs.
	Family string

	// Arch is amd64 or arm64; empty means any.
	Arch string

	Kind SandboxKind

	// Image overrides the configured container image or VM base
	// image.
	Image string
}

// String renders the platform for logs and plans.
func (p Platform) String() string {
	if p.Kind == SandboxHost {
		return "host"
	}
	text := string(p.Kind) + ":" + p.Family
	if p.Arch != "" {
		text += "/" + p.Arch
	}
	if p.Image != "" {
		text += " (" + p.Image + ")"
	}
	return text
}

// UnsupportedPlatformError reports an agent query value hangar cannot
// serve.
type UnsupportedPlatformError struct {
	Key   string
	Value string

	// Step is the job ID, when known.
	Step string
}

func (e *UnsupportedPlatformError) Error() string {
	message := fmt.Sprintf("unsupported platform %s=%q", e.Key, e.Value)
	if e.Step != "" {
		message = fmt.Sprintf("step %q: %s", e.Step, message)
	}
	return message
}

// NormalizeAgents converts either agent query form into the canonical
// map. value is a []any of "key=value" strings, a map[string]any of
// scalars, or nil. Scalars other than strings are formatted with %v.
func NormalizeAgents(value any) (schema.AgentQuery, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case []any:
		query := make(schema.AgentQuery, len(typed))
		for index, entry := range typed {
			text, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("agents[%d]: expected \"key=value\" string, got %T", index, entry)
			}
			key, val, found := strings.Cut(text, "=")
			key = strings.TrimSpace(key)
			if !found || key == "" {
				return nil, fmt.Errorf("agents[%d]: %q is not in key=value form", index, text)
			}
			if _, exists := query[key]; exists {
				return nil, fmt.Errorf("agents[%d]: duplicate key %q", index, key)
			}
			query[key] = strings.TrimSpace(val)
		}
		return query, nil
	case map[string]any:
		query := make(schema.AgentQuery, len(typed))
		for key, entry := range typed {
			switch scalar := entry.(type) {
			case string:
				query[key] = scalar
			case bool, int, int64, float64:
				query[key] = fmt.Sprintf("%v", scalar)
			case nil:
				query[key] = ""
			default:
				return nil, fmt.Errorf("agents.%s: expected a scalar value, got %T", key, entry)
			}
		}
		return query, nil
	default:
		return nil, fmt.Errorf("agents: expected a list of \"key=value\" strings or a mapping, got %T", value)
	}
}

// ResolveAgents merges the pipeline default query with a step's query.
// Step keys win.
func ResolveAgents(defaults, step schema.AgentQuery) schema.AgentQuery {
	if len(defaults) == 0 && len(step) == 0 {
		return nil
	}
	merged := make(schema.AgentQuery, len(defaults)+len(step))
	maps.Copy(merged, defaults)
	maps.Copy(merged, step)
	return merged
}

// Accepted spellings of os and arch values. Other agent query keys
// (queue, tags) are left to the CI backend.
var (
	osFamilies = map[string]string{
		"linux":   "linux",
		"macos":   "macos",
		"darwin":  "macos",
		"osx":     "macos",
		"windows": "windows",
	}
	architectures = map[string]string{
		"amd64":   "amd64",
		"x86_64":  "amd64",
		"x64":     "amd64",
		"arm64":   "arm64",
		"aarch64": "arm64",
	}
)

// ResolvePlatform maps a canonical agent query onto a Platform.
//
// Without an os key the job runs on the host. linux selects a
// container unless sandbox=vm is given; macos and windows always
// select a VM. An image key overrides the default image.
func ResolvePlatform(query schema.AgentQuery) (Platform, error) {
	osValue, hasOS := query["os"]
	sandboxValue := strings.ToLower(query["sandbox"])

	if !hasOS {
		if sandboxValue != "" && sandboxValue != string(SandboxHost) {
			return Platform{}, &UnsupportedPlatformError{Key: "sandbox", Value: query["sandbox"]}
		}
		return Platform{Kind: SandboxHost}, nil
	}

	family, ok := osFamilies[strings.ToLower(osValue)]
	if !ok {
		return Platform{}, &UnsupportedPlatformError{Key: "os", Value: osValue}
	}

	platform := Platform{Family: family, Image: query["image"]}
	if archValue, hasArch := query["arch"]; hasArch && archValue != "" {
		arch, ok := architectures[strings.ToLower(archValue)]
		if !ok {
			return Platform{}, &UnsupportedPlatformError{Key: "arch", Value: archValue}
		}
		platform.Arch = arch
	}

	switch sandboxValue {
	case "":
		if family == "linux" {
			platform.Kind = SandboxContainer
		} else {
			platform.Kind = SandboxVM
		}
	case string(SandboxContainer):
		if family != "linux" {
			return Platform{}, &UnsupportedPlatformError{Key: "sandbox", Value: query["sandbox"]}
		}
		platform.Kind = SandboxContainer
	case string(SandboxVM):
		platform.Kind = SandboxVM
	default:
		return Platform{}, &UnsupportedPlatformError{Key: "sandbox", Value: query["sandbox"]}
	}
	return platform, nil
}

// FormatAgents renders a query as sorted "key=value" pairs.
func FormatAgents(query schema.AgentQuery) string {
	pairs := make([]string, 0, len(query))
	for key, value := range query {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}
