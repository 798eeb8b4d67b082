// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects which override section applies.
type Environment string

const (
	// Development is for local runs on a workstation.
	Development Environment = "development"
	// CI is for runs under a CI agent.
	CI Environment = "ci"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "HANGAR_CONFIG"

// Config is the master configuration for hangar. The file may also
// carry top-level development and ci sections holding Settings keys;
// the one matching Environment is applied over the rest after load.
type Config struct {
	// Environment identifies the override section to apply.
	Environment Environment `yaml:"environment"`

	Settings `yaml:",inline"`
}

// Settings holds every overridable value.
type Settings struct {
	Paths   PathsConfig   `yaml:"paths"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Builder BuilderConfig `yaml:"builder"`
	Runner  RunnerConfig  `yaml:"runner"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State holds scope state, locks, and local metadata.
	State string `yaml:"state"`

	// Artifacts is the local artifact store root.
	Artifacts string `yaml:"artifacts"`
}

// SandboxConfig configures container and VM environments.
type SandboxConfig struct {
	Container ContainerConfig `yaml:"container"`
	VM        VMConfig        `yaml:"vm"`
}

// ContainerConfig configures the container backend.
type ContainerConfig struct {
	// Runtime is "docker" or "podman".
	Runtime string `yaml:"runtime"`

	// Image is the default image for linux steps. An "image" key in
	// a step's agent query overrides it.
	Image string `yaml:"image"`

	// Workdir is the workspace path inside the container.
	Workdir string `yaml:"workdir"`

	// RunnerPath is where the hangar binary is mounted inside the
	// container.
	RunnerPath string `yaml:"runner_path"`
}

// VMConfig configures the VM backend.
type VMConfig struct {
	// Driver is the VM driver executable.
	Driver string `yaml:"driver"`

	// BaseImages maps a platform family (macos, windows) to the base
	// VM image cloned for each scope.
	BaseImages map[string]string `yaml:"base_images"`

	// MountPath is where the workspace disk is mounted in the guest.
	// The same path carries the in-guest marker file.
	MountPath string `yaml:"mount_path"`

	// DiskSizeGB sizes the ephemeral workspace disk.
	DiskSizeGB int `yaml:"disk_size_gb"`

	// PollInterval is the fixed status polling interval while booting.
	PollInterval string `yaml:"poll_interval"`

	// BootTimeout bounds the wait for the VM to report running.
	BootTimeout string `yaml:"boot_timeout"`

	// RunnerPath is the hangar binary path inside the guest.
	RunnerPath string `yaml:"runner_path"`
}

// BuilderConfig configures the CI backend facade.
type BuilderConfig struct {
	// Backend is "local" or "buildkite".
	Backend string `yaml:"backend"`

	// AgentBinary is the buildkite-agent executable.
	AgentBinary string `yaml:"agent_binary"`

	// SecretsBundle is the age-encrypted YAML secrets bundle used by
	// the local backend. Empty disables local secrets.
	SecretsBundle string `yaml:"secrets_bundle"`

	// IdentityFile holds the age identity that opens SecretsBundle.
	IdentityFile string `yaml:"identity_file"`

	// SecretRenewInterval is how often cached secrets are re-fetched
	// during a run. Empty or "0" disables renewal.
	SecretRenewInterval string `yaml:"secret_renew_interval"`
}

// RunnerConfig configures step execution.
type RunnerConfig struct {
	// Shell runs each command line as Shell -c <line>.
	Shell string `yaml:"shell"`

	// DefaultTimeoutMinutes applies to command steps without
	// timeout_in_minutes. Zero means no limit.
	DefaultTimeoutMinutes int `yaml:"default_timeout_minutes"`

	// KillGracePeriod is the SIGTERM to SIGKILL delay when a step is
	// canceled or times out.
	KillGracePeriod string `yaml:"kill_grace_period"`
}

// Default returns the default configuration. LoadFile decodes the
// file over these values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "hangar")

	return &Config{
		Environment: Development,
		Settings: Settings{
			Paths: PathsConfig{
				State:     filepath.Join(root, "state"),
				Artifacts: filepath.Join(root, "artifacts"),
			},
			Sandbox: SandboxConfig{
				Container: ContainerConfig{
					Runtime:    "docker",
					Image:      "ubuntu:24.04",
					Workdir:    "/workspace",
					RunnerPath: "/usr/local/bin/hangar",
				},
				VM: VMConfig{
					Driver: "hangar-vm-driver",
					BaseImages: map[string]string{
						"macos":   "macos-base",
						"windows": "windows-base",
					},
					MountPath:    "/Volumes/hangar-workspace",
					DiskSizeGB:   64,
					PollInterval: "250ms",
					BootTimeout:  "10m",
					RunnerPath:   "/usr/local/bin/hangar",
				},
			},
			Builder: BuilderConfig{
				Backend:             "local",
				AgentBinary:         "buildkite-agent",
				SecretsBundle:       "",
				IdentityFile:        filepath.Join(homeDir, ".config", "hangar", "identity.txt"),
				SecretRenewInterval: "15m",
			},
			Runner: RunnerConfig{
				Shell:           "/bin/sh",
				KillGracePeriod: "10s",
			},
		},
	}
}

// Load loads configuration from the file named by HANGAR_CONFIG. It
// fails when the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your hangar.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.applyEnvironmentOverrides(data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// Resolve loads flagPath when set, otherwise HANGAR_CONFIG when set,
// otherwise returns Default.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides decodes the top-level section named by
// Environment over Settings. Keys the section omits keep their loaded
// values.
func (c *Config) applyEnvironmentOverrides(data []byte) error {
	if c.Environment != Development && c.Environment != CI {
		return nil
	}
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return err
	}
	section := topLevelSection(&document, string(c.Environment))
	if section == nil || section.ShortTag() == "!!null" {
		return nil
	}
	if section.Kind != yaml.MappingNode {
		return fmt.Errorf("%s overrides: expected a mapping, got %s", c.Environment, section.ShortTag())
	}
	if err := section.Decode(&c.Settings); err != nil {
		return fmt.Errorf("%s overrides: %w", c.Environment, err)
	}
	return nil
}

// topLevelSection returns the value under key in the document's root
// mapping, or nil.
func topLevelSection(document *yaml.Node, key string) *yaml.Node {
	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 {
		return nil
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			return root.Content[i+1]
		}
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["HANGAR_STATE"] = c.Paths.State

	c.Paths.Artifacts = expandVars(c.Paths.Artifacts, vars)
	c.Builder.SecretsBundle = expandVars(c.Builder.SecretsBundle, vars)
	c.Builder.IdentityFile = expandVars(c.Builder.IdentityFile, vars)
	c.Sandbox.VM.Driver = expandVars(c.Sandbox.VM.Driver, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of
// them.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != CI {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Artifacts == "" {
		errs = append(errs, fmt.Errorf("paths.artifacts is required"))
	}
	if !slices.Contains([]string{"docker", "podman"}, c.Sandbox.Container.Runtime) {
		errs = append(errs, fmt.Errorf("sandbox.container.runtime must be docker or podman, got %q", c.Sandbox.Container.Runtime))
	}
	if !filepath.IsAbs(c.Sandbox.Container.Workdir) {
		errs = append(errs, fmt.Errorf("sandbox.container.workdir must be absolute"))
	}
	if !filepath.IsAbs(c.Sandbox.VM.MountPath) {
		errs = append(errs, fmt.Errorf("sandbox.vm.mount_path must be absolute"))
	}
	if c.Sandbox.VM.DiskSizeGB <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.vm.disk_size_gb must be positive"))
	}
	if !slices.Contains([]string{"local", "buildkite"}, c.Builder.Backend) {
		errs = append(errs, fmt.Errorf("builder.backend must be local or buildkite, got %q", c.Builder.Backend))
	}
	if c.Runner.DefaultTimeoutMinutes < 0 {
		errs = append(errs, fmt.Errorf("runner.default_timeout_minutes must not be negative"))
	}

	for _, field := range []struct {
		name, value string
	}{
		{"sandbox.vm.poll_interval", c.Sandbox.VM.PollInterval},
		{"sandbox.vm.boot_timeout", c.Sandbox.VM.BootTimeout},
		{"builder.secret_renew_interval", c.Builder.SecretRenewInterval},
		{"runner.kill_grace_period", c.Runner.KillGracePeriod},
	} {
		if _, err := parseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// parseDuration accepts Go duration syntax; empty means zero.
func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", value)
	}
	return duration, nil
}

// mustDuration returns the parsed value, or zero for values Validate
// would reject.
func mustDuration(value string) time.Duration {
	duration, _ := parseDuration(value)
	return duration
}

// PollInterval returns sandbox.vm.poll_interval, defaulting to 250ms.
func (c *Config) PollInterval() time.Duration {
	if duration := mustDuration(c.Sandbox.VM.PollInterval); duration > 0 {
		return duration
	}
	return 250 * time.Millisecond
}

// BootTimeout returns sandbox.vm.boot_timeout; zero means no limit.
func (c *Config) BootTimeout() time.Duration {
	return mustDuration(c.Sandbox.VM.BootTimeout)
}

// SecretRenewInterval returns builder.secret_renew_interval; zero
// disables renewal.
func (c *Config) SecretRenewInterval() time.Duration {
	return mustDuration(c.Builder.SecretRenewInterval)
}

// KillGracePeriod returns runner.kill_grace_period.
func (c *Config) KillGracePeriod() time.Duration {
	return mustDuration(c.Runner.KillGracePeriod)
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.State, c.Paths.Artifacts} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// BinaryPath resolves an executable name. Names containing a path
// separator are checked directly; bare names are looked up in PATH.
func BinaryPath(name string) (string, error) {
	if filepath.Base(name) != name {
		info, err := os.Stat(name)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
			return "", fmt.Errorf("%s is not executable", name)
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}
