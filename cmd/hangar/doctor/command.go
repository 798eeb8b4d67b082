// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
	"github.com/hangar-build/hangar/cmd/hangar/cli/doctor"
	"github.com/hangar-build/hangar/lib/config"
	"github.com/hangar-build/hangar/sandbox"
)

type commandParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"config file (default: $HANGAR_CONFIG)"`
	Fix    bool   `flag:"fix" desc:"reclaim leaked sandboxes and create missing directories"`
	DryRun bool   `flag:"dry-run" desc:"with --fix, report what would be repaired"`
}

// Command returns the "doctor" command.
func Command() *cli.Command {
	var params commandParams
	return &cli.Command{
		Name:    "doctor",
		Summary: "Check the host and find leaked sandboxes",
		Description: `Check that the configuration loads and validates, which sandbox
backends are usable from here, that the step shell and CI backend
tools are installed, and whether runs that crashed left containers or
VMs behind.

Leaked sandboxes are found through the scope records in the state
directory. --fix removes them.`,
		Usage: "hangar doctor [flags]",
		Examples: []cli.Example{
			{
				Description: "Check this host",
				Command:     "hangar doctor",
			},
			{
				Description: "Remove sandboxes left by crashed runs",
				Command:     "hangar doctor --fix",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("doctor", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			return runDoctor(ctx, params, logger)
		},
	}
}

func runDoctor(ctx context.Context, params commandParams, logger *slog.Logger) error {
	cfg, err := config.Resolve(params.Config)
	var results []doctor.Result
	if err != nil {
		results = append(results, doctor.Fail("config", err.Error()))
		return report(ctx, params, results)
	}
	results = append(results, checkConfig(cfg)...)

	caps := sandbox.DetectCapabilities(
		sandbox.DetectContext(sandbox.DefaultMarkers(cfg.Sandbox.VM.MountPath)),
		cfg.Sandbox.Container.Runtime,
		cfg.Sandbox.VM.Driver,
	)
	results = append(results, checkCapabilities(caps)...)
	results = append(results, checkTools(cfg)...)

	runnerBinary, err := os.Executable()
	if err != nil {
		results = append(results, doctor.Fail("sandbox scopes", err.Error()))
		return report(ctx, params, results)
	}
	manager, err := sandbox.NewManagerFromConfig(cfg, runnerBinary, logger)
	if err != nil {
		results = append(results, doctor.Fail("sandbox scopes", err.Error()))
		return report(ctx, params, results)
	}
	results = append(results, checkScopes(cfg.Paths.State, manager)...)
	return report(ctx, params, results)
}

func report(ctx context.Context, params commandParams, results []doctor.Result) error {
	if params.Fix {
		doctor.ExecuteFixes(ctx, results, params.DryRun)
	}
	if done, err := params.EmitJSON(doctor.BuildJSON(results, params.DryRun)); done {
		if err != nil {
			return err
		}
		if doctor.AnyFailed(results) {
			return &cli.ExitError{Code: 1}
		}
		return nil
	}
	return doctor.PrintChecklist(os.Stdout, results, params.Fix, params.DryRun)
}

func checkConfig(cfg *config.Config) []doctor.Result {
	var results []doctor.Result
	if err := cfg.Validate(); err != nil {
		results = append(results, doctor.Fail("config", err.Error()))
	} else {
		results = append(results, doctor.Pass("config", fmt.Sprintf("%s environment", cfg.Environment)))
	}

	var missing []string
	for _, dir := range []string{cfg.Paths.State, cfg.Paths.Artifacts} {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, dir)
		}
	}
	if len(missing) == 0 {
		results = append(results, doctor.Pass("directories", cfg.Paths.State))
	} else {
		results = append(results, doctor.FailWithFix("directories",
			fmt.Sprintf("missing %v", missing),
			"create the state and artifact directories",
			func(ctx context.Context) error { return cfg.EnsurePaths() }))
	}
	return results
}

// checkCapabilities reports unusable backends as warnings: a host
// that only runs host steps is still healthy.
func checkCapabilities(caps *sandbox.Capabilities) []doctor.Result {
	results := []doctor.Result{doctor.Pass("process context", caps.Context.String())}

	if caps.CanRunContainers() {
		message := caps.ContainerRuntimePath
		if caps.ContainerRuntimeVersion != "" {
			message = caps.ContainerRuntimeVersion
		}
		if caps.Context == sandbox.InsideContainer {
			message = "already inside a container"
		}
		results = append(results, doctor.Pass("container sandboxes", message))
	} else {
		results = append(results, doctor.Warn("container sandboxes", caps.SkipReason()))
	}

	if caps.CanRunVMs() {
		message := caps.VMDriverPath
		if caps.Context == sandbox.InsideVM {
			message = "already inside a VM"
		}
		results = append(results, doctor.Pass("VM sandboxes", message))
	} else {
		results = append(results, doctor.Warn("VM sandboxes", caps.VMSkipReason()))
	}
	return results
}

func checkTools(cfg *config.Config) []doctor.Result {
	var results []doctor.Result
	if path, err := config.BinaryPath(cfg.Runner.Shell); err != nil {
		results = append(results, doctor.Fail("step shell", err.Error()))
	} else {
		results = append(results, doctor.Pass("step shell", path))
	}

	switch cfg.Builder.Backend {
	case "buildkite":
		if path, err := config.BinaryPath(cfg.Builder.AgentBinary); err != nil {
			results = append(results, doctor.Fail("buildkite agent", err.Error()))
		} else {
			results = append(results, doctor.Pass("buildkite agent", path))
		}
	case "local":
		results = append(results, checkSecretsBundle(cfg))
	}
	return results
}

func checkSecretsBundle(cfg *config.Config) doctor.Result {
	const name = "secrets bundle"
	if cfg.Builder.SecretsBundle == "" {
		return doctor.Skip(name, "no builder.secrets_bundle configured")
	}
	for _, path := range []string{cfg.Builder.SecretsBundle, cfg.Builder.IdentityFile} {
		if _, err := os.Stat(path); err != nil {
			return doctor.Fail(name, err.Error())
		}
	}
	return doctor.Pass(name, cfg.Builder.SecretsBundle)
}

// checkScopes reports every recorded sandbox scope. Scopes whose
// runner is still alive are in use; the rest leaked.
func checkScopes(stateDir string, manager *sandbox.Manager) []doctor.Result {
	records, err := sandbox.ListScopes(stateDir)
	if err != nil {
		return []doctor.Result{doctor.Fail("sandbox scopes", err.Error())}
	}
	if len(records) == 0 {
		return []doctor.Result{doctor.Pass("sandbox scopes", "no sandboxes recorded")}
	}

	var results []doctor.Result
	for _, record := range records {
		name := "scope " + record.Token
		description := fmt.Sprintf("%s %s for %s", record.Kind, record.Instance, record.Workspace)
		if !record.Stale() {
			results = append(results, doctor.Pass(name, fmt.Sprintf("%s, in use by pid %d", description, record.PID)))
			continue
		}
		results = append(results, doctor.FailWithFix(name,
			fmt.Sprintf("%s leaked by pid %d at %s", description, record.PID, record.Started.Format(time.RFC3339)),
			"remove "+record.Instance,
			func(ctx context.Context) error { return manager.Reclaim(ctx, record) }))
	}
	return results
}
