// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
	"github.com/hangar-build/hangar/lib/artifact"
	"github.com/hangar-build/hangar/lib/builder"
	"github.com/hangar-build/hangar/lib/config"
	"github.com/hangar-build/hangar/lib/pipelinedef"
	"github.com/hangar-build/hangar/lib/runner"
	"github.com/hangar-build/hangar/lib/sealed"
	"github.com/hangar-build/hangar/sandbox"
)

type runParams struct {
	Step      string            `flag:"step" desc:"run one command step in place and exit with its status"`
	Workspace string            `flag:"workspace" desc:"directory commands run in (default: current directory)"`
	Artifacts string            `flag:"artifacts" desc:"local artifact store (default: paths.artifacts)"`
	Branch    string            `flag:"branch" desc:"build branch (default: current git branch)"`
	Commit    string            `flag:"commit" desc:"build commit (default: current git HEAD)"`
	Message   string            `flag:"message" desc:"build message (default: HEAD commit subject)"`
	BuildID   string            `flag:"build-id" desc:"build identifier (default: random UUID)"`
	Source    string            `flag:"source" desc:"build source exposed as build.source" default:"local"`
	Attempt   int               `flag:"attempt" desc:"attempt number of a nested --step run" default:"1"`
	Unblock   []string          `flag:"unblock" desc:"treat this block or input step as unblocked (repeatable)"`
	Fields    map[string]string `flag:"field" desc:"block or input field value as KEY=VALUE (repeatable)"`
	Config    string            `flag:"config" desc:"config file (default: $HANGAR_CONFIG)"`
	Result    string            `flag:"result" desc:"write a JSON lines result log to this path"`
	Backend   string            `flag:"backend" desc:"CI backend: local or buildkite (default: builder.backend)"`
}

// RunCommand returns the "run" command.
func RunCommand() *cli.Command {
	var params runParams
	return &cli.Command{
		Name:    "run",
		Summary: "Run a pipeline",
		Description: `Run a pipeline on this host. Jobs run one at a time in dependency
order. Each command job runs on the platform its agents query selects:
in place on the host, or inside a container or VM sandbox that is
provisioned for the job and torn down afterwards.

Block and input steps stop the jobs behind them until they are
unblocked with --unblock. Their field values come from --field.

With --step, a single command step runs in place and the process exits
with the step's exit status. The runner uses this form to re-invoke
itself inside sandboxes.`,
		Usage: "hangar run <pipeline> [flags]",
		Examples: []cli.Example{
			{
				Description: "Run the repository pipeline",
				Command:     "hangar run .hangar/pipeline.yml",
			},
			{
				Description: "Get past a release gate",
				Command:     "hangar run .hangar/pipeline.yml --unblock release --field version=1.4.0",
			},
			{
				Description: "Report to Buildkite and keep a result log",
				Command:     "hangar run pipeline.yml --backend buildkite --result result.jsonl",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("run", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: hangar run <pipeline> [flags]")
			}
			return run(ctx, args[0], params, logger)
		},
	}
}

func run(ctx context.Context, path string, params runParams, logger *slog.Logger) error {
	cfg, err := config.Resolve(params.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if params.Backend != "" {
		cfg.Builder.Backend = params.Backend
	}
	if params.Artifacts != "" {
		cfg.Paths.Artifacts = params.Artifacts
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	definition, err := pipelinedef.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	workspace, err := resolveWorkspace(params.Workspace)
	if err != nil {
		return err
	}
	pipelineDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return err
	}

	nested := params.Step != ""
	build := runner.Build{
		ID:      params.BuildID,
		Branch:  params.Branch,
		Commit:  params.Commit,
		Message: params.Message,
		Source:  params.Source,
	}
	if build.ID == "" {
		build.ID = uuid.NewString()
	}
	if !nested {
		fillFromGit(ctx, &build, workspace, logger)
	}
	logger = logger.With("build", build.ID)

	runnerBinary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating hangar executable: %w", err)
	}
	manager, err := sandbox.NewManagerFromConfig(cfg, runnerBinary, logger)
	if err != nil {
		return err
	}

	runnerConfig := runner.Config{
		Pipeline:       definition,
		Name:           path,
		PipelineDir:    pipelineDir,
		Workspace:      workspace,
		Build:          build,
		Attempt:        params.Attempt,
		Unblock:        params.Unblock,
		FieldValues:    params.Fields,
		Sandbox:        manager,
		Shell:          cfg.Runner.Shell,
		DefaultTimeout: time.Duration(cfg.Runner.DefaultTimeoutMinutes) * time.Minute,
		GracePeriod:    cfg.KillGracePeriod(),
		LockDir:        filepath.Join(cfg.Paths.State, "locks"),
		Logger:         logger,
	}

	if nested {
		// The host side owns secrets, metadata and artifacts.
		stepRunner, err := runner.New(runnerConfig)
		if err != nil {
			return err
		}
		status, err := stepRunner.RunStep(ctx, params.Step)
		if err != nil {
			return err
		}
		if status != 0 {
			return &cli.ExitError{Code: status}
		}
		return nil
	}

	ciBuilder, err := newBuilder(cfg, build.ID, logger)
	if err != nil {
		return err
	}
	defer ciBuilder.Close()
	runnerConfig.Builder = ciBuilder

	if params.Result != "" {
		resultLog, err := runner.NewResultLog(params.Result, logger)
		if err != nil {
			return err
		}
		defer resultLog.Close()
		runnerConfig.Result = resultLog
	}

	pipelineRunner, err := runner.New(runnerConfig)
	if err != nil {
		return err
	}
	summary, err := pipelineRunner.Run(ctx)
	if err != nil {
		return err
	}
	writeSummary(os.Stdout, summary)

	switch summary.State {
	case runner.BuildPassed, runner.BuildBlocked:
		return nil
	default:
		return &cli.ExitError{Code: 1}
	}
}

func resolveWorkspace(flagValue string) (string, error) {
	if flagValue == "" {
		return os.Getwd()
	}
	workspace, err := filepath.Abs(flagValue)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(workspace)
	if err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace %s is not a directory", workspace)
	}
	return workspace, nil
}

// newBuilder creates the configured CI backend.
func newBuilder(cfg *config.Config, buildID string, logger *slog.Logger) (builder.Builder, error) {
	session := builder.SessionOptions{
		RenewInterval: cfg.SecretRenewInterval(),
		Logger:        logger,
	}
	switch cfg.Builder.Backend {
	case "buildkite":
		return builder.NewAgent(builder.AgentConfig{
			Binary:         cfg.Builder.AgentBinary,
			SessionOptions: session,
		})
	case "local":
		store, err := artifact.NewStore(cfg.Paths.Artifacts)
		if err != nil {
			return nil, err
		}
		runDir := filepath.Join(cfg.Paths.State, "runs", buildID)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating run directory: %w", err)
		}
		bundle, err := openBundle(cfg)
		if err != nil {
			return nil, err
		}
		local, err := builder.NewLocal(builder.LocalConfig{
			Store:          store,
			RunID:          buildID,
			MetadataPath:   filepath.Join(runDir, "metadata.cbor"),
			Bundle:         bundle,
			SessionOptions: session,
		})
		if err != nil {
			if bundle != nil {
				bundle.Close()
			}
			return nil, err
		}
		return local, nil
	default:
		return nil, fmt.Errorf("unknown builder backend %q", cfg.Builder.Backend)
	}
}

// openBundle decrypts the local secrets bundle, if one is configured.
func openBundle(cfg *config.Config) (*sealed.Bundle, error) {
	if cfg.Builder.SecretsBundle == "" {
		return nil, nil
	}
	if cfg.Builder.IdentityFile == "" {
		return nil, errors.New("builder.secrets_bundle requires builder.identity_file")
	}
	identity, err := sealed.ReadIdentity(cfg.Builder.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	defer identity.Close()
	bundle, err := sealed.OpenBundle(cfg.Builder.SecretsBundle, identity)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Builder.SecretsBundle, err)
	}
	return bundle, nil
}
