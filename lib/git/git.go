// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package git reads build metadata from a git working tree through the
// git CLI. Every command targets a specific directory via -C.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repository is a git working tree at a specific directory.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command in the repository and returns stdout.
// Stderr is included in the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Revision describes the checked-out commit.
type Revision struct {
	// Branch is empty on a detached HEAD.
	Branch string

	Commit string

	// Message is the commit subject line.
	Message string
}

// Head reads the checked-out branch, commit and subject.
func (r *Repository) Head(ctx context.Context) (Revision, error) {
	output, err := r.Run(ctx, "log", "-1", "--format=%H%n%s")
	if err != nil {
		return Revision{}, err
	}
	commit, message, _ := strings.Cut(strings.TrimRight(output, "\n"), "\n")
	revision := Revision{Commit: commit, Message: message}

	branch, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Revision{}, err
	}
	if branch = strings.TrimSpace(branch); branch != "HEAD" {
		revision.Branch = branch
	}
	return revision, nil
}
