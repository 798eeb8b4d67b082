// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a repository with one commit on branch trunk.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	gitCommand := func(args ...string) {
		t.Helper()
		command := exec.Command("git", append([]string{"-C", dir}, args...)...)
		command.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test",
			"GIT_AUTHOR_EMAIL=test@test.local",
			"GIT_COMMITTER_NAME=Test",
			"GIT_COMMITTER_EMAIL=test@test.local",
		)
		if output, err := command.CombinedOutput(); err != nil {
			t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
		}
	}
	gitCommand("init", "--initial-branch", "trunk")
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("test\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	gitCommand("add", "README")
	gitCommand("commit", "-m", "Add readme", "-m", "Body text.")
	return dir
}

func TestRepositoryHead(t *testing.T) {
	t.Parallel()
	repository := NewRepository(initRepo(t))

	revision, err := repository.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if revision.Branch != "trunk" {
		t.Errorf("Branch = %q, want trunk", revision.Branch)
	}
	if len(revision.Commit) != 40 {
		t.Errorf("Commit = %q, want a full hash", revision.Commit)
	}
	if revision.Message != "Add readme" {
		t.Errorf("Message = %q, want the subject line", revision.Message)
	}
}

func TestRepositoryRunError(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repository := NewRepository(t.TempDir())
	_, err := repository.Run(context.Background(), "rev-parse", "HEAD")
	if err == nil {
		t.Fatal("Run outside a repository succeeded")
	}
	if !strings.Contains(err.Error(), "rev-parse HEAD") {
		t.Errorf("error %q does not name the command", err)
	}
}
