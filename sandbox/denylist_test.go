// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubScanner returns fixed relative paths or an error.
type stubScanner struct {
	matches []string
	err     error
}

func (s *stubScanner) Scan(ctx context.Context, root string, include []string, maxDepth int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.matches, s.err
}

func TestEnumerateMandatoryDeniesLocal(t *testing.T) {
	workDir := t.TempDir()
	denies := EnumerateMandatoryDenies(context.Background(), &Policy{}, workDir, &stubScanner{}, discardLogger())

	for _, name := range DangerousFiles {
		if !slices.Contains(denies, filepath.Join(workDir, name)) {
			t.Errorf("missing cwd-local deny for %s", name)
		}
	}
	for _, name := range DangerousDirectories {
		if !slices.Contains(denies, filepath.Join(workDir, name)) {
			t.Errorf("missing cwd-local deny for %s", name)
		}
	}
	if !slices.IsSorted(denies) {
		t.Error("denies are not sorted")
	}
}

func TestEnumerateMandatoryDeniesGitLayout(t *testing.T) {
	logger := discardLogger()

	t.Run("git directory", func(t *testing.T) {
		workDir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(workDir, ".git", "hooks"), 0o755); err != nil {
			t.Fatal(err)
		}
		denies := EnumerateMandatoryDenies(context.Background(), &Policy{}, workDir, &stubScanner{}, logger)
		if !slices.Contains(denies, filepath.Join(workDir, ".git", "hooks")) {
			t.Error("missing .git/hooks deny")
		}
		if !slices.Contains(denies, filepath.Join(workDir, ".git", "config")) {
			t.Error("missing .git/config deny")
		}
	})

	t.Run("allow git config", func(t *testing.T) {
		workDir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(workDir, ".git"), 0o755); err != nil {
			t.Fatal(err)
		}
		policy := &Policy{AllowGitConfig: true}
		denies := EnumerateMandatoryDenies(context.Background(), policy, workDir, &stubScanner{}, logger)
		if slices.Contains(denies, filepath.Join(workDir, ".git", "config")) {
			t.Error(".git/config denied despite allow_git_config")
		}
		if !slices.Contains(denies, filepath.Join(workDir, ".git", "hooks")) {
			t.Error(".git/hooks must stay denied")
		}
	})

	t.Run("worktree pointer file", func(t *testing.T) {
		workDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(workDir, ".git"), []byte("gitdir: ../repo"), 0o644); err != nil {
			t.Fatal(err)
		}
		denies := EnumerateMandatoryDenies(context.Background(), &Policy{}, workDir, &stubScanner{}, logger)
		for _, deny := range denies {
			if deny == filepath.Join(workDir, ".git", "hooks") || deny == filepath.Join(workDir, ".git", "config") {
				t.Errorf("deny %s planned under a .git pointer file", deny)
			}
		}
	})

	t.Run("missing git", func(t *testing.T) {
		workDir := t.TempDir()
		denies := EnumerateMandatoryDenies(context.Background(), &Policy{}, workDir, &stubScanner{}, logger)
		for _, deny := range denies {
			if deny == filepath.Join(workDir, ".git", "hooks") {
				t.Error("deny planned under a missing .git")
			}
		}
	})
}

func TestEnumerateMandatoryDeniesNested(t *testing.T) {
	workDir := t.TempDir()
	nestedGit := filepath.Join(workDir, "vendor", "lib", ".git")
	if err := os.MkdirAll(filepath.Join(nestedGit, "hooks"), 0o755); err != nil {
		t.Fatal(err)
	}
	scanner := &stubScanner{matches: []string{
		"sub/.bashrc",
		"sub/.vscode/settings.json",
		"deep/.claude/commands/run.md",
		"vendor/lib/.git/hooks/pre-commit",
	}}

	denies := EnumerateMandatoryDenies(context.Background(), &Policy{}, workDir, scanner, discardLogger())

	expected := []string{
		filepath.Join(workDir, "sub", ".bashrc"),
		filepath.Join(workDir, "sub", ".vscode"),
		filepath.Join(workDir, "deep", ".claude", "commands"),
		filepath.Join(nestedGit, "hooks"),
		filepath.Join(nestedGit, "config"),
	}
	for _, want := range expected {
		if !slices.Contains(denies, want) {
			t.Errorf("missing nested deny %s", want)
		}
	}
}

func TestEnumerateMandatoryDeniesScanFailure(t *testing.T) {
	workDir := t.TempDir()
	scanner := &stubScanner{err: fmt.Errorf("scanner exploded")}

	denies := EnumerateMandatoryDenies(context.Background(), &Policy{}, workDir, scanner, discardLogger())
	if !slices.Contains(denies, filepath.Join(workDir, ".bashrc")) {
		t.Error("cwd-local denies must survive a failed scan")
	}
}

func TestEnumerateMandatoryDeniesCancelled(t *testing.T) {
	workDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	denies := EnumerateMandatoryDenies(ctx, &Policy{}, workDir, &stubScanner{matches: []string{"sub/.bashrc"}}, discardLogger())
	for _, name := range DangerousFiles {
		if !slices.Contains(denies, filepath.Join(workDir, name)) {
			t.Errorf("cancellation dropped cwd-local deny %s", name)
		}
	}
}
