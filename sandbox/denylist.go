// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Scanner finds files matching a set of glob patterns beneath a root
// directory. Implementations must honor context cancellation; the
// enumerator degrades to the cwd-local deny set when a scan is cut
// short.
type Scanner interface {
	// Scan returns paths relative to root that match any of the include
	// globs, descending at most maxDepth directory levels.
	Scan(ctx context.Context, root string, include []string, maxDepth int) ([]string, error)
}

// RipgrepScanner discovers nested dangerous dotfiles by shelling out to
// ripgrep. rg respects .gitignore by default, which is exactly wrong for
// this job (a malicious repo would simply ignore its own planted
// .bashrc), so the scan runs with --no-ignore-vcs and hides only
// node_modules, whose size makes it a latency hazard and whose contents
// are already unwritable under any sensible policy.
type RipgrepScanner struct {
	// Binary is the ripgrep executable. Empty means "rg" resolved
	// through PATH.
	Binary string

	// ConfigPath is forwarded as RIPGREP_CONFIG_PATH. Empty scrubs the
	// variable so a user-level ripgrep config cannot alter the scan.
	ConfigPath string
}

// Scan runs `rg --files` with hidden-file matching and a depth bound.
// ripgrep exits 1 when nothing matched, which is a normal outcome here.
func (s *RipgrepScanner) Scan(ctx context.Context, root string, include []string, maxDepth int) ([]string, error) {
	binary := s.Binary
	if binary == "" {
		resolved, err := exec.LookPath("rg")
		if err != nil {
			return nil, fmt.Errorf("ripgrep not found: %w", err)
		}
		binary = resolved
	}

	args := []string{
		"--files",
		"--hidden",
		"--no-ignore-vcs",
		"--max-depth", fmt.Sprintf("%d", maxDepth),
		"-g", "!node_modules",
	}
	for _, pattern := range include {
		args = append(args, "-g", pattern)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "RIPGREP_CONFIG_PATH="+s.ConfigPath)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ripgrep scan: %w", err)
	}

	var matches []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			matches = append(matches, line)
		}
	}
	return matches, nil
}

// EnumerateMandatoryDenies produces the absolute paths beneath workDir
// that must stay read-only regardless of the caller's write policy: the
// dangerous dotfiles and directories at the working directory itself,
// the same names nested in subdirectories up to the policy's search
// depth, and the version-control paths whose writability amounts to
// code execution.
//
// The cwd-local names are unconditional. The nested discovery and the
// git-layout inspection run concurrently and are best effort: a failed
// or cancelled scan logs at debug level and the cwd-local set still
// applies in full.
func EnumerateMandatoryDenies(ctx context.Context, policy *Policy, workDir string, scanner Scanner, logger *slog.Logger) []string {
	denySet := make(map[string]struct{})

	for _, name := range DangerousFiles {
		denySet[filepath.Join(workDir, name)] = struct{}{}
	}
	for _, name := range DangerousDirectories {
		denySet[filepath.Join(workDir, name)] = struct{}{}
	}

	var scanned []string
	var gitDenies []string

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if scanner == nil {
			return nil
		}
		include := make([]string, 0, len(DangerousFiles)+len(DangerousDirectories)+1)
		for _, name := range DangerousFiles {
			include = append(include, "**/"+name)
		}
		for _, name := range DangerousDirectories {
			include = append(include, "**/"+name+"/**")
		}
		include = append(include, "**/"+gitDirName+"/**")
		matches, err := scanner.Scan(groupCtx, workDir, include, policy.SearchDepth())
		if err != nil {
			logger.Debug("nested deny scan failed, using cwd-local denies only", "error", err)
			return nil
		}
		scanned = matches
		return nil
	})
	group.Go(func() error {
		gitDenies = gitLayoutDenies(filepath.Join(workDir, gitDirName), policy.AllowGitConfig)
		return nil
	})
	group.Wait()

	for _, deny := range gitDenies {
		denySet[deny] = struct{}{}
	}
	for _, deny := range nestedDenies(scanned, workDir, policy.AllowGitConfig) {
		denySet[deny] = struct{}{}
	}

	denies := make([]string, 0, len(denySet))
	for deny := range denySet {
		denies = append(denies, deny)
	}
	sort.Strings(denies)
	return denies
}

// gitLayoutDenies inspects one .git path and returns the denies its
// layout warrants. Only a real directory yields entries: a worktree
// pointer file cannot contain hooks, and denying a missing .git would
// stop git from creating its own directory.
func gitLayoutDenies(gitPath string, allowGitConfig bool) []string {
	if ClassifyPath(gitPath) != PathDir {
		return nil
	}
	denies := []string{filepath.Join(gitPath, gitHooksName)}
	if !allowGitConfig {
		denies = append(denies, filepath.Join(gitPath, gitConfigName))
	}
	return denies
}

// nestedDenies maps scan hits back onto deny entries. A hit inside a
// dangerous directory denies the directory itself, a hit inside a
// nested .git goes through the same layout inspection as the top-level
// one, and a dangerous file denies its own path.
func nestedDenies(matches []string, workDir string, allowGitConfig bool) []string {
	var denies []string
	seenGit := make(map[string]struct{})
	for _, match := range matches {
		absolute := filepath.Join(workDir, match)

		if container, ok := containingDirEntry(absolute, workDir); ok {
			denies = append(denies, container)
			continue
		}
		if gitPath, ok := containingComponent(absolute, gitDirName); ok {
			if _, seen := seenGit[gitPath]; !seen {
				seenGit[gitPath] = struct{}{}
				denies = append(denies, gitLayoutDenies(gitPath, allowGitConfig)...)
			}
			continue
		}
		denies = append(denies, absolute)
	}
	return denies
}

// containingDirEntry returns the prefix of path that ends in one of the
// dangerous directory names, if any. Names are tried in list order and
// the first name found wins; for that name the deepest occurrence is
// used. Multi-component entries like ".claude/commands" match as a unit.
func containingDirEntry(path, workDir string) (string, bool) {
	for _, name := range DangerousDirectories {
		suffix := "/" + name
		if idx := strings.LastIndex(path, suffix+"/"); idx >= 0 {
			candidate := path[:idx+len(suffix)]
			if isPathUnder(candidate, workDir) {
				return candidate, true
			}
		}
		if strings.HasSuffix(path, suffix) {
			return path, true
		}
	}
	return "", false
}

// containingComponent returns the prefix of path ending at the first
// occurrence of component, e.g. ("/w/a/.git/hooks/x", ".git") yields
// "/w/a/.git".
func containingComponent(path, component string) (string, bool) {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == component {
			return strings.Join(parts[:i+1], "/"), true
		}
	}
	return "", false
}
