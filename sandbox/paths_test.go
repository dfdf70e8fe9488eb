// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		workDir string
		want    string
	}{
		{"absolute", "/srv/data", "/work", "/srv/data"},
		{"relative", "logs", "/work", "/work/logs"},
		{"dot", ".", "/work", "/work"},
		{"dotdot", "../other", "/work/sub", "/work/other"},
		{"trailing slash", "/srv/data/", "/work", "/srv/data"},
		{"whitespace", "  /srv/data ", "/work", "/srv/data"},
		{"collapse", "/srv//data/./x", "/work", "/srv/data/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.path, tt.workDir); got != tt.want {
				t.Errorf("NormalizePath(%q, %q) = %q, want %q", tt.path, tt.workDir, got, tt.want)
			}
		})
	}
}

func TestClassifyPath(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(file, link); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want PathKind
	}{
		{dir, PathDir},
		{file, PathFile},
		{link, PathSymlink},
		{filepath.Join(dir, "absent"), PathMissing},
	}
	for _, tt := range tests {
		if got := ClassifyPath(tt.path); got != tt.want {
			t.Errorf("ClassifyPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSymlinkWidens(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		resolved string
		want     bool
	}{
		{"identical", "/srv/work/a", "/srv/work/a", false},
		{"deeper", "/srv/work/a", "/srv/work/a/real", false},
		{"root", "/srv/work/a", "/", true},
		{"ancestor", "/srv/work/a", "/srv/work", true},
		{"short target", "/srv/work/a", "/usr", true},
		{"cross subtree", "/srv/work/a", "/home/other/a", true},
		{"sibling", "/tmp/T/user_area/evil", "/tmp/T/protected", true},
		{"same subtree sibling", "/srv/work/a", "/srv/other/deep", true},
		{"tmp alias", "/tmp/work", "/private/tmp/work", false},
		{"var alias", "/var/db/x", "/private/var/db/x", false},
		{"alias still ancestor", "/tmp/work/a", "/private/tmp", true},
		{"trailing slash", "/srv/work/a/", "/srv/work/a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SymlinkWidens(tt.input, tt.resolved); got != tt.want {
				t.Errorf("SymlinkWidens(%q, %q) = %v, want %v", tt.input, tt.resolved, got, tt.want)
			}
		})
	}
}

func TestFindSymlinkInPath(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "real")
	if err := os.MkdirAll(filepath.Join(real, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(link, "sub", "file")
	if got := FindSymlinkInPath(target, []string{root}); got != link {
		t.Errorf("FindSymlinkInPath = %q, want %q", got, link)
	}

	plain := filepath.Join(real, "sub", "file")
	if got := FindSymlinkInPath(plain, []string{root}); got != "" {
		t.Errorf("FindSymlinkInPath on plain path = %q, want empty", got)
	}

	if got := FindSymlinkInPath(target, []string{"/nonexistent-root"}); got != "" {
		t.Errorf("FindSymlinkInPath outside roots = %q, want empty", got)
	}
}

func TestHasFileAncestor(t *testing.T) {
	dir := t.TempDir()
	gitFile := filepath.Join(dir, ".git")
	if err := os.WriteFile(gitFile, []byte("gitdir: ../repo"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !HasFileAncestor(filepath.Join(gitFile, "hooks")) {
		t.Error("expected file ancestor through .git pointer file")
	}
	if HasFileAncestor(filepath.Join(dir, "a", "b", "c")) {
		t.Error("unexpected file ancestor under plain directory")
	}
}

func TestFirstNonexistent(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "a", "b")
	first, ok := FirstNonexistent(missing)
	if !ok || first != filepath.Join(dir, "a") {
		t.Errorf("FirstNonexistent(%q) = %q, %v", missing, first, ok)
	}

	leaf := filepath.Join(dir, "leaf")
	first, ok = FirstNonexistent(leaf)
	if !ok || first != leaf {
		t.Errorf("FirstNonexistent(%q) = %q, %v", leaf, first, ok)
	}

	if _, ok := FirstNonexistent(dir); ok {
		t.Error("FirstNonexistent on existing path reported a missing prefix")
	}
}

func TestNearestExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	got := nearestExistingAncestor(filepath.Join(dir, "x", "y", "z"))
	if got != dir {
		t.Errorf("nearestExistingAncestor = %q, want %q", got, dir)
	}
}

func TestIsGlobPattern(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/srv/logs/*.txt", true},
		{"/srv/file?.log", true},
		{"/srv/plain", false},
		{`/srv/escaped\*`, false},
		{`/srv/mixed\**`, true},
	}
	for _, tt := range tests {
		if got := IsGlobPattern(tt.path); got != tt.want {
			t.Errorf("IsGlobPattern(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSplitGlobPattern(t *testing.T) {
	tests := []struct {
		pattern  string
		wantBase string
		wantTail string
	}{
		{"/srv/logs/*.txt", "/srv/logs", "*.txt"},
		{"/srv/*/deep/*.txt", "/srv", "*/deep/*.txt"},
		{"/*", "/", "*"},
		{"/srv/plain", "/srv/plain", ""},
		{"/srv/plain/", "/srv/plain", ""},
	}
	for _, tt := range tests {
		base, tail := SplitGlobPattern(tt.pattern)
		if base != tt.wantBase || tail != tt.wantTail {
			t.Errorf("SplitGlobPattern(%q) = (%q, %q), want (%q, %q)",
				tt.pattern, base, tail, tt.wantBase, tt.wantTail)
		}
	}
}
