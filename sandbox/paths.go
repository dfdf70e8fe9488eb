// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// PathKind classifies the leaf of a path without following symlinks.
type PathKind int

const (
	PathMissing PathKind = iota
	PathFile
	PathDir
	PathSymlink
)

func (k PathKind) String() string {
	switch k {
	case PathFile:
		return "file"
	case PathDir:
		return "dir"
	case PathSymlink:
		return "symlink"
	default:
		return "missing"
	}
}

// hostAliases are directory pairs that the host kernel treats as the same
// location. On macOS /tmp and /var are symlinks into /private; a symlink
// resolving across one of these pairs is not a scope change.
var hostAliases = [][2]string{
	{"/tmp", "/private/tmp"},
	{"/var", "/private/var"},
}

// NormalizePath makes path absolute against workDir, collapses "." and
// "..", and strips any trailing slash. Pure; the filesystem is not
// consulted.
func NormalizePath(path, workDir string) string {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	return filepath.Clean(path)
}

// ClassifyPath examines the leaf of path without following symlinks.
func ClassifyPath(path string) PathKind {
	info, err := os.Lstat(path)
	if err != nil {
		return PathMissing
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return PathSymlink
	case info.IsDir():
		return PathDir
	default:
		return PathFile
	}
}

// resolvePath eagerly resolves every symlink component of path and strips
// trailing slashes.
func resolvePath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// aliasNormalize rewrites path through the host alias table so that
// aliased locations compare equal.
func aliasNormalize(path string) string {
	for _, pair := range hostAliases {
		canonical, aliased := pair[0], pair[1]
		if path == aliased {
			return canonical
		}
		if strings.HasPrefix(path, aliased+"/") {
			return canonical + path[len(aliased):]
		}
	}
	return path
}

// isPathUnder reports whether path is equal to or beneath root.
func isPathUnder(path, root string) bool {
	if root == "/" {
		return true
	}
	return path == root || strings.HasPrefix(path, root+"/")
}

// isStrictAncestor reports whether ancestor is a strict prefix of path at
// a component boundary.
func isStrictAncestor(ancestor, path string) bool {
	return ancestor != path && isPathUnder(path, ancestor)
}

// SymlinkWidens reports whether following input's symlink resolution to
// resolved would admit more of the filesystem than input literally names.
// Only resolutions that stay at or below the original path are allowed;
// an ancestor, a sibling, or any unrelated subtree grants access the
// caller never named. Resolutions across the well-known host alias pairs
// compare equal.
func SymlinkWidens(input, resolved string) bool {
	input = aliasNormalize(filepath.Clean(input))
	resolved = aliasNormalize(filepath.Clean(resolved))
	return !isPathUnder(resolved, input)
}

// FindSymlinkInPath walks target component by component beneath each
// allowed write root and returns the first component that is a symlink,
// or "" if none is. A symlink component inside a writable subtree is a
// replacement hazard: the sandboxed command could delete it and recreate
// it as a real directory, so the compiler clobbers it instead of trusting
// its current resolution.
func FindSymlinkInPath(target string, allowedWriteRoots []string) string {
	for _, root := range allowedWriteRoots {
		if !isStrictAncestor(root, target) {
			continue
		}
		relative := strings.TrimPrefix(strings.TrimPrefix(target, root), "/")
		prefix := root
		for _, component := range strings.Split(relative, "/") {
			prefix = filepath.Join(prefix, component)
			info, err := os.Lstat(prefix)
			if err != nil {
				break
			}
			if info.Mode()&os.ModeSymlink != 0 {
				return prefix
			}
		}
	}
	return ""
}

// HasFileAncestor reports whether some existing strict prefix of target is
// a regular file rather than a directory. When true, no mkdir sequence can
// ever materialize target (the git-worktree case, where .git is a file),
// so deny planning for it is pointless.
func HasFileAncestor(target string) bool {
	ancestor := filepath.Dir(target)
	for {
		info, err := os.Stat(ancestor)
		if err == nil {
			return !info.IsDir()
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return false
		}
		ancestor = parent
	}
}

// FirstNonexistent returns the shortest prefix of target that does not
// exist. The second return is false when the whole path exists.
func FirstNonexistent(target string) (string, bool) {
	components := strings.Split(strings.TrimPrefix(target, "/"), "/")
	prefix := "/"
	for _, component := range components {
		prefix = filepath.Join(prefix, component)
		if _, err := os.Lstat(prefix); err != nil {
			return prefix, true
		}
	}
	return "", false
}

// nearestExistingAncestor walks upward from target's parent until it finds
// a path that exists. The filesystem root always exists.
func nearestExistingAncestor(target string) string {
	ancestor := filepath.Dir(target)
	for {
		if _, err := os.Lstat(ancestor); err == nil {
			return ancestor
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return ancestor
		}
		ancestor = parent
	}
}

// IsGlobPattern reports whether path contains an unescaped "*" or "?".
func IsGlobPattern(path string) bool {
	escaped := false
	for _, r := range path {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*' || r == '?':
			return true
		}
	}
	return false
}

// SplitGlobPattern separates a glob pattern into its literal base (the
// longest prefix of whole components containing no wildcard) and the
// wildcard tail. For "/srv/logs/*.txt" it returns ("/srv/logs", "*.txt").
func SplitGlobPattern(pattern string) (base, tail string) {
	components := strings.Split(pattern, "/")
	for i, component := range components {
		if IsGlobPattern(component) {
			base = strings.Join(components[:i], "/")
			if base == "" {
				base = "/"
			}
			tail = strings.Join(components[i:], "/")
			return base, tail
		}
	}
	return filepath.Clean(pattern), ""
}
