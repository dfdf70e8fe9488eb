// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox compiles declarative restriction policies into host
// sandbox invocations: bubblewrap plus a seccomp filter on Linux,
// seatbelt profiles on macOS.
//
// The central type is [Sandbox], which holds a [Policy] and a working
// directory and turns a raw shell command into a composite command
// string ([Sandbox.Wrap]) that runs it under the platform sandbox tool.
// A policy declares a read-deny list, a write-allow list with deny
// carve-outs, a network mode with an optional proxy bridge, and a
// Unix-socket mode. Policies load from YAML ([LoadPolicy]) or arrive as
// JSONC control-channel documents ([Sandbox.ApplyControlDocument]).
//
// Filesystem restriction is the hard part, and most of the package
// defends against concrete bypass shapes rather than abstract threats.
// A write-allow path backed by a symlink is admitted only when its
// resolution does not widen scope ([SymlinkWidens]). A deny path with a
// symlink component inside a writable subtree is clobbered with a
// /dev/null bind so the command cannot rebuild the component as a real
// directory ([FindSymlinkInPath]). A deny path that does not exist yet
// gets a deny artifact at its first non-existent component so mkdir -p
// cannot materialize it; the artifacts are reaped after the command
// exits ([Cleanup]). On macOS, every read-denied path also contributes
// rename denies for itself and all its ancestors, because mv checks
// write permission against the source's ancestor chain and would
// otherwise relocate a read-denied file somewhere readable.
//
// A built-in deny list ([DangerousFiles], [DangerousDirectories]) keeps
// shell rc files, git internals, and editor and agent configuration
// read-only under any write policy; [EnumerateMandatoryDenies] extends
// it to nested copies via a bounded ripgrep scan and inspects the .git
// layout so worktree pointer files are left alone.
//
// [Validator] performs pre-flight checks (tool presence, bridge
// sockets, shell resolution, filter artifacts). [EscapeTestRunner]
// verifies containment by running shell probes under a wrapped command
// and confirming the restrictions hold.
//
// The package emits directives; it does not itself isolate anything.
// The caller executes the composite command and afterwards calls
// [Cleanup] to remove mount-point residue.
package sandbox
