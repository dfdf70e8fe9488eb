// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Policy declares the restrictions to enforce on a wrapped command.
//
// Every list is an intent statement over a mutating filesystem: entries
// that cannot be honored at compile time (missing paths, unresolvable
// symlinks) are skipped with a debug log rather than failing compilation.
type Policy struct {
	// Read restricts filesystem reads. Nil or empty means no read
	// restrictions.
	Read *ReadPolicy `yaml:"read,omitempty" json:"read,omitempty"`

	// Write restricts filesystem writes. Nil means no write restrictions.
	// Non-nil with an empty AllowOnly list means a read-only root with
	// nothing writable.
	Write *WritePolicy `yaml:"write,omitempty" json:"write,omitempty"`

	// Network controls network access.
	Network NetworkPolicy `yaml:"network,omitempty" json:"network,omitempty"`

	// UnixSockets controls Unix-domain socket creation.
	UnixSockets UnixSocketPolicy `yaml:"unix_sockets,omitempty" json:"unixSockets,omitempty"`

	// AllowGitConfig permits writes to .git/config, which is otherwise a
	// mandatory deny (core.fsmonitor and friends execute arbitrary code).
	AllowGitConfig bool `yaml:"allow_git_config,omitempty" json:"allowGitConfig,omitempty"`

	// AllowPty enables pseudo-terminal allocation. macOS only; the Linux
	// sandbox inherits the terminal from its parent.
	AllowPty bool `yaml:"allow_pty,omitempty" json:"allowPty,omitempty"`

	// AllowLocalBinding permits binding to loopback addresses even when
	// the network is restricted. macOS only.
	AllowLocalBinding bool `yaml:"allow_local_binding,omitempty" json:"allowLocalBinding,omitempty"`

	// EnableWeakerNestedSandbox skips mounting a fresh /proc, which is
	// required when the sandbox itself runs inside a container that
	// forbids proc mounts. Linux only.
	EnableWeakerNestedSandbox bool `yaml:"enable_weaker_nested_sandbox,omitempty" json:"enableWeakerNestedSandbox,omitempty"`

	// RipgrepConfig is the path to a ripgrep config file honored by the
	// mandatory-deny scan. Empty disables config loading for the scan.
	RipgrepConfig string `yaml:"ripgrep_config,omitempty" json:"ripgrepConfig,omitempty"`

	// MandatoryDenySearchDepth bounds the nested dotfile scan below the
	// working directory. Zero means DefaultMandatoryDenySearchDepth.
	MandatoryDenySearchDepth int `yaml:"mandatory_deny_search_depth,omitempty" json:"mandatoryDenySearchDepth,omitempty"`

	// BinShell is the shell used to run the wrapped command. Empty means
	// DefaultShell, resolved through PATH at compile time.
	BinShell string `yaml:"bin_shell,omitempty" json:"binShell,omitempty"`
}

// ReadPolicy restricts filesystem reads to everything except DenyOnly.
type ReadPolicy struct {
	// DenyOnly lists paths or glob patterns that must not be readable.
	DenyOnly []string `yaml:"deny_only,omitempty" json:"denyOnly,omitempty"`
}

// WritePolicy restricts filesystem writes to the AllowOnly subtrees,
// minus the DenyWithinAllow carve-outs.
type WritePolicy struct {
	// AllowOnly lists the only subtrees that remain writable.
	AllowOnly []string `yaml:"allow_only" json:"allowOnly"`

	// DenyWithinAllow lists paths or glob patterns inside the allowed
	// subtrees that must stay read-only.
	DenyWithinAllow []string `yaml:"deny_within_allow,omitempty" json:"denyWithinAllow,omitempty"`
}

// NetworkPolicy controls network access for the wrapped command.
type NetworkPolicy struct {
	// Restricted blocks network access. With a Bridge, HTTP and SOCKS
	// traffic is forwarded over Unix sockets to host-side proxies;
	// without one, the block is total.
	Restricted bool `yaml:"restricted,omitempty" json:"restricted,omitempty"`

	// Bridge describes the host-side proxy endpoints. Nil means no
	// bridge.
	Bridge *NetworkBridge `yaml:"bridge,omitempty" json:"bridge,omitempty"`
}

// NetworkBridge describes the Unix sockets and ports of an externally
// managed proxy pair. The core binds the sockets into the sandbox and
// points the usual proxy environment variables at the in-sandbox
// forwarders; it never starts or stops the bridge itself.
type NetworkBridge struct {
	HTTPSocketPath  string `yaml:"http_socket_path" json:"httpSocketPath"`
	SocksSocketPath string `yaml:"socks_socket_path" json:"socksSocketPath"`
	HTTPPort        int    `yaml:"http_port" json:"httpPort"`
	SocksPort       int    `yaml:"socks_port" json:"socksPort"`
}

// UnixSocketPolicy controls Unix-domain socket creation.
type UnixSocketPolicy struct {
	// AllowAll permits unrestricted Unix socket creation. On Linux this
	// disables the seccomp filter stage entirely.
	AllowAll bool `yaml:"allow_all,omitempty" json:"allowAll,omitempty"`

	// AllowPaths permits bind/connect only at the listed paths. Honored
	// on macOS, where the profile engine can scope socket addresses;
	// the Linux syscall filter cannot inspect paths and ignores it.
	AllowPaths []string `yaml:"allow_paths,omitempty" json:"allowPaths,omitempty"`
}

// Defaults for optional policy knobs.
const (
	DefaultMandatoryDenySearchDepth = 3
	DefaultShell                    = "/bin/bash"
)

// Unrestricted reports whether the policy imposes no restrictions at all,
// in which case the wrapped command is returned unchanged.
func (p *Policy) Unrestricted() bool {
	if p == nil {
		return true
	}
	readRestricted := p.Read != nil && len(p.Read.DenyOnly) > 0
	socketRestricted := !p.UnixSockets.AllowAll && len(p.UnixSockets.AllowPaths) > 0
	return !readRestricted && p.Write == nil && !p.Network.Restricted && !socketRestricted
}

// SearchDepth returns the effective mandatory-deny scan depth.
func (p *Policy) SearchDepth() int {
	if p.MandatoryDenySearchDepth <= 0 {
		return DefaultMandatoryDenySearchDepth
	}
	return p.MandatoryDenySearchDepth
}

// Shell returns the configured shell, or DefaultShell.
func (p *Policy) Shell() string {
	if p == nil || p.BinShell == "" {
		return DefaultShell
	}
	return p.BinShell
}

// filterRequired reports whether the Unix-socket seccomp filter applies on
// Linux. Path-scoped allowances cannot be expressed in a syscall filter,
// so anything short of AllowAll keeps the filter in play.
func (p *Policy) filterRequired() bool {
	return !p.UnixSockets.AllowAll
}

// Validate checks the policy for structural problems. Per-path issues are
// deliberately not checked here; the compilers handle those against the
// live filesystem.
func (p *Policy) Validate() error {
	var problems []string

	if p.Network.Bridge != nil {
		bridge := p.Network.Bridge
		if bridge.HTTPSocketPath == "" || bridge.SocksSocketPath == "" {
			problems = append(problems, "network.bridge: both socket paths are required")
		}
		if bridge.HTTPPort <= 0 || bridge.SocksPort <= 0 {
			problems = append(problems, "network.bridge: ports must be positive")
		}
		if !p.Network.Restricted {
			problems = append(problems, "network.bridge: a bridge without restriction has no effect")
		}
	}

	if p.MandatoryDenySearchDepth < 0 {
		problems = append(problems, "mandatory_deny_search_depth must be >= 0")
	}

	for i, socketPath := range p.UnixSockets.AllowPaths {
		if !filepath.IsAbs(socketPath) {
			problems = append(problems, fmt.Sprintf("unix_sockets.allow_paths[%d]: %q is not absolute", i, socketPath))
		}
	}

	if p.BinShell != "" && strings.ContainsAny(p.BinShell, " \t\n") {
		problems = append(problems, fmt.Sprintf("bin_shell %q must be a bare path, not a command line", p.BinShell))
	}

	if len(problems) > 0 {
		return fmt.Errorf("policy validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Clone returns a deep copy of the policy. The orchestrator clones on
// SetPolicy so a supervisor mutating its own record cannot race a
// compilation in progress.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Read != nil {
		clone.Read = &ReadPolicy{DenyOnly: append([]string(nil), p.Read.DenyOnly...)}
	}
	if p.Write != nil {
		clone.Write = &WritePolicy{
			AllowOnly:       append([]string(nil), p.Write.AllowOnly...),
			DenyWithinAllow: append([]string(nil), p.Write.DenyWithinAllow...),
		}
	}
	if p.Network.Bridge != nil {
		bridge := *p.Network.Bridge
		clone.Network.Bridge = &bridge
	}
	clone.UnixSockets.AllowPaths = append([]string(nil), p.UnixSockets.AllowPaths...)
	return &clone
}
