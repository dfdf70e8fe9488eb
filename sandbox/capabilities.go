// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes which sandbox features this host supports.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool

	// SandboxExecAvailable is true if the seatbelt invoker is
	// installed.
	SandboxExecAvailable bool

	// SandboxExecPath is the path to sandbox-exec if available.
	SandboxExecPath string

	// RipgrepAvailable is true if ripgrep is installed. Without it the
	// mandatory-deny scan covers only the working directory itself.
	RipgrepAvailable bool

	// RipgrepPath is the path to rg if available.
	RipgrepPath string

	// SocatAvailable is true if socat is installed. Required for the
	// nested sandbox stage that forwards bridge traffic.
	SocatAvailable bool

	// SocatPath is the path to socat if available.
	SocatPath string

	// SeccompFilterAvailable is true if the pre-built BPF program was
	// located.
	SeccompFilterAvailable bool

	// SeccompFilterPath is the filter program's location if available.
	SeccompFilterPath string
}

// DetectCapabilities probes the host for every feature the compilers
// may need. Probing is cheap and read-only.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := exec.LookPath("bwrap"); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if output, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(output))
		}
	}

	caps.UserNamespacesEnabled = userNamespacesEnabled()

	if path, err := exec.LookPath("sandbox-exec"); err == nil {
		caps.SandboxExecAvailable = true
		caps.SandboxExecPath = path
	}
	if path, err := exec.LookPath("rg"); err == nil {
		caps.RipgrepAvailable = true
		caps.RipgrepPath = path
	}
	if path, err := exec.LookPath("socat"); err == nil {
		caps.SocatAvailable = true
		caps.SocatPath = path
	}
	if path, err := locateSeccompBPF(); err == nil {
		caps.SeccompFilterAvailable = true
		caps.SeccompFilterPath = path
	}

	return caps
}

// userNamespacesEnabled checks the Debian-style sysctl knob. Kernels
// without the knob allow unprivileged user namespaces by default.
func userNamespacesEnabled() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		return os.IsNotExist(err)
	}
	return strings.TrimSpace(string(data)) != "0"
}

// Summary returns a human-readable capability report.
func (c *Capabilities) Summary() string {
	var b strings.Builder
	line := func(label string, ok bool, detail string) {
		mark := "no"
		if ok {
			mark = "yes"
		}
		b.WriteString(label + ": " + mark)
		if ok && detail != "" {
			b.WriteString(" (" + detail + ")")
		}
		b.WriteString("\n")
	}
	line("bwrap", c.BwrapAvailable, c.BwrapVersion)
	line("user namespaces", c.UserNamespacesEnabled, "")
	line("sandbox-exec", c.SandboxExecAvailable, c.SandboxExecPath)
	line("ripgrep", c.RipgrepAvailable, c.RipgrepPath)
	line("socat", c.SocatAvailable, c.SocatPath)
	line("seccomp filter", c.SeccompFilterAvailable, c.SeccompFilterPath)
	return b.String()
}
