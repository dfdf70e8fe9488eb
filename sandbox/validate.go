// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ValidationResult holds the result of a validation check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator performs pre-flight validation for policy compilation.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		results: make([]ValidationResult, 0),
	}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
	})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
		Warning: true,
	})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  false,
		Message: message,
	})
	v.errors++
}

// ValidateAll runs every check relevant to the policy on the given
// platform.
func (v *Validator) ValidateAll(policy *Policy, workDir, platform string) {
	v.ValidateWorkDir(workDir)
	v.ValidateShell(policy)
	switch platform {
	case "linux":
		v.ValidateBwrap()
		v.ValidateUserNamespaces()
		v.ValidateScanner(policy)
		if policy != nil && policy.filterRequired() {
			v.ValidateSeccompArtifacts(policy)
		}
	case "darwin":
		v.ValidateSandboxExec()
	}
	if policy != nil && policy.Network.Bridge != nil {
		v.ValidateBridgeSockets(policy.Network.Bridge)
	}
}

// ValidateBwrap checks that bubblewrap is available and executable.
func (v *Validator) ValidateBwrap() {
	path, err := exec.LookPath("bwrap")
	if err != nil {
		v.fail("bwrap", "bubblewrap not found in PATH")
		return
	}
	cmd := exec.Command(path, "--version")
	output, err := cmd.Output()
	if err != nil {
		v.warn("bwrap", fmt.Sprintf("found at %s but --version failed", path))
		return
	}
	version := strings.TrimSpace(string(output))
	v.pass("bwrap", fmt.Sprintf("available: %s (%s)", path, version))
}

// ValidateSandboxExec checks that the seatbelt invoker is present.
func (v *Validator) ValidateSandboxExec() {
	path, err := exec.LookPath("sandbox-exec")
	if err != nil {
		v.fail("sandbox-exec", "sandbox-exec not found in PATH")
		return
	}
	v.pass("sandbox-exec", fmt.Sprintf("available: %s", path))
}

// ValidateUserNamespaces checks that user namespaces are enabled.
func (v *Validator) ValidateUserNamespaces() {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		if os.IsNotExist(err) {
			v.pass("userns", "user namespaces supported (no clone restriction)")
			return
		}
		v.warn("userns", fmt.Sprintf("cannot check user namespace support: %v", err))
		return
	}
	value := strings.TrimSpace(string(data))
	if value == "0" {
		v.fail("userns", "unprivileged user namespaces are disabled (set kernel.unprivileged_userns_clone=1)")
		return
	}
	v.pass("userns", "user namespaces enabled")
}

// ValidateWorkDir checks that the working directory exists and is a
// directory.
func (v *Validator) ValidateWorkDir(workDir string) {
	if workDir == "" {
		v.fail("work_dir", "working directory path is required")
		return
	}
	absPath, err := filepath.Abs(workDir)
	if err != nil {
		v.fail("work_dir", fmt.Sprintf("cannot resolve path: %v", err))
		return
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			v.fail("work_dir", fmt.Sprintf("does not exist: %s", absPath))
		} else {
			v.fail("work_dir", fmt.Sprintf("cannot access: %v", err))
		}
		return
	}
	if !info.IsDir() {
		v.fail("work_dir", fmt.Sprintf("not a directory: %s", absPath))
		return
	}
	v.pass("work_dir", fmt.Sprintf("exists: %s", absPath))
}

// ValidateShell checks the policy shell resolves through PATH.
func (v *Validator) ValidateShell(policy *Policy) {
	shell := policy.Shell()
	path, err := exec.LookPath(shell)
	if err != nil {
		v.fail("shell", fmt.Sprintf("%s not found in PATH", shell))
		return
	}
	v.pass("shell", fmt.Sprintf("available: %s", path))
}

// ValidateScanner checks that ripgrep is available for the nested
// mandatory-deny scan. Missing ripgrep is a warning: the cwd-local
// denies apply regardless.
func (v *Validator) ValidateScanner(policy *Policy) {
	path, err := exec.LookPath("rg")
	if err != nil {
		v.warn("scanner", "ripgrep not found (nested dotfile scan disabled, cwd-local denies still apply)")
		return
	}
	if policy != nil && policy.RipgrepConfig != "" {
		if _, err := os.Stat(policy.RipgrepConfig); err != nil {
			v.warn("scanner", fmt.Sprintf("ripgrep config %s not readable: %v", policy.RipgrepConfig, err))
			return
		}
	}
	v.pass("scanner", fmt.Sprintf("available: %s", path))
}

// ValidateBridgeSockets checks both bridge socket files exist and are
// Unix sockets.
func (v *Validator) ValidateBridgeSockets(bridge *NetworkBridge) {
	for _, socketPath := range []string{bridge.HTTPSocketPath, bridge.SocksSocketPath} {
		if err := verifySocket(socketPath); err != nil {
			v.fail("bridge", err.Error())
			return
		}
	}
	v.pass("bridge", "proxy sockets present")
}

// ValidateSeccompArtifacts checks the BPF program and applicator. When
// the policy allows all Unix sockets the filter is never applied and a
// missing artifact degrades to a warning.
func (v *Validator) ValidateSeccompArtifacts(policy *Policy) {
	record := v.fail
	if policy.UnixSockets.AllowAll {
		record = v.warn
	}
	bpf, err := locateSeccompBPF()
	if err != nil {
		record("seccomp", err.Error())
		return
	}
	if policy.Network.Bridge == nil {
		if _, err := locateSeccompApplicator(); err != nil {
			record("seccomp", err.Error())
			return
		}
	}
	v.pass("seccomp", fmt.Sprintf("filter available: %s", bpf))
}

// PrintResults writes validation results to a writer.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		var prefix string
		if r.Passed {
			if r.Warning {
				prefix = "⚠"
			} else {
				prefix = "✓"
			}
		} else {
			prefix = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to compile policies")
	}
}
