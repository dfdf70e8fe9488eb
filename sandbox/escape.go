// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EscapeTest is a containment probe executed as a shell snippet under a
// wrapped command. The snippet must exit 0 when the restriction holds
// and non-zero when the sandbox leaked.
type EscapeTest struct {
	Name        string
	Description string
	Category    string // "filesystem", "network", "unix-socket"
	Script      string
}

// EscapeTestResult holds the result of running an escape test.
type EscapeTestResult struct {
	Test   *EscapeTest
	Passed bool   // True if the restriction held.
	Error  string // If the sandbox leaked, describes how.
}

// EscapeTests contains all containment probes. Each assumes the policy
// built by DefaultEscapePolicy: writes allowed only under the working
// directory, reads denied for /etc/shadow-like secrets, network
// restricted, Unix sockets blocked.
var EscapeTests = []EscapeTest{
	{
		Name:        "write-outside-allow",
		Description: "Write outside the allowed subtree",
		Category:    "filesystem",
		Script:      `! touch /usr/enclave-escape-probe 2>/dev/null`,
	},
	{
		Name:        "write-inside-allow",
		Description: "Write inside the allowed subtree",
		Category:    "filesystem",
		Script:      `touch ./enclave-write-probe && rm ./enclave-write-probe`,
	},
	{
		Name:        "dotfile-write",
		Description: "Modify a dangerous dotfile in the working directory",
		Category:    "filesystem",
		Script:      `! sh -c 'echo x >> ./.bashrc' 2>/dev/null`,
	},
	{
		Name:        "git-hook-write",
		Description: "Plant a git hook",
		Category:    "filesystem",
		Script:      `test ! -d .git || ! sh -c 'echo x > .git/hooks/post-checkout' 2>/dev/null`,
	},
	{
		Name:        "mkdir-into-deny",
		Description: "mkdir -p into a denied path",
		Category:    "filesystem",
		Script:      `! mkdir -p ./.claude/commands 2>/dev/null || ! sh -c 'echo x > ./.claude/commands/probe' 2>/dev/null`,
	},
	{
		Name:        "rename-denied-file",
		Description: "Rename a read-denied file somewhere readable",
		Category:    "filesystem",
		Script:      `test ! -e /etc/shadow || ! mv /etc/shadow ./shadow-copy 2>/dev/null`,
	},
	{
		Name:        "network-external",
		Description: "Open a TCP connection to an external host",
		Category:    "network",
		Script:      `! sh -c 'exec 3<>/dev/tcp/1.1.1.1/80' 2>/dev/null`,
	},
	{
		Name:        "unix-socket-create",
		Description: "Create a Unix-domain socket",
		Category:    "unix-socket",
		Script: `command -v python3 >/dev/null || exit 0
! python3 -c 'import socket; socket.socket(socket.AF_UNIX, socket.SOCK_STREAM)' 2>/dev/null`,
	},
}

// DefaultEscapePolicy is the restriction set the probes are written
// against.
func DefaultEscapePolicy(workDir string) *Policy {
	return &Policy{
		Read:    &ReadPolicy{DenyOnly: []string{"/etc/shadow"}},
		Write:   &WritePolicy{AllowOnly: []string{workDir}},
		Network: NetworkPolicy{Restricted: true},
	}
}

// EscapeTestRunner wraps each probe with a sandbox and executes it.
type EscapeTestRunner struct {
	sandbox *Sandbox
	tests   []EscapeTest
	results []EscapeTestResult
}

// NewEscapeTestRunner creates a runner over all probes.
func NewEscapeTestRunner(s *Sandbox) *EscapeTestRunner {
	return &EscapeTestRunner{
		sandbox: s,
		tests:   EscapeTests,
	}
}

// RunAll executes every probe and returns the results.
func (r *EscapeTestRunner) RunAll(ctx context.Context) []EscapeTestResult {
	return r.run(ctx, "")
}

// RunCategory executes the probes in one category.
func (r *EscapeTestRunner) RunCategory(ctx context.Context, category string) []EscapeTestResult {
	return r.run(ctx, category)
}

func (r *EscapeTestRunner) run(ctx context.Context, category string) []EscapeTestResult {
	r.results = r.results[:0]
	for i := range r.tests {
		test := &r.tests[i]
		if category != "" && test.Category != category {
			continue
		}
		result := EscapeTestResult{Test: test, Passed: true}

		testCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := r.sandbox.Run(testCtx, test.Script)
		cancel()

		if err != nil {
			result.Passed = false
			if code, ok := IsExitError(err); ok {
				result.Error = fmt.Sprintf("probe exited %d", code)
			} else {
				result.Error = err.Error()
			}
		}
		r.results = append(r.results, result)
	}
	return r.results
}

// Summary returns pass and fail counts.
func (r *EscapeTestRunner) Summary() (passed, failed int) {
	for _, result := range r.results {
		if result.Passed {
			passed++
		} else {
			failed++
		}
	}
	return
}

// HasFailures returns true if any probe detected a leak.
func (r *EscapeTestRunner) HasFailures() bool {
	_, failed := r.Summary()
	return failed > 0
}

// PrintResults writes probe results to a writer.
func (r *EscapeTestRunner) PrintResults(w io.Writer) {
	fmt.Fprintf(w, "Running containment probes...\n\n")
	for _, result := range r.results {
		status := "[PASS]"
		if !result.Passed {
			status = "[FAIL]"
		}
		fmt.Fprintf(w, "%s %s: %s\n", status, result.Test.Name, result.Test.Description)
		if !result.Passed {
			fmt.Fprintf(w, "       %s\n", result.Error)
		}
	}
	passed, failed := r.Summary()
	fmt.Fprintf(w, "\n%d/%d probes passed", passed, passed+failed)
	if failed == 0 {
		fmt.Fprintf(w, " - containment verified\n")
	} else {
		fmt.Fprintf(w, " - %d leak(s) detected!\n", failed)
	}
}
