// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/oklog/ulid/v2"
)

// Environment overrides for the syscall-filter artifacts. The BPF
// program blocks AF_UNIX socket creation; it is built out of band and
// consumed opaquely here.
const (
	seccompBPFEnv        = "ENCLAVE_SECCOMP_BPF"
	seccompApplicatorEnv = "ENCLAVE_SECCOMP_APPLY"

	defaultApplicatorName = "enclave-seccomp"
)

// locateSeccompBPF finds the pre-built BPF filter program. The override
// variable wins; otherwise the filter is expected alongside the running
// executable.
func locateSeccompBPF() (string, error) {
	if path := os.Getenv(seccompBPFEnv); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("seccomp filter at %s (%s): %w", path, seccompBPFEnv, err)
		}
		return path, nil
	}
	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate seccomp filter: %w", err)
	}
	path := filepath.Join(filepath.Dir(executable), "unix-block.bpf")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("seccomp filter not found at %s: %w", path, err)
	}
	return path, nil
}

// locateSeccompApplicator finds the helper binary that loads a BPF file
// and execs the wrapped command under it.
func locateSeccompApplicator() (string, error) {
	if path := os.Getenv(seccompApplicatorEnv); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("seccomp applicator at %s (%s): %w", path, seccompApplicatorEnv, err)
		}
		return path, nil
	}
	path, err := exec.LookPath(defaultApplicatorName)
	if err != nil {
		return "", fmt.Errorf("seccomp applicator not found: %w", err)
	}
	return path, nil
}

// stageSeccompBPF copies the filter program to a private runtime file
// and registers it with the generated-filter registry. The nested
// sandbox opens the staged copy on an inherited descriptor; staging
// keeps that open independent of the install location's permissions
// and lifetime.
func stageSeccompBPF(source string) (string, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read seccomp filter: %w", err)
	}
	staged := filepath.Join(os.TempDir(), "enclave-seccomp-"+ulid.Make().String()+".bpf")
	if err := os.WriteFile(staged, data, 0o400); err != nil {
		return "", fmt.Errorf("stage seccomp filter: %w", err)
	}
	generatedFilters.add(staged)
	return staged, nil
}
