// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Enclave wraps shell commands in host OS sandboxes driven by a YAML
// policy. It provides four subcommands: run (execute a wrapped
// command), print (emit the composite command without executing),
// validate (pre-flight checks for the policy on this host), and test
// (run the containment probe battery).
package main
