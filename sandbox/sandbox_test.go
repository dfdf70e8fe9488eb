// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newTestSandbox(t *testing.T, policy *Policy) *Sandbox {
	t.Helper()
	s, err := New(Config{
		Policy:   policy,
		WorkDir:  t.TempDir(),
		Platform: "darwin",
		Scanner:  &stubScanner{},
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("missing work directory must be rejected")
	}
	if _, err := New(Config{WorkDir: t.TempDir(), Platform: "windows"}); err == nil {
		t.Error("unsupported platform must be rejected")
	}
	s, err := New(Config{WorkDir: t.TempDir(), Platform: "linux"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Policy() != nil {
		t.Error("nil policy must stay nil")
	}
}

func TestWrapUnrestricted(t *testing.T) {
	s := newTestSandbox(t, nil)
	composite, err := s.Wrap(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if composite != "echo hi" {
		t.Errorf("unrestricted Wrap = %q, want the command unchanged", composite)
	}
}

func TestWrapDarwin(t *testing.T) {
	policy := &Policy{Network: NetworkPolicy{Restricted: true}, UnixSockets: UnixSocketPolicy{AllowAll: true}}
	s := newTestSandbox(t, policy)

	composite, err := s.Wrap(context.Background(), "make build")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.HasPrefix(composite, "sandbox-exec -p ") {
		t.Errorf("darwin Wrap must produce a sandbox-exec invocation: %.60s", composite)
	}
	if !strings.Contains(composite, ShellQuote("make build")) {
		t.Error("wrapped command missing from composite")
	}
}

func TestWrapEnumeratesDenies(t *testing.T) {
	policy := &Policy{
		Write:       &WritePolicy{AllowOnly: []string{"/srv/work"}},
		UnixSockets: UnixSocketPolicy{AllowAll: true},
	}
	s := newTestSandbox(t, policy)

	composite, err := s.Wrap(context.Background(), "true")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if !strings.Contains(composite, ".bashrc") {
		t.Error("mandatory denies must flow into the compiled profile")
	}
}

func TestWrapPolicyIsolation(t *testing.T) {
	policy := &Policy{Write: &WritePolicy{AllowOnly: []string{"/srv/work"}}}
	s := newTestSandbox(t, policy)

	policy.Write.AllowOnly[0] = "/mutated"
	if s.Policy().Write.AllowOnly[0] != "/srv/work" {
		t.Error("sandbox must hold a clone, not the caller's policy")
	}
}

func TestSetPolicy(t *testing.T) {
	s := newTestSandbox(t, nil)

	bad := &Policy{MandatoryDenySearchDepth: -1}
	if err := s.SetPolicy(bad); err == nil {
		t.Error("invalid policy must be rejected")
	}
	if s.Policy() != nil {
		t.Error("rejected policy must not be installed")
	}

	good := &Policy{Network: NetworkPolicy{Restricted: true}}
	if err := s.SetPolicy(good); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	good.Network.Restricted = false
	if !s.Policy().Network.Restricted {
		t.Error("installed policy must be a clone")
	}
}

func TestApplyControlDocument(t *testing.T) {
	s := newTestSandbox(t, nil)

	document := `{
  // pushed by the supervisor between commands
  "network": {"restricted": true},
  "unixSockets": {"allowAll": true},
}`
	if err := s.ApplyControlDocument([]byte(document)); err != nil {
		t.Fatalf("ApplyControlDocument: %v", err)
	}
	if !s.Policy().Network.Restricted || !s.Policy().UnixSockets.AllowAll {
		t.Error("control document not applied")
	}

	if err := s.ApplyControlDocument([]byte("{broken")); err == nil {
		t.Error("malformed document must be rejected")
	}
}

func TestWrapCompileFailure(t *testing.T) {
	policy := &Policy{Network: NetworkPolicy{
		Restricted: true,
		Bridge: &NetworkBridge{
			HTTPSocketPath:  "/nonexistent/http.sock",
			SocksSocketPath: "/nonexistent/socks.sock",
			HTTPPort:        10080,
			SocksPort:       10081,
		},
	}}
	s, err := New(Config{
		Policy:   policy,
		WorkDir:  t.TempDir(),
		Platform: "linux",
		Scanner:  &stubScanner{},
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fakeTools(t, "bwrap")
	_, err = s.Wrap(context.Background(), "true")
	if err == nil {
		t.Fatal("missing bridge sockets must fail compilation")
	}
	if !strings.Contains(err.Error(), "cannot compile policy") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 42}
	if !strings.Contains(err.Error(), "42") {
		t.Errorf("ExitError message missing code: %v", err)
	}
	if code, ok := IsExitError(err); !ok || code != 42 {
		t.Errorf("IsExitError = %d, %v", code, ok)
	}
	if _, ok := IsExitError(errors.New("plain")); ok {
		t.Error("plain error classified as ExitError")
	}
	if _, ok := IsExitError(fmt.Errorf("wrapped: %w", err)); ok {
		t.Error("IsExitError matches the concrete type only")
	}
}
