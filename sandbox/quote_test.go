// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "testing"

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "plain"},
		{"/usr/bin/env", "/usr/bin/env"},
		{"has space", "'has space'"},
		{"dollar$var", "'dollar$var'"},
		{"semi;colon", "'semi;colon'"},
		{"don't", `'don'\''t'`},
		{"glob*", "'glob*'"},
	}
	for _, tt := range tests {
		if got := ShellQuote(tt.in); got != tt.want {
			t.Errorf("ShellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestShellCommand(t *testing.T) {
	got := ShellCommand([]string{"/bin/sh", "-c", "echo 'hi there'"})
	want := `/bin/sh -c 'echo '\''hi there'\'''`
	if got != want {
		t.Errorf("ShellCommand = %s, want %s", got, want)
	}
}
