// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "strings"

// ShellQuote returns s unchanged when it contains no shell
// metacharacters; otherwise it wraps s in single quotes, escaping
// embedded single quotes with the '\'' idiom. An empty s becomes a pair of single quotes.
// The result is safe to splice into a POSIX shell command line.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`!*?[](){}<>|&;~#=") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellCommand folds an argument vector into one shell command string,
// quoting each element.
func ShellCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = ShellQuote(arg)
	}
	return strings.Join(quoted, " ")
}
