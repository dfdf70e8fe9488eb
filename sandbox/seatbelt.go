// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
)

// seatbeltCompiler renders a policy as a seatbelt profile S-expression
// for sandbox-exec. The profile engine evaluates rules last-match-wins
// within an operation family, so denies are emitted after the broad
// allows they carve into.
type seatbeltCompiler struct {
	policy  *Policy
	workDir string
	denies  []string
	logger  *slog.Logger

	profile strings.Builder
}

// CompileSeatbelt builds the composite shell command that runs command
// under sandbox-exec with the policy's restrictions.
func CompileSeatbelt(policy *Policy, workDir string, mandatoryDenies []string, command string, logger *slog.Logger) (string, error) {
	c := &seatbeltCompiler{
		policy:  policy,
		workDir: workDir,
		denies:  mandatoryDenies,
		logger:  logger,
	}
	profile, err := c.compile()
	if err != nil {
		return "", err
	}
	argv := []string{"sandbox-exec", "-p", profile, policy.Shell(), "-c", command}
	return ShellCommand(argv), nil
}

func (c *seatbeltCompiler) compile() (string, error) {
	c.emit(";; enclave %s", ulid.Make().String())
	c.preamble()
	c.writeAllowRules()
	c.readDenyRules()
	c.writeDenyRules()
	c.networkRules()
	c.unixSocketRules()
	if c.policy.AllowPty {
		c.emit("(allow pseudo-tty)")
		c.emit(`(allow file-read* file-write* (literal "/dev/ptmx") (regex #"^/dev/ttys[0-9]+$"))`)
	}
	return c.profile.String(), nil
}

func (c *seatbeltCompiler) emit(format string, args ...any) {
	fmt.Fprintf(&c.profile, format+"\n", args...)
}

// preamble establishes the baseline: everything denied, then reads,
// process management, signals within the sandbox, a sysctl whitelist
// wide enough for process enumeration, and read-write /dev. Writes,
// mach lookups, and the network stay denied until a later family
// allows them.
func (c *seatbeltCompiler) preamble() {
	c.emit("(version 1)")
	c.emit("(deny default)")
	c.emit("(allow file-read*)")
	c.emit("(allow file-read-metadata)")
	c.emit("(allow process-exec*)")
	c.emit("(allow process-fork)")
	c.emit("(allow process-info*)")
	c.emit("(allow signal (target same-sandbox))")
	c.emit("(allow sysctl-read")
	c.emit(`  (sysctl-name-prefix "kern.proc.all")`)
	c.emit(`  (sysctl-name-prefix "kern.proc.pid.")`)
	c.emit(`  (sysctl-name-prefix "hw.")`)
	c.emit(`  (sysctl-name "kern.argmax")`)
	c.emit(`  (sysctl-name "kern.boottime")`)
	c.emit(`  (sysctl-name "kern.hostname")`)
	c.emit(`  (sysctl-name "kern.osrelease")`)
	c.emit(`  (sysctl-name "kern.osversion")`)
	c.emit(`  (sysctl-name "kern.version"))`)
	c.emit(`(allow file-write* (subpath "/dev"))`)
	c.emit("(allow file-ioctl)")
}

// readDenyRules blocks reading of the denied paths and, for each one,
// renaming it or any of its ancestors. Rename is a write operation
// checked against the source's ancestor chain; without the ancestor
// denies, mv would relocate a read-denied file somewhere readable.
func (c *seatbeltCompiler) readDenyRules() {
	if c.policy.Read == nil {
		return
	}
	for _, entry := range c.policy.Read.DenyOnly {
		normalized := NormalizePath(entry, c.workDir)
		if IsGlobPattern(normalized) {
			pattern := c.preserveGlob(normalized)
			c.emit(`(deny file-read* (regex #"%s"))`, globToRegex(pattern))
			c.denyUnlinkChain(SplitGlobPatternBase(pattern))
			continue
		}
		c.emit("(deny file-read* (subpath %q) (literal %q))", normalized, normalized)
		c.denyUnlinkChain(normalized)
	}
}

// denyUnlinkChain emits file-write-unlink denies for path and every
// ancestor directory up to the filesystem root.
func (c *seatbeltCompiler) denyUnlinkChain(path string) {
	c.emit("(deny file-write-unlink")
	for _, ancestor := range ancestorChain(path) {
		c.emit("  (literal %q)", ancestor)
	}
	c.emit(")")
}

// ancestorChain returns path and all its ancestors, root last.
func ancestorChain(path string) []string {
	var chain []string
	for {
		chain = append(chain, path)
		if path == "/" {
			return chain
		}
		next := path[:strings.LastIndexByte(path, '/')]
		if next == "" {
			next = "/"
		}
		path = next
	}
}

// writeAllowRules opens write access under the default deny. Symlinked
// allow paths go through the same widening check as on Linux; a
// widening resolution keeps the original path so the symlink cannot
// smuggle in a broader subtree.
func (c *seatbeltCompiler) writeAllowRules() {
	if c.policy.Write == nil {
		c.emit("(allow file-write*)")
		return
	}
	for _, entry := range c.policy.Write.AllowOnly {
		normalized := NormalizePath(entry, c.workDir)
		if IsGlobPattern(normalized) {
			c.emit(`(allow file-write* (regex #"%s"))`, globToRegex(c.preserveGlob(normalized)))
			continue
		}
		target := normalized
		if resolved, err := resolvePath(normalized); err == nil && !SymlinkWidens(normalized, resolved) {
			target = resolved
		} else if err == nil {
			c.logger.Debug("keeping original write allow, resolution widens", "path", normalized, "resolved", resolved)
		}
		c.emit("(allow file-write* (subpath %q) (literal %q))", target, target)
	}
}

// writeDenyRules carves the deny-within-allow entries and the mandatory
// denies back out of the write allows, with the same rename-blocking
// ancestor chain as the read family.
func (c *seatbeltCompiler) writeDenyRules() {
	if c.policy.Write == nil {
		return
	}
	entries := append([]string(nil), c.policy.Write.DenyWithinAllow...)
	entries = append(entries, c.denies...)
	for _, entry := range entries {
		normalized := NormalizePath(entry, c.workDir)
		if IsGlobPattern(normalized) {
			pattern := c.preserveGlob(normalized)
			regex := globToRegex(pattern)
			c.emit(`(deny file-write* (regex #"%s"))`, regex)
			c.emit(`(deny file-write-unlink (regex #"%s"))`, regex)
			c.denyUnlinkChain(SplitGlobPatternBase(pattern))
			continue
		}
		c.emit("(deny file-write* (subpath %q) (literal %q))", normalized, normalized)
		c.denyUnlinkChain(normalized)
	}
}

// preserveGlob resolves a glob pattern's literal base through the
// widening check. A widening base keeps the original pattern; rules
// derived from the resolved form would cover paths the caller never
// named.
func (c *seatbeltCompiler) preserveGlob(pattern string) string {
	base, tail := SplitGlobPattern(pattern)
	resolved, err := resolvePath(base)
	if err != nil || resolved == base {
		return pattern
	}
	if SymlinkWidens(base, resolved) {
		c.logger.Debug("keeping original glob, base resolution widens", "pattern", pattern, "resolved", resolved)
		return pattern
	}
	if tail == "" {
		return resolved
	}
	return resolved + "/" + tail
}

// networkRules opens the network wholesale, or scopes it to DNS plus
// the bridge forwarder ports under restriction. Local binding allows
// the IPv4-mapped-in-IPv6 loopback form as well, since dual-stack
// runtimes bind it without asking.
func (c *seatbeltCompiler) networkRules() {
	if !c.policy.Network.Restricted {
		c.emit("(allow network*)")
		return
	}
	c.emit(`(allow network-outbound (remote udp "*:53"))`)
	c.emit(`(allow system-socket (require-all (socket-domain AF_INET)))`)
	c.emit(`(allow system-socket (require-all (socket-domain AF_INET6)))`)
	if bridge := c.policy.Network.Bridge; bridge != nil {
		c.emit(`(allow network-outbound (remote tcp "localhost:%d"))`, bridge.HTTPPort)
		c.emit(`(allow network-outbound (remote tcp "localhost:%d"))`, bridge.SocksPort)
	}
	if c.policy.AllowLocalBinding {
		for _, local := range []string{"localhost:*", "127.0.0.1:*", "[::1]:*", "[::ffff:127.0.0.1]:*"} {
			c.emit(`(allow network-bind network-inbound (local tcp "%s"))`, local)
			c.emit(`(allow network-outbound (remote tcp "%s"))`, local)
		}
	}
}

// unixSocketRules governs Unix-domain socket creation independently of
// the network family. Creation is a system-socket operation that names
// no path, so it must be allowed with a domain predicate; only the
// subsequent bind and connect can be path-scoped.
func (c *seatbeltCompiler) unixSocketRules() {
	sockets := c.policy.UnixSockets
	switch {
	case sockets.AllowAll:
		c.emit("(allow system-socket (require-all (socket-domain AF_UNIX)))")
		c.emit("(allow network-bind network-outbound (remote unix-socket))")
	case len(sockets.AllowPaths) > 0:
		c.emit("(allow system-socket (require-all (socket-domain AF_UNIX)))")
		for _, path := range sockets.AllowPaths {
			c.emit("(allow network-bind network-outbound (remote unix-socket (literal %q)))", path)
			c.emit("(allow network-bind network-outbound (remote unix-socket (subpath %q)))", path)
		}
	}
}

// globToRegex translates a shell glob into an anchored regex. "*" stays
// within one path component; "?" matches a single non-slash character.
func globToRegex(pattern string) string {
	var out strings.Builder
	out.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			out.WriteString(regexEscape(r))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			out.WriteString("[^/]*")
		case r == '?':
			out.WriteString("[^/]")
		default:
			out.WriteString(regexEscape(r))
		}
	}
	out.WriteString("$")
	return out.String()
}

func regexEscape(r rune) string {
	if strings.ContainsRune(`.+*?()[]{}^$|\`, r) {
		return `\` + string(r)
	}
	return string(r)
}

// SplitGlobPatternBase returns just the literal base of a glob pattern.
func SplitGlobPatternBase(pattern string) string {
	base, _ := SplitGlobPattern(pattern)
	return base
}
