// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sys/unix"
)

// bwrapCompiler turns a policy into an ordered bubblewrap argument
// vector. Order is semantically significant: later binds override
// earlier ones on overlapping paths, so the compiler works in stages
// (root, write allows, write denies, read denies, dev and proc,
// network, payload).
type bwrapCompiler struct {
	policy  *Policy
	workDir string
	denies  []string
	logger  *slog.Logger

	args []string

	// allowedWriteRoots are the write-allow paths that survived the
	// boundary checks. Deny-artifact planning is scoped to them.
	allowedWriteRoots []string

	// writableBinds are the bind pairs replayed inside the nested
	// sandbox stage so writes reach the shared underlying filesystem.
	writableBinds [][2]string

	// maskArgs are the deny directives replayed inside the nested
	// sandbox stage so the inner mount view matches the outer one.
	maskArgs []string
}

// mask emits a deny directive into the main argument vector and records
// it for replay in the nested stage.
func (c *bwrapCompiler) mask(args ...string) {
	c.args = append(c.args, args...)
	c.maskArgs = append(c.maskArgs, args...)
}

// CompileBwrap builds the composite shell command that runs command
// under bubblewrap with the policy's restrictions. mandatoryDenies is
// the enumerator's output and is folded into the write-deny set.
func CompileBwrap(policy *Policy, workDir string, mandatoryDenies []string, command string, logger *slog.Logger) (string, error) {
	c := &bwrapCompiler{
		policy:  policy,
		workDir: workDir,
		denies:  mandatoryDenies,
		logger:  logger,
	}
	return c.compile(command)
}

func (c *bwrapCompiler) compile(command string) (string, error) {
	bwrapBinary, err := exec.LookPath("bwrap")
	if err != nil {
		return "", fmt.Errorf("bwrap not found: %w", err)
	}
	shell, err := exec.LookPath(c.policy.Shell())
	if err != nil {
		return "", fmt.Errorf("shell %s not found: %w", c.policy.Shell(), err)
	}

	c.args = []string{bwrapBinary, "--die-with-parent", "--new-session"}

	c.addRoot()
	c.addWriteAllows()
	c.addWriteDenies()
	c.addReadDenies()
	c.addDevAndProc()
	if err := c.addNetwork(); err != nil {
		return "", err
	}

	payload, err := c.buildPayload(bwrapBinary, shell, command)
	if err != nil {
		return "", err
	}
	c.args = append(c.args, "--")
	c.args = append(c.args, payload...)
	return ShellCommand(c.args), nil
}

// addRoot mounts the host root. Write restrictions make it read-only;
// everything writable is bound back on top in the next stage.
func (c *bwrapCompiler) addRoot() {
	if c.policy.Write != nil {
		c.args = append(c.args, "--ro-bind", "/", "/")
	} else {
		c.args = append(c.args, "--bind", "/", "/")
	}
}

// addWriteAllows binds each surviving allow path read-write over the
// read-only root. Paths that are missing, under /dev, unresolvable, or
// backed by a scope-widening symlink are skipped with a debug log; the
// policy is an intent statement over a mutating filesystem.
func (c *bwrapCompiler) addWriteAllows() {
	if c.policy.Write == nil {
		return
	}
	for _, entry := range c.policy.Write.AllowOnly {
		normalized := NormalizePath(entry, c.workDir)
		if isPathUnder(normalized, "/dev") {
			c.logger.Debug("skipping write allow under /dev", "path", normalized)
			continue
		}
		if ClassifyPath(normalized) == PathMissing {
			c.logger.Debug("skipping missing write allow", "path", normalized)
			continue
		}
		resolved, err := resolvePath(normalized)
		if err != nil {
			c.logger.Debug("skipping unresolvable write allow", "path", normalized, "error", err)
			continue
		}
		if SymlinkWidens(normalized, resolved) {
			c.logger.Debug("skipping scope-widening write allow", "path", normalized, "resolved", resolved)
			continue
		}
		c.bindWritable(normalized, normalized)
		c.allowedWriteRoots = append(c.allowedWriteRoots, normalized)
	}
}

func (c *bwrapCompiler) bindWritable(source, dest string) {
	c.args = append(c.args, "--bind", source, dest)
	c.writableBinds = append(c.writableBinds, [2]string{source, dest})
}

// addWriteDenies re-masks paths inside the allowed subtrees. Beyond the
// straightforward existing-path case, two filesystem shapes get special
// handling: a symlink component inside a writable subtree is clobbered
// with a /dev/null bind so the command cannot rebuild it as a real
// directory, and a non-existent deny path gets a deny artifact at its
// first non-existent component so the command cannot mkdir its way in.
func (c *bwrapCompiler) addWriteDenies() {
	if c.policy.Write == nil {
		return
	}
	entries := append([]string(nil), c.policy.Write.DenyWithinAllow...)
	entries = append(entries, c.denies...)
	sort.Strings(entries)

	seen := make(map[string]struct{})
	for _, entry := range entries {
		normalized := NormalizePath(entry, c.workDir)
		if _, done := seen[normalized]; done {
			continue
		}
		seen[normalized] = struct{}{}

		if IsGlobPattern(normalized) {
			matches, err := filepath.Glob(normalized)
			if err != nil || len(matches) == 0 {
				c.logger.Debug("skipping write deny glob with no matches", "pattern", normalized)
				continue
			}
			for _, match := range matches {
				c.denyOnePath(match)
			}
			continue
		}
		c.denyOnePath(normalized)
	}
}

func (c *bwrapCompiler) denyOnePath(target string) {
	if isPathUnder(target, "/dev") {
		c.logger.Debug("skipping write deny under /dev", "path", target)
		return
	}

	if symlink := FindSymlinkInPath(target, c.allowedWriteRoots); symlink != "" {
		c.mask("--ro-bind", "/dev/null", symlink)
		c.logger.Debug("clobbering symlink component in write deny", "path", target, "symlink", symlink)
		return
	}

	if ClassifyPath(target) == PathMissing {
		c.denyMissingPath(target)
		return
	}

	if !c.underAllowedWriteRoot(target) {
		c.logger.Debug("skipping write deny outside allowed roots", "path", target)
		return
	}
	c.mask("--ro-bind", target, target)
}

// denyMissingPath plans a deny artifact for a path that does not exist
// yet. A /dev/null bind covers the leaf-only case; an empty tempdir
// bind covers an intermediate missing component, preserving its
// directory-ness for downstream tools while blocking subtree creation.
func (c *bwrapCompiler) denyMissingPath(target string) {
	if HasFileAncestor(target) {
		c.logger.Debug("skipping write deny with file ancestor", "path", target)
		return
	}
	ancestor := nearestExistingAncestor(target)
	if !c.underAllowedWriteRoot(ancestor) {
		c.logger.Debug("skipping missing write deny outside allowed roots", "path", target)
		return
	}
	first, ok := FirstNonexistent(target)
	if !ok {
		return
	}
	if first == target {
		c.mask("--ro-bind", "/dev/null", first)
		mountPoints.add(first)
		c.logger.Debug("planned /dev/null deny artifact", "path", first)
		return
	}
	emptyDir := filepath.Join(os.TempDir(), "enclave-deny-"+ulid.Make().String())
	if err := os.Mkdir(emptyDir, 0o500); err != nil {
		c.logger.Debug("skipping write deny, tempdir creation failed", "path", target, "error", err)
		return
	}
	mountPoints.add(emptyDir)
	c.mask("--ro-bind", emptyDir, first)
	mountPoints.add(first)
	c.logger.Debug("planned tempdir deny artifact", "path", first, "tempdir", emptyDir)
}

func (c *bwrapCompiler) underAllowedWriteRoot(path string) bool {
	for _, root := range c.allowedWriteRoots {
		if isPathUnder(path, root) {
			return true
		}
	}
	return false
}

// addReadDenies masks read-denied paths entirely: directories become
// empty tmpfs mounts, files become /dev/null. The ssh drop-in
// directory is always masked; its Include files execute ProxyCommand
// lines on the next ssh invocation.
func (c *bwrapCompiler) addReadDenies() {
	entries := []string{"/etc/ssh/ssh_config.d"}
	if c.policy.Read != nil {
		entries = append(entries, c.policy.Read.DenyOnly...)
	}
	for _, entry := range entries {
		normalized := NormalizePath(entry, c.workDir)
		if IsGlobPattern(normalized) {
			matches, err := filepath.Glob(normalized)
			if err != nil || len(matches) == 0 {
				c.logger.Debug("skipping read deny glob with no matches", "pattern", normalized)
				continue
			}
			for _, match := range matches {
				c.maskReadPath(match)
			}
			continue
		}
		c.maskReadPath(normalized)
	}
}

func (c *bwrapCompiler) maskReadPath(target string) {
	switch ClassifyPath(target) {
	case PathDir:
		c.mask("--tmpfs", target)
	case PathFile, PathSymlink:
		c.mask("--ro-bind", "/dev/null", target)
	default:
		c.logger.Debug("skipping missing read deny", "path", target)
	}
}

// addDevAndProc emits the device and PID-isolation directives. These
// must follow every filesystem bind: a bind after --proc would shadow
// the fresh proc mount.
func (c *bwrapCompiler) addDevAndProc() {
	c.args = append(c.args, "--dev", "/dev")
	c.args = append(c.args, "--unshare-pid")
	if !c.policy.EnableWeakerNestedSandbox {
		c.args = append(c.args, "--proc", "/proc")
	}
}

// addNetwork isolates the network namespace and, with a bridge, binds
// the host-side proxy sockets into the sandbox and points the standard
// proxy variables at the in-sandbox forwarders.
func (c *bwrapCompiler) addNetwork() error {
	if !c.policy.Network.Restricted {
		return nil
	}
	c.args = append(c.args, "--unshare-net")

	bridge := c.policy.Network.Bridge
	if bridge == nil {
		return nil
	}
	for _, socketPath := range []string{bridge.HTTPSocketPath, bridge.SocksSocketPath} {
		if err := verifySocket(socketPath); err != nil {
			return fmt.Errorf("network bridge: %w", err)
		}
		c.bindWritable(socketPath, socketPath)
	}

	httpProxy := fmt.Sprintf("http://127.0.0.1:%d", bridge.HTTPPort)
	socksProxy := fmt.Sprintf("socks5://127.0.0.1:%d", bridge.SocksPort)
	c.args = append(c.args,
		"--setenv", "HTTP_PROXY", httpProxy,
		"--setenv", "HTTPS_PROXY", httpProxy,
		"--setenv", "ALL_PROXY", socksProxy,
		"--setenv", "ENCLAVE_HTTP_PROXY_PORT", fmt.Sprintf("%d", bridge.HTTPPort),
		"--setenv", "ENCLAVE_SOCKS_PROXY_PORT", fmt.Sprintf("%d", bridge.SocksPort),
	)
	return nil
}

// verifySocket confirms path exists and is a Unix-domain socket. A
// missing or non-socket path means the bridge supervisor has crashed,
// which is a hard compile error rather than a skippable anomaly.
func verifySocket(path string) error {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return fmt.Errorf("socket %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return fmt.Errorf("socket %s: not a unix socket", path)
	}
	return nil
}

// buildPayload chooses the argv that follows the "--" separator. Three
// shapes: a nested two-stage sandbox when both a syscall filter and a
// bridge are in play (the socat forwarders must create Unix sockets and
// so cannot run under the filter), a filter-applicator wrapper when the
// filter applies without a bridge, and the bare shell otherwise.
func (c *bwrapCompiler) buildPayload(bwrapBinary, shell, command string) ([]string, error) {
	if !c.policy.filterRequired() {
		return []string{shell, "-c", command}, nil
	}

	bpfSource, err := locateSeccompBPF()
	if err != nil {
		if c.policy.UnixSockets.AllowAll {
			c.logger.Warn("seccomp filter unavailable, unix sockets unfiltered", "error", err)
			return []string{shell, "-c", command}, nil
		}
		return nil, err
	}
	bpfFile, err := stageSeccompBPF(bpfSource)
	if err != nil {
		return nil, err
	}

	bridged := c.policy.Network.Restricted && c.policy.Network.Bridge != nil
	if !bridged {
		applicator, err := locateSeccompApplicator()
		if err != nil {
			return nil, err
		}
		return []string{applicator, "apply", bpfFile, shell, "-c", command}, nil
	}

	script, err := c.nestedSandboxScript(bwrapBinary, shell, bpfFile, command)
	if err != nil {
		return nil, err
	}
	return []string{shell, "-c", script}, nil
}

// nestedSandboxScript builds the outer-stage shell script for the
// bridged-and-filtered case. The outer stage launches the socat
// forwarders unfiltered, waits for their listeners, opens the staged
// BPF program on descriptor 3, and execs an inner bwrap that applies
// the filter to the user command only. The inner stage rebuilds the
// outer mount view: a read-only root, the writable binds replayed so
// writes reach the shared underlying filesystem instead of the inner's
// read-only root, and the same deny masks on top.
func (c *bwrapCompiler) nestedSandboxScript(bwrapBinary, shell, bpfFile, command string) (string, error) {
	socat, err := exec.LookPath("socat")
	if err != nil {
		return "", fmt.Errorf("socat not found: %w", err)
	}
	bridge := c.policy.Network.Bridge

	inner := []string{bwrapBinary, "--unshare-all", "--share-net", "--die-with-parent", "--ro-bind", "/", "/"}
	for _, pair := range c.writableBinds {
		if isPathUnder(pair[1], "/dev") {
			continue
		}
		inner = append(inner, "--bind", pair[0], pair[1])
	}
	inner = append(inner, c.maskArgs...)
	inner = append(inner, "--dev", "/dev")
	if !c.policy.EnableWeakerNestedSandbox {
		inner = append(inner, "--proc", "/proc")
	}
	inner = append(inner, "--seccomp", "3", "--", shell, "-c", command)

	var script strings.Builder
	fmt.Fprintf(&script, "%s TCP-LISTEN:%d,fork,bind=127.0.0.1 UNIX-CONNECT:%s &\n",
		ShellQuote(socat), bridge.HTTPPort, ShellQuote(bridge.HTTPSocketPath))
	fmt.Fprintf(&script, "%s TCP-LISTEN:%d,fork,bind=127.0.0.1 UNIX-CONNECT:%s &\n",
		ShellQuote(socat), bridge.SocksPort, ShellQuote(bridge.SocksSocketPath))
	script.WriteString("sleep 0.1\n")
	fmt.Fprintf(&script, "exec 3< %s\n", ShellQuote(bpfFile))
	fmt.Fprintf(&script, "exec %s\n", ShellCommand(inner))
	return script.String(), nil
}
