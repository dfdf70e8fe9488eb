// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/enclave/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger := newLogger()
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCmd(args, logger, false)
	case "print":
		err = runCmd(args, logger, true)
	case "validate":
		err = validateCmd(args, logger)
	case "test":
		err = testCmd(args, logger)
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if code, ok := sandbox.IsExitError(err); ok {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the diagnostic logger. Diagnostics go to stderr and
// never mix with the wrapped command's stdio; a terminal gets the text
// handler, anything else JSON.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("ENCLAVE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func printUsage() {
	fmt.Print(`enclave - Wrap shell commands in host OS sandboxes

USAGE
    enclave <command> [flags] -- <shell command>

COMMANDS
    run       Compile the policy and execute the wrapped command
    print     Compile the policy and print the composite command
    validate  Run pre-flight checks for the policy on this host
    test      Run the containment probe battery

EXAMPLES
    # Run a command with writes confined to the current directory
    enclave run --policy policy.yaml -- 'make test'

    # Inspect the generated bwrap or sandbox-exec invocation
    enclave print --policy policy.yaml -- 'ls -la'

    # Check tool availability before wiring enclave into a supervisor
    enclave validate --policy policy.yaml

ENVIRONMENT
    ENCLAVE_DEBUG          Enable debug logging
    ENCLAVE_SECCOMP_BPF    Override the seccomp filter program location
    ENCLAVE_SECCOMP_APPLY  Override the filter applicator location
`)
}

type commonFlags struct {
	policyFile string
	workDir    string
	platform   string
}

func addCommonFlags(flags *pflag.FlagSet) *commonFlags {
	c := &commonFlags{}
	flags.StringVar(&c.policyFile, "policy", "", "path to the YAML policy file")
	flags.StringVar(&c.workDir, "workdir", "", "working directory (default: current directory)")
	flags.StringVar(&c.platform, "platform", "", "target platform, linux or darwin (default: this host)")
	return c
}

func (c *commonFlags) build(logger *slog.Logger) (*sandbox.Sandbox, error) {
	var policy *sandbox.Policy
	if c.policyFile != "" {
		loaded, err := sandbox.LoadPolicy(c.policyFile)
		if err != nil {
			return nil, err
		}
		policy = loaded
	}
	workDir := c.workDir
	if workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		workDir = cwd
	}
	return sandbox.New(sandbox.Config{
		Policy:   policy,
		WorkDir:  workDir,
		Platform: c.platform,
		Logger:   logger,
	})
}

func (c *commonFlags) platformOrHost() string {
	if c.platform != "" {
		return c.platform
	}
	return runtime.GOOS
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd(args []string, logger *slog.Logger, dryRun bool) error {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	common := addCommonFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) != 1 {
		return fmt.Errorf("expected exactly one shell command after --")
	}
	command := rest[0]

	s, err := common.build(logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if dryRun {
		composite, err := s.Wrap(ctx, command)
		if err != nil {
			return err
		}
		defer s.Cleanup()
		fmt.Println(composite)
		return nil
	}
	return s.Run(ctx, command)
}

func validateCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	common := addCommonFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	s, err := common.build(logger)
	if err != nil {
		return err
	}

	fmt.Print(sandbox.DetectCapabilities().Summary())
	fmt.Println()

	validator := sandbox.NewValidator()
	validator.ValidateAll(s.Policy(), s.WorkDir(), common.platformOrHost())
	validator.PrintResults(os.Stdout)
	if validator.HasErrors() {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func testCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	common := addCommonFlags(flags)
	category := flags.String("category", "", "run only one probe category")
	if err := flags.Parse(args); err != nil {
		return err
	}

	s, err := common.build(logger)
	if err != nil {
		return err
	}
	if common.policyFile == "" {
		if err := s.SetPolicy(sandbox.DefaultEscapePolicy(s.WorkDir())); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	runner := sandbox.NewEscapeTestRunner(s)
	if *category != "" {
		runner.RunCategory(ctx, *category)
	} else {
		runner.RunAll(ctx)
	}
	runner.PrintResults(os.Stdout)
	if runner.HasFailures() {
		return fmt.Errorf("containment probes detected leaks")
	}
	return nil
}
