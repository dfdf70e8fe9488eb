// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// DangerousFiles are dotfiles beneath the working directory that stay
// read-only regardless of the caller's write policy. Each one is either
// executed by a shell or tool on next invocation or redirects tooling in
// ways that amount to code execution.
var DangerousFiles = []string{
	".bashrc",
	".bash_profile",
	".zshrc",
	".zprofile",
	".profile",
	".gitconfig",
	".gitmodules",
	".ripgreprc",
	".mcp.json",
	".claude.json",
	".cursorrules",
}

// DangerousDirectories are configuration directories beneath the working
// directory that stay read-only regardless of the caller's write policy.
// IDE settings can declare tasks that run on open; agent command and
// agent definitions are executed verbatim.
var DangerousDirectories = []string{
	".vscode",
	".idea",
	".claude/commands",
	".claude/agents",
}

// Version-control entries handled with layout awareness rather than as
// plain list entries: .git/hooks is always denied when .git is a
// directory, .git/config unless the policy sets AllowGitConfig. When
// .git is a worktree pointer file or absent, nothing under it is denied;
// planning a mount beneath a file fails, and denying a missing .git would
// block git from creating its own directory.
const (
	gitDirName    = ".git"
	gitHooksName  = "hooks"
	gitConfigName = "config"
)
