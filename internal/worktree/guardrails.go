// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	guardrailsStart = "<!-- WORKTREE_GUARDRAILS_START -->"
	guardrailsEnd   = "<!-- WORKTREE_GUARDRAILS_END -->"
)

// GuardrailsInfo is what InjectGuardrails needs to know about a session's
// worktree to write its CLAUDE.md block (spec.md §4.6, §6 "Worktree marker
// file layout").
type GuardrailsInfo struct {
	RepoRoot        string
	MainRepoPath    string
	RequestedBranch string
	ActualBranch    string
	ParentBranch    string
}

// InjectGuardrails writes or replaces the marker-delimited guardrails block
// in <workingDirectory>/.claude/CLAUDE.md. It never injects when
// workingDirectory equals the repo root or does not exist on disk, per
// spec.md §4.6/§8 "Worktree safety."
func InjectGuardrails(workingDirectory string, info GuardrailsInfo) error {
	if workingDirectory == info.RepoRoot {
		return nil
	}

	if fi, err := os.Stat(workingDirectory); err != nil || !fi.IsDir() {
		return nil
	}

	claudeDir := filepath.Join(workingDirectory, ".claude")
	if err := os.MkdirAll(claudeDir, 0o755); err != nil {
		return fmt.Errorf("worktree guardrails: create .claude dir: %w", err)
	}

	path := filepath.Join(claudeDir, "CLAUDE.md")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("worktree guardrails: read %s: %w", path, err)
	}

	updated := replaceBlock(string(existing), renderBlock(info))
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("worktree guardrails: write %s: %w", path, err)
	}
	return nil
}

func renderBlock(info GuardrailsInfo) string {
	var b strings.Builder
	b.WriteString(guardrailsStart + "\n")
	b.WriteString("## Worktree guardrails\n\n")
	b.WriteString(fmt.Sprintf("This directory is an isolated git worktree on branch `%s`", info.ActualBranch))
	if info.ParentBranch != "" && info.ParentBranch != info.ActualBranch {
		b.WriteString(fmt.Sprintf(" (branched from `%s`)", info.ParentBranch))
	}
	if info.RequestedBranch != "" && info.RequestedBranch != info.ActualBranch {
		b.WriteString(fmt.Sprintf(", requested as `%s`", info.RequestedBranch))
	}
	b.WriteString(".\n\n")
	b.WriteString(fmt.Sprintf("The main repository lives at `%s`.\n\n", info.MainRepoPath))
	b.WriteString("Do not run the following in this worktree:\n")
	for _, cmd := range forbiddenCommands {
		b.WriteString("- `" + cmd + "`\n")
	}
	b.WriteString(guardrailsEnd)
	return b.String()
}

var forbiddenCommands = []string{
	"git checkout <branch>",
	"git switch <branch>",
	"git worktree remove",
	"git branch -D",
}

// replaceBlock replaces the delimited guardrails block inside content,
// preserving everything outside it. If no block is present, the new block
// is appended (with a blank-line separator if content is non-empty).
func replaceBlock(content, block string) string {
	startIdx := strings.Index(content, guardrailsStart)
	endIdx := strings.Index(content, guardrailsEnd)

	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		trimmed := strings.TrimRight(content, "\n")
		if trimmed == "" {
			return block + "\n"
		}
		return trimmed + "\n\n" + block + "\n"
	}

	before := content[:startIdx]
	after := content[endIdx+len(guardrailsEnd):]
	after = strings.TrimPrefix(after, "\n")
	return before + block + "\n" + after
}
