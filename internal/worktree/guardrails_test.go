// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectGuardrails_WritesNewFile(t *testing.T) {
	dir := t.TempDir()
	wtDir := filepath.Join(dir, "wt1")
	require.NoError(t, os.Mkdir(wtDir, 0o755))

	err := InjectGuardrails(wtDir, GuardrailsInfo{
		RepoRoot:     dir,
		MainRepoPath: dir,
		ActualBranch: "feature/x",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(wtDir, ".claude", "CLAUDE.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, guardrailsStart)
	assert.Contains(t, content, guardrailsEnd)
	assert.Contains(t, content, "feature/x")
	assert.Contains(t, content, dir)
}

func TestInjectGuardrails_SkipsWhenWorkingDirIsRepoRoot(t *testing.T) {
	dir := t.TempDir()
	err := InjectGuardrails(dir, GuardrailsInfo{RepoRoot: dir})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, ".claude", "CLAUDE.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInjectGuardrails_SkipsWhenWorkingDirMissing(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist")
	err := InjectGuardrails(missing, GuardrailsInfo{RepoRoot: dir})
	require.NoError(t, err)
}

func TestInjectGuardrails_ReplacesOnlyManagedBlock(t *testing.T) {
	dir := t.TempDir()
	wtDir := filepath.Join(dir, "wt1")
	require.NoError(t, os.Mkdir(wtDir, 0o755))
	claudeDir := filepath.Join(wtDir, ".claude")
	require.NoError(t, os.Mkdir(claudeDir, 0o755))

	initial := "# My notes\n\nsome user-authored content\n"
	require.NoError(t, os.WriteFile(filepath.Join(claudeDir, "CLAUDE.md"), []byte(initial), 0o644))

	require.NoError(t, InjectGuardrails(wtDir, GuardrailsInfo{RepoRoot: dir, ActualBranch: "b1"}))
	require.NoError(t, InjectGuardrails(wtDir, GuardrailsInfo{RepoRoot: dir, ActualBranch: "b2"}))

	data, err := os.ReadFile(filepath.Join(claudeDir, "CLAUDE.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "My notes")
	assert.Contains(t, content, "some user-authored content")
	assert.Contains(t, content, "b2")
	assert.NotContains(t, content, "b1")
}

func TestInjectGuardrails_ParentBranchMentioned(t *testing.T) {
	dir := t.TempDir()
	wtDir := filepath.Join(dir, "wt1")
	require.NoError(t, os.Mkdir(wtDir, 0o755))

	require.NoError(t, InjectGuardrails(wtDir, GuardrailsInfo{
		RepoRoot: dir, ActualBranch: "feature/x", ParentBranch: "main",
	}))

	data, err := os.ReadFile(filepath.Join(wtDir, ".claude", "CLAUDE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "main")
}
