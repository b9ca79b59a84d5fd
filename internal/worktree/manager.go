// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"sync"
)

// WorktreeManager resolves createSessionRequest.Worktree (spec.md §4.6)
// against the repo's known git worktrees. Worktree CRUD (create, remove,
// activate) is an external-collaborator concern out of scope for this
// server's REST surface (SPEC_FULL.md §4.9); this type only keeps the
// lookup table current and answers lookups by name.
type WorktreeManager struct {
	mu          sync.RWMutex
	git         GitExecutor
	repoDir     string // Directory to run git commands in
	worktrees   []WorktreeInfo
	projectName string
}

// NewManager creates a new worktree manager. repoDir is the directory to
// run git commands in for worktree discovery.
func NewManager(git GitExecutor, repoDir, projectName string) *WorktreeManager {
	mgr := &WorktreeManager{
		git:         git,
		repoDir:     repoDir,
		projectName: projectName,
	}

	mgr.Refresh()

	return mgr
}

// Refresh reloads the worktree list from git.
func (m *WorktreeManager) Refresh() error {
	ctx := context.Background()
	worktrees, err := m.git.WorktreeList(ctx, m.repoDir)
	if err != nil {
		return err
	}

	// Get the default branch for commit comparison
	defaultBranch := GetDefaultBranch(ctx, m.repoDir)

	// Populate status fields for each worktree
	for i := range worktrees {
		wt := &worktrees[i]

		// Skip bare repos for status checks
		if wt.IsBare {
			continue
		}

		// Get dirty status
		wt.Dirty = IsDirty(ctx, wt.Path)

		// Get ahead/behind default branch (skip the default branch itself)
		if !wt.Detached && wt.Branch != "" && wt.Branch != defaultBranch {
			wt.Ahead, wt.Behind = GetAheadBehind(ctx, wt.Path, defaultBranch)
		}
	}

	m.mu.Lock()
	m.worktrees = worktrees
	m.mu.Unlock()

	return nil
}

// GetByName returns a worktree by name. Accepts:
//   - Directory name (e.g., "trellis-logchanges")
//   - Branch name (e.g., "logchanges" or "feature/logchanges")
//   - Friendly name "main" for the main worktree
//   - Friendly name without project prefix (e.g., "logchanges" matches "trellis-logchanges")
func (m *WorktreeManager) GetByName(name string) (WorktreeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Handle "main" specially - matches worktree where directory name equals project name
	if name == "main" {
		for _, wt := range m.worktrees {
			if wt.Name() == m.projectName {
				return wt, true
			}
		}
	}

	// Try exact match on directory name or branch name
	for _, wt := range m.worktrees {
		if wt.Name() == name || wt.Branch == name {
			return wt, true
		}
	}

	// Try with project prefix (e.g., "logchanges" -> "trellis-logchanges")
	if m.projectName != "" {
		fullName := m.projectName + "-" + name
		for _, wt := range m.worktrees {
			if wt.Name() == fullName {
				return wt, true
			}
		}
	}

	return WorktreeInfo{}, false
}
