// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session owns Session lifecycle: launch, relaunch, kill, and
// restoring state across server restarts.
package session

import "time"

// BackendKind identifies which CLI protocol a session's subprocess speaks.
type BackendKind string

const (
	BackendClaude BackendKind = "A"
	BackendCodex  BackendKind = "B"
)

// State is a Session's lifecycle state. exited is terminal.
type State string

const (
	StateStarting  State = "starting"
	StateConnected State = "connected"
	StateRunning   State = "running"
	StateExited    State = "exited"
)

// Sandbox is backend-B's filesystem access enum (kebab-case on the wire).
type Sandbox string

const (
	SandboxWorkspaceWrite  Sandbox = "workspace-write"
	SandboxDangerFullAccess Sandbox = "danger-full-access"
)

// WorktreeMetadata describes the isolated git worktree a session runs in, if any.
type WorktreeMetadata struct {
	IsWorktree      bool   `json:"isWorktree"`
	RepoRoot        string `json:"repoRoot"`
	RequestedBranch string `json:"requestedBranch,omitempty"`
	ActualBranch    string `json:"actualBranch,omitempty"`
}

// Session is the server-side record of one conversation with one subprocess.
// It is the unit persisted by internal/persist and owned by the Launcher.
type Session struct {
	SessionID                string            `json:"sessionId"`
	BackendKind               BackendKind       `json:"backendKind"`
	WorkingDirectory          string            `json:"workingDirectory"`
	Model                     string            `json:"model,omitempty"`
	PermissionMode            string            `json:"permissionMode,omitempty"`
	State                     State             `json:"state"`
	ExitCode                  *int              `json:"exitCode,omitempty"`
	CreatedAt                 time.Time         `json:"createdAt"`
	PID                       int               `json:"pid,omitempty"`
	CLIInternalID             string            `json:"cliInternalId,omitempty"`
	Archived                  bool              `json:"archived"`
	WorktreeMetadata          *WorktreeMetadata `json:"worktreeMetadata,omitempty"`
	DangerouslySkipPermissions bool             `json:"dangerouslySkipPermissions,omitempty"`
	InternetAccess            *bool             `json:"internetAccess,omitempty"` // backend B only
	Sandbox                   Sandbox           `json:"sandbox,omitempty"`        // backend B only
	TrashedAt                 *time.Time        `json:"trashedAt,omitempty"`
	LastCrashReason           string            `json:"lastCrashReason,omitempty"` // NEW: crashes.Result.Summary() of the last classified crash

	// AllowedTools is a launch-time parameter retained so relaunch
	// can reproduce the exact spawn. Not part of spec.md's data model proper
	// but required to make relaunch idempotent, per spec.md §4.6.
	AllowedTools []string `json:"allowedTools,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// Launcher's lock (WorktreeMetadata is the only pointer field that matters).
func (s *Session) Clone() *Session {
	cp := *s
	if s.WorktreeMetadata != nil {
		wt := *s.WorktreeMetadata
		cp.WorktreeMetadata = &wt
	}
	if s.ExitCode != nil {
		ec := *s.ExitCode
		cp.ExitCode = &ec
	}
	if s.TrashedAt != nil {
		ta := *s.TrashedAt
		cp.TrashedAt = &ta
	}
	if s.InternetAccess != nil {
		ia := *s.InternetAccess
		cp.InternetAccess = &ia
	}
	cp.AllowedTools = append([]string(nil), s.AllowedTools...)
	return &cp
}

// IsAlive reports whether the supervisor's view of this session still has a
// live (or believed-live) subprocess.
func (s *Session) IsAlive() bool {
	return s.State != StateExited
}
