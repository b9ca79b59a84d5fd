// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

// Backend sandbox enum (spec.md §4.5 "Enum discipline"). Kebab-case only —
// CamelCase variants must never appear on the wire.
const (
	SandboxWorkspaceWrite  = "workspace-write"
	SandboxDangerFullAccess = "danger-full-access"
	SandboxReadOnly        = "read-only"
)

// Backend approval-policy enum.
const (
	ApprovalNever      = "never"
	ApprovalUntrusted  = "untrusted"
	ApprovalOnFailure  = "on-failure"
	ApprovalOnRequest  = "on-request"
)

// ApprovalPolicyForPermissionMode maps a common-schema permissionMode symbol
// to the backend's kebab-case approval policy: bypassPermissions -> never;
// everything else (plan, acceptEdits, default, missing) -> untrusted.
func ApprovalPolicyForPermissionMode(permissionMode string) string {
	if permissionMode == "bypassPermissions" {
		return ApprovalNever
	}
	return ApprovalUntrusted
}

// ReviewDecision is the approved/denied vocabulary execCommandApproval and
// applyPatchApproval reply with — distinct from the accept/decline
// vocabulary used elsewhere (spec.md §4.8's reply-shape table).
const (
	ReviewApproved = "approved"
	ReviewDenied   = "denied"
)

// Decision is the accept/decline vocabulary used by the item/*/requestApproval
// methods (commandExecution, fileChange, mcpToolCall).
const (
	DecisionAccept  = "accept"
	DecisionDecline = "decline"
)
