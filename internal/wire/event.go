// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package wire is the browser-facing message schema (spec.md §6): the tagged
// union of outbound event types and inbound intent types that cross the
// /ws/browser/<sessionId> socket. Passthrough payloads (most of Adapter A's
// NDJSON, Adapter B's synthesized content blocks) are carried as raw JSON,
// mirroring how the teacher's StreamEvent keeps opaque fields as
// json.RawMessage rather than fully modeling every nested shape.
package wire

import "encoding/json"

// Event is one outbound message to a browser connection. Every field but
// Type is optional; which fields are populated depends on Type. Seq is
// omitted for session_init, message_history and event_replay themselves
// (those are "unsequenced" per spec.md §4.7), and set for everything else.
type Event struct {
	Type string  `json:"type"`
	Seq  *uint64 `json:"seq,omitempty"`

	// session_init, session_update: a session snapshot.
	Session json.RawMessage `json:"session,omitempty"`

	// assistant, user_message: a chat message (role + content blocks).
	Message json.RawMessage `json:"message,omitempty"`

	// stream_event: Adapter A's inner --include-partial-messages payload,
	// or an Adapter B synthesized content_block_start/delta/stop.
	InnerEvent json.RawMessage `json:"event,omitempty"`

	// result
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// permission_request / permission_cancelled
	RequestID string          `json:"request_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// tool_progress / tool_use_summary
	ToolUseID string `json:"tool_use_id,omitempty"`
	Summary   string `json:"summary,omitempty"`

	// status_change, cli_connected/cli_disconnected, auth_status
	Status string `json:"status,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// session_name_update
	SessionName string `json:"session_name,omitempty"`

	// message_history
	Messages []json.RawMessage `json:"messages,omitempty"`

	// event_replay
	Events []ReplayEntry `json:"events,omitempty"`

	// pr_status_update, mcp_status, task_notification: out-of-band
	// passthrough payloads, shape owned by the producer.
	Data json.RawMessage `json:"data,omitempty"`
}

// ReplayEntry is one (seq, message) pair inside an event_replay envelope.
type ReplayEntry struct {
	Seq     uint64 `json:"seq"`
	Message Event  `json:"message"`
}

// Outbound event types (spec.md §6).
const (
	TypeSessionInit        = "session_init"
	TypeSessionUpdate      = "session_update"
	TypeAssistant          = "assistant"
	TypeStreamEvent        = "stream_event"
	TypeResult             = "result"
	TypePermissionRequest  = "permission_request"
	TypePermissionCanceled = "permission_cancelled"
	TypeToolProgress       = "tool_progress"
	TypeToolUseSummary     = "tool_use_summary"
	TypeStatusChange       = "status_change"
	TypeAuthStatus         = "auth_status"
	TypeError              = "error"
	TypeCLIConnected       = "cli_connected"
	TypeCLIDisconnected    = "cli_disconnected"
	TypeUserMessage        = "user_message"
	TypeMessageHistory     = "message_history"
	TypeEventReplay        = "event_replay"
	TypeSessionNameUpdate  = "session_name_update"
	TypePRStatusUpdate     = "pr_status_update"
	TypeMCPStatus          = "mcp_status"
	TypeTaskNotification   = "task_notification"
)

// WithSeq returns a copy of e with Seq set, for attaching a ring sequence
// number to an otherwise-built event just before fan-out.
func (e Event) WithSeq(seq uint64) Event {
	e.Seq = &seq
	return e
}
