// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package wire

import "encoding/json"

// Inbound is one message received from a browser connection (spec.md §6).
// ClientMsgID is the idempotency token the Bridge dedupes on; it is required
// on every user-intent type and optional on session_subscribe/session_ack.
type Inbound struct {
	Type        string `json:"type"`
	ClientMsgID string `json:"client_msg_id,omitempty"`

	// session_subscribe, session_ack
	LastSeq uint64 `json:"last_seq,omitempty"`

	// user_message
	Text string `json:"text,omitempty"`

	// permission_response
	RequestID          string          `json:"request_id,omitempty"`
	Behavior           string          `json:"behavior,omitempty"` // "allow" | "deny"
	UpdatedInput       json.RawMessage `json:"updated_input,omitempty"`
	UpdatedPermissions json.RawMessage `json:"updated_permissions,omitempty"`

	// set_model, set_permission_mode
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`

	// AskUserQuestion answers: index -> chosen label, mapped back to
	// questionId by the adapter that issued the request.
	Answers map[string]string `json:"answers,omitempty"`

	// mcp_toggle, mcp_reconnect, mcp_set_servers
	ServerName string          `json:"server_name,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Servers    json.RawMessage `json:"servers,omitempty"`
}

// Inbound message types (spec.md §6).
const (
	TypeSessionSubscribe = "session_subscribe"
	TypeSessionAck       = "session_ack"
	TypeInterrupt        = "interrupt"
	TypePermResponse     = "permission_response"
	TypeSetModel         = "set_model"
	TypeSetPermMode      = "set_permission_mode"
	TypeMCPGetStatus     = "mcp_get_status"
	TypeMCPToggle        = "mcp_toggle"
	TypeMCPReconnect     = "mcp_reconnect"
	TypeMCPSetServers    = "mcp_set_servers"
)

// BehaviorAllow and BehaviorDeny are the two permission_response behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// RequiresClientMsgID reports whether inbound type t is a user-intent
// message the Bridge must dedupe by client_msg_id (spec.md §4.7).
func RequiresClientMsgID(t string) bool {
	switch t {
	case TypeUserMessage, TypePermResponse, TypeInterrupt, TypeSetModel, TypeSetPermMode,
		TypeMCPGetStatus, TypeMCPToggle, TypeMCPReconnect, TypeMCPSetServers:
		return true
	default:
		return false
	}
}
