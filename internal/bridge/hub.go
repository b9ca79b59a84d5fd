// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridge is the Browser WebSocket Bridge (spec.md §4.7): for each
// session it owns the Event Ring, the set of attached browser connections,
// the client_msg_id dedup window, and the subscribe/replay protocol: a
// session_init + message_history snapshot followed by either a single
// event_replay catch-up or live sequenced events.
package bridge

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/wire"
)

// AdapterOps is the backend-agnostic surface the Bridge drives a session's
// adapter through. Both *claudecli.Adapter and *codex.Adapter implement it;
// the Bridge never imports either package directly (avoiding a dependency
// on two backend implementations it doesn't need to know apart), an
// AdapterLookup supplied by the caller (internal/app) does the dispatch.
type AdapterOps interface {
	SendUserMessage(text string) error
	Interrupt() error
	SetModel(model string) error
	SetPermissionMode(mode string) error
	PermissionResponse(requestID string, decision permission.Decision) error
}

// MCPOps is implemented only by backend B's adapter (spec.md §4.5 "MCP
// server management" has no backend-A equivalent). A session whose
// AdapterOps does not also satisfy MCPOps gets an error event for any
// mcp_* inbound intent.
type MCPOps interface {
	MCPGetStatus()
	MCPToggle(serverName string, enabled bool)
	MCPReconnect(serverName string)
	MCPSetServers(servers json.RawMessage)
}

// AdapterLookup resolves sessionID to its live adapter. Returns false if the
// session is unknown or has no adapter currently registered (e.g. between
// kill and relaunch).
type AdapterLookup func(sessionID string) (AdapterOps, bool)

// SnapshotFunc returns the current session_init payload for sessionID (a
// marshaled Session record), or false if sessionID is unknown.
type SnapshotFunc func(sessionID string) (json.RawMessage, bool)

// Hub owns every session's bridge state. One Hub per server process.
type Hub struct {
	mu           sync.Mutex
	sessions     map[string]*sessionHub
	ringCapacity int
	adapters     AdapterLookup
	snapshot     SnapshotFunc
}

// NewHub constructs a Hub. ringCapacity bounds each session's Event Ring
// (spec.md §4.3). adapters and snapshot must be non-nil.
func NewHub(ringCapacity int, adapters AdapterLookup, snapshot SnapshotFunc) *Hub {
	return &Hub{
		sessions:     make(map[string]*sessionHub),
		ringCapacity: ringCapacity,
		adapters:     adapters,
		snapshot:     snapshot,
	}
}

// Publish sequences e onto sessionID's Event Ring and fans it out to every
// currently attached browser connection (spec.md §4.7 "Fan-out"). Intended
// to be wired as a driver's OnEvent callback (via session.Launcher.EmitEvent
// or directly).
func (h *Hub) Publish(sessionID string, e wire.Event) {
	h.sessionFor(sessionID).publish(e)
}

// Attach upgrades connection ownership to the Hub: it registers conn against
// sessionID's sessionHub and runs its read/write loops until the socket
// closes. Blocks until the connection's read loop exits; callers (the HTTP
// handler) should call this after upgrading, in the request goroutine.
func (h *Hub) Attach(sessionID string, wsConn *websocket.Conn) {
	h.sessionFor(sessionID).attach(h, sessionID, wsConn)
}

// Remove discards sessionID's bridge state entirely (its ring, history and
// dedup window), e.g. once a session is permanently deleted. Any attached
// connections are closed first.
func (h *Hub) Remove(sessionID string) {
	h.mu.Lock()
	sh, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	if ok {
		sh.closeAll()
	}
}

func (h *Hub) sessionFor(sessionID string) *sessionHub {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh, ok := h.sessions[sessionID]
	if !ok {
		sh = newSessionHub(h.ringCapacity)
		h.sessions[sessionID] = sh
	}
	return sh
}
