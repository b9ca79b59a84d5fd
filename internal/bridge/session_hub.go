// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/ring"
	"github.com/groupsio/clibridge/internal/wire"
)

// sessionHub is one session's bridge state: its Event Ring, attached
// connections, accumulated chat history (for message_history replay), and
// client_msg_id dedup window.
type sessionHub struct {
	mu      sync.Mutex
	ring    *ring.Ring
	conns   map[*conn]struct{}
	history []json.RawMessage
	dedupe  *dedupeSet
}

func newSessionHub(ringCapacity int) *sessionHub {
	return &sessionHub{
		ring:   ring.New(ringCapacity),
		conns:  make(map[*conn]struct{}),
		dedupe: newDedupeSet(dedupeCapacity),
	}
}

// publish sequences e and fans it out to every attached connection. assistant
// and user_message events are additionally folded into the session's
// replayable history (spec.md §4.7 "message_history").
func (sh *sessionHub) publish(e wire.Event) {
	sh.mu.Lock()
	if (e.Type == wire.TypeAssistant || e.Type == wire.TypeUserMessage) && e.Message != nil {
		sh.history = append(sh.history, e.Message)
	}
	seq := sh.ring.Append(e)
	conns := make([]*conn, 0, len(sh.conns))
	for c := range sh.conns {
		conns = append(conns, c)
	}
	sh.mu.Unlock()

	sequenced := e.WithSeq(seq)
	for _, c := range conns {
		c.send(sequenced)
	}
}

func (sh *sessionHub) attach(h *Hub, sessionID string, wsConn *websocket.Conn) {
	c := newConn(wsConn)
	c.armReadDeadlines()

	sh.mu.Lock()
	sh.conns[c] = struct{}{}
	sh.mu.Unlock()

	go c.writeLoop()
	sh.readLoop(h, sessionID, c)

	sh.mu.Lock()
	delete(sh.conns, c)
	sh.mu.Unlock()
	c.close()
}

func (sh *sessionHub) closeAll() {
	sh.mu.Lock()
	conns := make([]*conn, 0, len(sh.conns))
	for c := range sh.conns {
		conns = append(conns, c)
	}
	sh.conns = make(map[*conn]struct{})
	sh.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// readLoop blocks reading inbound messages until the socket closes. The
// first message must be session_subscribe (spec.md §4.7); anything else
// received before subscribing is discarded.
func (sh *sessionHub) readLoop(h *Hub, sessionID string, c *conn) {
	subscribed := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var in wire.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			log.Printf("bridge [%s]: malformed inbound message dropped: %v", sessionID, err)
			continue
		}

		if !subscribed {
			if in.Type != wire.TypeSessionSubscribe {
				continue
			}
			subscribed = true
			sh.handleSubscribe(h, sessionID, c, in.LastSeq)
			continue
		}

		sh.handleInbound(h, sessionID, in)
	}
}

func (sh *sessionHub) handleSubscribe(h *Hub, sessionID string, c *conn, lastSeq uint64) {
	snapshot, _ := h.snapshot(sessionID)
	c.send(wire.Event{Type: wire.TypeSessionInit, Session: snapshot})

	sh.mu.Lock()
	history := append([]json.RawMessage(nil), sh.history...)
	replay := sh.ring.ReplayFrom(lastSeq)
	sh.mu.Unlock()

	c.send(wire.Event{Type: wire.TypeMessageHistory, Messages: history})

	if len(replay) == 0 {
		return
	}
	entries := make([]wire.ReplayEntry, 0, len(replay))
	for _, entry := range replay {
		ev, ok := entry.Message.(wire.Event)
		if !ok {
			continue
		}
		entries = append(entries, wire.ReplayEntry{Seq: entry.Seq, Message: ev.WithSeq(entry.Seq)})
	}
	c.send(wire.Event{Type: wire.TypeEventReplay, Events: entries})
}

func (sh *sessionHub) handleInbound(h *Hub, sessionID string, in wire.Inbound) {
	if in.Type == wire.TypeSessionAck {
		return // the ring trims itself on capacity; nothing to do per-connection
	}

	if wire.RequiresClientMsgID(in.Type) {
		sh.mu.Lock()
		duplicate := sh.dedupe.SeenOrRecord(in.ClientMsgID)
		sh.mu.Unlock()
		if duplicate {
			return
		}
	}

	adapter, ok := h.adapters(sessionID)
	if !ok {
		sh.publish(wire.Event{Type: wire.TypeError, Error: "session has no live adapter"})
		return
	}

	var err error
	switch in.Type {
	case wire.TypeUserMessage:
		if in.Text == "" {
			return
		}
		err = adapter.SendUserMessage(in.Text)
	case wire.TypeInterrupt:
		err = adapter.Interrupt()
	case wire.TypeSetModel:
		err = adapter.SetModel(in.Model)
	case wire.TypeSetPermMode:
		err = adapter.SetPermissionMode(in.PermissionMode)
	case wire.TypePermResponse:
		err = adapter.PermissionResponse(in.RequestID, permission.Decision{
			Allowed:            in.Behavior == wire.BehaviorAllow,
			UpdatedInput:       in.UpdatedInput,
			UpdatedPermissions: in.UpdatedPermissions,
		})
	case wire.TypeMCPGetStatus, wire.TypeMCPToggle, wire.TypeMCPReconnect, wire.TypeMCPSetServers:
		sh.handleMCP(adapter, in)
		return
	default:
		log.Printf("bridge [%s]: unknown inbound type %q dropped", sessionID, in.Type)
		return
	}

	if err != nil {
		sh.publish(wire.Event{Type: wire.TypeError, Error: err.Error()})
	}
}

func (sh *sessionHub) handleMCP(adapter AdapterOps, in wire.Inbound) {
	mcp, ok := adapter.(MCPOps)
	if !ok {
		sh.publish(wire.Event{Type: wire.TypeError, Error: "this backend does not support MCP server management"})
		return
	}
	switch in.Type {
	case wire.TypeMCPGetStatus:
		mcp.MCPGetStatus()
	case wire.TypeMCPToggle:
		enabled := in.Enabled != nil && *in.Enabled
		mcp.MCPToggle(in.ServerName, enabled)
	case wire.TypeMCPReconnect:
		mcp.MCPReconnect(in.ServerName)
	case wire.TypeMCPSetServers:
		mcp.MCPSetServers(in.Servers)
	}
}
