// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claudecli

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/wire"
)

// defaultPermissionTimeout bounds a can_use_tool request when the caller
// doesn't override it; spec.md §4.8 leaves non-dynamic-tool timeouts to the
// integrator's discretion.
const defaultPermissionTimeout = 5 * time.Minute

// EventHandler receives every wire.Event this adapter produces, in arrival
// order, for the bridge to sequence through the session's Event Ring.
type EventHandler func(wire.Event)

// ConnStateHandler is invoked with true when the CLI subprocess dials in and
// false when that socket drops.
type ConnStateHandler func(connected bool)

// InitHandler is invoked once, the first time a system.init message carries
// the subprocess's internal session id (spec.md §4.4).
type InitHandler func(cliInternalID string)

// Adapter bridges one backend-A subprocess's loopback WebSocket connection
// to the common wire.Event schema. It does not own subprocess lifecycle
// (that's internal/subprocess.Handle, driven by the Launcher); it only owns
// the loopback socket once the subprocess dials in.
type Adapter struct {
	sessionID string
	arbiter   *permission.Arbiter

	onEvent     EventHandler
	onConnState ConnStateHandler
	onInit      InitHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	initSeen      bool
	cliInternalID string
}

// New creates an Adapter for sessionID. onEvent, onConnState and onInit may
// be nil.
func New(sessionID string, arbiter *permission.Arbiter, onEvent EventHandler, onConnState ConnStateHandler, onInit InitHandler) *Adapter {
	return &Adapter{
		sessionID:   sessionID,
		arbiter:     arbiter,
		onEvent:     onEvent,
		onConnState: onConnState,
		onInit:      onInit,
	}
}

// Attach takes ownership of conn once the CLI subprocess has dialed
// /ws/cli/<sessionId>, and starts its read loop. Only one connection is
// attached at a time; a new Attach replaces the previous one.
func (a *Adapter) Attach(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	if a.onConnState != nil {
		a.onConnState(true)
	}
	go a.readLoop(conn)
}

// Connected reports whether a CLI socket is currently attached.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer func() {
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()

		a.arbiter.CancelSession(a.sessionID)
		if a.onConnState != nil {
			a.onConnState(false)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("claudecli [%s]: read error: %v", a.sessionID, err)
			}
			return
		}
		a.handleLine(data)
	}
}

// rawMessage mirrors the teacher's StreamEvent: a single struct carrying
// every field any NDJSON line might have, classified by Type/Subtype.
type rawMessage struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
}

type canUseToolRequest struct {
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

func (a *Adapter) handleLine(data []byte) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("claudecli [%s]: malformed line dropped: %v", a.sessionID, err)
		return
	}

	if raw.Type == "system" && raw.Subtype == "init" && raw.SessionID != "" && a.initSeen && raw.SessionID != a.cliInternalID {
		log.Printf("claudecli [%s]: system.init carried a differing session_id %q after %q was already captured, ignoring", a.sessionID, raw.SessionID, a.cliInternalID)
	}

	if raw.Type == "system" && raw.Subtype == "init" && raw.SessionID != "" && !a.initSeen {
		a.initSeen = true
		a.cliInternalID = raw.SessionID
		if a.onInit != nil {
			a.onInit(raw.SessionID)
		}
		a.emit(wire.Event{Type: wire.TypeSessionInit, Session: data})
		return
	}

	if raw.Type == "control_request" && raw.Subtype == "can_use_tool" {
		a.handlePermissionRequest(raw)
		return
	}

	// Everything else forwards as-is; data already has "type" at top level
	// so wrapping it directly into InnerEvent would duplicate it, so pass
	// the envelope through Data and let the bridge re-key it as needed.
	a.emit(wire.Event{Type: raw.Type, Data: data})
}

func (a *Adapter) handlePermissionRequest(raw rawMessage) {
	var req canUseToolRequest
	if err := json.Unmarshal(raw.Request, &req); err != nil {
		log.Printf("claudecli [%s]: malformed can_use_tool request: %v", a.sessionID, err)
		return
	}

	requestID := a.arbiter.Register(a.sessionID, defaultPermissionTimeout, func(d permission.Decision) {
		a.resolvePermission(raw.RequestID, d)
	})

	a.emit(wire.Event{
		Type:      wire.TypePermissionRequest,
		RequestID: requestID,
		ToolName:  req.ToolName,
		ToolInput: req.Input,
	})
}

// controlResponse is the reply frame spec.md §4.8 requires on the adapter-A
// socket for a resolved can_use_tool request.
type controlResponse struct {
	Type               string          `json:"type"`
	Subtype            string          `json:"subtype"`
	RequestID          string          `json:"request_id"`
	UpdatedInput       json.RawMessage `json:"updated_input,omitempty"`
	UpdatedPermissions json.RawMessage `json:"updated_permissions,omitempty"`
}

func (a *Adapter) resolvePermission(originatingRequestID string, d permission.Decision) {
	subtype := "deny"
	if d.Allowed {
		subtype = "allow"
	}
	resp := controlResponse{
		Type:               "control_response",
		Subtype:            subtype,
		RequestID:          originatingRequestID,
		UpdatedInput:       d.UpdatedInput,
		UpdatedPermissions: d.UpdatedPermissions,
	}
	if err := a.writeJSON(resp); err != nil {
		log.Printf("claudecli [%s]: failed to write control_response: %v", a.sessionID, err)
	}
}

// stdinUserMessage mirrors the teacher's stdinUserMessage shape, sent over
// the loopback socket instead of a stdin pipe.
type stdinUserMessage struct {
	Type    string              `json:"type"`
	Message stdinMessageContent `json:"message"`
}

type stdinMessageContent struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendUserMessage forwards a browser user_message to the subprocess.
func (a *Adapter) SendUserMessage(text string) error {
	return a.writeJSON(stdinUserMessage{
		Type: "user",
		Message: stdinMessageContent{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: text}},
		},
	})
}

// SendRaw writes an arbitrary pre-built frame to the CLI socket (for
// interrupt and other bespoke control messages).
func (a *Adapter) SendRaw(v any) error {
	return a.writeJSON(v)
}

// interruptControl mirrors the can_use_tool control envelope's shape for
// the one other control_request subtype the CLI accepts unsolicited.
type interruptControl struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// Interrupt implements the bridge's backend-agnostic interrupt intent for
// backend A: a bare control_request, no reply expected.
func (a *Adapter) Interrupt() error {
	return a.SendRaw(interruptControl{Type: "control_request", Subtype: "interrupt"})
}

// SetModel and SetPermissionMode are unsupported once a backend-A
// subprocess is running: both are launch-time flags (spec.md §6), so the
// only way to change either is relaunch.
func (a *Adapter) SetModel(string) error {
	return fmt.Errorf("claudecli [%s]: set_model not supported post-launch; relaunch with a new model", a.sessionID)
}

func (a *Adapter) SetPermissionMode(string) error {
	return fmt.Errorf("claudecli [%s]: set_permission_mode not supported post-launch; relaunch with a new permission mode", a.sessionID)
}

// PermissionResponse resolves a pending can_use_tool request through the
// shared Arbiter, which replies on this adapter's socket via the Resolver
// closure registered in handlePermissionRequest.
func (a *Adapter) PermissionResponse(requestID string, decision permission.Decision) error {
	if !a.arbiter.Respond(requestID, decision) {
		return fmt.Errorf("claudecli [%s]: unknown or already-resolved permission request %s", a.sessionID, requestID)
	}
	return nil
}

func (a *Adapter) writeJSON(v any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("claudecli [%s]: no CLI connection attached", a.sessionID)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (a *Adapter) emit(e wire.Event) {
	if a.onEvent != nil {
		a.onEvent(e)
	}
}

// Close closes the attached CLI connection, if any.
func (a *Adapter) Close() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
