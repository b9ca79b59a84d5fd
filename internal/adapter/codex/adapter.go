// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package codex is Adapter B (spec.md §4.5): a JSON-RPC 2.0 stdio client
// over internal/jsonrpc with an initialize/thread handshake, an
// outbound-intent queue buffered until the handshake completes, and a
// translator folding the backend's item-lifecycle notifications into the
// common wire.Event schema.
package codex

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/groupsio/clibridge/internal/jsonrpc"
	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/wire"
)

// maxQueueDepth bounds the outbound intent queue (spec.md §9 "Promise
// queue (adapter B)"); overflow rejects the oldest entry with a synthetic
// error event rather than growing unbounded.
const maxQueueDepth = 256

// dynamicToolTimeout is spec.md §4.5/§4.8's fixed 120s timeout for
// item/tool/call (dynamic tool) approvals.
const dynamicToolTimeout = 120 * time.Second

type state int32

const (
	stateInitializing state = iota
	stateAwaitingThread
	stateReady
	stateFailed
	stateExited
)

// EventHandler receives every wire.Event this adapter produces.
type EventHandler func(wire.Event)

// InitErrorHandler is invoked once if the handshake fails (spec.md §4.5).
type InitErrorHandler func(err error)

// queuedIntent is one browser intent buffered while not yet ready.
type queuedIntent struct {
	kind     string // "user_message" | "permission_response" | "interrupt"
	text     string
	decision permission.Decision
	reqID    string
}

// RateLimits is the cached `{primary, secondary}` the backend reports via
// account/rateLimits/updated (spec.md §4.5 "Rate limits").
type RateLimits struct {
	Primary   json.RawMessage `json:"primary,omitempty"`
	Secondary json.RawMessage `json:"secondary,omitempty"`
}

// Adapter is one backend-B subprocess's JSON-RPC session.
type Adapter struct {
	sessionID  string
	correlator *jsonrpc.Correlator
	arbiter    *permission.Arbiter

	onEvent     EventHandler
	onInit      func(threadID string)
	onInitError InitErrorHandler

	mu         sync.Mutex
	state      state
	threadID   string
	turnID     string
	queue      []queuedIntent
	items      map[string]*itemState
	rateLimits RateLimits
}

// New constructs an Adapter bound to sessionID. Start must be called to
// begin the handshake.
func New(sessionID string, arbiter *permission.Arbiter, onEvent EventHandler, onInit func(string), onInitError InitErrorHandler) *Adapter {
	return &Adapter{
		sessionID:   sessionID,
		arbiter:     arbiter,
		onEvent:     onEvent,
		onInit:      onInit,
		onInitError: onInitError,
		items:       make(map[string]*itemState),
	}
}

// Start wires the correlator to stdin/stdout and begins the
// initialize -> thread/start(resume) handshake (spec.md §4.5).
func (a *Adapter) Start(stdin io.Writer, stdout io.Reader, resumeThreadID string, webSearchEnabled bool) {
	a.correlator = jsonrpc.New(fmt.Sprintf("codex [%s]", a.sessionID), stdin, a.onServerRequest, a.onNotification)
	go a.correlator.Run(stdout)
	go a.runHandshake(resumeThreadID, webSearchEnabled)
}

func (a *Adapter) setState(s state) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Adapter) getState() state {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

type initializeParams struct {
	ToolsWebSearch bool `json:"tools.webSearch"`
}

func (a *Adapter) runHandshake(resumeThreadID string, webSearchEnabled bool) {
	a.setState(stateInitializing)

	initReply, err := a.correlator.Call("initialize", initializeParams{ToolsWebSearch: webSearchEnabled})
	if err != nil {
		a.fail(fmt.Errorf("initialize: %w", err))
		return
	}
	if initReply.Error != nil {
		a.fail(fmt.Errorf("initialize: %w", initReply.Error))
		return
	}

	a.setState(stateAwaitingThread)

	var threadReply jsonrpc.Message
	if resumeThreadID != "" {
		threadReply, err = a.correlator.Call("thread/resume", map[string]string{"threadId": resumeThreadID})
	} else {
		threadReply, err = a.correlator.Call("thread/start", map[string]any{})
	}
	if err != nil {
		a.fail(fmt.Errorf("thread start/resume: %w", err))
		return
	}
	if threadReply.Error != nil {
		a.fail(fmt.Errorf("thread start/resume: %w", threadReply.Error))
		return
	}

	var result struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(threadReply.Result, &result); err != nil {
		a.fail(fmt.Errorf("parse thread reply: %w", err))
		return
	}

	a.mu.Lock()
	a.threadID = result.ThreadID
	a.state = stateReady
	queued := a.queue
	a.queue = nil
	a.mu.Unlock()

	sessionPayload, _ := json.Marshal(map[string]string{"cliInternalId": result.ThreadID})
	a.emit(wire.Event{Type: wire.TypeSessionInit, Session: sessionPayload})

	if a.onInit != nil {
		a.onInit(result.ThreadID)
	}

	go a.fetchRateLimits()

	for _, qi := range queued {
		a.flushIntent(qi)
	}
}

func (a *Adapter) fetchRateLimits() {
	reply, err := a.correlator.Call("account/rateLimits/read", nil)
	if err != nil {
		return // best-effort
	}
	var rl RateLimits
	if json.Unmarshal(reply.Result, &rl) == nil {
		a.mu.Lock()
		a.rateLimits = rl
		a.mu.Unlock()
	}
}

// GetRateLimits returns the most recently cached rate-limit snapshot.
func (a *Adapter) GetRateLimits() RateLimits {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rateLimits
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	a.state = stateFailed
	a.queue = nil
	a.mu.Unlock()

	a.emit(wire.Event{Type: wire.TypeError, Error: err.Error()})
	if a.onInitError != nil {
		a.onInitError(err)
	}
}

// MarkExited transitions the adapter once its subprocess handle reports
// exit, e.g. to stop accepting further queued work.
func (a *Adapter) MarkExited() {
	a.setState(stateExited)
	a.arbiter.CancelSession(a.sessionID)
}

// ---- Browser -> backend translation (spec.md §4.5) ----

// SendUserMessage implements the user_message -> turn/start translation,
// queuing until ready.
func (a *Adapter) SendUserMessage(text string) error {
	st := a.getState()
	if st == stateFailed || st == stateExited {
		return fmt.Errorf("codex [%s]: adapter not usable in state %d", a.sessionID, st)
	}
	if st != stateReady {
		return a.enqueue(queuedIntent{kind: "user_message", text: text})
	}
	return a.doSendUserMessage(text)
}

func (a *Adapter) doSendUserMessage(text string) error {
	a.mu.Lock()
	threadID := a.threadID
	a.mu.Unlock()

	reply, err := a.correlator.Call("turn/start", map[string]any{
		"threadId": threadID,
		"input":    []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		return err
	}
	var result struct {
		TurnID string `json:"turnId"`
	}
	if json.Unmarshal(reply.Result, &result) == nil && result.TurnID != "" {
		a.mu.Lock()
		a.turnID = result.TurnID
		a.mu.Unlock()
	}
	return nil
}

// Interrupt implements interrupt -> turn/interrupt; a no-op if no turnId is
// known yet.
func (a *Adapter) Interrupt() error {
	st := a.getState()
	if st != stateReady {
		return a.enqueue(queuedIntent{kind: "interrupt"})
	}
	return a.doInterrupt()
}

func (a *Adapter) doInterrupt() error {
	a.mu.Lock()
	threadID, turnID := a.threadID, a.turnID
	a.mu.Unlock()
	if turnID == "" {
		return nil
	}
	return a.correlator.Notify("turn/interrupt", map[string]string{"threadId": threadID, "turnId": turnID})
}

// SetModel and SetPermissionMode are unsupported post-handshake
// (spec.md §4.5 "returned as unsupported").
var ErrUnsupportedPostHandshake = fmt.Errorf("not supported by this backend after the handshake")

func (a *Adapter) SetModel(string) error          { return ErrUnsupportedPostHandshake }
func (a *Adapter) SetPermissionMode(string) error { return ErrUnsupportedPostHandshake }

func (a *Adapter) enqueue(qi queuedIntent) error {
	a.mu.Lock()
	overflowed := len(a.queue) >= maxQueueDepth
	if overflowed {
		dropped := a.queue[0]
		a.queue = a.queue[1:]
		log.Printf("codex [%s]: outbound queue overflow, dropped intent kind=%s", a.sessionID, dropped.kind)
	}
	a.queue = append(a.queue, qi)
	a.mu.Unlock()

	if overflowed {
		a.emit(wire.Event{Type: wire.TypeError, Error: "outbound queue overflow, oldest pending intent dropped"})
	}
	return nil
}

func (a *Adapter) flushIntent(qi queuedIntent) {
	var err error
	switch qi.kind {
	case "user_message":
		err = a.doSendUserMessage(qi.text)
	case "interrupt":
		err = a.doInterrupt()
	case "permission_response":
		a.arbiter.Respond(qi.reqID, qi.decision)
		return
	}
	if err != nil {
		log.Printf("codex [%s]: failed to flush queued intent kind=%s: %v", a.sessionID, qi.kind, err)
	}
}

// PermissionResponse implements permission_response routing through the
// Arbiter (spec.md §4.7/§4.8): queued like user_message/interrupt until the
// handshake completes, then forwarded to the Arbiter, which invokes the
// Resolver closure registered in onServerRequest to reply on the backend's
// JSON-RPC connection.
func (a *Adapter) PermissionResponse(requestID string, decision permission.Decision) error {
	st := a.getState()
	if st == stateFailed || st == stateExited {
		return fmt.Errorf("codex [%s]: adapter not usable in state %d", a.sessionID, st)
	}
	if st != stateReady {
		return a.enqueue(queuedIntent{kind: "permission_response", reqID: requestID, decision: decision})
	}
	a.arbiter.Respond(requestID, decision)
	return nil
}

func (a *Adapter) emit(e wire.Event) {
	if a.onEvent != nil {
		a.onEvent(e)
	}
}
