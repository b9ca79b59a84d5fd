// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package permission is the Permission Arbiter (spec.md §4.8): it correlates
// subprocess-originated approval requests with browser decisions and routes
// a backend-specific reply back to the originating subprocess, with
// timeout-driven denial.
package permission

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is what the browser (or a timeout) resolved a pending permission
// request to.
type Decision struct {
	Allowed            bool
	TimedOut           bool
	UpdatedInput       json.RawMessage
	UpdatedPermissions json.RawMessage
}

// Resolver is supplied by the adapter that registered a PendingPermission.
// It is the "one sink per concern" spec.md §9 calls for: the Arbiter never
// knows how to speak control_response or JSON-RPC itself, it only calls back
// into whichever adapter owns the originating request.
type Resolver func(Decision)

// PendingPermission is the Arbiter's record of one outstanding approval
// request (spec.md §3).
type PendingPermission struct {
	RequestID string
	SessionID string
	CreatedAt time.Time
	TimeoutAt time.Time

	resolve Resolver
	timer   *time.Timer
}

// Arbiter owns every PendingPermission across all sessions.
type Arbiter struct {
	mu      sync.Mutex
	pending map[string]*PendingPermission
}

// New creates an empty Arbiter.
func New() *Arbiter {
	return &Arbiter{pending: make(map[string]*PendingPermission)}
}

// Register records a new pending permission request and starts its timeout
// clock. It returns the server-generated requestId to hand to the browser in
// a permission_request event. On timeout, resolve is invoked with
// Decision{Allowed: false, TimedOut: true}.
func (a *Arbiter) Register(sessionID string, timeout time.Duration, resolve Resolver) string {
	requestID := uuid.New().String()
	now := time.Now()

	pp := &PendingPermission{
		RequestID: requestID,
		SessionID: sessionID,
		CreatedAt: now,
		TimeoutAt: now.Add(timeout),
		resolve:   resolve,
	}

	a.mu.Lock()
	a.pending[requestID] = pp
	a.mu.Unlock()

	pp.timer = time.AfterFunc(timeout, func() { a.timeout(requestID) })

	return requestID
}

// Respond resolves a pending permission with the browser's decision. Returns
// false if requestID is unknown (already resolved, timed out, or never
// existed).
func (a *Arbiter) Respond(requestID string, decision Decision) bool {
	pp := a.take(requestID)
	if pp == nil {
		return false
	}
	pp.timer.Stop()
	pp.resolve(decision)
	return true
}

func (a *Arbiter) timeout(requestID string) {
	pp := a.take(requestID)
	if pp == nil {
		return // already resolved concurrently
	}
	pp.resolve(Decision{Allowed: false, TimedOut: true})
}

func (a *Arbiter) take(requestID string) *PendingPermission {
	a.mu.Lock()
	defer a.mu.Unlock()
	pp, ok := a.pending[requestID]
	if !ok {
		return nil
	}
	delete(a.pending, requestID)
	return pp
}

// CancelSession resolves (as denied, not timed out) and removes every
// pending permission for a session, e.g. when the session exits.
func (a *Arbiter) CancelSession(sessionID string) {
	a.mu.Lock()
	var toResolve []*PendingPermission
	for id, pp := range a.pending {
		if pp.SessionID == sessionID {
			delete(a.pending, id)
			toResolve = append(toResolve, pp)
		}
	}
	a.mu.Unlock()

	for _, pp := range toResolve {
		pp.timer.Stop()
		pp.resolve(Decision{Allowed: false})
	}
}

// Pending returns a snapshot of outstanding request ids for a session
// (diagnostic use, e.g. the bridge replaying pending permissions on
// browser reconnect).
func (a *Arbiter) Pending(sessionID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, pp := range a.pending {
		if pp.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}
