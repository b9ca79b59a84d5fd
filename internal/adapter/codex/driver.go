// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

import (
	"context"
	"fmt"
	"sync"

	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/session"
	"github.com/groupsio/clibridge/internal/subprocess"
	"github.com/groupsio/clibridge/internal/wire"
)

// Driver implements session.BackendDriver for backend B. It owns the
// binary name (resolved via subprocess.ResolveBinary, spec.md §4.4's
// which-style lookup) and the live *Adapter registry, since nothing else
// in the bridge needs direct stdio access to a backend-B subprocess once
// it's spawned.
type Driver struct {
	Binary  string
	Arbiter *permission.Arbiter

	// OnEvent forwards every adapter event for sessionID (the bridge
	// sequences these through the session's Event Ring).
	OnEvent func(sessionID string, e wire.Event)
	// OnThreadReady is called once the handshake yields a thread id
	// (wire this to Launcher.SetCLIInternalID).
	OnThreadReady func(sessionID, threadID string)
	// OnInitFailed is called if the handshake fails (spec.md §4.5/§7).
	// The driver itself does not change the Session record, and the
	// callback internal/app wires only logs the failure, so the Session is
	// not marked exited by a handshake failure.
	OnInitFailed func(sessionID string)

	adapters sync.Map // sessionID -> *Adapter
}

// Spawn implements session.BackendDriver.
func (d *Driver) Spawn(ctx context.Context, s *session.Session, resume bool) (*subprocess.Handle, func(), error) {
	binary, err := subprocess.ResolveBinary(d.Binary)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve codex binary: %w", err)
	}

	opts := OptionsFromSession(s)
	argv := BuildArgv(binary, opts)
	env := BuildEnv(nil)

	handle, err := subprocess.Spawn(ctx, fmt.Sprintf("codex [%s]", s.SessionID), argv, s.WorkingDirectory, env)
	if err != nil {
		return nil, nil, fmt.Errorf("spawn codex subprocess: %w", err)
	}

	resumeToken := ""
	if resume {
		resumeToken = s.CLIInternalID
	}

	sessionID := s.SessionID
	adapter := New(sessionID, d.Arbiter,
		func(e wire.Event) {
			if d.OnEvent != nil {
				d.OnEvent(sessionID, e)
			}
		},
		func(threadID string) {
			if d.OnThreadReady != nil {
				d.OnThreadReady(sessionID, threadID)
			}
		},
		func(err error) {
			if d.OnInitFailed != nil {
				d.OnInitFailed(sessionID)
			}
		},
	)
	d.adapters.Store(sessionID, adapter)
	adapter.Start(handle.Stdin(), handle.Stdout(), resumeToken, opts.WebSearchEnabled)

	cleanup := func() {
		adapter.MarkExited()
		d.adapters.Delete(sessionID)
	}
	return handle, cleanup, nil
}

// Adapter returns the live adapter for sessionID, for the HTTP layer to
// route MCP commands (spec.md §4.5 "MCP server management") and browser
// intents (user_message, interrupt, permission_response) to.
func (d *Driver) Adapter(sessionID string) (*Adapter, bool) {
	v, ok := d.adapters.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Adapter), true
}
