// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claudecli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/session"
	"github.com/groupsio/clibridge/internal/subprocess"
	"github.com/groupsio/clibridge/internal/wire"
)

// Driver implements session.BackendDriver for backend A. Unlike backend B,
// the subprocess never speaks over stdio: it dials the bridge's own
// loopback WebSocket at --sdk-url, so Spawn only starts the process and
// registers an Adapter for the HTTP layer to Attach once that socket opens
// (spec.md §4.4).
type Driver struct {
	Binary string
	Host   string
	Port   int
	Arbiter *permission.Arbiter

	// OnEvent forwards every adapter event for sessionID.
	OnEvent func(sessionID string, e wire.Event)
	// OnConnState is called true when the subprocess's loopback socket
	// attaches, false when it drops (wire true to Launcher.MarkConnected).
	OnConnState func(sessionID string, connected bool)
	// OnInit is called once system.init carries the subprocess's own
	// session id (wire this to Launcher.SetCLIInternalID).
	OnInit func(sessionID, cliInternalID string)

	adapters sync.Map // sessionID -> *Adapter
}

// Spawn implements session.BackendDriver.
func (d *Driver) Spawn(ctx context.Context, s *session.Session, resume bool) (*subprocess.Handle, func(), error) {
	binary, err := subprocess.ResolveBinary(d.Binary)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve claude binary: %w", err)
	}

	opts := OptionsFromSession(s, d.Host, d.Port, resume)
	argv := BuildArgv(binary, opts)
	env := BuildEnv(nil)

	handle, err := subprocess.Spawn(ctx, fmt.Sprintf("claudecli [%s]", s.SessionID), argv, s.WorkingDirectory, env)
	if err != nil {
		return nil, nil, fmt.Errorf("spawn claude subprocess: %w", err)
	}

	sessionID := s.SessionID

	// Backend A's stdout carries no protocol traffic; drain it into the log
	// so the pipe never fills.
	go func() {
		scanner := bufio.NewScanner(handle.Stdout())
		for scanner.Scan() {
			log.Printf("claudecli [%s]: stdout: %s", sessionID, scanner.Text())
		}
		io.Copy(io.Discard, handle.Stdout())
	}()

	adapter := New(sessionID, d.Arbiter,
		func(e wire.Event) {
			if d.OnEvent != nil {
				d.OnEvent(sessionID, e)
			}
		},
		func(connected bool) {
			if d.OnConnState != nil {
				d.OnConnState(sessionID, connected)
			}
		},
		func(cliInternalID string) {
			if d.OnInit != nil {
				d.OnInit(sessionID, cliInternalID)
			}
		},
	)
	d.adapters.Store(sessionID, adapter)

	cleanup := func() {
		adapter.Close()
		d.adapters.Delete(sessionID)
	}
	return handle, cleanup, nil
}

// Adapter returns the registered adapter for sessionID, for the HTTP
// /ws/cli/<sessionId> handler to Attach the loopback connection to once the
// subprocess dials in.
func (d *Driver) Adapter(sessionID string) (*Adapter, bool) {
	v, ok := d.adapters.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Adapter), true
}
