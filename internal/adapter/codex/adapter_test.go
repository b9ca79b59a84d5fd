// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupsio/clibridge/internal/jsonrpc"
	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/wire"
)

// fakeBackend simulates the app-server subprocess on the other end of the
// Adapter's stdin/stdout pipes.
type fakeBackend struct {
	toAdapter *io.PipeWriter
	requests  chan jsonrpc.Message
}

func (b *fakeBackend) nextRequest(t *testing.T) jsonrpc.Message {
	t.Helper()
	select {
	case m := <-b.requests:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("backend never received a request from the adapter")
		return jsonrpc.Message{}
	}
}

func (b *fakeBackend) replyTo(id int64, result any) {
	m, _ := jsonrpc.NewReply(id, result)
	data, _ := json.Marshal(m)
	b.toAdapter.Write(append(data, '\n'))
}

func (b *fakeBackend) notify(method string, params any) {
	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	b.toAdapter.Write(append(data, '\n'))
}

func (b *fakeBackend) request(id int64, method string, params any) {
	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	b.toAdapter.Write(append(data, '\n'))
}

// setupReady drives an Adapter through the full handshake to the ready
// state and returns it plus the fakeBackend standing in for app-server.
func setupReady(t *testing.T) (*Adapter, *fakeBackend, chan wire.Event) {
	events := make(chan wire.Event, 64)
	initDone := make(chan string, 1)

	a := New("sess-1", permission.New(), func(e wire.Event) { events <- e }, func(id string) { initDone <- id }, nil)

	toAdapterR, toAdapterW := io.Pipe()
	fromAdapterR, fromAdapterW := io.Pipe()

	requests := make(chan jsonrpc.Message, 32)
	go func() {
		scanner := bufio.NewScanner(fromAdapterR)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var m jsonrpc.Message
			if json.Unmarshal(scanner.Bytes(), &m) == nil {
				requests <- m
			}
		}
	}()

	a.Start(fromAdapterW, toAdapterR, "", false)

	b := &fakeBackend{toAdapter: toAdapterW, requests: requests}

	initReq := b.nextRequest(t)
	require.Equal(t, "initialize", initReq.Method)
	b.replyTo(*initReq.ID, map[string]any{})

	threadReq := b.nextRequest(t)
	require.Equal(t, "thread/start", threadReq.Method)
	b.replyTo(*threadReq.ID, map[string]string{"threadId": "thread-abc"})

	select {
	case id := <-initDone:
		require.Equal(t, "thread-abc", id)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never completed")
	}

	// drain the best-effort rateLimits/read request so it doesn't confuse
	// later nextRequest() calls
	select {
	case m := <-requests:
		require.Equal(t, "account/rateLimits/read", m.Method)
		b.replyTo(*m.ID, RateLimits{})
	case <-time.After(2 * time.Second):
	}

	return a, b, events
}

func drainUntil(t *testing.T, events chan wire.Event, eventType string) wire.Event {
	t.Helper()
	for i := 0; i < 20; i++ {
		select {
		case e := <-events:
			if e.Type == eventType {
				return e
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %q never arrived", eventType)
		}
	}
	t.Fatalf("event %q never arrived within 20 events", eventType)
	return wire.Event{}
}

func TestAdapter_HandshakeReachesReady(t *testing.T) {
	_, _, events := setupReady(t)
	e := drainUntil(t, events, wire.TypeSessionInit)
	assert.Contains(t, string(e.Session), "thread-abc")
}

func TestAdapter_HandshakeFailureEmitsErrorAndCallsOnInitError(t *testing.T) {
	events := make(chan wire.Event, 8)
	errCh := make(chan error, 1)
	a := New("sess-1", permission.New(), func(e wire.Event) { events <- e }, nil, func(err error) { errCh <- err })

	toAdapterR, toAdapterW := io.Pipe()
	fromAdapterR, fromAdapterW := io.Pipe()
	requests := make(chan jsonrpc.Message, 8)
	go func() {
		scanner := bufio.NewScanner(fromAdapterR)
		for scanner.Scan() {
			var m jsonrpc.Message
			if json.Unmarshal(scanner.Bytes(), &m) == nil {
				requests <- m
			}
		}
	}()

	a.Start(fromAdapterW, toAdapterR, "", false)
	b := &fakeBackend{toAdapter: toAdapterW, requests: requests}

	initReq := b.nextRequest(t)
	m, _ := jsonrpc.NewReply(*initReq.ID, nil)
	m.Result = nil
	m.Error = &jsonrpc.Error{Code: -1, Message: "boom"}
	data, _ := json.Marshal(m)
	b.toAdapter.Write(append(data, '\n'))

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("onInitError not called")
	}

	e := drainUntil(t, events, wire.TypeError)
	assert.NotEmpty(t, e.Error)
}

func TestAdapter_QueuesUserMessageUntilReady(t *testing.T) {
	events := make(chan wire.Event, 64)
	initDone := make(chan string, 1)
	a := New("sess-1", permission.New(), func(e wire.Event) { events <- e }, func(id string) { initDone <- id }, nil)

	toAdapterR, toAdapterW := io.Pipe()
	fromAdapterR, fromAdapterW := io.Pipe()
	requests := make(chan jsonrpc.Message, 32)
	go func() {
		scanner := bufio.NewScanner(fromAdapterR)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var m jsonrpc.Message
			if json.Unmarshal(scanner.Bytes(), &m) == nil {
				requests <- m
			}
		}
	}()
	a.Start(fromAdapterW, toAdapterR, "", false)
	b := &fakeBackend{toAdapter: toAdapterW, requests: requests}

	// Send a user message before the handshake has a chance to complete.
	require.NoError(t, a.SendUserMessage("hello"))

	initReq := b.nextRequest(t)
	b.replyTo(*initReq.ID, map[string]any{})
	threadReq := b.nextRequest(t)
	require.Equal(t, "thread/start", threadReq.Method)
	b.replyTo(*threadReq.ID, map[string]string{"threadId": "thread-xyz"})
	<-initDone

	// rate limits read
	rl := b.nextRequest(t)
	require.Equal(t, "account/rateLimits/read", rl.Method)
	b.replyTo(*rl.ID, RateLimits{})

	turnReq := b.nextRequest(t)
	assert.Equal(t, "turn/start", turnReq.Method)
	var params struct {
		ThreadID string `json:"threadId"`
	}
	require.NoError(t, json.Unmarshal(turnReq.Params, &params))
	assert.Equal(t, "thread-xyz", params.ThreadID)
}

func TestAdapter_ItemLifecycle_AgentMessage(t *testing.T) {
	a, b, events := setupReady(t)
	_ = a

	b.notify("item/started", itemStartedParams{ItemID: "i1", Kind: "agentMessage"})
	b.notify("item/agentMessage/delta", itemDeltaParams{ItemID: "i1", TextDelta: "Hello "})
	b.notify("item/agentMessage/delta", itemDeltaParams{ItemID: "i1", TextDelta: "world"})
	b.notify("item/completed", itemCompletedParams{ItemID: "i1", Kind: "agentMessage"})

	e := drainUntil(t, events, wire.TypeAssistant)
	assert.Contains(t, string(e.Message), "Hello world")
}

func TestAdapter_ItemLifecycle_CommandExecutionBackfill(t *testing.T) {
	a, b, events := setupReady(t)
	_ = a

	zero := 0
	b.notify("item/completed", itemCompletedParams{
		ItemID: "cmd1", Kind: "commandExecution",
		Command: json.RawMessage(`"ls -la"`), ExitCode: &zero, Stdout: "file.txt",
	})

	toolUse := drainUntil(t, events, wire.TypeAssistant)
	assert.Equal(t, "cmd1", toolUse.ToolUseID)
	assert.Contains(t, string(toolUse.Message), "tool_use")

	result := drainUntil(t, events, wire.TypeAssistant)
	assert.Contains(t, string(result.Message), "tool_result")
	assert.Contains(t, string(result.Message), "file.txt")
}

func TestAdapter_ServerApprovalRoutesThroughArbiterAndReplies(t *testing.T) {
	a, b, events := setupReady(t)

	b.request(99, "execCommandApproval", map[string]any{"command": "rm -rf /tmp/x"})

	permEvent := drainUntil(t, events, wire.TypePermissionRequest)
	assert.Equal(t, "Bash", permEvent.ToolName)
	require.NotEmpty(t, permEvent.RequestID)

	a.PermissionResponse(permEvent.RequestID, permission.Decision{Allowed: true})

	reply := b.nextRequest(t)
	assert.Equal(t, int64(99), *reply.ID)
	var result struct {
		Decision string `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, ReviewApproved, result.Decision)
}

func TestAdapter_DynamicToolCallDenied(t *testing.T) {
	a, b, events := setupReady(t)

	b.request(5, "item/tool/call", map[string]any{"tool": "customTool", "input": map[string]string{"x": "y"}})

	permEvent := drainUntil(t, events, wire.TypePermissionRequest)
	assert.Equal(t, "dynamic:customTool", permEvent.ToolName)

	a.PermissionResponse(permEvent.RequestID, permission.Decision{Allowed: false})

	reply := b.nextRequest(t)
	assert.Equal(t, int64(5), *reply.ID)
	var result struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.False(t, result.Success)
}
