// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claudecli

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/wire"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dialAdapter starts an httptest server that attaches every incoming
// connection to a, and dials it as the CLI-side client would.
func dialAdapter(t *testing.T, a *Adapter) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		a.Attach(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAdapter_SystemInitEmitsSessionInitAndOnInit(t *testing.T) {
	gotEvents := make(chan wire.Event, 4)
	gotInit := make(chan string, 1)

	a := New("sess-1", permission.New(),
		func(e wire.Event) { gotEvents <- e },
		nil,
		func(id string) { gotInit <- id },
	)
	client := dialAdapter(t, a)

	require.NoError(t, client.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"system","subtype":"init","session_id":"cli-internal-1"}`)))

	select {
	case e := <-gotEvents:
		assert.Equal(t, wire.TypeSessionInit, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("session_init not emitted")
	}
	select {
	case id := <-gotInit:
		assert.Equal(t, "cli-internal-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("onInit not called")
	}
}

func TestAdapter_ConnStateCallbacks(t *testing.T) {
	states := make(chan bool, 4)
	a := New("sess-1", permission.New(), nil, func(connected bool) { states <- connected }, nil)
	client := dialAdapter(t, a)

	select {
	case connected := <-states:
		require.True(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("connect callback not fired")
	}

	client.Close()

	select {
	case connected := <-states:
		assert.False(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not fired")
	}
}

func TestAdapter_ForwardsPassthroughMessage(t *testing.T) {
	received := make(chan wire.Event, 4)
	a := New("sess-1", permission.New(), func(e wire.Event) { received <- e }, nil, nil)
	client := dialAdapter(t, a)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"assistant"}`)))

	select {
	case e := <-received:
		assert.Equal(t, "assistant", e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("passthrough not forwarded")
	}
}

func TestAdapter_MalformedLineDoesNotBreakConnection(t *testing.T) {
	received := make(chan wire.Event, 4)
	a := New("sess-1", permission.New(), func(e wire.Event) { received <- e }, nil, nil)
	client := dialAdapter(t, a)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"result"}`)))

	select {
	case e := <-received:
		assert.Equal(t, "result", e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive malformed line")
	}
}

func TestAdapter_CanUseToolRoutesThroughArbiterAndWritesControlResponse(t *testing.T) {
	arbiter := permission.New()
	received := make(chan wire.Event, 4)
	a := New("sess-1", arbiter, func(e wire.Event) { received <- e }, nil, nil)
	client := dialAdapter(t, a)

	require.NoError(t, client.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"control_request","subtype":"can_use_tool","request_id":"orig-1","request":{"tool_name":"Bash","input":{"command":"ls"}}}`)))

	var permEvent wire.Event
	select {
	case permEvent = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("permission_request not emitted")
	}
	require.Equal(t, wire.TypePermissionRequest, permEvent.Type)
	assert.Equal(t, "Bash", permEvent.ToolName)
	require.NotEmpty(t, permEvent.RequestID)

	ok := arbiter.Respond(permEvent.RequestID, permission.Decision{Allowed: true})
	require.True(t, ok)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"control_response"`)
	assert.Contains(t, string(data), `"allow"`)
	assert.Contains(t, string(data), `"orig-1"`)
}

func TestAdapter_SendUserMessage(t *testing.T) {
	a := New("sess-1", permission.New(), nil, nil, nil)
	client := dialAdapter(t, a)

	require.Eventually(t, a.Connected, time.Second, 10*time.Millisecond)
	require.NoError(t, a.SendUserMessage("hello"))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hello"`)
	assert.Contains(t, string(data), `"role":"user"`)
}
