// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

import (
	"encoding/json"
	"strings"

	"github.com/groupsio/clibridge/internal/wire"
)

// MCPGetStatus implements the "get status" browser command: list the
// backend's MCP servers and their config, then emit mcp_status
// (spec.md §4.5 "MCP server management").
func (a *Adapter) MCPGetStatus() {
	status, err := a.fetchMCPStatus()
	if err != nil {
		a.emit(wire.Event{Type: wire.TypeError, Error: err.Error()})
		return
	}
	a.emit(wire.Event{Type: wire.TypeMCPStatus, Data: status})
}

func (a *Adapter) fetchMCPStatus() (json.RawMessage, error) {
	list, err := a.correlator.Call("mcpServerStatus/list", nil)
	if err != nil {
		return nil, err
	}
	cfg, err := a.correlator.Call("config/read", nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{"servers": list.Result, "config": cfg.Result})
}

// MCPToggle implements "toggle enabled": write the new enabled value for
// serverName, reload it, and refresh status. If the reload fails because
// the backend reports an invalid transport, fall back to removing the
// server entry outright (spec.md §4.5).
func (a *Adapter) MCPToggle(serverName string, enabled bool) {
	path := []string{"mcpServers", serverName, "enabled"}
	if _, err := a.correlator.Call("config/value/write", map[string]any{"path": path, "value": enabled}); err != nil {
		a.emit(wire.Event{Type: wire.TypeError, Error: err.Error()})
		return
	}
	a.reloadAndRefresh(serverName)
}

// MCPReconnect implements "reconnect": reload serverName and refresh status.
func (a *Adapter) MCPReconnect(serverName string) {
	a.reloadAndRefresh(serverName)
}

func (a *Adapter) reloadAndRefresh(serverName string) {
	_, err := a.correlator.Call("config/mcpServer/reload", map[string]string{"server": serverName})
	if err != nil && strings.Contains(err.Error(), "invalid transport") {
		removePath := []string{"mcpServers", serverName}
		_, _ = a.correlator.Call("config/value/write", map[string]any{
			"path": removePath, "value": nil, "mergeStrategy": "replace",
		})
	} else if err != nil {
		a.emit(wire.Event{Type: wire.TypeError, Error: err.Error()})
		return
	}
	a.MCPGetStatus()
}

// MCPSetServers implements "set servers": batch-write the full servers
// config, then refresh status.
func (a *Adapter) MCPSetServers(servers json.RawMessage) {
	if _, err := a.correlator.Call("config/batchWrite", map[string]any{"mcpServers": json.RawMessage(servers)}); err != nil {
		a.emit(wire.Event{Type: wire.TypeError, Error: err.Error()})
		return
	}
	a.MCPGetStatus()
}
