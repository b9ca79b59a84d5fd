// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the bridge server.
package config

import "time"

// Config is the root configuration structure for the bridge server.
type Config struct {
	Version    string           `json:"version"`
	Project    ProjectConfig    `json:"project"`
	Server     ServerConfig     `json:"server"`
	State      StateConfig      `json:"state"`
	Backends   BackendsConfig   `json:"backends"`
	Ring       RingConfig       `json:"ring"`
	Permission PermissionConfig `json:"permission"`
	Worktree   WorktreeConfig   `json:"worktree"`
	Watch      WatchConfig      `json:"watch"`
	Events     EventsConfig     `json:"events"`
	Logging    LoggingConfig    `json:"logging"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the HTTP/WS server.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey  string `json:"tls_key"`  // Path to TLS private key file
}

// StateConfig configures where session snapshots and message logs are persisted.
type StateConfig struct {
	Dir string `json:"dir"` // Directory for session snapshot + JSONL message storage (default: .bridge/state)
}

// BackendsConfig resolves the two supported CLI backends.
type BackendsConfig struct {
	Claude BackendConfig `json:"claude"`
	Codex  BackendConfig `json:"codex"`
}

// BackendConfig describes how to launch one backend's CLI.
type BackendConfig struct {
	Binary string   `json:"binary"` // Path or name of the executable (resolved via PATH if bare)
	Args   []string `json:"args"`   // Loaded from config but not read by the backend drivers; argv is built without it
	Env    map[string]string `json:"env"` // Loaded from config but not passed to the subprocess by the backend drivers
}

// RingConfig configures the per-session event ring.
type RingConfig struct {
	Capacity int `json:"capacity"` // Max events retained per session for replay (default: 1000)
}

// PermissionConfig configures the permission arbiter.
type PermissionConfig struct {
	DynamicToolTimeout string `json:"dynamic_tool_timeout"` // Validated as a duration (default: 120s) but not read at runtime; the codex adapter's dynamic tool-call approval timeout is a fixed 120s
}

// WorktreeConfig configures worktree discovery for createSessionRequest.Worktree
// resolution (spec.md §4.6). Worktree creation/removal is out of scope for
// this server's REST surface (SPEC_FULL.md §4.9).
type WorktreeConfig struct {
	RepoDir   string          `json:"repo_dir"` // Directory for git worktree discovery (defaults to config file dir)
	Discovery DiscoveryConfig `json:"discovery"`
}

// DiscoveryConfig configures worktree discovery.
type DiscoveryConfig struct {
	Mode string `json:"mode"` // "git"
}

// WatchConfig configures binary-change watching.
type WatchConfig struct {
	Debounce string `json:"debounce"` // Debounce window for binary-change events (default: 100ms)
}

// EventsConfig configures the ambient internal event bus.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig configures event history retention on the ambient bus.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// LoggingConfig configures the server's own process log verbosity.
type LoggingConfig struct {
	Level string `json:"level"` // "debug", "info", "warn", "error"
}

// ParseDuration parses a duration string, returning a default if empty or invalid.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
