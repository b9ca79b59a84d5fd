// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package claudecli is Adapter A (spec.md §4.4): the subprocess dials the
// bridge's own loopback WebSocket rather than talking over stdio, so this
// adapter's job is (1) building the spawn argv/env that tells the binary
// where to dial, and (2) translating whatever arrives on that loopback
// socket into the common browser-facing wire.Event schema.
package claudecli

import (
	"fmt"
	"os"

	"github.com/groupsio/clibridge/internal/session"
)

// BackendEnvVar is the backend-identifying variable spec.md §6 says must
// always be set to "1" in the subprocess environment.
const BackendEnvVar = "CLIBRIDGE_BACKEND_CLAUDE"

// SpawnOptions carries everything BuildArgv needs to compose the command
// line for one launch or relaunch of a backend-A subprocess.
type SpawnOptions struct {
	SessionID              string
	Host                    string
	Port                    int
	Model                   string
	PermissionMode          string
	AllowedTools            []string
	ResumeCLIInternalID     string
	DangerouslySkipPermissions bool
}

// BuildArgv composes the argument list for binary per spec.md §4.4/§6:
// fixed streaming flags, the loopback --sdk-url, optional model/permission
// flags (dangerously-skip-permissions takes precedence over permission-mode
// and is mutually exclusive with it), repeated --allowedTools, an optional
// --resume, and always a trailing empty headless prompt.
func BuildArgv(binary string, opts SpawnOptions) []string {
	argv := []string{
		binary,
		"--sdk-url", fmt.Sprintf("ws://%s:%d/ws/cli/%s", opts.Host, opts.Port, opts.SessionID),
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}

	if opts.Model != "" {
		argv = append(argv, "--model", opts.Model)
	}

	if opts.DangerouslySkipPermissions {
		argv = append(argv, "--dangerously-skip-permissions")
	} else if opts.PermissionMode != "" {
		argv = append(argv, "--permission-mode", opts.PermissionMode)
	}

	for _, tool := range opts.AllowedTools {
		argv = append(argv, "--allowedTools", tool)
	}

	if opts.ResumeCLIInternalID != "" {
		argv = append(argv, "--resume", opts.ResumeCLIInternalID)
	}

	argv = append(argv, "-p", "")
	return argv
}

// BuildEnv returns the server's environment plus the backend-identifying
// variable plus caller-supplied additions (spec.md §4.4).
func BuildEnv(extra []string) []string {
	env := append(os.Environ(), BackendEnvVar+"=1")
	return append(env, extra...)
}

// OptionsFromSession derives SpawnOptions from a Session record, e.g. for a
// relaunch where the resume token comes from the persisted CLIInternalID.
func OptionsFromSession(s *session.Session, host string, port int, resume bool) SpawnOptions {
	opts := SpawnOptions{
		SessionID:                  s.SessionID,
		Host:                       host,
		Port:                       port,
		Model:                      s.Model,
		PermissionMode:             s.PermissionMode,
		AllowedTools:               s.AllowedTools,
		DangerouslySkipPermissions: s.DangerouslySkipPermissions,
	}
	if resume {
		opts.ResumeCLIInternalID = s.CLIInternalID
	}
	return opts
}
