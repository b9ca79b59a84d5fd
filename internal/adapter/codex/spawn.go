// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package codex

import (
	"os"

	"github.com/groupsio/clibridge/internal/session"
)

// BackendEnvVar is the backend-identifying variable spec.md §6 says must
// always be set to "1" in the subprocess environment.
const BackendEnvVar = "CLIBRIDGE_BACKEND_CODEX"

// SpawnOptions carries everything BuildArgv needs for one launch or relaunch
// of a backend-B subprocess. Unlike backend A, most of these never reach the
// command line: sandbox/approval policy and the resume thread id are
// negotiated over the JSON-RPC handshake itself (Start's resumeThreadID and
// the initialize/thread params), not argv.
type SpawnOptions struct {
	WebSearchEnabled bool
}

// BuildArgv composes the argument list for binary per spec.md §6: a single
// subcommand plus the webSearch tool-config flag.
func BuildArgv(binary string, opts SpawnOptions) []string {
	return []string{
		binary,
		"app-server",
		"-c", "tools.webSearch=" + boolFlag(opts.WebSearchEnabled),
	}
}

func boolFlag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// BuildEnv returns the server's environment plus the backend-identifying
// variable plus caller-supplied additions (spec.md §4.4, applied uniformly
// to both backends).
func BuildEnv(extra []string) []string {
	env := append(os.Environ(), BackendEnvVar+"=1")
	return append(env, extra...)
}

// OptionsFromSession derives SpawnOptions from a Session record. Backend B
// has no per-session web-search toggle in the data model yet, so this
// always enables it; a future session field can thread a real value through.
func OptionsFromSession(s *session.Session) SpawnOptions {
	_ = s
	return SpawnOptions{WebSearchEnabled: true}
}
