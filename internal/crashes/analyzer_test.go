// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package crashes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/groupsio/clibridge/internal/logs"
)

func raw(lines ...string) []logs.LogEntry {
	entries := make([]logs.LogEntry, len(lines))
	for i, l := range lines {
		entries[i] = logs.LogEntry{Raw: l}
	}
	return entries
}

func TestClassify_CleanExit(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(0, raw("some trailing log line"))
	assert.Equal(t, ReasonNone, r.Reason)
}

func TestClassify_Panic(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(2, raw("panic: runtime error: nil pointer", "goroutine 1 [running]:"))
	assert.Equal(t, ReasonPanic, r.Reason)
	assert.Contains(t, r.Detail, "runtime error")
}

func TestClassify_OOM(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(137, raw("fatal error: out of memory"))
	assert.Equal(t, ReasonOOM, r.Reason)
}

func TestClassify_Fatal(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(1, raw("fatal error: concurrent map writes"))
	assert.Equal(t, ReasonFatal, r.Reason)
}

func TestClassify_Signal(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(143, raw("signal: terminated"))
	assert.Equal(t, ReasonSignal, r.Reason)
	assert.Equal(t, "SIGTERM", r.Detail)
}

func TestClassify_PanicBeatsOOMBeatsFatalBeatsSignal(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(1, raw("signal: terminated", "fatal error: out of memory", "panic: boom"))
	assert.Equal(t, ReasonPanic, r.Reason)
}

func TestClassify_FallsBackToExitCodeSignalConvention(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(139, nil) // 128 + SIGSEGV(11)
	assert.Equal(t, ReasonSignal, r.Reason)
	assert.Equal(t, "SIGSEGV", r.Detail)
}

func TestClassify_UnknownWhenNothingMatches(t *testing.T) {
	a := NewAnalyzer()
	r := a.Classify(1, raw("some ordinary log line"))
	assert.Equal(t, ReasonUnknown, r.Reason)
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "panic", ReasonPanic.String())
	assert.Equal(t, "oom", ReasonOOM.String())
	assert.Equal(t, "none", ReasonNone.String())
}

func TestResultSummary(t *testing.T) {
	assert.Equal(t, "panic: boom", Result{Reason: ReasonPanic, Detail: "boom"}.Summary())
	assert.Equal(t, "none", Result{Reason: ReasonNone}.Summary())
}
