// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package crashes

import (
	"regexp"
	"strings"

	"github.com/groupsio/clibridge/internal/logs"
)

// Analyzer classifies a subprocess's exit from its stderr tail and exit
// code, in priority order panic > OOM > fatal > signal, falling back to the
// exit code's 128+N signal convention (spec.md §4.10).
type Analyzer struct {
	panicRe   *regexp.Regexp
	fatalRe   *regexp.Regexp
	oomRe     *regexp.Regexp
	sigTermRe *regexp.Regexp
	sigKillRe *regexp.Regexp
	sigIntRe  *regexp.Regexp
}

// NewAnalyzer builds an Analyzer with the standard pattern set.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		panicRe:   regexp.MustCompile(`(?i)^panic:`),
		fatalRe:   regexp.MustCompile(`(?i)^fatal error:`),
		oomRe:     regexp.MustCompile(`(?i)(out of memory|cannot allocate memory)`),
		sigTermRe: regexp.MustCompile(`(?i)(signal[:\s]+terminated|SIGTERM)`),
		sigKillRe: regexp.MustCompile(`(?i)(signal[:\s]+killed|SIGKILL)`),
		sigIntRe:  regexp.MustCompile(`(?i)(signal[:\s]+interrupt|SIGINT)`),
	}
}

// Classify analyzes a subprocess's exit. stderrTail is its most recent
// captured stderr lines, oldest first.
func (a *Analyzer) Classify(exitCode int, stderrTail []logs.LogEntry) Result {
	if exitCode == 0 {
		return Result{Reason: ReasonNone, ExitCode: exitCode}
	}

	if r, ok := a.detectPanic(stderrTail); ok {
		r.ExitCode = exitCode
		return r
	}
	if r, ok := a.detectOOM(stderrTail); ok {
		r.ExitCode = exitCode
		return r
	}
	if r, ok := a.detectFatal(stderrTail); ok {
		r.ExitCode = exitCode
		return r
	}
	if r, ok := a.detectSignal(stderrTail); ok {
		r.ExitCode = exitCode
		return r
	}

	return a.classifyExitCode(exitCode)
}

func (a *Analyzer) detectPanic(tail []logs.LogEntry) (Result, bool) {
	for _, e := range tail {
		if a.panicRe.MatchString(e.Raw) {
			return Result{Reason: ReasonPanic, Detail: strings.TrimPrefix(e.Raw, "panic: ")}, true
		}
	}
	return Result{}, false
}

func (a *Analyzer) detectOOM(tail []logs.LogEntry) (Result, bool) {
	for _, e := range tail {
		if a.oomRe.MatchString(e.Raw) {
			return Result{Reason: ReasonOOM, Detail: "out of memory"}, true
		}
	}
	return Result{}, false
}

func (a *Analyzer) detectFatal(tail []logs.LogEntry) (Result, bool) {
	for _, e := range tail {
		if a.fatalRe.MatchString(e.Raw) {
			return Result{Reason: ReasonFatal, Detail: strings.TrimPrefix(e.Raw, "fatal error: ")}, true
		}
	}
	return Result{}, false
}

func (a *Analyzer) detectSignal(tail []logs.LogEntry) (Result, bool) {
	for _, e := range tail {
		switch {
		case a.sigTermRe.MatchString(e.Raw):
			return Result{Reason: ReasonSignal, Detail: "SIGTERM"}, true
		case a.sigKillRe.MatchString(e.Raw):
			return Result{Reason: ReasonSignal, Detail: "SIGKILL"}, true
		case a.sigIntRe.MatchString(e.Raw):
			return Result{Reason: ReasonSignal, Detail: "SIGINT"}, true
		}
	}
	return Result{}, false
}

// classifyExitCode falls back to the shell's 128+N signal-number convention
// when nothing in the stderr tail matched.
func (a *Analyzer) classifyExitCode(exitCode int) Result {
	if exitCode >= 128 {
		return Result{Reason: ReasonSignal, Detail: signalName(exitCode - 128), ExitCode: exitCode}
	}
	return Result{Reason: ReasonUnknown, ExitCode: exitCode}
}

func signalName(num int) string {
	switch num {
	case 1:
		return "SIGHUP"
	case 2:
		return "SIGINT"
	case 3:
		return "SIGQUIT"
	case 9:
		return "SIGKILL"
	case 11:
		return "SIGSEGV"
	case 15:
		return "SIGTERM"
	default:
		return "signal"
	}
}
