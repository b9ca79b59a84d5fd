// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crashes classifies why a backend subprocess exited, from its exit
// code and recent stderr (spec.md §4.10): an enrichment of the crash-loop
// handling in spec.md §7, never a replacement for it.
package crashes

// Reason categorizes why a subprocess exited.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonPanic
	ReasonOOM
	ReasonFatal
	ReasonSignal
	ReasonUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPanic:
		return "panic"
	case ReasonOOM:
		return "oom"
	case ReasonFatal:
		return "fatal"
	case ReasonSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Result is one subprocess exit's classification.
type Result struct {
	Reason   Reason
	Detail   string
	ExitCode int
}

// Summary returns a human-readable "reason: detail" string, or just the
// reason when there's no further detail.
func (r Result) Summary() string {
	if r.Detail == "" {
		return r.Reason.String()
	}
	return r.Reason.String() + ": " + r.Detail
}
