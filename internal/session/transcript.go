// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TranscriptSchema is the schema identifier for the export format.
const TranscriptSchema = "clibridge.transcript.v1"

// Transcript is the full export format for a session: everything needed to
// recreate a fresh session with the same message history, grounded on the
// teacher's claude/transcript.go (export/import, not live resume).
type Transcript struct {
	Schema     string           `json:"schema"`
	ExportedAt time.Time        `json:"exportedAt"`
	Source     TranscriptSource `json:"source"`
	Messages   []json.RawMessage `json:"messages"`
	Stats      TranscriptStats  `json:"stats"`
}

// TranscriptSource records where the transcript came from.
type TranscriptSource struct {
	SessionID        string    `json:"sessionId"`
	BackendKind      BackendKind `json:"backendKind"`
	WorkingDirectory string    `json:"workingDirectory,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// TranscriptStats holds summary statistics about a transcript's messages.
// Unlike the teacher (which has a typed Message/ContentBlock model), this
// bridge's message history is opaque wire.Event JSON, so only the count is
// computable without re-parsing every event's Type field.
type TranscriptStats struct {
	MessageCount int `json:"messageCount"`
}

// ExportTranscript builds a Transcript from a Session's current record and
// its persisted message history.
func ExportTranscript(s *Session, messages []json.RawMessage) *Transcript {
	return &Transcript{
		Schema:     TranscriptSchema,
		ExportedAt: time.Now(),
		Source: TranscriptSource{
			SessionID:        s.SessionID,
			BackendKind:      s.BackendKind,
			WorkingDirectory: s.WorkingDirectory,
			CreatedAt:        s.CreatedAt,
		},
		Messages: messages,
		Stats:    TranscriptStats{MessageCount: len(messages)},
	}
}

// ValidateTranscript checks that t has the expected schema and at least one
// message.
func ValidateTranscript(t *Transcript) error {
	if t.Schema != TranscriptSchema {
		return fmt.Errorf("unsupported transcript schema %q", t.Schema)
	}
	if len(t.Messages) == 0 {
		return fmt.Errorf("transcript has no messages")
	}
	return nil
}

// ParseTranscript parses and validates a transcript from JSON bytes.
func ParseTranscript(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("invalid transcript JSON: %w", err)
	}
	if err := ValidateTranscript(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ImportTranscript builds a fresh, never-launched Session (a new session id,
// state exited, not archived) from an imported Transcript, plus the message
// history to persist alongside it. The new session carries the original's
// backend kind and working directory so a caller could relaunch it, but
// import itself never spawns a subprocess.
func ImportTranscript(t *Transcript) (*Session, []json.RawMessage) {
	s := &Session{
		SessionID:        uuid.NewString(),
		BackendKind:      t.Source.BackendKind,
		WorkingDirectory: t.Source.WorkingDirectory,
		State:            StateExited,
		CreatedAt:        time.Now(),
		ExitCode:         intPtr(-1),
	}
	return s, t.Messages
}
