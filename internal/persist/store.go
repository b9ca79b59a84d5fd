// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package persist is the bridge's Persistent Store (spec.md §4.1): an
// atomic-rewrite JSON snapshot of Launcher session records, plus a per-session
// JSONL message log used for transcript export/import.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/groupsio/clibridge/internal/session"
)

// Store persists Session snapshots and per-session message logs under a
// single state directory. Writes are best-effort: failures are logged, never
// propagated into caller logic, per spec.md §4.1. RewriteMessages is the one
// write that returns its error to the caller.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. dir is created on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.dir, "sessions.json")
}

func (s *Store) messagesPath(sessionID string) string {
	return filepath.Join(s.dir, "messages", sessionID+".jsonl")
}

// SaveSnapshot writes the full session list atomically (temp file + rename).
// Failures are logged and swallowed.
func (s *Store) SaveSnapshot(sessions []*session.Session) {
	if err := s.saveSnapshot(sessions); err != nil {
		log.Printf("persist: save snapshot: %v", err)
	}
}

func (s *Store) saveSnapshot(sessions []*session.Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	path := s.snapshotPath()
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the session list from disk. Returns (nil, nil) if no
// snapshot has ever been written.
func (s *Store) LoadSnapshot() ([]*session.Session, error) {
	data, err := os.ReadFile(s.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var sessions []*session.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return sessions, nil
}

// AppendMessage appends one JSON-encoded message line to a session's
// transcript log. Best-effort: failures are logged and swallowed.
func (s *Store) AppendMessage(sessionID string, message any) {
	if err := s.appendMessage(sessionID, message); err != nil {
		log.Printf("persist: append message [%s]: %v", sessionID, err)
	}
}

func (s *Store) appendMessage(sessionID string, message any) error {
	path := s.messagesPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create messages dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(message); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return nil
}

// LoadMessages reads a session's full transcript, one decoded JSON value per line.
func (s *Store) LoadMessages(sessionID string) ([]json.RawMessage, error) {
	path := s.messagesPath(sessionID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var msgs []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make(json.RawMessage, len(line))
		copy(cp, line)
		msgs = append(msgs, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return msgs, nil
}

// RewriteMessages replaces a session's transcript wholesale, used by
// transcript import (NEW-7 in SPEC_FULL.md).
func (s *Store) RewriteMessages(sessionID string, messages []json.RawMessage) error {
	path := s.messagesPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create messages dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp messages file: %w", err)
	}

	for _, msg := range messages {
		if _, err := f.Write(msg); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write message: %w", err)
		}
		if _, err := f.Write([]byte("\n")); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write newline: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp messages file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename messages file: %w", err)
	}
	return nil
}

// DeleteMessages removes a session's transcript log entirely.
func (s *Store) DeleteMessages(sessionID string) {
	if err := os.Remove(s.messagesPath(sessionID)); err != nil && !os.IsNotExist(err) {
		log.Printf("persist: delete messages [%s]: %v", sessionID, err)
	}
}
