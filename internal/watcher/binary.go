// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/groupsio/clibridge/internal/events"
)

// BinaryWatcher watches resolved backend binary paths for on-disk changes (e.g. an upgrade) and publishes binary.changed, per spec.md §4.11. It does not force a relaunch of running sessions.
type BinaryWatcher struct {
	mu            sync.RWMutex
	bus           events.EventBus
	watcher       *fsnotify.Watcher
	debouncer     *Debouncer
	watches       map[string][]string  // sessionID -> watched paths
	pathToSession map[string]string    // path -> sessionID (reverse lookup)
	paths         map[string]int       // path -> watch count (for ref counting)
	lastRestart   map[string]time.Time // sessionID -> last restart time (cooldown)
	closed        bool
	closeCh       chan struct{}
	wg            sync.WaitGroup
}

// NewBinaryWatcher creates a new binary watcher.
func NewBinaryWatcher(bus events.EventBus, debounce time.Duration) (*BinaryWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &BinaryWatcher{
		bus:           bus,
		watcher:       fsWatcher,
		debouncer:     NewDebouncer(debounce),
		watches:       make(map[string][]string),
		pathToSession: make(map[string]string),
		paths:         make(map[string]int),
		lastRestart:   make(map[string]time.Time),
		closeCh:       make(chan struct{}),
	}

	// Start event processing
	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch starts watching a backend binary (and any related config paths) for a session.
// Matches spec.md §4.11: watches the resolved claude/codex binary path the session launched with.
func (w *BinaryWatcher) Watch(sessionID string, paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	if len(paths) == 0 {
		return nil
	}

	// If already watching this service, unwatch old paths first
	if oldPaths, exists := w.watches[sessionID]; exists {
		for _, oldPath := range oldPaths {
			w.removeWatch(oldPath)
			delete(w.pathToSession, oldPath)
		}
	}

	// Resolve and watch each path
	var absPaths []string
	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			absPath = p
		}

		if err := w.addWatch(absPath); err != nil {
			// Log warning but continue with other paths
			continue
		}

		absPaths = append(absPaths, absPath)
		w.pathToSession[absPath] = sessionID
	}

	if len(absPaths) > 0 {
		w.watches[sessionID] = absPaths
	}
	return nil
}

// Unwatch stops watching a session's binary path(s).
func (w *BinaryWatcher) Unwatch(sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, exists := w.watches[sessionID]
	if !exists {
		return fmt.Errorf("session %s not being watched", sessionID)
	}

	for _, path := range paths {
		w.removeWatch(path)
		delete(w.pathToSession, path)
	}
	delete(w.watches, sessionID)
	w.debouncer.Cancel(sessionID)

	return nil
}

// SetDebounce sets the debounce duration.
func (w *BinaryWatcher) SetDebounce(d time.Duration) {
	w.debouncer.SetDuration(d)
}

// Watching returns the list of session ids being watched.
func (w *BinaryWatcher) Watching() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]string, 0, len(w.watches))
	for svc := range w.watches {
		result = append(result, svc)
	}
	return result
}

// Close stops the watcher and releases resources.
func (w *BinaryWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	w.watcher.Close()
	w.wg.Wait()

	return nil
}

func (w *BinaryWatcher) addWatch(path string) error {
	w.paths[path]++
	if w.paths[path] == 1 {
		// First watch on this path
		if err := w.watcher.Add(path); err != nil {
			w.paths[path]--
			if w.paths[path] == 0 {
				delete(w.paths, path)
			}
			return err
		}
	}
	return nil
}

func (w *BinaryWatcher) removeWatch(path string) {
	w.paths[path]--
	if w.paths[path] <= 0 {
		w.watcher.Remove(path)
		delete(w.paths, path)
	}
}

func (w *BinaryWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue
			_ = err
		}
	}
}

func (w *BinaryWatcher) handleEvent(event fsnotify.Event) {
	// Only care about writes and creates - NOT chmod
	// Chmod events fire when binaries are executed, causing restart loops
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	// Look up which session this file belongs to
	w.mu.RLock()
	sessionID, exists := w.pathToSession[event.Name]
	w.mu.RUnlock()

	if exists {
		w.triggerChange(sessionID, event.Name)
	}
}

const restartCooldown = 5 * time.Second

func (w *BinaryWatcher) triggerChange(sessionID string, changedPath string) {
	w.debouncer.Debounce(sessionID, func() {
		w.mu.Lock()
		lastRestart := w.lastRestart[sessionID]

		// Cooldown: ignore events within 5 seconds of last restart
		if time.Since(lastRestart) < restartCooldown {
			w.mu.Unlock()
			return
		}
		w.lastRestart[sessionID] = time.Now()
		w.mu.Unlock()

		// Check file exists and get info
		info, err := os.Stat(changedPath)
		var modTime time.Time
		if err == nil {
			modTime = info.ModTime()
		}

		if w.bus != nil {
			w.bus.Publish(context.Background(), events.Event{
				Type: "binary.changed",
				Payload: map[string]interface{}{
					"sessionId":  sessionID,
					"path":       changedPath,
					"modTime":    modTime,
					"modTimeStr": modTime.Format(time.RFC3339),
				},
			})
		}
	})
}
