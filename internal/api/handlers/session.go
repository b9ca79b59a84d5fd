// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/groupsio/clibridge/internal/adapter/claudecli"
	"github.com/groupsio/clibridge/internal/adapter/codex"
	"github.com/groupsio/clibridge/internal/bridge"
	"github.com/groupsio/clibridge/internal/persist"
	"github.com/groupsio/clibridge/internal/session"
	"github.com/groupsio/clibridge/internal/worktree"
)

// SessionHandler exposes REST CRUD over sessions (spec.md §6), plus the two
// WebSocket endpoints: the browser bridge and backend A's loopback socket.
// Grounded on the teacher's ClaudeHandler, narrowed from a Claude-Code-only
// surface to the backend-agnostic Launcher/Bridge this server wires.
type SessionHandler struct {
	launcher    *session.Launcher
	hub         *bridge.Hub
	store       *persist.Store
	worktreeMgr worktree.Manager
	claudeDrv   *claudecli.Driver
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(launcher *session.Launcher, hub *bridge.Hub, store *persist.Store, worktreeMgr worktree.Manager, claudeDrv *claudecli.Driver) *SessionHandler {
	return &SessionHandler{
		launcher:    launcher,
		hub:         hub,
		store:       store,
		worktreeMgr: worktreeMgr,
		claudeDrv:   claudeDrv,
	}
}

// createSessionRequest is the POST /sessions body (spec.md §6's launch op).
type createSessionRequest struct {
	BackendKind                session.BackendKind `json:"backendKind"`
	WorkingDirectory            string              `json:"workingDirectory"`
	Worktree                    string              `json:"worktree,omitempty"` // worktree name, resolved via worktreeMgr
	Model                       string              `json:"model,omitempty"`
	PermissionMode              string              `json:"permissionMode,omitempty"`
	AllowedTools                []string            `json:"allowedTools,omitempty"`
	DangerouslySkipPermissions  bool                `json:"dangerouslySkipPermissions,omitempty"`
	Sandbox                     session.Sandbox     `json:"sandbox,omitempty"`
	InternetAccess              *bool               `json:"internetAccess,omitempty"`
}

// List returns every known session.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.launcher.List())
}

// Get returns a single session's record.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	s, ok := h.launcher.Get(sessionID)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

// Create launches a new session (spec.md §4.6 "launch").
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.BackendKind != session.BackendClaude && req.BackendKind != session.BackendCodex {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "backendKind must be \"A\" or \"B\"")
		return
	}

	opts := session.LaunchOptions{
		BackendKind:                req.BackendKind,
		WorkingDirectory:           req.WorkingDirectory,
		Model:                      req.Model,
		PermissionMode:             req.PermissionMode,
		AllowedTools:               req.AllowedTools,
		DangerouslySkipPermissions: req.DangerouslySkipPermissions,
		Sandbox:                    req.Sandbox,
		InternetAccess:             req.InternetAccess,
	}

	if req.Worktree != "" {
		wt, ok := h.worktreeMgr.GetByName(req.Worktree)
		if !ok {
			WriteError(w, http.StatusNotFound, ErrNotFound, "worktree not found")
			return
		}
		opts.WorkingDirectory = wt.Path
		opts.Worktree = &session.WorktreeMetadata{
			IsWorktree:   true,
			RepoRoot:     wt.Path,
			ActualBranch: wt.Branch,
		}
	}

	s, err := h.launcher.Launch(r.Context(), opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, s)
}

// Relaunch restarts an exited session in place (spec.md §4.6 "relaunch").
func (h *SessionHandler) Relaunch(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	ok, err := h.launcher.Relaunch(r.Context(), sessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	s, _ := h.launcher.Get(sessionID)
	WriteJSON(w, http.StatusOK, s)
}

// Kill terminates a session's subprocess (spec.md §4.6 "kill").
func (h *SessionHandler) Kill(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	if !h.launcher.Kill(sessionID) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Archive soft-deletes a session (the supplemented trash/restore feature).
func (h *SessionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	if !h.launcher.Archive(sessionID) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore undoes Archive.
func (h *SessionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	if !h.launcher.Restore(sessionID) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTrashed returns every archived session.
func (h *SessionHandler) ListTrashed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.launcher.ListTrashed())
}

// Delete permanently removes a session and its persisted message log.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	if !h.launcher.Delete(sessionID) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	if h.hub != nil {
		h.hub.Remove(sessionID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export returns a session's message history as a versioned transcript
// (the supplemented export/import feature).
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	s, ok := h.launcher.Get(sessionID)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	messages, err := h.store.LoadMessages(sessionID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, session.ExportTranscript(s, messages))
}

// Import creates a fresh, never-launched session from an exported
// transcript, restoring its message history so it can later be relaunched.
func (h *SessionHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	transcript, err := session.ParseTranscript(body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	s, messages := session.ImportTranscript(transcript)
	for _, m := range messages {
		h.store.AppendMessage(s.SessionID, m)
	}
	h.launcher.AdoptImported(s)
	WriteJSON(w, http.StatusCreated, s)
}

// BrowserWebSocket upgrades a browser connection to the Bridge (spec.md §6
// "/ws/browser/{sessionId}").
func (h *SessionHandler) BrowserWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	if _, ok := h.launcher.Get(sessionID); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.hub.Attach(sessionID, conn)
}

// CLIWebSocket upgrades backend A's loopback connection to its Adapter
// (spec.md §6 "/ws/cli/{sessionId}", spec.md §4.4). Only backend A ever
// dials this endpoint; backend B speaks over stdio instead.
func (h *SessionHandler) CLIWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session"]
	adapter, ok := h.claudeDrv.Adapter(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	adapter.Attach(conn)
}

// AdapterLookup resolves a session's live adapter for the Bridge, trying
// both backend drivers in turn (a session belongs to exactly one).
func AdapterLookup(claudeDrv *claudecli.Driver, codexDrv *codex.Driver) bridge.AdapterLookup {
	return func(sessionID string) (bridge.AdapterOps, bool) {
		if a, ok := claudeDrv.Adapter(sessionID); ok {
			return a, true
		}
		if a, ok := codexDrv.Adapter(sessionID); ok {
			return a, true
		}
		return nil, false
	}
}

// SnapshotFunc builds the Bridge's session_init payload from the Launcher's
// current record.
func SnapshotFunc(launcher *session.Launcher) bridge.SnapshotFunc {
	return func(sessionID string) (json.RawMessage, bool) {
		s, ok := launcher.Get(sessionID)
		if !ok {
			return nil, false
		}
		data, err := json.Marshal(s)
		if err != nil {
			return nil, false
		}
		return data, true
	}
}
