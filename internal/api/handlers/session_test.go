// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupsio/clibridge/internal/bridge"
	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/persist"
	"github.com/groupsio/clibridge/internal/session"
	"github.com/groupsio/clibridge/internal/subprocess"
	"github.com/groupsio/clibridge/internal/worktree"
)

// fakeStore and fakeDriver mirror internal/session's own test doubles:
// a real shell command stands in for a backend binary so the Launcher's
// logic runs unmodified.
type fakeStore struct {
	sessions []*session.Session
}

func (f *fakeStore) SaveSnapshot(sessions []*session.Session) { f.sessions = sessions }
func (f *fakeStore) LoadSnapshot() ([]*session.Session, error) { return f.sessions, nil }

type fakeDriver struct{}

func (d *fakeDriver) Spawn(ctx context.Context, s *session.Session, resume bool) (*subprocess.Handle, func(), error) {
	return subprocess.Spawn(ctx, "test", []string{"sh", "-c", "sleep 2"}, ".", nil)
}

// fakeWorktreeManager satisfies worktree.Manager with a single fixed entry,
// standing in for internal/worktree the way fakeStore stands in for persist.
type fakeWorktreeManager struct {
	wt worktree.WorktreeInfo
}

func (m *fakeWorktreeManager) Refresh() error { return nil }

func (m *fakeWorktreeManager) GetByName(name string) (worktree.WorktreeInfo, bool) {
	if name == m.wt.Name() || name == m.wt.Branch {
		return m.wt, true
	}
	return worktree.WorktreeInfo{}, false
}

func newTestHandler(t *testing.T) *SessionHandler {
	t.Helper()

	launcher := session.NewLauncher(&fakeStore{}, permission.New(), map[session.BackendKind]session.BackendDriver{
		session.BackendClaude: &fakeDriver{},
	}, nil)

	hub := bridge.NewHub(100,
		func(sessionID string) (bridge.AdapterOps, bool) { return nil, false },
		func(sessionID string) (json.RawMessage, bool) { return nil, false },
	)

	store := persist.New(t.TempDir())

	wtMgr := &fakeWorktreeManager{wt: worktree.WorktreeInfo{Path: "/repo/feature", Branch: "feature"}}

	return NewSessionHandler(launcher, hub, store, wtMgr, nil)
}

func TestSessionHandler_ListEmpty(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionHandler_Create(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{
		"backendKind":      string(session.BackendClaude),
		"workingDirectory": ".",
	})
	req := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Data)
}

func TestSessionHandler_Create_InvalidBackend(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{"backendKind": "nope", "workingDirectory": "."})
	req := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionHandler_Create_ResolvesWorktree(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{
		"backendKind":      string(session.BackendClaude),
		"workingDirectory": ".",
		"worktree":         "feature",
	})
	req := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/repo/feature", data["workingDirectory"])
}

func TestSessionHandler_Create_WorktreeNotFound(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{
		"backendKind":      string(session.BackendClaude),
		"workingDirectory": ".",
		"worktree":         "nonexistent",
	})
	req := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_Get_NotFound(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/v1/sessions/unknown", nil)
	req = mux.SetURLVars(req, map[string]string{"session": "unknown"})
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_LifecycleArchiveRestoreDelete(t *testing.T) {
	h := newTestHandler(t)

	createBody, _ := json.Marshal(map[string]string{
		"backendKind":      string(session.BackendClaude),
		"workingDirectory": ".",
	})
	createReq := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	h.Create(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created Response
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	sessionID := created.Data.(map[string]interface{})["sessionId"].(string)

	// Kill
	killReq := httptest.NewRequest("POST", "/api/v1/sessions/"+sessionID+"/kill", nil)
	killReq = mux.SetURLVars(killReq, map[string]string{"session": sessionID})
	killRec := httptest.NewRecorder()
	h.Kill(killRec, killReq)
	assert.Equal(t, http.StatusNoContent, killRec.Code)

	// Archive
	archiveReq := httptest.NewRequest("DELETE", "/api/v1/sessions/"+sessionID, nil)
	archiveReq = mux.SetURLVars(archiveReq, map[string]string{"session": sessionID})
	archiveRec := httptest.NewRecorder()
	h.Archive(archiveRec, archiveReq)
	assert.Equal(t, http.StatusNoContent, archiveRec.Code)

	trashedReq := httptest.NewRequest("GET", "/api/v1/sessions/trash", nil)
	trashedRec := httptest.NewRecorder()
	h.ListTrashed(trashedRec, trashedReq)
	assert.Equal(t, http.StatusOK, trashedRec.Code)

	// Restore
	restoreReq := httptest.NewRequest("POST", "/api/v1/sessions/"+sessionID+"/restore", nil)
	restoreReq = mux.SetURLVars(restoreReq, map[string]string{"session": sessionID})
	restoreRec := httptest.NewRecorder()
	h.Restore(restoreRec, restoreReq)
	assert.Equal(t, http.StatusNoContent, restoreRec.Code)

	// Delete
	deleteReq := httptest.NewRequest("DELETE", "/api/v1/sessions/"+sessionID+"/permanent", nil)
	deleteReq = mux.SetURLVars(deleteReq, map[string]string{"session": sessionID})
	deleteRec := httptest.NewRecorder()
	h.Delete(deleteRec, deleteReq)
	assert.Equal(t, http.StatusNoContent, deleteRec.Code)

	getReq := httptest.NewRequest("GET", "/api/v1/sessions/"+sessionID, nil)
	getReq = mux.SetURLVars(getReq, map[string]string{"session": sessionID})
	getRec := httptest.NewRecorder()
	h.Get(getRec, getReq)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestSessionHandler_Relaunch_NotFound(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("POST", "/api/v1/sessions/unknown/relaunch", nil)
	req = mux.SetURLVars(req, map[string]string{"session": "unknown"})
	rec := httptest.NewRecorder()

	h.Relaunch(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_Export_NotFound(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/v1/sessions/unknown/export", nil)
	req = mux.SetURLVars(req, map[string]string{"session": "unknown"})
	rec := httptest.NewRecorder()

	h.Export(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_ExportImportRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	createBody, _ := json.Marshal(map[string]string{
		"backendKind":      string(session.BackendClaude),
		"workingDirectory": ".",
	})
	createReq := httptest.NewRequest("POST", "/api/v1/sessions", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	h.Create(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created Response
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	sessionID := created.Data.(map[string]interface{})["sessionId"].(string)

	h.store.AppendMessage(sessionID, json.RawMessage(`{"type":"assistant","text":"hi"}`))

	exportReq := httptest.NewRequest("GET", "/api/v1/sessions/"+sessionID+"/export", nil)
	exportReq = mux.SetURLVars(exportReq, map[string]string{"session": sessionID})
	exportRec := httptest.NewRecorder()
	h.Export(exportRec, exportReq)
	require.Equal(t, http.StatusOK, exportRec.Code)

	var exported Response
	require.NoError(t, json.Unmarshal(exportRec.Body.Bytes(), &exported))
	transcriptJSON, err := json.Marshal(exported.Data)
	require.NoError(t, err)

	importReq := httptest.NewRequest("POST", "/api/v1/sessions/import", bytes.NewReader(transcriptJSON))
	importRec := httptest.NewRecorder()
	h.Import(importRec, importReq)
	assert.Equal(t, http.StatusCreated, importRec.Code)
}
