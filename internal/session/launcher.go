// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sync/errgroup"

	"github.com/groupsio/clibridge/internal/crashes"
	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/subprocess"
	"github.com/groupsio/clibridge/internal/wire"
	"github.com/groupsio/clibridge/internal/worktree"
)

// SnapshotStore is the persistence contract the Launcher needs.
// internal/persist.Store satisfies this; defining it here (rather than
// importing internal/persist, which already imports this package for the
// Session type it persists) keeps the dependency one-directional.
type SnapshotStore interface {
	SaveSnapshot(sessions []*Session)
	LoadSnapshot() ([]*Session, error)
}

// crashLoopGraceWindow is spec.md §3/§4.6/§7's "~5s" window: a resumed
// subprocess that exits before this elapses has its cliInternalId cleared
// so the next relaunch starts a fresh conversation instead of looping.
const crashLoopGraceWindow = 5 * time.Second

// stderrTailLines bounds how much captured stderr the crash analyzer sees.
const stderrTailLines = 50

// BackendDriver spawns and tears down one backend's subprocess and protocol
// adapter. The Launcher is deliberately backend-agnostic and knows nothing
// about claudecli/codex wire formats; concrete drivers live beside their
// adapters (internal/adapter/claudecli, internal/adapter/codex), which
// already import this package for Session and OptionsFromSession — keeping
// the dependency one-directional avoids an import cycle.
type BackendDriver interface {
	// Spawn resolves the backend binary, builds argv/env, starts the
	// subprocess and wires its adapter. resume is true on relaunch; when
	// true and s.CLIInternalID is non-empty, the driver must pass it as
	// the resume/thread-resume token. cleanup, if non-nil, is invoked
	// exactly once after the returned handle has exited, so the driver
	// can release adapter-side state (e.g. backend B's MarkExited).
	Spawn(ctx context.Context, s *Session, resume bool) (handle *subprocess.Handle, cleanup func(), err error)
}

// LaunchOptions is what a caller supplies to start a new session.
type LaunchOptions struct {
	BackendKind                BackendKind
	WorkingDirectory           string
	Model                      string
	PermissionMode             string
	AllowedTools               []string
	DangerouslySkipPermissions bool
	Sandbox                    Sandbox
	InternetAccess             *bool

	// Worktree is nil for sessions running directly in a repo's primary
	// checkout. ParentBranch is carried separately since it is not part
	// of the persisted WorktreeMetadata shape (spec.md §3) but is needed
	// to render the guardrails block (spec.md §4.6/§6).
	Worktree     *WorktreeMetadata
	ParentBranch string
}

type entry struct {
	session *Session
	handle  *subprocess.Handle

	mu               sync.Mutex
	generation       int
	killedExplicitly bool
}

// Launcher is the Session Launcher & Supervisor (spec.md §4.6, component
// C3): it creates, kills and relaunches subprocesses, persists Session
// records across restarts, and injects worktree safety guardrails. It holds
// at most one non-exited SubprocessHandle per sessionId at any time.
type Launcher struct {
	mu       sync.Mutex
	sessions map[string]*entry

	drivers       map[BackendKind]BackendDriver
	store         SnapshotStore
	arbiter       *permission.Arbiter
	analyzer      *crashes.Analyzer
	emit          func(sessionID string, e wire.Event)
	purgeMessages func(sessionID string)
}

// NewLauncher constructs a Launcher. drivers must have an entry for every
// BackendKind the caller intends to launch. emit may be nil (events are
// simply dropped, useful in tests).
func NewLauncher(store SnapshotStore, arbiter *permission.Arbiter, drivers map[BackendKind]BackendDriver, emit func(sessionID string, e wire.Event)) *Launcher {
	return &Launcher{
		sessions: make(map[string]*entry),
		drivers:  drivers,
		store:    store,
		arbiter:  arbiter,
		analyzer: crashes.NewAnalyzer(),
		emit:     emit,
	}
}

// SetPurgeMessages wires the callback used to delete a session's persisted
// message log when it is permanently removed (Delete, or auto-purge from
// RestoreFromDisk). Typically internal/persist.Store.DeleteMessages.
func (l *Launcher) SetPurgeMessages(fn func(sessionID string)) {
	l.purgeMessages = fn
}

// Launch creates and spawns a new session (spec.md §4.6 "launch").
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	s := &Session{
		SessionID:                  uuid.New().String(),
		BackendKind:                opts.BackendKind,
		WorkingDirectory:           opts.WorkingDirectory,
		Model:                      opts.Model,
		PermissionMode:             opts.PermissionMode,
		AllowedTools:               append([]string(nil), opts.AllowedTools...),
		DangerouslySkipPermissions: opts.DangerouslySkipPermissions,
		Sandbox:                    opts.Sandbox,
		InternetAccess:             opts.InternetAccess,
		WorktreeMetadata:           opts.Worktree,
		CreatedAt:                  time.Now(),
	}
	if s.BackendKind == BackendCodex {
		s.State = StateConnected
	} else {
		s.State = StateStarting
	}

	l.injectWorktreeGuardrails(s, opts.ParentBranch)

	e := &entry{session: s}
	l.mu.Lock()
	l.sessions[s.SessionID] = e
	l.mu.Unlock()
	l.persistSnapshot()

	if err := l.doSpawn(ctx, e, false); err != nil {
		l.mu.Lock()
		s.State = StateExited
		s.ExitCode = intPtr(-1)
		l.mu.Unlock()
		l.emitError(s.SessionID, fmt.Sprintf("launch: %v", err))
		l.persistSnapshot()
		return s.Clone(), fmt.Errorf("launch %s: %w", s.SessionID, err)
	}

	l.persistSnapshot()
	return s.Clone(), nil
}

// Relaunch kills any live subprocess for sessionID (SIGTERM, ≤2s grace,
// ignore) and spawns a fresh one with the same parameters plus a resume
// token if one is known (spec.md §4.6 "relaunch").
func (l *Launcher) Relaunch(ctx context.Context, sessionID string) (bool, error) {
	l.mu.Lock()
	e, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("relaunch: unknown session %s", sessionID)
	}

	e.mu.Lock()
	e.generation++
	oldHandle := e.handle
	e.mu.Unlock()

	l.mu.Lock()
	e.session.State = StateStarting
	l.mu.Unlock()

	if oldHandle != nil {
		oldHandle.KillForRelaunch()
	}

	if err := l.doSpawn(ctx, e, true); err != nil {
		l.mu.Lock()
		e.session.State = StateExited
		e.session.ExitCode = intPtr(-1)
		l.mu.Unlock()
		l.persistSnapshot()
		return false, fmt.Errorf("relaunch %s: %w", sessionID, err)
	}
	l.persistSnapshot()
	return true, nil
}

// Kill terminates sessionID's subprocess (SIGTERM, ≤5s grace, SIGKILL) and
// marks it exited with exitCode -1 regardless of the process's real wait
// status (spec.md §4.6 "kill").
func (l *Launcher) Kill(sessionID string) bool {
	l.mu.Lock()
	e, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.killedExplicitly = true
	handle := e.handle
	e.mu.Unlock()

	if handle != nil {
		handle.Kill() // blocks; watchExit observes Exited() and applies state
	} else {
		l.mu.Lock()
		e.session.State = StateExited
		e.session.ExitCode = intPtr(-1)
		e.session.PID = 0
		l.mu.Unlock()
		if l.arbiter != nil {
			l.arbiter.CancelSession(sessionID)
		}
	}
	l.persistSnapshot()
	return true
}

// trashPurgeAge is how long a session stays in the trash before
// RestoreFromDisk discards it for good, matching the teacher's
// claude.Manager.loadFromDisk "auto-purge sessions trashed more than 7 days
// ago" behavior.
const trashPurgeAge = 7 * 24 * time.Hour

// RestoreFromDisk loads the persisted snapshot and probes each recorded pid
// for liveness, per spec.md §4.6 "restoreFromDisk". Backend-A sessions found
// alive are marked starting (the bridge re-attaches when the CLI reconnects
// over its loopback socket); backend-B sessions cannot be re-attached over
// stdio after a restart and are always treated as exited. Sessions trashed
// more than trashPurgeAge ago are dropped instead of restored, and their
// message log is removed via purgeMessages. Returns the count of
// recovered-alive sessions.
func (l *Launcher) RestoreFromDisk() int {
	if l.store == nil {
		return 0
	}
	sessions, err := l.store.LoadSnapshot()
	if err != nil {
		log.Printf("session: restore from disk: %v", err)
		return 0
	}

	recovered, purged := 0, 0
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range sessions {
		if s.TrashedAt != nil && time.Since(*s.TrashedAt) > trashPurgeAge {
			if l.purgeMessages != nil {
				l.purgeMessages(s.SessionID)
			}
			purged++
			continue
		}

		alive := s.PID != 0 && processAlive(s.PID)
		switch {
		case alive && s.BackendKind == BackendClaude:
			s.State = StateStarting
			recovered++
		default:
			if alive {
				log.Printf("session [%s]: backend %s cannot be re-attached across a restart, marking exited", s.SessionID, s.BackendKind)
			}
			s.State = StateExited
			s.PID = 0
			if s.ExitCode == nil {
				s.ExitCode = intPtr(-1)
			}
		}
		l.sessions[s.SessionID] = &entry{session: s}
	}
	if purged > 0 {
		log.Printf("session: purged %d expired trashed sessions", purged)
	}
	return recovered
}

// Archive soft-deletes sessionID (spec.md §3's archived flag plus a
// trashedAt timestamp), killing it first if still alive. Grounded on
// claude.Manager.TrashSession.
func (l *Launcher) Archive(sessionID string) bool {
	l.mu.Lock()
	e, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		return false
	}

	if e.session.IsAlive() {
		l.Kill(sessionID)
	}

	now := time.Now()
	l.mu.Lock()
	e.session.Archived = true
	e.session.TrashedAt = &now
	l.mu.Unlock()
	l.persistSnapshot()
	return true
}

// Restore undoes Archive, clearing archived/trashedAt. Grounded on
// claude.Manager.RestoreSession.
func (l *Launcher) Restore(sessionID string) bool {
	l.mu.Lock()
	e, ok := l.sessions[sessionID]
	if ok {
		e.session.Archived = false
		e.session.TrashedAt = nil
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.persistSnapshot()
	return true
}

// ListTrashed returns every archived session, newest-trashed first.
// Grounded on claude.Manager.ListTrashedSessions.
func (l *Launcher) ListTrashed() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Session, 0)
	for _, e := range l.sessions {
		if e.session.Archived {
			out = append(out, e.session.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].TrashedAt, out[j].TrashedAt
		if ti == nil || tj == nil {
			return ti != nil
		}
		return ti.After(*tj)
	})
	return out
}

// Delete permanently removes sessionID's record (killing it first if still
// alive) and its message log via purgeMessages, if set.
func (l *Launcher) Delete(sessionID string) bool {
	l.mu.Lock()
	e, ok := l.sessions[sessionID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	if e.session.IsAlive() {
		l.Kill(sessionID)
	}
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
	if l.purgeMessages != nil {
		l.purgeMessages(sessionID)
	}
	l.persistSnapshot()
	return true
}

// Shutdown kills every live session in parallel and waits for all of them
// to finish, per spec.md §5's "Relaunch/kill" cancellation model applied at
// server-shutdown scope.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	ids := make([]string, 0, len(l.sessions))
	for id, e := range l.sessions {
		if e.session.IsAlive() {
			ids = append(ids, id)
		}
	}
	l.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			l.Kill(id)
			return nil
		})
	}
	return g.Wait()
}

// AdoptImported registers a Session built by ImportTranscript without
// spawning anything, so it shows up in List/Get and can later be relaunched
// like any other exited session.
func (l *Launcher) AdoptImported(s *Session) {
	l.mu.Lock()
	l.sessions[s.SessionID] = &entry{session: s}
	l.mu.Unlock()
	l.persistSnapshot()
}

// Get returns a snapshot of sessionID's Session record.
func (l *Launcher) Get(sessionID string) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

// List returns a snapshot of every known Session record.
func (l *Launcher) List() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Session, 0, len(l.sessions))
	for _, e := range l.sessions {
		out = append(out, e.session.Clone())
	}
	return out
}

// MarkConnected transitions sessionID to connected, for backend A's driver
// to call once the subprocess dials back over its loopback socket.
func (l *Launcher) MarkConnected(sessionID string) {
	l.mu.Lock()
	if e, ok := l.sessions[sessionID]; ok && e.session.State != StateExited {
		e.session.State = StateConnected
	}
	l.mu.Unlock()
	l.persistSnapshot()
}

// SetCLIInternalID records the subprocess's own conversation id, for a
// driver's onInit callback to call once the handshake yields one.
func (l *Launcher) SetCLIInternalID(sessionID, cliInternalID string) {
	l.mu.Lock()
	if e, ok := l.sessions[sessionID]; ok {
		e.session.CLIInternalID = cliInternalID
	}
	l.mu.Unlock()
	l.persistSnapshot()
}

// EmitEvent lets a driver publish a wire.Event for sessionID through the
// same path launch/kill/relaunch use (e.g. a driver-level error before a
// Session record even exists yet is not expected; this is for steady-state
// adapter events forwarded by the bridge instead of this Launcher).
func (l *Launcher) EmitEvent(sessionID string, e wire.Event) {
	l.emitEvent(sessionID, e)
}

func (l *Launcher) doSpawn(ctx context.Context, e *entry, resume bool) error {
	driver, ok := l.drivers[e.session.BackendKind]
	if !ok {
		return fmt.Errorf("no driver registered for backend %q", e.session.BackendKind)
	}

	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	spawnedAt := time.Now()
	handle, cleanup, err := driver.Spawn(ctx, e.session, resume)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.handle = handle
	e.mu.Unlock()

	l.mu.Lock()
	e.session.PID = handle.PID()
	l.mu.Unlock()

	go l.watchExit(e, handle, resume, spawnedAt, gen, cleanup)
	return nil
}

// watchExit applies a subprocess's terminal state to its Session once it
// exits. gen guards against a stale watcher (from a handle killed for
// relaunch) clobbering the state a newer spawn has already established —
// Relaunch bumps the generation before killing the old handle, so a watcher
// whose captured generation no longer matches knows it lost the race and
// skips every state mutation, event, and persistence write (but still runs
// cleanup, since the old adapter's resources must be released regardless).
func (l *Launcher) watchExit(e *entry, handle *subprocess.Handle, resumed bool, spawnedAt time.Time, gen int, cleanup func()) {
	<-handle.Exited()
	exitCode := handle.ExitCode()
	tail := handle.StderrTail(stderrTailLines)

	e.mu.Lock()
	stale := e.generation != gen
	killedExplicitly := e.killedExplicitly
	e.mu.Unlock()

	if !stale {
		l.mu.Lock()
		e.session.State = StateExited
		e.session.PID = 0
		if killedExplicitly {
			e.session.ExitCode = intPtr(-1)
		} else {
			e.session.ExitCode = intPtr(exitCode)
			result := l.analyzer.Classify(exitCode, tail)
			if result.Reason != crashes.ReasonNone {
				e.session.LastCrashReason = result.Summary()
			}
			if resumed && e.session.CLIInternalID != "" && time.Since(spawnedAt) < crashLoopGraceWindow {
				e.session.CLIInternalID = ""
			}
		}
		l.mu.Unlock()
	}

	if cleanup != nil {
		cleanup()
	}

	if stale {
		return
	}

	if l.arbiter != nil {
		l.arbiter.CancelSession(e.session.SessionID)
	}
	l.emitEvent(e.session.SessionID, wire.Event{Type: wire.TypeCLIDisconnected, Status: "exited"})
	l.persistSnapshot()
}

func (l *Launcher) injectWorktreeGuardrails(s *Session, parentBranch string) {
	if s.WorktreeMetadata == nil || !s.WorktreeMetadata.IsWorktree {
		return
	}
	info := worktree.GuardrailsInfo{
		RepoRoot:        s.WorktreeMetadata.RepoRoot,
		MainRepoPath:    s.WorktreeMetadata.RepoRoot,
		RequestedBranch: s.WorktreeMetadata.RequestedBranch,
		ActualBranch:    s.WorktreeMetadata.ActualBranch,
		ParentBranch:    parentBranch,
	}
	if err := worktree.InjectGuardrails(s.WorkingDirectory, info); err != nil {
		log.Printf("session [%s]: inject worktree guardrails: %v", s.SessionID, err)
	}
}

func (l *Launcher) persistSnapshot() {
	if l.store == nil {
		return
	}
	l.mu.Lock()
	sessions := make([]*Session, 0, len(l.sessions))
	for _, e := range l.sessions {
		sessions = append(sessions, e.session)
	}
	l.mu.Unlock()
	l.store.SaveSnapshot(sessions)
}

func (l *Launcher) emitEvent(sessionID string, e wire.Event) {
	if l.emit != nil {
		l.emit(sessionID, e)
	}
}

func (l *Launcher) emitError(sessionID, msg string) {
	l.emitEvent(sessionID, wire.Event{Type: wire.TypeError, Error: msg})
}

func processAlive(pid int) bool {
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}

func intPtr(i int) *int { return &i }
