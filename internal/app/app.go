// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/groupsio/clibridge/internal/adapter/claudecli"
	"github.com/groupsio/clibridge/internal/adapter/codex"
	"github.com/groupsio/clibridge/internal/api"
	"github.com/groupsio/clibridge/internal/api/handlers"
	"github.com/groupsio/clibridge/internal/bridge"
	"github.com/groupsio/clibridge/internal/config"
	"github.com/groupsio/clibridge/internal/events"
	"github.com/groupsio/clibridge/internal/permission"
	"github.com/groupsio/clibridge/internal/persist"
	"github.com/groupsio/clibridge/internal/session"
	"github.com/groupsio/clibridge/internal/watcher"
	"github.com/groupsio/clibridge/internal/wire"
	"github.com/groupsio/clibridge/internal/worktree"
)

// App is the main application container: it owns every long-lived
// component (event bus, worktree manager, permission arbiter, backend
// drivers, session Launcher, browser Bridge, binary watcher, API server)
// and their startup/shutdown order, grounded on the teacher's App struct
// and New/Initialize/Run/Shutdown lifecycle.
type App struct {
	configPath string
	version    string
	config     *config.Config

	eventBus        events.EventBus
	worktreeManager worktree.Manager
	store           *persist.Store
	arbiter         *permission.Arbiter
	claudeDriver    *claudecli.Driver
	codexDriver     *codex.Driver
	launcher        *session.Launcher
	hub             *bridge.Hub
	binaryWatcher   *watcher.BinaryWatcher
	apiServer       *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance and loads its configuration. Nothing is
// started yet; call Initialize then Run.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	app.config = cfg

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	return app, nil
}

// Initialize wires every component together: persistence, worktree
// discovery, the permission arbiter, both backend drivers, the session
// Launcher, the browser Bridge, the binary watcher, and the HTTP/WS server.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	repoDir := cfg.Worktree.RepoDir
	if repoDir == "" && app.configPath != "" {
		if abs, err := filepath.Abs(app.configPath); err == nil {
			repoDir = filepath.Dir(abs)
		}
	}

	gitExecutor := worktree.NewRealGitExecutor()
	app.worktreeManager = worktree.NewManager(gitExecutor, repoDir, cfg.Project.Name)
	if err := app.worktreeManager.Refresh(); err != nil {
		log.Printf("Warning: failed to refresh worktrees: %v", err)
	}

	stateDir := cfg.State.Dir
	if stateDir == "" {
		stateDir = ".bridge/state"
	}
	app.store = persist.New(stateDir)

	app.arbiter = permission.New()

	// Both drivers need Launcher callbacks, but Launcher needs the drivers
	// map at construction. Build the drivers first with their callbacks
	// unset, hand them to NewLauncher, then fill in the callback fields —
	// both Driver types are plain structs held by pointer, so mutating
	// their fields after the map is built still reaches the same instance.
	app.claudeDriver = &claudecli.Driver{
		Binary:  cfg.Backends.Claude.Binary,
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Arbiter: app.arbiter,
	}
	app.codexDriver = &codex.Driver{
		Binary:  cfg.Backends.Codex.Binary,
		Arbiter: app.arbiter,
	}

	// The Hub needs the Launcher (for its snapshot func) and the Launcher
	// needs the Hub (to publish adapter events onto the per-session ring),
	// so emit forwards through a closure filled in once both exist.
	var hub *bridge.Hub
	emit := func(sessionID string, e wire.Event) {
		if hub != nil {
			hub.Publish(sessionID, e)
		}
	}

	app.launcher = session.NewLauncher(app.store, app.arbiter, map[session.BackendKind]session.BackendDriver{
		session.BackendClaude: app.claudeDriver,
		session.BackendCodex:  app.codexDriver,
	}, emit)
	app.launcher.SetPurgeMessages(app.store.DeleteMessages)

	app.claudeDriver.OnEvent = app.launcher.EmitEvent
	app.claudeDriver.OnConnState = func(sessionID string, connected bool) {
		if connected {
			app.launcher.MarkConnected(sessionID)
		}
	}
	app.claudeDriver.OnInit = app.launcher.SetCLIInternalID

	app.codexDriver.OnEvent = app.launcher.EmitEvent
	app.codexDriver.OnThreadReady = app.launcher.SetCLIInternalID
	app.codexDriver.OnInitFailed = func(sessionID string) {
		log.Printf("session [%s]: backend B handshake failed", sessionID)
	}

	recovered := app.launcher.RestoreFromDisk()
	log.Printf("Recovered %d live session(s) across restart", recovered)

	app.hub = bridge.NewHub(cfg.Ring.Capacity,
		handlers.AdapterLookup(app.claudeDriver, app.codexDriver),
		handlers.SnapshotFunc(app.launcher))
	hub = app.hub

	debounce := config.ParseDuration(cfg.Watch.Debounce, 100*time.Millisecond)
	bw, err := watcher.NewBinaryWatcher(app.eventBus, debounce)
	if err != nil {
		log.Printf("Warning: failed to start binary watcher: %v", err)
	} else {
		app.binaryWatcher = bw
		app.watchBackendBinaries()
	}

	sessionHandler := handlers.NewSessionHandler(app.launcher, app.hub, app.store, app.worktreeManager, app.claudeDriver)
	app.apiServer = api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		SessionH: sessionHandler,
		EventBus: app.eventBus,
	})

	return nil
}

// watchBackendBinaries arms the binary-change watch (spec.md §NEW-4.11) for
// whichever backend binaries actually resolve on this host.
func (app *App) watchBackendBinaries() {
	for _, binary := range []string{app.config.Backends.Claude.Binary, app.config.Backends.Codex.Binary} {
		if binary == "" {
			continue
		}
		if err := app.binaryWatcher.Watch(binary, []string{binary}); err != nil {
			log.Printf("binary watch: %v", err)
		}
	}
}

// Start brings the API server up without blocking.
func (app *App) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// Run starts the app and blocks until a shutdown signal arrives or Stop is
// called.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Println("Received shutdown signal, shutting down...")
	case <-app.done:
		log.Println("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully tears down every component, killing every live
// session first (spec.md §5's cancellation model applied at server scope).
func (app *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.launcher != nil {
		if err := app.launcher.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error killing live sessions: %v", err)
		}
	}
	if app.binaryWatcher != nil {
		app.binaryWatcher.Close()
	}
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
