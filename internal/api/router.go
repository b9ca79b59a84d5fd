// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/groupsio/clibridge/internal/api/handlers"
	"github.com/groupsio/clibridge/internal/api/middleware"
	"github.com/groupsio/clibridge/internal/api/version"
	"github.com/groupsio/clibridge/internal/events"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	SessionH *handlers.SessionHandler
	EventBus events.EventBus
}

// NewRouter creates a new API router, wiring session CRUD, the two
// WebSocket endpoints spec.md §6 names, and the ambient event bus viewer.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	sessionH := deps.SessionH
	api.HandleFunc("/sessions", sessionH.List).Methods("GET")
	api.HandleFunc("/sessions", sessionH.Create).Methods("POST")
	api.HandleFunc("/sessions/trash", sessionH.ListTrashed).Methods("GET")
	api.HandleFunc("/sessions/import", sessionH.Import).Methods("POST")
	api.HandleFunc("/sessions/{session}", sessionH.Get).Methods("GET")
	api.HandleFunc("/sessions/{session}", sessionH.Archive).Methods("DELETE")
	api.HandleFunc("/sessions/{session}/permanent", sessionH.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{session}/restore", sessionH.Restore).Methods("POST")
	api.HandleFunc("/sessions/{session}/relaunch", sessionH.Relaunch).Methods("POST")
	api.HandleFunc("/sessions/{session}/kill", sessionH.Kill).Methods("POST")
	api.HandleFunc("/sessions/{session}/export", sessionH.Export).Methods("GET")

	// The two WebSocket endpoints spec.md §6 names, at the server root (not
	// under /api/v1): claudecli.BuildArgv points --sdk-url at /ws/cli/<id>.
	r.HandleFunc("/ws/browser/{session}", sessionH.BrowserWebSocket).Methods("GET")
	r.HandleFunc("/ws/cli/{session}", sessionH.CLIWebSocket).Methods("GET")

	// Ambient event bus (server lifecycle / worktree / binary-watch events,
	// distinct from the per-session wire protocol the Bridge carries).
	if deps.EventBus != nil {
		eventHandler := handlers.NewEventHandler(deps.EventBus)
		api.HandleFunc("/events", eventHandler.History).Methods("GET")
		api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")
	}

	// Debug/profiling endpoints.
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. If TLS is configured (tls_cert and
// tls_key), uses HTTPS; if either cert/key file doesn't exist,
// CheckTLSConfig returns an error and the server does not start.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
