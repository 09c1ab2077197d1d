// Package server provides the HTTP and websocket surface of the agentwatch
// daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/internal/daemon/broadcast"
	"github.com/grovetools/agentwatch/pkg/sessions"
	"github.com/grovetools/agentwatch/pkg/tmux"
)

// RunningConfig is exposed via /api/config so clients can see what the
// daemon is actually using.
type RunningConfig struct {
	Addr                 string        `json:"addr"`
	SessionsDir          string        `json:"sessions_dir"`
	ResyncInterval       time.Duration `json:"resync_interval"`
	TerminalPollInterval time.Duration `json:"terminal_poll_interval"`
	StaleSweepInterval   time.Duration `json:"stale_sweep_interval"`
	StartedAt            time.Time     `json:"started_at"`
}

// Deps are the components the server exposes.
type Deps struct {
	Store    *sessions.Store
	Tmux     *tmux.Client
	Sessions *broadcast.SessionsManager
	Terminal *broadcast.TerminalManager
	Beads    *broadcast.BeadsManager
	Batch    *batch.Orchestrator
	Running  *RunningConfig
}

type Server struct {
	deps     Deps
	logger   *logrus.Entry
	upgrader websocket.Upgrader
	server   *http.Server
}

func New(deps Deps, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16 * 1024,
			// Observers are local dashboards served from other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler, accepting cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /ws/sessions", s.handleSessionsWS)
	mux.HandleFunc("GET /ws/terminal/{target}", s.handleTerminalWS)
	mux.HandleFunc("GET /ws/beads", s.handleBeadsWS)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleKillSession)
	mux.HandleFunc("POST /api/sessions/{id}/keys", s.handleSendKeys)
	mux.HandleFunc("POST /api/sessions/{id}/link", s.handleLink)

	mux.HandleFunc("GET /api/terminal/{target}/blocks", s.handleBlocks)
	mux.HandleFunc("POST /api/parse", s.handleParse)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)

	mux.HandleFunc("GET /api/batch", s.handleListBatches)
	mux.HandleFunc("POST /api/batch", s.handleStartBatch)
	mux.HandleFunc("GET /api/batch/{id}", s.handleGetBatch)
	mux.HandleFunc("POST /api/batch/{id}/pause", s.handlePauseBatch)
	mux.HandleFunc("POST /api/batch/{id}/resume", s.handleResumeBatch)
	mux.HandleFunc("DELETE /api/batch/{id}", s.handleStopBatch)

	return h2c.NewHandler(mux, &http2.Server{})
}

// ListenAndServe serves on addr and blocks until the server stops.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", listener.Addr().String()).Info("Daemon listening")
	err := s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes observer connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.deps.Sessions.Close()
	s.deps.Terminal.Close()
	s.deps.Beads.Close()
	s.deps.Batch.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps error codes to HTTP statuses. Errors without a code are
// internal.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(errors.GetCode(err))
	if status >= 500 {
		s.logger.WithError(err).Error("Request failed")
	}
	var agentErr *errors.AgentError
	if e, ok := err.(*errors.AgentError); ok {
		agentErr = e
	} else {
		agentErr = errors.Wrap(err, errors.ErrCodeInternal, err.Error())
	}
	writeJSON(w, status, agentErr)
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeSessionNotFound, errors.ErrCodeBatchNotFound:
		return http.StatusNotFound
	case errors.ErrCodeBatchConflict, errors.ErrCodeBatchState:
		return http.StatusConflict
	case errors.ErrCodeClientLimit:
		return http.StatusServiceUnavailable
	case errors.ErrCodeCommandFailed, errors.ErrCodeCommandTimeout, errors.ErrCodeCommandNotFound:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
