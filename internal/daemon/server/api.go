package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/internal/daemon/broadcast"
	"github.com/grovetools/agentwatch/pkg/sessions"
	"github.com/grovetools/agentwatch/pkg/termparse"
	"github.com/grovetools/agentwatch/pkg/tmux"
)

// namedKeys maps the key names accepted by the keys endpoint to tmux keys.
var namedKeys = map[string]string{
	"cancel":    "Escape",
	"interrupt": "C-c",
	"enter":     "Enter",
	"tab":       "Tab",
	"up":        "Up",
	"down":      "Down",
	"shift-tab": "BTab",
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Store.ListAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("all") == "" {
		records = sessions.Dedup(records)
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lookup(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) lookup(id string) (*sessions.Record, error) {
	rec, err := s.deps.Store.Get(id)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	if rec == nil {
		return nil, errors.SessionNotFound(id)
	}
	return rec, nil
}

type createSessionRequest struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name"`
	Cwd      string            `json:"cwd"`
	Command  string            `json:"command,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	LinkedTo string            `json:"linked_to,omitempty"`
}

// handleCreateSession starts a tmux session and records a placeholder
// bound to its pane. The agent's own session-start hook later replaces
// the placeholder through stale-pane cleanup.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, errors.InvalidInput("name is required"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	target, err := s.deps.Tmux.NewSession(r.Context(), tmux.NewSessionOptions{
		Name:    req.Name,
		Cwd:     req.Cwd,
		Command: req.Command,
		Env:     req.Env,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	pid, idle := 0, sessions.StateIdle
	in := sessions.Input{ID: req.ID, Patch: sessions.Patch{
		PID:        &pid,
		Cwd:        &req.Cwd,
		TmuxTarget: &target,
		State:      &idle,
	}}
	if err := s.deps.Store.Upsert(in); err != nil {
		s.writeError(w, err)
		return
	}
	if req.LinkedTo != "" {
		if err := s.deps.Store.Link(req.ID, req.LinkedTo); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.logger.WithField("session", req.ID).WithField("target", target).Info("Created session")

	rec, err := s.lookup(req.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleKillSession kills the session's pane, or its whole tmux session
// with ?scope=session, then deletes the record.
func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lookup(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if target := rec.Target(); target != "" {
		if r.URL.Query().Get("scope") == "session" {
			name, _, _ := strings.Cut(target, ":")
			err = s.deps.Tmux.KillSession(r.Context(), name)
		} else {
			err = s.deps.Tmux.KillPane(r.Context(), target)
		}
		if err != nil {
			// The pane may already be gone; the record goes regardless.
			s.logger.WithError(err).WithField("session", rec.ID).Debug("Kill failed")
		}
	}
	if err := s.deps.Store.Delete(rec.ID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type keysRequest struct {
	Text  string `json:"text,omitempty"`
	Enter bool   `json:"enter,omitempty"`
	Key   string `json:"key,omitempty"`
}

func (s *Server) handleSendKeys(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lookup(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	target := rec.Target()
	if target == "" {
		s.writeError(w, errors.InvalidInput("session has no pane"))
		return
	}
	var req keysRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	switch {
	case req.Key != "":
		key, ok := namedKeys[req.Key]
		if !ok {
			s.writeError(w, errors.InvalidInput("unknown key "+req.Key))
			return
		}
		err = s.deps.Tmux.SendKeys(r.Context(), target, key)
	case req.Text != "" || req.Enter:
		err = s.deps.Tmux.SendText(r.Context(), target, req.Text, req.Enter)
	default:
		s.writeError(w, errors.InvalidInput("text or key is required"))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type linkRequest struct {
	LinkedTo string `json:"linked_to"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req linkRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Store.Link(id, req.LinkedTo); err != nil {
		s.writeError(w, errors.InvalidInput(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Store.Links())
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	blocks, ok := s.deps.Terminal.Blocks(r.Context(), target)
	if !ok {
		s.writeError(w, errors.New(errors.ErrCodeSessionNotFound, "pane not available").WithDetail("target", target))
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// handleParse classifies the raw request body.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		s.writeError(w, errors.InvalidInput(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, termparse.Parse(string(data)))
}

type statsResponse struct {
	Sessions broadcast.Stats `json:"sessions"`
	Terminal broadcast.Stats `json:"terminal"`
	Beads    broadcast.Stats `json:"beads"`
	Targets  []string        `json:"terminal_targets"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Sessions: s.deps.Sessions.Stats(),
		Terminal: s.deps.Terminal.Stats(),
		Beads:    s.deps.Beads.Stats(),
		Targets:  s.deps.Terminal.Targets(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Running == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Running)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Batch.List())
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.StartRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	// The pane can be derived from the session record.
	if req.PaneTarget == "" && req.SessionID != "" {
		if rec, err := s.deps.Store.Get(req.SessionID); err == nil && rec != nil {
			req.PaneTarget = rec.Target()
		}
	}
	run, err := s.deps.Batch.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Batch.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handlePauseBatch(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Batch.Pause(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleResumeBatch(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Batch.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStopBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Batch.Stop(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
