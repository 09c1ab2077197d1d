package server

import (
	"net/http"

	"github.com/grovetools/agentwatch/internal/daemon/broadcast"
)

// upgrade switches the request to a websocket wrapped as a broadcast
// client. The HTTP error has already been written when it returns nil.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) *broadcast.WSClient {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Websocket upgrade failed")
		return nil
	}
	return broadcast.NewWSClient(conn)
}

func (s *Server) handleSessionsWS(w http.ResponseWriter, r *http.Request) {
	client := s.upgrade(w, r)
	if client == nil {
		return
	}
	if err := s.deps.Sessions.Connect(client); err != nil {
		// Rejected clients were already closed with a reason.
		return
	}
	defer s.deps.Sessions.Disconnect(client)
	client.ReadLoop(func(data []byte) { s.deps.Sessions.Handle(client, data) })
}

func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	client := s.upgrade(w, r)
	if client == nil {
		return
	}
	if err := s.deps.Terminal.Connect(target, client); err != nil {
		client.Close(broadcast.CloseTryAgainLater, err.Error())
		return
	}
	defer s.deps.Terminal.Disconnect(target, client)
	client.ReadLoop(func(data []byte) { s.deps.Terminal.Handle(target, client, data) })
}

func (s *Server) handleBeadsWS(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		http.Error(w, "project query parameter is required", http.StatusBadRequest)
		return
	}
	client := s.upgrade(w, r)
	if client == nil {
		return
	}
	if err := s.deps.Beads.Connect(project, client); err != nil {
		client.Close(broadcast.CloseTryAgainLater, err.Error())
		return
	}
	defer s.deps.Beads.Disconnect(project, client)
	client.ReadLoop(func(data []byte) { s.deps.Beads.Handle(client, data) })
}
