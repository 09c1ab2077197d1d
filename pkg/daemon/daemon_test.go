package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

func newRemote(t *testing.T, mux *http.ServeMux) *RemoteClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewRemoteClient(strings.TrimPrefix(srv.URL, "http://"))
	t.Cleanup(func() { c.Close() })
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestRemoteClientSessions(t *testing.T) {
	mux := http.NewServeMux()
	var gotAll string
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		gotAll = r.URL.Query().Get("all")
		writeJSON(w, http.StatusOK, []sessions.Record{{ID: "a", State: sessions.StateBusy}})
	})
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errors.SessionNotFound(r.PathValue("id")))
	})
	var keys KeysRequest
	mux.HandleFunc("POST /api/sessions/{id}/keys", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&keys)
		w.WriteHeader(http.StatusNoContent)
	})
	var scope string
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		scope = r.URL.Query().Get("scope")
		w.WriteHeader(http.StatusNoContent)
	})
	c := newRemote(t, mux)
	ctx := context.Background()

	records, err := c.ListSessions(ctx, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "1", gotAll)

	_, err = c.GetSession(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))

	require.NoError(t, c.SendKeys(ctx, "a", KeysRequest{Key: "interrupt"}))
	assert.Equal(t, "interrupt", keys.Key)

	require.NoError(t, c.KillSession(ctx, "a", true))
	assert.Equal(t, "session", scope)
}

func TestRemoteClientBatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/batch", func(w http.ResponseWriter, r *http.Request) {
		var req batch.StartRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusCreated, batch.Run{ID: "run-1", SessionID: req.SessionID, Status: batch.StatusRunning})
	})
	mux.HandleFunc("POST /api/batch/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, errors.BatchState(r.PathValue("id"), "paused", "pause"))
	})
	mux.HandleFunc("GET /api/batch", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []batch.Run{{ID: "run-1"}})
	})
	mux.HandleFunc("DELETE /api/batch/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := newRemote(t, mux)
	ctx := context.Background()

	run, err := c.StartBatch(ctx, batch.StartRequest{SessionID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, batch.StatusRunning, run.Status)

	_, err = c.PauseBatch(ctx, "run-1")
	assert.True(t, errors.Is(err, errors.ErrCodeBatchState))

	runs, err := c.ListBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	err = c.StopBatch(ctx, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestRemoteClientStreamSessions(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/sessions", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"sessions","sessions":[],"count":0}`))
		conn.ReadMessage()
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := newRemote(t, mux)
	assert.True(t, c.IsRunning())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.StreamSessions(ctx)
	require.NoError(t, err)

	select {
	case payload := <-ch:
		assert.Equal(t, "sessions", payload.Type)
		assert.Equal(t, 0, payload.Count)
	case <-time.After(5 * time.Second):
		t.Fatal("no sessions message")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLocalClient(t *testing.T) {
	dir := t.TempDir()
	store := sessions.NewStore(dir, nil)
	pid, target, state := 1, "work:0.0", sessions.StateIdle
	require.NoError(t, store.Upsert(sessions.Input{ID: "a", Patch: sessions.Patch{PID: &pid, TmuxTarget: &target, State: &state}}))

	c := NewLocalClient(dir)
	ctx := context.Background()
	assert.False(t, c.IsRunning())

	records, err := c.ListSessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec, err := c.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "work:0.0", rec.Target())

	_, err = c.GetSession(ctx, "ghost")
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))

	tests := []struct {
		name string
		call func() error
		code errors.ErrorCode
	}{
		{"send keys", func() error { return c.SendKeys(ctx, "a", KeysRequest{Text: "x"}) }, ErrCodeDaemonDown},
		{"kill", func() error { return c.KillSession(ctx, "a", false) }, ErrCodeDaemonDown},
		{"start batch", func() error { _, err := c.StartBatch(ctx, batch.StartRequest{}); return err }, ErrCodeDaemonDown},
		{"stop batch", func() error { return c.StopBatch(ctx, "r") }, errors.ErrCodeBatchNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.call(), tt.code))
		})
	}
}

func TestNewFallsBackToLocal(t *testing.T) {
	// Port 1 on loopback refuses connections.
	c := New("127.0.0.1:1", t.TempDir())
	_, ok := c.(*LocalClient)
	assert.True(t, ok)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c = New(strings.TrimPrefix(srv.URL, "http://"), t.TempDir())
	_, ok = c.(*RemoteClient)
	assert.True(t, ok)
}
