package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/internal/daemon/broadcast"
	"github.com/grovetools/agentwatch/internal/daemon/server"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

// RemoteClient implements Client by calling the daemon's HTTP API.
type RemoteClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewRemoteClient creates a client for the daemon listening on addr
// (host:port).
func NewRemoteClient(addr string) *RemoteClient {
	transport := &http.Transport{
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &RemoteClient{
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		baseURL:    "http://" + addr,
	}
}

// do sends a JSON request and decodes a JSON response into out, which may
// be nil. Error bodies are decoded back into *errors.AgentError.
func (c *RemoteClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var agentErr errors.AgentError
		if err := json.NewDecoder(resp.Body).Decode(&agentErr); err == nil && agentErr.Code != "" {
			return &agentErr
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *RemoteClient) ListSessions(ctx context.Context, all bool) ([]*sessions.Record, error) {
	path := "/api/sessions"
	if all {
		path += "?all=1"
	}
	var records []*sessions.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *RemoteClient) GetSession(ctx context.Context, id string) (*sessions.Record, error) {
	var rec sessions.Record
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *RemoteClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*sessions.Record, error) {
	var rec sessions.Record
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *RemoteClient) KillSession(ctx context.Context, id string, wholeSession bool) error {
	path := "/api/sessions/" + url.PathEscape(id)
	if wholeSession {
		path += "?scope=session"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *RemoteClient) SendKeys(ctx context.Context, id string, req KeysRequest) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/keys", req, nil)
}

func (c *RemoteClient) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *RemoteClient) GetConfig(ctx context.Context) (*server.RunningConfig, error) {
	var cfg server.RunningConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RemoteClient) StartBatch(ctx context.Context, req batch.StartRequest) (*batch.Run, error) {
	return c.batchCall(ctx, http.MethodPost, "/api/batch", req)
}

func (c *RemoteClient) ListBatches(ctx context.Context) ([]batch.Run, error) {
	var runs []batch.Run
	if err := c.do(ctx, http.MethodGet, "/api/batch", nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *RemoteClient) GetBatch(ctx context.Context, id string) (*batch.Run, error) {
	return c.batchCall(ctx, http.MethodGet, "/api/batch/"+url.PathEscape(id), nil)
}

func (c *RemoteClient) PauseBatch(ctx context.Context, id string) (*batch.Run, error) {
	return c.batchCall(ctx, http.MethodPost, "/api/batch/"+url.PathEscape(id)+"/pause", nil)
}

func (c *RemoteClient) ResumeBatch(ctx context.Context, id string) (*batch.Run, error) {
	return c.batchCall(ctx, http.MethodPost, "/api/batch/"+url.PathEscape(id)+"/resume", nil)
}

func (c *RemoteClient) StopBatch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/batch/"+url.PathEscape(id), nil, nil)
}

func (c *RemoteClient) batchCall(ctx context.Context, method, path string, body interface{}) (*batch.Run, error) {
	var run batch.Run
	if err := c.do(ctx, method, path, body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// StreamSessions dials /ws/sessions and forwards every sessions message.
func (c *RemoteClient) StreamSessions(ctx context.Context) (<-chan broadcast.SessionsPayload, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/sessions"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}

	ch := make(chan broadcast.SessionsPayload, 10)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var payload broadcast.SessionsPayload
			if err := json.Unmarshal(data, &payload); err != nil || payload.Type != "sessions" {
				continue // Skip pongs and malformed data
			}
			select {
			case ch <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
