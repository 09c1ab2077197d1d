package daemon

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/batch"
	"github.com/grovetools/agentwatch/internal/daemon/broadcast"
	"github.com/grovetools/agentwatch/internal/daemon/server"
	"github.com/grovetools/agentwatch/pkg/sessions"
)

// ErrCodeDaemonDown marks operations that need a running daemon.
const ErrCodeDaemonDown errors.ErrorCode = "DAEMON_NOT_RUNNING"

// LocalClient implements Client by reading the session store directly.
// It is used when the daemon is not running: reads work the same way,
// everything else reports that the daemon is down.
type LocalClient struct {
	store *sessions.Store
}

// NewLocalClient creates a LocalClient over the records in dir.
func NewLocalClient(dir string) *LocalClient {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return &LocalClient{store: sessions.NewStore(dir, logrus.NewEntry(logger))}
}

func daemonDown(op string) error {
	return errors.New(ErrCodeDaemonDown, op+" requires the daemon; start it with 'agentwatch serve'")
}

func (c *LocalClient) ListSessions(ctx context.Context, all bool) ([]*sessions.Record, error) {
	records, err := c.store.ListAll()
	if err != nil {
		return nil, err
	}
	if !all {
		records = sessions.Dedup(records)
	}
	return records, nil
}

func (c *LocalClient) GetSession(ctx context.Context, id string) (*sessions.Record, error) {
	rec, err := c.store.Get(id)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	if rec == nil {
		return nil, errors.SessionNotFound(id)
	}
	return rec, nil
}

func (c *LocalClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*sessions.Record, error) {
	return nil, daemonDown("creating a session")
}

func (c *LocalClient) KillSession(ctx context.Context, id string, wholeSession bool) error {
	return daemonDown("killing a session")
}

func (c *LocalClient) SendKeys(ctx context.Context, id string, req KeysRequest) error {
	return daemonDown("sending keys")
}

func (c *LocalClient) Stats(ctx context.Context) (*Stats, error) {
	return nil, daemonDown("stats")
}

func (c *LocalClient) GetConfig(ctx context.Context) (*server.RunningConfig, error) {
	return nil, daemonDown("the running config")
}

func (c *LocalClient) StartBatch(ctx context.Context, req batch.StartRequest) (*batch.Run, error) {
	return nil, daemonDown("batch runs")
}

// ListBatches is empty: runs only exist inside a daemon.
func (c *LocalClient) ListBatches(ctx context.Context) ([]batch.Run, error) {
	return []batch.Run{}, nil
}

func (c *LocalClient) GetBatch(ctx context.Context, id string) (*batch.Run, error) {
	return nil, errors.BatchNotFound(id)
}

func (c *LocalClient) PauseBatch(ctx context.Context, id string) (*batch.Run, error) {
	return nil, errors.BatchNotFound(id)
}

func (c *LocalClient) ResumeBatch(ctx context.Context, id string) (*batch.Run, error) {
	return nil, errors.BatchNotFound(id)
}

func (c *LocalClient) StopBatch(ctx context.Context, id string) error {
	return errors.BatchNotFound(id)
}

func (c *LocalClient) StreamSessions(ctx context.Context) (<-chan broadcast.SessionsPayload, error) {
	return nil, daemonDown("streaming")
}

// IsRunning returns false since this is the local fallback client.
func (c *LocalClient) IsRunning() bool {
	return false
}

// Close is a no-op for LocalClient.
func (c *LocalClient) Close() error {
	return nil
}

// Ensure LocalClient implements Client interface.
var _ Client = (*LocalClient)(nil)
