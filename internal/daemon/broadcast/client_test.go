package broadcast

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveWS upgrades one connection and hands the wrapped client to fn.
func serveWS(t *testing.T, fn func(c *WSClient)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewWSClient(conn)
		fn(c)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSClientSendAndPing(t *testing.T) {
	conn := serveWS(t, func(c *WSClient) {
		assert.NoError(t, c.Send(`{"type":"hello"}`))
		c.ReadLoop(func(data []byte) {
			answerPing(c, ParseControl(data))
		})
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"hello"}`, string(msg))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, pongMessage, string(msg))
}

func TestWSClientRejectedWithCloseCode(t *testing.T) {
	pool := NewPool("test", 1, 0, nil)
	pool.Admit(newFakeClient())

	conn := serveWS(t, func(c *WSClient) {
		pool.Admit(c)
		assert.False(t, c.IsOpen())
		assert.Error(t, c.Send("late"))
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	assert.Equal(t, ReasonClientLimit, closeErr.Text)
}

// brokenConn fails every data write and records control frames.
type brokenConn struct {
	mu       sync.Mutex
	controls []int
	closed   chan struct{}
	once     sync.Once
}

func (b *brokenConn) WriteMessage(int, []byte) error { return io.ErrClosedPipe }

func (b *brokenConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controls = append(b.controls, messageType)
	return nil
}

func (b *brokenConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }

func (b *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (b *brokenConn) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestWSClientWriteFailureDropsWithoutCloseFrame(t *testing.T) {
	conn := &brokenConn{closed: make(chan struct{})}
	c := NewWSClient(conn)
	require.NoError(t, c.Send("lost"))

	select {
	case <-conn.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed after a failed write")
	}
	assert.False(t, c.IsOpen())

	c.Close(CloseGoingAway, ReasonShutdown)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Empty(t, conn.controls, "no close frame on a broken connection")
}
