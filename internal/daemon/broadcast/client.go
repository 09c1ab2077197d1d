// Package broadcast fans session, terminal and tracker state out to
// websocket observers. Each channel owns bounded client pools with
// admission control and drops clients that fall behind.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grovetools/agentwatch/errors"
)

// Close codes and reasons sent to observers.
const (
	CloseTryAgainLater = websocket.CloseTryAgainLater
	CloseGoingAway     = websocket.CloseGoingAway
	ReasonClientLimit  = "client limit reached"
	ReasonSlowClient   = "client too slow"
	ReasonShutdown     = "server shutting down"
)

const (
	writeWait    = 10 * time.Second
	sendQueueLen = 256
)

// Client is one connected observer.
type Client interface {
	Send(text string) error
	IsOpen() bool
	Close(code int, reason string)
}

// Buffered is implemented by clients that can report how many bytes are
// queued but not yet written.
type Buffered interface {
	BufferedAmount() int
}

// Conn is the subset of *websocket.Conn used by WSClient.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSClient adapts a websocket connection. Sends are queued and written by
// a dedicated goroutine so a stalled peer never blocks a broadcast.
type WSClient struct {
	conn Conn

	mu       sync.Mutex
	open     bool
	buffered int
	queue    chan []byte
	done     chan struct{}
}

func NewWSClient(conn Conn) *WSClient {
	c := &WSClient{
		conn:  conn,
		open:  true,
		queue: make(chan []byte, sendQueueLen),
		done:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *WSClient) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errors.New(errors.ErrCodeInternal, "client closed")
	}
	select {
	case c.queue <- []byte(text):
		c.buffered += len(text)
		return nil
	default:
		return errors.New(errors.ErrCodeInternal, "send queue full")
	}
}

func (c *WSClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *WSClient) BufferedAmount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// Close sends a close frame and tears the connection down. It is safe to
// call more than once.
func (c *WSClient) Close(code int, reason string) {
	if !c.markClosed() {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// abort drops a connection whose writes already fail. No close frame is
// attempted; the peer observes the dropped connection as 1006.
func (c *WSClient) abort() {
	if c.markClosed() {
		_ = c.conn.Close()
	}
}

func (c *WSClient) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.open = false
	close(c.done)
	return true
}

// ReadLoop reads until the peer goes away, handing each text message to
// handle. The client is marked closed when it returns.
func (c *WSClient) ReadLoop(handle func(data []byte)) {
	defer c.Close(websocket.CloseNormalClosure, "")
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if handle != nil {
			handle(data)
		}
	}
}

func (c *WSClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, msg)
			c.mu.Lock()
			c.buffered -= len(msg)
			c.mu.Unlock()
			if err != nil {
				c.abort()
				return
			}
		}
	}
}

// ControlMessage is an inbound message from an observer.
type ControlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// ParseControl decodes an inbound message. Unknown input yields a zero
// message.
func ParseControl(data []byte) ControlMessage {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}
	}
	return msg
}

const pongMessage = `{"type":"pong"}`

// answerPing replies to keep-alives and reports whether msg was one.
func answerPing(c Client, msg ControlMessage) bool {
	if msg.Type != "ping" {
		return false
	}
	_ = c.Send(pongMessage)
	return true
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
