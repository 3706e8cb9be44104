package transport

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlorchat/parlor/internal/session"
)

// writeWait bounds any single websocket write, data or control.
const writeWait = 10 * time.Second

// readLimit caps one inbound message. Room for a few max-size frames;
// anything larger fails the connection before it can balloon memory.
const readLimit = 256 << 10

// WebSocket carries the protocol over one upgraded connection. Liveness
// uses ws-level ping/pong rather than newline probes: the ping loop
// sends every heartbeat interval, and a peer silent past the idle window
// fails the pending read.
type WebSocket struct {
	conn      *websocket.Conn
	heartbeat time.Duration
	idle      time.Duration

	reader io.Reader // current inbound message

	once   sync.Once
	closed chan struct{}
}

func NewWebSocket(conn *websocket.Conn, heartbeat, idle time.Duration) *WebSocket {
	c := &WebSocket{
		conn:      conn,
		heartbeat: heartbeat,
		idle:      idle,
		closed:    make(chan struct{}),
	}
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	go c.pingLoop()
	return c
}

func (c *WebSocket) Kind() session.Kind    { return session.KindWebSocket }
func (c *WebSocket) Done() <-chan struct{} { return c.closed }

// Read streams the bytes of successive inbound messages, so frames may
// arrive one per message or split across several.
func (c *WebSocket) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WebSocket) Write(p []byte) (int, error) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a best-effort close frame and tears the connection down,
// unblocking any pending Read.
func (c *WebSocket) Close() error {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.conn.Close()
	})
	return nil
}

func (c *WebSocket) pingLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
