package transport

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/parlorchat/parlor/internal/session"
)

// pollBacklog caps frames held between polls. When a client lets the
// backlog grow past it, the oldest frames are shed first.
const pollBacklog = 512

// Polling carries the protocol over paired short-lived requests: sends
// push inbound bytes, polls collect whatever accumulated. There is no
// standing connection, so liveness is inferred from request recency.
type Polling struct {
	in *inbound

	mu       sync.Mutex
	pending  *queue.Queue // of []byte, frames awaiting the next poll
	lastSeen time.Time

	once   sync.Once
	closed chan struct{}
}

func NewPolling() *Polling {
	closed := make(chan struct{})
	return &Polling{
		in:       newInbound(closed),
		pending:  queue.New(),
		lastSeen: time.Now(),
		closed:   closed,
	}
}

func (c *Polling) Kind() session.Kind    { return session.KindPolling }
func (c *Polling) Done() <-chan struct{} { return c.closed }

func (c *Polling) Read(p []byte) (int, error) { return c.in.Read(p) }

// Deliver feeds one send-request body into the inbound stream and marks
// the client alive.
func (c *Polling) Deliver(p []byte) error {
	c.touch()
	return c.in.deliver(p)
}

// Write parks an encoded frame for the next poll. It never blocks; past
// pollBacklog the oldest frame is dropped to admit the new one.
func (c *Polling) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	default:
	}
	b := append([]byte(nil), p...)
	c.mu.Lock()
	if c.pending.Length() >= pollBacklog {
		c.pending.Remove()
	}
	c.pending.Add(b)
	c.mu.Unlock()
	return len(p), nil
}

// DrainPending hands over every frame queued since the last poll, oldest
// first, and marks the client alive.
func (c *Polling) DrainPending() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
	out := make([][]byte, 0, c.pending.Length())
	for c.pending.Length() > 0 {
		out = append(out, c.pending.Remove().([]byte))
	}
	return out
}

// LastSeen reports the most recent poll or send from this client.
func (c *Polling) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Polling) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Polling) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}
