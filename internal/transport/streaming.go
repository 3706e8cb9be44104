package transport

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parlorchat/parlor/internal/session"
)

// streamSlots bounds outbound frames waiting for the response stream.
const streamSlots = 64

// probe is the keep-alive byte written on an idle stream; decoders skip
// bare newlines between frames.
var probe = []byte{'\n'}

// Streaming carries the protocol over one long-lived HTTP response
// stream. Inbound frames arrive as separate send requests routed to
// Deliver; outbound frames and heartbeats are flushed to the attached
// response by Serve.
type Streaming struct {
	in        *inbound
	out       chan []byte
	heartbeat time.Duration
	attached  atomic.Bool

	once   sync.Once
	closed chan struct{}
}

func NewStreaming(heartbeat time.Duration) *Streaming {
	closed := make(chan struct{})
	return &Streaming{
		in:        newInbound(closed),
		out:       make(chan []byte, streamSlots),
		heartbeat: heartbeat,
		closed:    closed,
	}
}

func (c *Streaming) Kind() session.Kind    { return session.KindStreaming }
func (c *Streaming) Done() <-chan struct{} { return c.closed }

func (c *Streaming) Read(p []byte) (int, error) { return c.in.Read(p) }

// Deliver feeds one send-request body into the inbound stream.
func (c *Streaming) Deliver(p []byte) error { return c.in.deliver(p) }

// Write queues an encoded frame for the response stream. It blocks only
// when the stream is slower than the session's own outbound queue, and
// unblocks with an error once the channel closes.
func (c *Streaming) Write(p []byte) (int, error) {
	b := append([]byte(nil), p...)
	select {
	case c.out <- b:
		return len(p), nil
	case <-c.closed:
		return 0, ErrClosed
	}
}

func (c *Streaming) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Serve attaches the response stream and blocks until the channel closes
// or the client goes away. A channel accepts exactly one stream over its
// lifetime.
func (c *Streaming) Serve(w http.ResponseWriter, r *http.Request) error {
	if !c.attached.CompareAndSwap(false, true) {
		return ErrBusy
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.Close()
		return errors.New("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case b := <-c.out:
			if _, err := w.Write(b); err != nil {
				c.Close()
				return err
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write(probe); err != nil {
				c.Close()
				return err
			}
			flusher.Flush()
		case <-r.Context().Done():
			c.Close()
			return r.Context().Err()
		case <-c.closed:
			c.flushPending(w, flusher)
			return nil
		}
	}
}

// flushPending writes out frames queued before the close. The channel
// only closes after its session finished draining, so this is what puts
// a final ERROR frame on the wire.
func (c *Streaming) flushPending(w http.ResponseWriter, flusher http.Flusher) {
	for {
		select {
		case b := <-c.out:
			if _, err := w.Write(b); err != nil {
				return
			}
			flusher.Flush()
		default:
			return
		}
	}
}
