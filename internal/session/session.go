// Package session tracks the identity and lifecycle of every live
// conversation, independent of which transport carries it.
package session

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed  = errors.New("session is closed")
	ErrSendBufferFull = errors.New("session send buffer is full")
)

// Kind names the transport variety carrying a session.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindStreaming Kind = "streaming"
	KindPolling   Kind = "polling"
)

// State is a session's position in its lifecycle. Transitions only move
// forward: Connecting, Active, Closing, Closed.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultSendBuffer bounds the outbound queue when no explicit size is
// configured.
const DefaultSendBuffer = 256

// closeGrace bounds how long Close waits for the writer goroutine to
// drain the queued backlog before forcing the transport shut.
const closeGrace = 5 * time.Second

// Session is the server-side handle for one connected client: a stable
// identity plus a bounded outbound queue drained by a single writer
// goroutine. Slow or dead consumers never block the caller; Enqueue
// reports drops instead.
type Session struct {
	id   string
	kind Kind
	w    io.WriteCloser

	state atomic.Int32

	out        chan []byte
	closed     chan struct{}
	flushed    chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
	closeErr   error
}

// New creates a session in the Connecting state and starts its writer
// goroutine. Frames enqueued before activation are still delivered, which
// lets the handshake reply share the ordinary write path.
func New(kind Kind, w io.WriteCloser, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	s := &Session{
		id:      uuid.NewString(),
		kind:    kind,
		w:       w,
		out:     make(chan []byte, buffer),
		closed:  make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Kind() Kind   { return s.kind }
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session starts shutting down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Activate marks the handshake complete. It only applies to sessions
// still in the Connecting state.
func (s *Session) Activate() {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// Enqueue hands an encoded frame to the writer goroutine without
// blocking. It returns ErrSessionClosed after Close and
// ErrSendBufferFull when the outbound queue is at capacity.
func (s *Session) Enqueue(b []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- b:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears the session down. New Enqueues are refused immediately,
// frames already queued get a bounded chance to reach the wire, then the
// underlying transport writer is closed so any blocked reads unblock.
// Safe to call repeatedly and from any goroutine.
func (s *Session) Close() error {
	s.markClosing()
	select {
	case <-s.flushed:
	case <-time.After(closeGrace):
	}
	s.finish()
	return s.closeErr
}

func (s *Session) markClosing() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.closed)
	})
}

func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.closeErr = s.w.Close()
		s.state.Store(int32(StateClosed))
	})
}

func (s *Session) writeLoop() {
	defer close(s.flushed)
	for {
		select {
		case b := <-s.out:
			if !s.write(b) {
				return
			}
		case <-s.closed:
			s.drainBacklog()
			return
		}
	}
}

// drainBacklog writes out whatever was queued before shutdown began.
func (s *Session) drainBacklog() {
	for {
		select {
		case b := <-s.out:
			if !s.write(b) {
				return
			}
		default:
			return
		}
	}
}

// write pushes one frame to the transport. A failed write tears the
// session down since the channel is no longer trustworthy.
func (s *Session) write(b []byte) bool {
	if _, err := s.w.Write(b); err != nil {
		s.markClosing()
		s.finish()
		return false
	}
	return true
}
