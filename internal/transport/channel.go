// Package transport adapts heterogeneous client connections to one
// Channel abstraction the connection worker can treat uniformly: a byte
// stream in, encoded frames out. Three carriers are supported: a
// persistent websocket, a long-lived HTTP response stream paired with
// send requests, and plain HTTP short-polling.
package transport

import (
	"errors"
	"io"

	"github.com/parlorchat/parlor/internal/session"
)

var (
	ErrClosed      = errors.New("transport channel is closed")
	ErrInboundFull = errors.New("transport inbound queue is full")
	ErrBusy        = errors.New("transport stream already attached")
	ErrNoChannel   = errors.New("no transport channel for this session URL")
	ErrMismatch    = errors.New("session URL is bound to a different transport")
)

// Channel is one accepted client connection, whatever carried it. Read
// yields the inbound protocol byte stream and unblocks with io.EOF when
// the channel closes; Write transmits already-encoded frames; Close is
// idempotent.
type Channel interface {
	io.ReadWriteCloser
	Kind() session.Kind
	Done() <-chan struct{}
}

// inboundSlots bounds how many unread send bodies a channel may hold
// before new deliveries are refused.
const inboundSlots = 32

// inbound turns discrete HTTP send bodies back into the continuous byte
// stream the frame decoder expects. Read is single-consumer.
type inbound struct {
	ch     chan []byte
	closed <-chan struct{}
	rest   []byte
}

func newInbound(closed <-chan struct{}) *inbound {
	return &inbound{ch: make(chan []byte, inboundSlots), closed: closed}
}

func (q *inbound) deliver(p []byte) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	b := append([]byte(nil), p...)
	select {
	case q.ch <- b:
		return nil
	case <-q.closed:
		return ErrClosed
	default:
		return ErrInboundFull
	}
}

func (q *inbound) Read(p []byte) (int, error) {
	if len(q.rest) == 0 {
		select {
		case b := <-q.ch:
			q.rest = b
		case <-q.closed:
			// Hand out anything delivered before the close.
			select {
			case b := <-q.ch:
				q.rest = b
			default:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, q.rest)
	q.rest = q.rest[n:]
	return n, nil
}
