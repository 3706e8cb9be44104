// Package relay drives the wire protocol for accepted transport
// channels: it enforces the CONNECT handshake, dispatches inbound frames
// to the broker and chat handler, and tears the session down when the
// conversation ends, however it ends.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/parlorchat/parlor/internal/broker"
	"github.com/parlorchat/parlor/internal/chat"
	"github.com/parlorchat/parlor/internal/frame"
	"github.com/parlorchat/parlor/internal/session"
	"github.com/parlorchat/parlor/internal/transport"
)

// Application destinations the relay routes SEND frames to. Anything
// else is published verbatim to its destination.
const (
	destChat  = "/app/chat"
	destGreet = "/app/greet"
)

var (
	errNotConnect       = errors.New("expected CONNECT as the first frame")
	errAlreadyConnected = errors.New("session is already connected")
)

// Config carries the protocol timings the relay enforces.
type Config struct {
	// HandshakeTimeout bounds how long a fresh channel may sit silent
	// before sending CONNECT. Zero disables the bound.
	HandshakeTimeout time.Duration
	// Heartbeat is advertised to clients in the CONNECTED frame, in
	// both directions.
	Heartbeat time.Duration
}

// Relay runs one protocol conversation per accepted channel.
type Relay struct {
	cfg      Config
	registry *session.Registry
	broker   *broker.Broker
	chat     *chat.Handler
}

func New(cfg Config, registry *session.Registry, br *broker.Broker, handler *chat.Handler) *Relay {
	return &Relay{cfg: cfg, registry: registry, broker: br, chat: handler}
}

// Serve owns ch until the conversation ends, so callers run it on the
// connection's goroutine. ctx bounds chatbot calls, not the connection
// itself; closing ch is what ends the conversation.
func (r *Relay) Serve(ctx context.Context, ch transport.Channel) {
	defer ch.Close()

	dec := frame.NewDecoder(ch)
	sess, err := r.handshake(dec, ch)
	if err != nil {
		log.Printf("[relay] handshake failed on %s channel: %v", ch.Kind(), err)
		return
	}
	defer func() {
		r.broker.RemoveSession(sess.ID())
		r.registry.Deregister(sess.ID())
	}()

	for {
		f, err := dec.Next()
		if err != nil {
			var de *frame.DecodeError
			switch {
			case errors.Is(err, io.EOF):
				// Peer went away cleanly.
			case errors.As(err, &de):
				r.fail(sess, err)
			default:
				log.Printf("[relay] session %s read failed: %v", sess.ID(), err)
			}
			return
		}
		if err := f.Validate(); err != nil {
			r.fail(sess, err)
			return
		}

		switch f.Command {
		case frame.Subscribe:
			r.broker.Subscribe(sess.ID(), f.Destination())
		case frame.Unsubscribe:
			r.broker.Unsubscribe(sess.ID(), f.Destination())
		case frame.Send:
			r.handleSend(ctx, sess, f)
		case frame.Disconnect:
			return
		case frame.Connect:
			r.fail(sess, errAlreadyConnected)
			return
		default:
			r.fail(sess, fmt.Errorf("unexpected inbound %s frame", f.Command))
			return
		}
	}
}

// handshake waits for the opening CONNECT, registers the session and
// answers CONNECTED. Failures before a session exists report straight to
// the channel since no writer goroutine competes for it yet.
func (r *Relay) handshake(dec *frame.Decoder, ch transport.Channel) (*session.Session, error) {
	if r.cfg.HandshakeTimeout > 0 {
		timer := time.AfterFunc(r.cfg.HandshakeTimeout, func() {
			log.Printf("[relay] closing %s channel: no CONNECT within %v", ch.Kind(), r.cfg.HandshakeTimeout)
			ch.Close()
		})
		defer timer.Stop()
	}

	f, err := dec.Next()
	if err != nil {
		var de *frame.DecodeError
		if errors.As(err, &de) {
			writeError(ch, err)
		}
		return nil, err
	}
	if f.Command != frame.Connect {
		err := fmt.Errorf("%w, got %s", errNotConnect, f.Command)
		writeError(ch, err)
		return nil, err
	}

	sess := r.registry.Register(ch.Kind(), ch)
	hb := r.cfg.Heartbeat.Milliseconds()
	connected := frame.New(frame.Connected)
	connected.SetHeader(frame.HdrSession, sess.ID())
	connected.SetHeader(frame.HdrHeartBeat, fmt.Sprintf("%d,%d", hb, hb))
	if err := sess.Enqueue(frame.Encode(connected)); err != nil {
		r.broker.RemoveSession(sess.ID())
		r.registry.Deregister(sess.ID())
		return nil, fmt.Errorf("answering CONNECT: %w", err)
	}
	return sess, nil
}

// handleSend routes one SEND frame: the chat destinations invoke the
// handler, everything else is republished as a MESSAGE to whoever is
// subscribed.
func (r *Relay) handleSend(ctx context.Context, sess *session.Session, f *frame.Frame) {
	switch f.Destination() {
	case destChat:
		r.chat.HandleRaw(ctx, sess.ID(), f.Body)
	case destGreet:
		r.chat.Greet(sess.ID())
	default:
		m := frame.New(frame.Message)
		m.SetHeader(frame.HdrDestination, f.Destination())
		m.SetHeader(frame.HdrSubscription, f.Destination())
		if ct := f.Header(frame.HdrContentType); ct != "" {
			m.SetHeader(frame.HdrContentType, ct)
		}
		m.Body = f.Body
		r.broker.Publish(f.Destination(), m)
	}
}

// fail reports a protocol violation and abandons the conversation. The
// ERROR frame rides the ordinary send queue, which the session drains
// before its transport closes.
func (r *Relay) fail(sess *session.Session, cause error) {
	log.Printf("[relay] session %s terminated: %v", sess.ID(), cause)
	ef := frame.New(frame.Error)
	ef.SetHeader(frame.HdrMessage, cause.Error())
	if err := sess.Enqueue(frame.Encode(ef)); err != nil {
		log.Printf("[relay] dropping ERROR frame for session %s: %v", sess.ID(), err)
	}
}

func writeError(w io.Writer, cause error) {
	ef := frame.New(frame.Error)
	ef.SetHeader(frame.HdrMessage, cause.Error())
	w.Write(frame.Encode(ef))
}
