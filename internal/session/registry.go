package session

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// EventType distinguishes lifecycle notifications.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event describes one session lifecycle transition.
type Event struct {
	SessionID string
	Kind      Kind
	Type      EventType
	At        time.Time
}

// Registry owns the set of live sessions. It issues session identities,
// and notifies observers of arrivals and departures so concerns like
// telemetry can track population without the registry knowing about them.
type Registry struct {
	sendBuffer int

	mu       sync.RWMutex
	sessions map[string]*Session
	subs     []func(Event)
}

// NewRegistry builds an empty registry. sendBuffer sizes each session's
// outbound queue; zero selects DefaultSendBuffer.
func NewRegistry(sendBuffer int) *Registry {
	return &Registry{
		sendBuffer: sendBuffer,
		sessions:   make(map[string]*Session),
	}
}

// OnEvent subscribes fn to lifecycle events. Subscribers run
// synchronously with the transition that produced the event and must not
// call back into the registry. Subscribe before serving traffic.
func (r *Registry) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Register mints a session for a freshly handshaken connection, admits
// it in the Active state and announces the arrival.
func (r *Registry) Register(kind Kind, w io.WriteCloser) *Session {
	s := New(kind, w, r.sendBuffer)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	s.Activate()
	log.Printf("[session] registered %s (%s), %d active", s.ID(), kind, len(r.sessions))
	r.notify(Event{SessionID: s.ID(), Kind: kind, Type: EventConnected, At: time.Now()})
	return s
}

// Deregister removes a session and closes it. Unknown ids are a no-op,
// so the channel-error and explicit-DISCONNECT teardown paths may race
// without double-reporting departures.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	log.Printf("[session] deregistered %s (%s), %d active", id, s.Kind(), len(r.sessions))
	r.notify(Event{SessionID: id, Kind: s.Kind(), Type: EventDisconnected, At: time.Now()})
	r.mu.Unlock()

	// Closing can wait on the writer draining; never do that under the
	// registry lock.
	s.Close()
}

// Lookup resolves a live session by id.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll deregisters every live session, used during server shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Deregister(id)
	}
}

// notify is called with r.mu held so observers see events in the exact
// order the registry applied them.
func (r *Registry) notify(ev Event) {
	for _, fn := range r.subs {
		fn(ev)
	}
}
