// Package broker fans frames out to destination subscribers. It is the
// in-process pub-sub core: no persistence, no replay, at-most-once.
package broker

import (
	"errors"
	"log"
	"sync"

	"github.com/parlorchat/parlor/internal/frame"
	"github.com/parlorchat/parlor/internal/session"
)

// Directory resolves subscriber ids to live sessions at publish time.
// *session.Registry implements it.
type Directory interface {
	Lookup(id string) (*session.Session, error)
}

// Stats observes publish outcomes. Implementations must be safe for
// concurrent use.
type Stats interface {
	FramePublished()
	FrameDropped()
}

// Broker maintains the destination -> subscriber index. Delivery to each
// subscriber is independent: one slow or dead client never blocks the
// rest of the room.
type Broker struct {
	dir   Directory
	stats Stats

	mu   sync.RWMutex
	subs map[string]map[string]struct{} // destination -> session ids
}

// New builds a broker resolving subscribers through dir. stats may be
// nil to disable observation.
func New(dir Directory, stats Stats) *Broker {
	return &Broker{
		dir:   dir,
		stats: stats,
		subs:  make(map[string]map[string]struct{}),
	}
}

// Subscribe adds a session to a destination. Subscribing twice is a no-op.
func (b *Broker) Subscribe(sessionID, destination string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.subs[destination]
	if !ok {
		members = make(map[string]struct{})
		b.subs[destination] = members
	}
	members[sessionID] = struct{}{}
}

// Unsubscribe removes a session from a destination. Unknown pairs are a
// no-op. Destinations left without subscribers are dropped from the index.
func (b *Broker) Unsubscribe(sessionID, destination string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.subs[destination]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(b.subs, destination)
	}
}

// RemoveSession purges a session from every destination, called on
// deregistration so no orphan subscriptions survive a closed session.
func (b *Broker) RemoveSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for destination, members := range b.subs {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(b.subs, destination)
		}
	}
}

// Publish delivers f to every session subscribed to destination at this
// instant and returns how many deliveries were attempted. The frame is
// encoded once; each subscriber gets a non-blocking enqueue. A full
// subscriber queue drops the frame for that subscriber only. A closed or
// vanished subscriber is pruned from the destination instead of being
// treated as a publish failure.
func (b *Broker) Publish(destination string, f *frame.Frame) int {
	if b.stats != nil {
		b.stats.FramePublished()
	}
	b.mu.RLock()
	ids := make([]string, 0, len(b.subs[destination]))
	for id := range b.subs[destination] {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	if len(ids) == 0 {
		return 0
	}

	wire := frame.Encode(f)
	attempted := 0
	for _, id := range ids {
		attempted++
		s, err := b.dir.Lookup(id)
		if err != nil {
			b.Unsubscribe(id, destination)
			continue
		}
		switch err := s.Enqueue(wire); {
		case err == nil:
		case errors.Is(err, session.ErrSessionClosed):
			b.Unsubscribe(id, destination)
			log.Printf("[broker] pruned closed session %s from %s", id, destination)
		default:
			if b.stats != nil {
				b.stats.FrameDropped()
			}
			log.Printf("[broker] dropping frame for %s on %s: %v", id, destination, err)
		}
	}
	return attempted
}

// Destinations reports the current subscriber count per destination.
func (b *Broker) Destinations() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.subs))
	for destination, members := range b.subs {
		out[destination] = len(members)
	}
	return out
}
