package transport

import (
	"log"
	"sync"
	"time"
)

// httpChannel is a channel whose inbound side is fed by discrete HTTP
// requests instead of a standing connection.
type httpChannel interface {
	Channel
	Deliver([]byte) error
}

// Manager tracks HTTP-carried channels under their negotiated session
// URL key, correlating each poll or send request with the connection it
// belongs to. Websocket channels never pass through here; the upgraded
// connection is its own correlation.
type Manager struct {
	heartbeat time.Duration
	idle      time.Duration
	onOpen    func(Channel)

	mu       sync.Mutex
	channels map[string]httpChannel

	stopOnce sync.Once
	stop     chan struct{}
}

// Key builds the index key for the {server}/{session} pair carried in
// transport URLs.
func Key(server, sessionID string) string { return server + "/" + sessionID }

// NewManager starts the idle reaper. onOpen runs synchronously once per
// channel the manager creates and is expected to start the connection
// worker.
func NewManager(heartbeat, idle time.Duration, onOpen func(Channel)) *Manager {
	m := &Manager{
		heartbeat: heartbeat,
		idle:      idle,
		onOpen:    onOpen,
		channels:  make(map[string]httpChannel),
		stop:      make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Streaming resolves key to its streaming channel, creating one on first
// contact. A key already bound to a polling channel is refused.
func (m *Manager) Streaming(key string) (*Streaming, error) {
	m.mu.Lock()
	if ch, ok := m.channels[key]; ok && !isDone(ch) {
		s, ok := ch.(*Streaming)
		m.mu.Unlock()
		if !ok {
			return nil, ErrMismatch
		}
		return s, nil
	}
	s := NewStreaming(m.heartbeat)
	m.channels[key] = s
	m.mu.Unlock()
	m.onOpen(s)
	return s, nil
}

// Poll returns the frames queued for key since the last poll, creating
// the channel on first contact (the first batch is empty: the client
// still owes a CONNECT through the send endpoint). A key bound to a
// live streaming channel is refused. A closed channel that still holds
// parked frames, typically a final ERROR, hands them over once before
// the key resets.
func (m *Manager) Poll(key string) ([][]byte, error) {
	m.mu.Lock()
	if ch, ok := m.channels[key]; ok {
		p, isPoll := ch.(*Polling)
		if !isPoll && !isDone(ch) {
			m.mu.Unlock()
			return nil, ErrMismatch
		}
		if isPoll {
			if !isDone(p) {
				m.mu.Unlock()
				return p.DrainPending(), nil
			}
			if batch := p.DrainPending(); len(batch) > 0 {
				delete(m.channels, key)
				m.mu.Unlock()
				return batch, nil
			}
		}
	}
	p := NewPolling()
	m.channels[key] = p
	m.mu.Unlock()
	m.onOpen(p)
	return nil, nil
}

// Deliver routes one send-request body to the channel bound to key.
func (m *Manager) Deliver(key string, body []byte) error {
	m.mu.Lock()
	ch, ok := m.channels[key]
	m.mu.Unlock()
	if !ok || isDone(ch) {
		return ErrNoChannel
	}
	return ch.Deliver(body)
}

// Len reports how many live channels are tracked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ch := range m.channels {
		if !isDone(ch) {
			n++
		}
	}
	return n
}

// Shutdown stops the reaper and closes every tracked channel.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	channels := make([]httpChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.channels = make(map[string]httpChannel)
	m.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}

func (m *Manager) reapLoop() {
	interval := m.idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.stop:
			return
		}
	}
}

// sweep drops channels that closed since the last pass and closes
// polling channels whose client stopped calling in.
func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var stale []httpChannel
	for key, ch := range m.channels {
		if isDone(ch) {
			delete(m.channels, key)
			continue
		}
		if p, ok := ch.(*Polling); ok && now.Sub(p.LastSeen()) > m.idle {
			delete(m.channels, key)
			stale = append(stale, p)
			log.Printf("[transport] reaping idle polling channel %s", key)
		}
	}
	m.mu.Unlock()
	for _, ch := range stale {
		ch.Close()
	}
}

func isDone(ch Channel) bool {
	select {
	case <-ch.Done():
		return true
	default:
		return false
	}
}
