// Package telemetry observes session lifecycle events and answers the
// operational questions: how many clients are connected, over which
// transports, and how hard is the broker working. It never mutates
// session or subscription state.
package telemetry

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlorchat/parlor/internal/session"
)

// Tracker keeps live per-transport connection counts fed by registry
// events, mirrored into a private prometheus registry. Updates are
// serialized by one mutex so bursts of connects and disconnects cannot
// lose counts.
type Tracker struct {
	mu     sync.Mutex
	kinds  map[string]session.Kind
	counts map[session.Kind]int

	reg         *prometheus.Registry
	connections *prometheus.GaugeVec
	opened      *prometheus.CounterVec
	published   prometheus.Counter
	dropped     prometheus.Counter
}

func New() *Tracker {
	t := &Tracker{
		kinds:  make(map[string]session.Kind),
		counts: make(map[session.Kind]int),
		reg:    prometheus.NewRegistry(),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parlor",
			Name:      "transport_connections",
			Help:      "Live connections by transport kind.",
		}, []string{"transport"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parlor",
			Name:      "sessions_opened_total",
			Help:      "Sessions accepted since start, by transport kind.",
		}, []string{"transport"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parlor",
			Name:      "frames_published_total",
			Help:      "Frames handed to the broker for fan-out.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parlor",
			Name:      "frames_dropped_total",
			Help:      "Per-subscriber deliveries dropped on a full queue.",
		}),
	}
	t.reg.MustRegister(t.connections, t.opened, t.published, t.dropped)
	return t
}

// HandleEvent consumes one registry lifecycle event. Register it with
// Registry.OnEvent. A disconnect for a session the tracker never saw is
// ignored.
func (t *Tracker) HandleEvent(ev session.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case session.EventConnected:
		if _, ok := t.kinds[ev.SessionID]; ok {
			return
		}
		t.kinds[ev.SessionID] = ev.Kind
		t.counts[ev.Kind]++
		t.connections.WithLabelValues(string(ev.Kind)).Inc()
		t.opened.WithLabelValues(string(ev.Kind)).Inc()
	case session.EventDisconnected:
		kind, ok := t.kinds[ev.SessionID]
		if !ok {
			return
		}
		delete(t.kinds, ev.SessionID)
		t.counts[kind]--
		if t.counts[kind] == 0 {
			delete(t.counts, kind)
		}
		t.connections.WithLabelValues(string(kind)).Dec()
	}
}

// LogEvent prints the population after an event: the live total and the
// per-transport breakdown. Register it after HandleEvent so the counts
// already include the event being reported.
func (t *Tracker) LogEvent(ev session.Event) {
	total, perKind := t.Snapshot()
	parts := make([]string, 0, len(perKind))
	for kind, n := range perKind {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(parts)
	log.Printf("[telemetry] session %s %s, %d connected (%s)", ev.SessionID, ev.Type, total, strings.Join(parts, " "))
}

// Snapshot reports the live total and the per-transport breakdown.
func (t *Tracker) Snapshot() (total int, perKind map[session.Kind]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	perKind = make(map[session.Kind]int, len(t.counts))
	for k, n := range t.counts {
		perKind[k] = n
	}
	return len(t.kinds), perKind
}

// FramePublished records one frame handed to the broker for fan-out.
func (t *Tracker) FramePublished() { t.published.Inc() }

// FrameDropped records one per-subscriber delivery lost to a full queue.
func (t *Tracker) FrameDropped() { t.dropped.Inc() }

// Handler serves the private prometheus registry.
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.reg, promhttp.HandlerOpts{})
}
