package telemetry

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/parlorchat/parlor/internal/session"
)

func event(id string, kind session.Kind, typ session.EventType) session.Event {
	return session.Event{SessionID: id, Kind: kind, Type: typ, At: time.Now()}
}

func TestTrackerCounts(t *testing.T) {
	tr := New()
	tr.HandleEvent(event("a", session.KindWebSocket, session.EventConnected))
	tr.HandleEvent(event("b", session.KindWebSocket, session.EventConnected))
	tr.HandleEvent(event("c", session.KindPolling, session.EventConnected))

	total, perKind := tr.Snapshot()
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if perKind[session.KindWebSocket] != 2 || perKind[session.KindPolling] != 1 {
		t.Errorf("perKind = %v, want websocket:2 polling:1", perKind)
	}
	if got := testutil.ToFloat64(tr.connections.WithLabelValues("websocket")); got != 2 {
		t.Errorf("connections gauge = %v, want 2", got)
	}

	tr.HandleEvent(event("a", session.KindWebSocket, session.EventDisconnected))
	total, perKind = tr.Snapshot()
	if total != 2 || perKind[session.KindWebSocket] != 1 {
		t.Errorf("after disconnect: total = %d perKind = %v, want 2 and websocket:1", total, perKind)
	}
	if got := testutil.ToFloat64(tr.opened.WithLabelValues("websocket")); got != 2 {
		t.Errorf("opened counter = %v, want 2 (counters never decrement)", got)
	}
}

func TestTrackerIgnoresUnknownDisconnect(t *testing.T) {
	tr := New()
	tr.HandleEvent(event("x", session.KindStreaming, session.EventConnected))
	tr.HandleEvent(event("ghost", session.KindStreaming, session.EventDisconnected))

	total, perKind := tr.Snapshot()
	if total != 1 || perKind[session.KindStreaming] != 1 {
		t.Errorf("total = %d perKind = %v, want 1 and streaming:1", total, perKind)
	}
	if got := testutil.ToFloat64(tr.connections.WithLabelValues("streaming")); got != 1 {
		t.Errorf("connections gauge = %v, want 1", got)
	}
}

func TestTrackerIgnoresDuplicateConnect(t *testing.T) {
	tr := New()
	tr.HandleEvent(event("dup", session.KindPolling, session.EventConnected))
	tr.HandleEvent(event("dup", session.KindPolling, session.EventConnected))
	if total, _ := tr.Snapshot(); total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestTrackerConcurrentBursts(t *testing.T) {
	tr := New()
	kinds := []session.Kind{session.KindWebSocket, session.KindStreaming, session.KindPolling}
	var wg sync.WaitGroup
	for g := 0; g < len(kinds); g++ {
		wg.Add(1)
		go func(kind session.Kind, base int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("%s-%d-%d", kind, base, i)
				tr.HandleEvent(event(id, kind, session.EventConnected))
				tr.HandleEvent(event(id, kind, session.EventDisconnected))
			}
		}(kinds[g], g)
	}
	wg.Wait()

	total, perKind := tr.Snapshot()
	if total != 0 || len(perKind) != 0 {
		t.Errorf("after balanced bursts: total = %d perKind = %v, want 0 and empty", total, perKind)
	}
	for _, kind := range kinds {
		if got := testutil.ToFloat64(tr.opened.WithLabelValues(string(kind))); got != 50 {
			t.Errorf("opened[%s] = %v, want 50", kind, got)
		}
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriter) Close() error                { return nil }

func TestTrackerFollowsRegistry(t *testing.T) {
	tr := New()
	reg := session.NewRegistry(4)
	reg.OnEvent(tr.HandleEvent)

	ws := reg.Register(session.KindWebSocket, nopWriter{})
	reg.Register(session.KindStreaming, nopWriter{})
	if total, perKind := tr.Snapshot(); total != 2 || perKind[session.KindWebSocket] != 1 {
		t.Fatalf("total = %d perKind = %v, want 2 with websocket:1", total, perKind)
	}
	reg.Deregister(ws.ID())
	total, perKind := tr.Snapshot()
	if total != 1 {
		t.Errorf("total after deregister = %d, want 1", total)
	}
	if _, ok := perKind[session.KindWebSocket]; ok {
		t.Errorf("websocket still counted after its last session left: %v", perKind)
	}
	reg.CloseAll()
}

func TestFrameCounters(t *testing.T) {
	tr := New()
	tr.FramePublished()
	tr.FramePublished()
	tr.FrameDropped()
	if got := testutil.ToFloat64(tr.published); got != 2 {
		t.Errorf("published = %v, want 2", got)
	}
	if got := testutil.ToFloat64(tr.dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	tr := New()
	tr.HandleEvent(event("m", session.KindWebSocket, session.EventConnected))

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "parlor_transport_connections") {
		t.Errorf("exposition missing connections gauge:\n%s", body)
	}
	if !strings.Contains(body, `transport="websocket"`) {
		t.Errorf("exposition missing transport label:\n%s", body)
	}
}
