package broker_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/parlorchat/parlor/internal/broker"
	"github.com/parlorchat/parlor/internal/frame"
	"github.com/parlorchat/parlor/internal/session"
)

const room = "/topic/messages"

type recorder struct {
	writes chan []byte
}

func newRecorder() *recorder {
	return &recorder{writes: make(chan []byte, 32)}
}

func (r *recorder) Write(p []byte) (int, error) {
	r.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func (r *recorder) Close() error { return nil }

// stuck blocks every write until release is closed, signalling entry so
// tests can fill the queue behind it.
type stuck struct {
	entered chan struct{}
	release chan struct{}
}

func newStuck() *stuck {
	return &stuck{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (w *stuck) Write(p []byte) (int, error) {
	w.entered <- struct{}{}
	<-w.release
	return len(p), nil
}

func (w *stuck) Close() error { return nil }

func recv(t *testing.T, r *recorder) *frame.Frame {
	t.Helper()
	select {
	case b := <-r.writes:
		f, err := frame.NewDecoder(bytes.NewReader(b)).Next()
		if err != nil {
			t.Fatalf("delivered bytes do not decode: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func assertSilent(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case b := <-r.writes:
		t.Fatalf("unexpected delivery: %q", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func chatFrame(body string) *frame.Frame {
	f := frame.New(frame.Message)
	f.SetHeader(frame.HdrDestination, room)
	f.Body = []byte(body)
	return f
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	reg := session.NewRegistry(8)
	bk := broker.New(reg, nil)

	w1, w2, w3 := newRecorder(), newRecorder(), newRecorder()
	s1 := reg.Register(session.KindWebSocket, w1)
	s2 := reg.Register(session.KindStreaming, w2)
	s3 := reg.Register(session.KindPolling, w3)
	defer reg.CloseAll()

	bk.Subscribe(s1.ID(), room)
	bk.Subscribe(s2.ID(), room)
	bk.Subscribe(s3.ID(), "/topic/other")

	if n := bk.Publish(room, chatFrame("hello")); n != 2 {
		t.Fatalf("Publish() = %d, want 2", n)
	}
	for _, w := range []*recorder{w1, w2} {
		f := recv(t, w)
		if f.Command != frame.Message || string(f.Body) != "hello" {
			t.Errorf("delivered %q body %q, want MESSAGE/hello", f.Command, f.Body)
		}
	}
	assertSilent(t, w3)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	reg := session.NewRegistry(8)
	bk := broker.New(reg, nil)
	if n := bk.Publish("/topic/empty", chatFrame("void")); n != 0 {
		t.Fatalf("Publish() = %d, want 0", n)
	}
}

func TestPublishPreservesSenderOrder(t *testing.T) {
	reg := session.NewRegistry(16)
	bk := broker.New(reg, nil)
	w := newRecorder()
	s := reg.Register(session.KindWebSocket, w)
	defer reg.CloseAll()
	bk.Subscribe(s.ID(), room)

	want := []string{"one", "two", "three", "four", "five"}
	for _, body := range want {
		bk.Publish(room, chatFrame(body))
	}
	for i, body := range want {
		if got := recv(t, w); string(got.Body) != body {
			t.Fatalf("delivery %d = %q, want %q", i, got.Body, body)
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	reg := session.NewRegistry(1)
	bk := broker.New(reg, nil)

	slowW := newStuck()
	fastW := newRecorder()
	slow := reg.Register(session.KindWebSocket, slowW)
	fast := reg.Register(session.KindWebSocket, fastW)
	defer reg.CloseAll()
	defer close(slowW.release)

	bk.Subscribe(slow.ID(), room)
	bk.Subscribe(fast.ID(), room)

	bk.Publish(room, chatFrame("a"))
	select {
	case <-slowW.entered:
	case <-time.After(time.Second):
		t.Fatal("slow writer never picked up first frame")
	}
	bk.Publish(room, chatFrame("b")) // fills slow's queue
	done := make(chan int, 1)
	go func() { done <- bk.Publish(room, chatFrame("c")) }() // dropped for slow

	select {
	case n := <-done:
		if n != 2 {
			t.Fatalf("Publish() = %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked behind a stalled subscriber")
	}
	for _, body := range []string{"a", "b", "c"} {
		if got := recv(t, fastW); string(got.Body) != body {
			t.Fatalf("fast subscriber got %q, want %q", got.Body, body)
		}
	}
	if bk.Destinations()[room] != 2 {
		t.Errorf("slow subscriber was pruned for a full queue; drops must not unsubscribe")
	}
}

func TestPublishPrunesDeregisteredSession(t *testing.T) {
	reg := session.NewRegistry(8)
	bk := broker.New(reg, nil)

	goneW, liveW := newRecorder(), newRecorder()
	gone := reg.Register(session.KindPolling, goneW)
	live := reg.Register(session.KindWebSocket, liveW)
	defer reg.CloseAll()

	bk.Subscribe(gone.ID(), room)
	bk.Subscribe(live.ID(), room)
	reg.Deregister(gone.ID())

	if n := bk.Publish(room, chatFrame("hi")); n != 2 {
		t.Fatalf("first Publish() = %d, want 2 attempted", n)
	}
	if got := recv(t, liveW); string(got.Body) != "hi" {
		t.Fatalf("live subscriber got %q, want %q", got.Body, "hi")
	}
	if n := bk.Destinations()[room]; n != 1 {
		t.Fatalf("subscribers after self-heal = %d, want 1", n)
	}
	if n := bk.Publish(room, chatFrame("again")); n != 1 {
		t.Fatalf("second Publish() = %d, want 1", n)
	}
}

func TestPublishPrunesClosedSession(t *testing.T) {
	reg := session.NewRegistry(8)
	bk := broker.New(reg, nil)

	w := newRecorder()
	s := reg.Register(session.KindStreaming, w)
	bk.Subscribe(s.ID(), room)

	// Closed underneath the registry, not yet deregistered.
	s.Close()
	bk.Publish(room, chatFrame("late"))
	if n := bk.Destinations()[room]; n != 0 {
		t.Fatalf("subscribers after publishing to closed session = %d, want 0", n)
	}
	reg.Deregister(s.ID())
}

func TestRemoveSessionPurgesAllDestinations(t *testing.T) {
	reg := session.NewRegistry(8)
	bk := broker.New(reg, nil)
	w := newRecorder()
	s := reg.Register(session.KindWebSocket, w)
	other := reg.Register(session.KindWebSocket, newRecorder())
	defer reg.CloseAll()

	bk.Subscribe(s.ID(), room)
	bk.Subscribe(s.ID(), "/topic/side")
	bk.Subscribe(other.ID(), room)

	bk.RemoveSession(s.ID())
	counts := bk.Destinations()
	if counts[room] != 1 {
		t.Errorf("room subscribers = %d, want 1", counts[room])
	}
	if _, ok := counts["/topic/side"]; ok {
		t.Errorf("empty destination /topic/side still indexed")
	}
	assertSilentAfterPublish(t, bk, w)
}

func assertSilentAfterPublish(t *testing.T, bk *broker.Broker, w *recorder) {
	t.Helper()
	bk.Publish(room, chatFrame("post-removal"))
	select {
	case b := <-w.writes:
		t.Fatalf("removed session still receiving: %q", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeUnknownPair(t *testing.T) {
	reg := session.NewRegistry(8)
	bk := broker.New(reg, nil)
	bk.Unsubscribe("ghost", room)
	if len(bk.Destinations()) != 0 {
		t.Fatal("unsubscribe of unknown pair mutated the index")
	}
}
