package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPollingWriteThenDrainKeepsOrder(t *testing.T) {
	c := NewPolling()
	defer c.Close()
	for _, s := range []string{"a\x00", "b\x00", "c\x00"} {
		if _, err := c.Write([]byte(s)); err != nil {
			t.Fatalf("Write(%q) error = %v", s, err)
		}
	}
	got := c.DrainPending()
	if len(got) != 3 {
		t.Fatalf("DrainPending() returned %d frames, want 3", len(got))
	}
	for i, want := range []string{"a\x00", "b\x00", "c\x00"} {
		if string(got[i]) != want {
			t.Errorf("frame %d = %q, want %q", i, got[i], want)
		}
	}
	if again := c.DrainPending(); len(again) != 0 {
		t.Errorf("second drain returned %d frames, want 0", len(again))
	}
}

func TestPollingBacklogShedsOldest(t *testing.T) {
	c := NewPolling()
	defer c.Close()
	for i := 0; i < pollBacklog+5; i++ {
		if _, err := c.Write([]byte(fmt.Sprintf("f%d", i))); err != nil {
			t.Fatalf("Write #%d error = %v", i, err)
		}
	}
	got := c.DrainPending()
	if len(got) != pollBacklog {
		t.Fatalf("backlog holds %d frames, want %d", len(got), pollBacklog)
	}
	if string(got[0]) != "f5" {
		t.Errorf("oldest surviving frame = %q, want %q", got[0], "f5")
	}
	if string(got[len(got)-1]) != fmt.Sprintf("f%d", pollBacklog+4) {
		t.Errorf("newest frame = %q, want %q", got[len(got)-1], fmt.Sprintf("f%d", pollBacklog+4))
	}
}

func TestPollingLivenessTouches(t *testing.T) {
	c := NewPolling()
	defer c.Close()
	start := c.LastSeen()

	time.Sleep(5 * time.Millisecond)
	if err := c.Deliver([]byte("CONNECT\n\n\x00")); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	afterSend := c.LastSeen()
	if !afterSend.After(start) {
		t.Error("Deliver did not advance LastSeen")
	}

	time.Sleep(5 * time.Millisecond)
	c.DrainPending()
	if !c.LastSeen().After(afterSend) {
		t.Error("DrainPending did not advance LastSeen")
	}
}

func TestPollingWriteAfterClose(t *testing.T) {
	c := NewPolling()
	c.Close()
	if _, err := c.Write([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() after close = %v, want ErrClosed", err)
	}
}

func TestPollingDeliverFeedsReads(t *testing.T) {
	c := NewPolling()
	defer c.Close()
	if err := c.Deliver([]byte("hello")); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	buf := make([]byte, 8)
	n, err := c.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read() = %q, %v; want the delivered bytes", buf[:n], err)
	}
}
