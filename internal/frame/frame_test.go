package frame

import (
	"errors"
	"testing"
)

func TestHeaderAccessors(t *testing.T) {
	f := New(Message)
	if got := f.Header(HdrDestination); got != "" {
		t.Errorf("Header on a fresh frame = %q, want empty", got)
	}
	f.SetHeader(HdrDestination, "/topic/messages")
	f.SetHeader(HdrDestination, "/topic/other")
	if got := f.Destination(); got != "/topic/other" {
		t.Errorf("Destination() = %q, want the last value set", got)
	}
	if got := f.Header(HdrSubscription); got != "" {
		t.Errorf("unset header = %q, want empty", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		cmd     Command
		dest    string
		wantErr bool
	}{
		{Send, "", true},
		{Subscribe, "", true},
		{Unsubscribe, "", true},
		{Message, "", true},
		{Send, "/topic/messages", false},
		{Connect, "", false},
		{Disconnect, "", false},
	}
	for _, tt := range tests {
		f := New(tt.cmd)
		if tt.dest != "" {
			f.SetHeader(HdrDestination, tt.dest)
		}
		err := f.Validate()
		if tt.wantErr && !errors.Is(err, ErrMissingDestination) {
			t.Errorf("%s dest=%q: Validate() = %v, want ErrMissingDestination", tt.cmd, tt.dest, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("%s dest=%q: Validate() = %v, want nil", tt.cmd, tt.dest, err)
		}
	}
}
