// Package frame implements the line-oriented command protocol spoken over
// every transport:
//
//	COMMAND\n
//	header:value\n
//	...\n
//	\n
//	BODY\x00
//
// Bare newlines between frames are keep-alive probes and carry no payload.
package frame

import "errors"

// Command identifies the protocol operation a frame carries.
type Command string

const (
	Connect     Command = "CONNECT"
	Connected   Command = "CONNECTED"
	Subscribe   Command = "SUBSCRIBE"
	Unsubscribe Command = "UNSUBSCRIBE"
	Send        Command = "SEND"
	Message     Command = "MESSAGE"
	Disconnect  Command = "DISCONNECT"
	Error       Command = "ERROR"
)

// Well-known header names.
const (
	HdrDestination  = "destination"
	HdrSession      = "session"
	HdrSubscription = "subscription"
	HdrMessage      = "message"
	HdrContentType  = "content-type"
	HdrHeartBeat    = "heart-beat"
)

var ErrMissingDestination = errors.New("frame is missing required destination header")

var commands = map[Command]bool{
	Connect:     true,
	Connected:   true,
	Subscribe:   true,
	Unsubscribe: true,
	Send:        true,
	Message:     true,
	Disconnect:  true,
	Error:       true,
}

// needsDestination lists the commands that must carry a destination header.
var needsDestination = map[Command]bool{
	Subscribe:   true,
	Unsubscribe: true,
	Send:        true,
	Message:     true,
}

// Frame is one discrete protocol message unit. Frames are transient:
// constructed, transmitted and discarded, never persisted.
type Frame struct {
	Command Command
	Headers map[string]string
	Body    []byte
}

// New builds a frame with an empty header map.
func New(cmd Command) *Frame {
	return &Frame{Command: cmd, Headers: make(map[string]string)}
}

// Header returns the value for key, or "" when absent.
func (f *Frame) Header(key string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[key]
}

// SetHeader stores a header value, allocating the map on first use.
func (f *Frame) SetHeader(key, value string) {
	if f.Headers == nil {
		f.Headers = make(map[string]string)
	}
	f.Headers[key] = value
}

// Destination returns the destination header, or "" when absent.
func (f *Frame) Destination() string {
	return f.Header(HdrDestination)
}

// Validate checks command-specific header requirements.
func (f *Frame) Validate() error {
	if needsDestination[f.Command] && f.Destination() == "" {
		return ErrMissingDestination
	}
	return nil
}
