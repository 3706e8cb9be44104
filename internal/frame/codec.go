package frame

import (
	"bytes"
	"fmt"
	"io"
	"sort"
)

// maxFrameBytes bounds how much a single frame may buffer before the
// decoder gives up on finding its terminator.
const maxFrameBytes = 64 * 1024

// DecodeError reports malformed wire input. Offset is the byte position,
// counted from the start of the stream, where decoding failed.
type DecodeError struct {
	Offset int64
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed frame at byte %d: %s", e.Offset, e.Reason)
}

// Encode renders a frame using the wire grammar. Header keys are written
// in sorted order so identical frames encode identically.
func Encode(f *Frame) []byte {
	var b bytes.Buffer
	b.WriteString(string(f.Command))
	b.WriteByte('\n')
	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(f.Headers[k])
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Decoder reads frames from a byte stream, tolerating frames split across
// arbitrary read boundaries and skipping keep-alive newlines between them.
// After any error the decoder is dead and keeps returning that error.
type Decoder struct {
	r   io.Reader
	buf []byte
	off int64 // stream offset of buf[0]
	err error
	tmp [4096]byte
}

// NewDecoder wraps r in a frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next blocks until a complete frame is available and returns it. It
// returns io.EOF on a clean close at a frame boundary,
// io.ErrUnexpectedEOF when the stream ends mid-frame, and *DecodeError
// when the input violates the grammar.
func (d *Decoder) Next() (*Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	f, err := d.next()
	if err != nil {
		d.err = err
		return nil, err
	}
	return f, nil
}

func (d *Decoder) next() (*Frame, error) {
	for {
		d.skipHeartbeats()
		if i := bytes.IndexByte(d.buf, 0); i >= 0 {
			raw := d.buf[:i]
			base := d.off
			d.consume(i + 1)
			return parse(raw, base)
		}
		if len(d.buf) > maxFrameBytes {
			return nil, &DecodeError{Offset: d.off, Reason: "frame exceeds size limit"}
		}
		if err := d.fill(); err != nil {
			if err == io.EOF && len(d.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// skipHeartbeats discards newline bytes sitting between frames. A lone
// carriage return at the end of the buffer is left in place until its
// pairing byte arrives.
func (d *Decoder) skipHeartbeats() {
	for len(d.buf) > 0 {
		switch {
		case d.buf[0] == '\n':
			d.consume(1)
		case d.buf[0] == '\r' && len(d.buf) > 1 && d.buf[1] == '\n':
			d.consume(2)
		default:
			return
		}
	}
}

func (d *Decoder) consume(n int) {
	d.buf = d.buf[n:]
	d.off += int64(n)
}

func (d *Decoder) fill() error {
	n, err := d.r.Read(d.tmp[:])
	if n > 0 {
		d.buf = append(d.buf, d.tmp[:n]...)
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// parse splits raw (everything before the NUL) into command, headers and
// body. base is the stream offset of raw[0], used to position errors.
func parse(raw []byte, base int64) (*Frame, error) {
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return nil, &DecodeError{Offset: base, Reason: "missing header section"}
	}
	cmd := Command(trimCR(raw[:nl]))
	if !commands[cmd] {
		return nil, &DecodeError{Offset: base, Reason: fmt.Sprintf("unknown command %q", cmd)}
	}
	f := New(cmd)
	rest := raw[nl+1:]
	pos := base + int64(nl+1)
	for {
		nl = bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return nil, &DecodeError{Offset: pos, Reason: "missing blank line before body"}
		}
		line := trimCR(rest[:nl])
		rest = rest[nl+1:]
		if len(line) == 0 {
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return nil, &DecodeError{Offset: pos, Reason: "header line missing colon"}
		}
		f.SetHeader(string(line[:colon]), string(line[colon+1:]))
		pos += int64(nl + 1)
	}
	if len(rest) > 0 {
		f.Body = append([]byte(nil), rest...)
	}
	return f, nil
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
