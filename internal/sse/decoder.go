// Package sse implements incremental server-sent-event framing. Bytes are
// pushed in with Write as they arrive from the network and complete events
// are pulled out with Next; no assumption is made that a network read ends
// on an event boundary.
package sse

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// ErrIncomplete is returned by Next when the buffered bytes do not yet hold
// a complete event. Push more bytes and call Next again.
var ErrIncomplete = errors.New("sse: incomplete event")

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sse: write after close")

// State is the framing state of a Decoder.
type State int

const (
	// AwaitingFrame: no bytes of the next event have been seen.
	AwaitingFrame State = iota
	// FrameAccumulating: part of an event is buffered, boundary not yet seen.
	FrameAccumulating
	// FrameReady: the last call to Next returned a complete event.
	FrameReady
)

func (s State) String() string {
	switch s {
	case AwaitingFrame:
		return "awaiting_frame"
	case FrameAccumulating:
		return "frame_accumulating"
	case FrameReady:
		return "frame_ready"
	default:
		return "unknown"
	}
}

// Event is one decoded record.
type Event struct {
	// Event is the optional "event:" type name.
	Event string
	// Data is the joined "data:" payload; multiple data lines are joined by "\n".
	Data    string
	HasData bool
	ID      string
	Retry   int
}

// Decoder reassembles events from arbitrarily fragmented input.
type Decoder struct {
	buf    []byte
	pos    int
	state  State
	closed bool

	pending  Event
	fields   bool
	dataBuf  strings.Builder
	dataSeen bool
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// State reports the current framing state.
func (d *Decoder) State() State {
	return d.state
}

// Buffered returns the number of bytes held but not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Write appends p to the internal buffer. It never fails before Close.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}

	if d.pos > 0 && d.pos == len(d.buf) {
		d.buf = d.buf[:0]
		d.pos = 0
	} else if d.pos > 4096 && d.pos > len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}

	d.buf = append(d.buf, p...)

	if d.state == AwaitingFrame && len(p) > 0 {
		d.state = FrameAccumulating
	}

	return len(p), nil
}

// Close marks the end of input. Any unterminated trailing event is still
// returned by Next, after which Next returns io.EOF.
func (d *Decoder) Close() {
	d.closed = true
}

// Closed reports whether Close has been called.
func (d *Decoder) Closed() bool {
	return d.closed
}

// Next returns the next complete event, ErrIncomplete when more input is
// needed, or io.EOF once the decoder is closed and drained.
func (d *Decoder) Next() (Event, error) {
	for {
		line, ok := d.readLine()
		if !ok {
			if d.closed {
				if d.fields {
					return d.emit(), nil
				}

				d.state = AwaitingFrame

				return Event{}, io.EOF
			}

			if d.fields || d.Buffered() > 0 {
				d.state = FrameAccumulating
			} else {
				d.state = AwaitingFrame
			}

			return Event{}, ErrIncomplete
		}

		if len(line) == 0 {
			if d.fields {
				return d.emit(), nil
			}

			continue
		}

		d.field(line)
	}
}

func (d *Decoder) emit() Event {
	ev := d.pending
	if d.dataSeen {
		ev.Data = d.dataBuf.String()
		ev.HasData = true
	}

	d.pending = Event{}
	d.fields = false
	d.dataSeen = false
	d.dataBuf.Reset()
	d.state = FrameReady

	return ev
}

func (d *Decoder) field(line []byte) {
	if line[0] == ':' {
		return
	}

	name, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		name, value = line[:i], line[i+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	}

	switch string(name) {
	case "data":
		if d.dataSeen {
			d.dataBuf.WriteByte('\n')
		}

		d.dataBuf.Write(value)
		d.dataSeen = true
	case "event":
		d.pending.Event = string(value)
	case "id":
		d.pending.ID = string(value)
	case "retry":
		if n, err := strconv.Atoi(string(value)); err == nil {
			d.pending.Retry = n
		}
	default:
		return
	}

	d.fields = true
}

// readLine returns the next complete line without its terminator. A lone
// trailing '\r' is not consumed until the following byte is known, since
// it may be the first half of "\r\n".
func (d *Decoder) readLine() ([]byte, bool) {
	rest := d.buf[d.pos:]

	i := bytes.IndexAny(rest, "\r\n")
	if i < 0 {
		if d.closed && len(rest) > 0 {
			d.pos = len(d.buf)
			return rest, true
		}

		return nil, false
	}

	line := rest[:i]
	adv := i + 1

	if rest[i] == '\r' {
		switch {
		case i+1 < len(rest) && rest[i+1] == '\n':
			adv++
		case i+1 == len(rest) && !d.closed:
			return nil, false
		}
	}

	d.pos += adv

	return line, true
}
