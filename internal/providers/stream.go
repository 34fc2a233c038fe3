package providers

import (
	"errors"
	"io"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

// StreamState is the lifecycle of a Stream.
type StreamState int

const (
	StreamAwaitingFrame StreamState = iota
	StreamFrameAccumulating
	StreamFrameReady
	// StreamTerminated is absorbing: Next returns io.EOF and Write discards.
	StreamTerminated
)

func (s StreamState) String() string {
	switch s {
	case StreamAwaitingFrame:
		return "awaiting_frame"
	case StreamFrameAccumulating:
		return "frame_accumulating"
	case StreamFrameReady:
		return "frame_ready"
	case StreamTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stream decodes one upstream SSE response into canonical chunks. Bytes
// are pushed with Write as they arrive; chunks are pulled with Next. A
// Stream is bound to a single connection and is not safe for concurrent use.
type Stream struct {
	id     ProviderID
	api    API
	dec    *sse.Decoder
	parser frameParser

	frames     int
	chunks     int
	terminated bool
}

// Write buffers upstream bytes. After termination input is discarded.
func (s *Stream) Write(p []byte) (int, error) {
	if s.terminated {
		return len(p), nil
	}

	if _, err := s.dec.Write(p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close signals upstream EOF. Subsequent pulls drain what is buffered and
// then report StreamTerminatedAbnormally unless a terminal frame was seen.
func (s *Stream) Close() {
	s.dec.Close()
}

// State reports the current lifecycle state.
func (s *Stream) State() StreamState {
	if s.terminated {
		return StreamTerminated
	}

	switch s.dec.State() {
	case sse.FrameAccumulating:
		return StreamFrameAccumulating
	case sse.FrameReady:
		return StreamFrameReady
	default:
		return StreamAwaitingFrame
	}
}

// Chunks reports how many chunks have been yielded.
func (s *Stream) Chunks() int {
	return s.chunks
}

// Next returns the next chunk. Other outcomes:
//   - sse.ErrIncomplete: more bytes are needed
//   - a KindStreamFrameError *canonical.Error: one frame was bad, call again
//   - a KindStreamTerminatedAbnormally error: upstream closed early
//   - io.EOF: the stream has terminated
func (s *Stream) Next() (*canonical.StreamChunk, error) {
	for {
		if s.terminated {
			return nil, io.EOF
		}

		ev, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.terminated = true

				return nil, &canonical.Error{
					Kind:     canonical.KindStreamTerminatedAbnormally,
					Provider: s.id.String(),
					API:      s.api.String(),
					Frame:    s.frames,
				}
			}

			return nil, err
		}

		frame := s.frames
		s.frames++

		chunk, terminal, err := s.parser.parse(ev)
		if err != nil {
			return nil, &canonical.Error{
				Kind:     canonical.KindStreamFrameError,
				Provider: s.id.String(),
				API:      s.api.String(),
				Frame:    frame,
				Err:      err,
			}
		}

		if terminal {
			s.terminated = true
		}

		if chunk == nil || chunk.Empty() {
			continue
		}

		chunk.Index = s.chunks
		s.chunks++

		return chunk, nil
	}
}

// StreamEncoder renders canonical chunks as SSE frames of one wire format.
type StreamEncoder struct {
	id  ProviderID
	api API
	enc chunkEncoder
}

// EncodeChunk renders one chunk. It may return no bytes when the target
// format needs more input, e.g. buffered tool call arguments.
func (e *StreamEncoder) EncodeChunk(chunk *canonical.StreamChunk) ([]byte, error) {
	if chunk == nil {
		return nil, nil
	}

	out, err := e.enc.encode(chunk)
	if err != nil {
		return nil, annotate(err, e.id, e.api)
	}

	return out, nil
}

// End flushes buffered state and the format's terminal frames.
func (e *StreamEncoder) End() []byte {
	return e.enc.end()
}
