package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// Wire event names used by the analysis stream.
const (
	EventProgress    = "progress"
	EventAsyncPrompt = "asyncPrompt"
	EventSEOSession  = "seoSessionId"
	EventResult      = "result"
	EventError       = "error"
	EventCancelled   = "cancelled"
	EventEnd         = "end"
)

// Stream is one open analysis event stream. Frames are delivered in
// server-send order on Frames(); the channel closes when the stream ends.
// If the server ends the stream without a terminal event and the stream was
// not closed locally, a synthetic error frame is delivered first so the
// consumer never hangs on a silently dropped connection.
type Stream struct {
	frames    chan Frame
	body      io.ReadCloser
	cancel    context.CancelFunc
	closeOnce sync.Once
	explicit  atomic.Bool
	logger    arbor.ILogger
}

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, logger arbor.ILogger) *Stream {
	s := &Stream{
		frames: make(chan Frame, 16),
		body:   body,
		cancel: cancel,
		logger: logger,
	}
	go s.readLoop(ctx)
	return s
}

// Frames returns the ordered frame channel. It is closed exactly once, after
// the last frame.
func (s *Stream) Frames() <-chan Frame {
	return s.frames
}

// Close tears the stream down. Safe to call any number of times, from any
// goroutine; a closed stream delivers no further frames beyond those already
// parsed.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.explicit.Store(true)
		s.cancel()
	})
	return nil
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.frames)
	defer s.body.Close()

	parser := &frameParser{}
	buf := make([]byte, 4096)
	sawTerminal := false

	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				if isTerminalEvent(frame.Event) {
					sawTerminal = true
				}
				select {
				case s.frames <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF && s.logger != nil {
				s.logger.Debug().Err(err).Msg("Analysis stream read ended")
			}
			if !sawTerminal && !s.explicit.Load() {
				// Server ended the stream without a terminal event
				synthetic := Frame{
					Event: EventError,
					Data:  `{"message":"analysis failed or connection lost"}`,
				}
				select {
				case s.frames <- synthetic:
				case <-ctx.Done():
				}
			}
			return
		}
	}
}

func isTerminalEvent(name string) bool {
	switch name {
	case EventResult, EventError, EventCancelled:
		return true
	}
	return false
}
