package transport

import (
	"bytes"
	"strings"
)

// Frame is one named event parsed from a text/event-stream body.
type Frame struct {
	Event string
	Data  string
}

// frameParser incrementally decodes text/event-stream bytes. Frames can be
// split across arbitrary read chunks: a frame is emitted only once its
// terminating blank line has arrived, and the unfinished remainder is
// retained for the next feed. An incomplete trailing fragment at stream end
// is simply never emitted.
type frameParser struct {
	rem   []byte
	event string
	data  []string
}

// Feed appends a chunk and returns all frames completed by it.
func (p *frameParser) Feed(chunk []byte) []Frame {
	p.rem = append(p.rem, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(p.rem, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(string(p.rem[:idx]), "\r")
		p.rem = p.rem[idx+1:]

		if line == "" {
			// Blank line terminates the frame
			if p.event != "" || len(p.data) > 0 {
				frames = append(frames, Frame{
					Event: p.event,
					Data:  strings.Join(p.data, "\n"),
				})
			}
			p.event = ""
			p.data = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			// Comment / keep-alive
			continue
		}

		field, value := line, ""
		if i := strings.Index(line, ":"); i >= 0 {
			field = line[:i]
			value = strings.TrimPrefix(line[i+1:], " ")
		}

		switch field {
		case "event":
			p.event = value
		case "data":
			// Multi-line data joins with newlines
			p.data = append(p.data, value)
		}
		// id and retry fields are not part of this protocol
	}

	return frames
}
