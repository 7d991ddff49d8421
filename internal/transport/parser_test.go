package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameParserCompleteFrame(t *testing.T) {
	p := &frameParser{}

	frames := p.Feed([]byte("event: progress\ndata: {\"percent\":10}\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "progress", frames[0].Event)
	assert.Equal(t, `{"percent":10}`, frames[0].Data)
}

func TestFrameParserSplitAcrossChunks(t *testing.T) {
	p := &frameParser{}

	// A frame arriving in arbitrary fragments must not dispatch early
	frames := p.Feed([]byte("event: prog"))
	assert.Empty(t, frames)

	frames = p.Feed([]byte("ress\ndata: {\"perc"))
	assert.Empty(t, frames)

	frames = p.Feed([]byte("ent\":55}\n\nevent: result\ndata: {}\n\n"))
	require.Len(t, frames, 2)
	assert.Equal(t, "progress", frames[0].Event)
	assert.Equal(t, `{"percent":55}`, frames[0].Data)
	assert.Equal(t, "result", frames[1].Event)
}

func TestFrameParserMultiLineData(t *testing.T) {
	p := &frameParser{}

	frames := p.Feed([]byte("event: result\ndata: {\"a\":1,\ndata: \"b\":2}\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "{\"a\":1,\n\"b\":2}", frames[0].Data)
}

func TestFrameParserCRLF(t *testing.T) {
	p := &frameParser{}

	frames := p.Feed([]byte("event: progress\r\ndata: {\"percent\":5}\r\n\r\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "progress", frames[0].Event)
	assert.Equal(t, `{"percent":5}`, frames[0].Data)
}

func TestFrameParserIgnoresCommentsAndIDs(t *testing.T) {
	p := &frameParser{}

	frames := p.Feed([]byte(": keep-alive\nid: 7\nretry: 1000\nevent: end\ndata: {}\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "end", frames[0].Event)
}

func TestFrameParserDiscardsTrailingFragment(t *testing.T) {
	p := &frameParser{}

	frames := p.Feed([]byte("event: result\ndata: {\"success\":true}\n\nevent: trunca"))

	// The incomplete trailing frame is retained, never emitted
	require.Len(t, frames, 1)
	assert.Equal(t, "result", frames[0].Event)
}

func TestFrameParserDataWithoutEventName(t *testing.T) {
	p := &frameParser{}

	frames := p.Feed([]byte("data: {\"orphan\":true}\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "", frames[0].Event)
	assert.Equal(t, `{"orphan":true}`, frames[0].Data)
}
