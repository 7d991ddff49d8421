package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func sseServer(t *testing.T, script func(w http.ResponseWriter, flush func())) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		script(w, flusher.Flush)
	}))
	t.Cleanup(server.Close)
	return server
}

func collectFrames(t *testing.T, stream *Stream, timeout time.Duration) []Frame {
	t.Helper()
	var frames []Frame
	deadline := time.After(timeout)
	for {
		select {
		case frame, ok := <-stream.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-deadline:
			t.Fatalf("timed out collecting frames, got %d so far", len(frames))
		}
	}
}

func TestOpenDeliversFramesInOrder(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: progress\ndata: {\"percent\":10,\"message\":\"crawling\"}\n\n")
		flush()
		fmt.Fprint(w, "event: progress\ndata: {\"percent\":55,\"message\":\"enriching\"}\n\n")
		flush()
		fmt.Fprint(w, "event: result\ndata: {\"success\":true}\n\n")
		flush()
	})

	client := NewClient(server.URL, WithLogger(arbor.NewLogger()))
	stream, err := client.Open(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "sess_1"})
	require.NoError(t, err)

	frames := collectFrames(t, stream, 2*time.Second)
	require.Len(t, frames, 3)
	assert.Equal(t, EventProgress, frames[0].Event)
	assert.Equal(t, EventProgress, frames[1].Event)
	assert.Equal(t, EventResult, frames[2].Event)
}

func TestOpenSetsQueryParameters(t *testing.T) {
	var gotQuery atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: result\ndata: {}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	stream, err := client.Open(context.Background(), StreamRequest{
		URL:          "https://example.com",
		Bots:         []string{"googlebot", "bingbot"},
		AIEnrichment: true,
		SessionID:    "sess_42",
		UserIP:       "203.0.113.9",
	})
	require.NoError(t, err)
	collectFrames(t, stream, 2*time.Second)

	query := gotQuery.Load().(url.Values)
	assert.Equal(t, "https://example.com", query.Get("url"))
	assert.Equal(t, "googlebot,bingbot", query.Get("bots"))
	assert.Equal(t, "true", query.Get("aiEnrichment"))
	assert.Equal(t, "sess_42", query.Get("sessionId"))
	assert.Equal(t, "203.0.113.9", query.Get("userIP"))
}

func TestAbnormalEndSynthesizesError(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: progress\ndata: {\"percent\":30}\n\n")
		flush()
		// Handler returns without a terminal event: connection drops
	})

	client := NewClient(server.URL)
	stream, err := client.Open(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "s"})
	require.NoError(t, err)

	frames := collectFrames(t, stream, 2*time.Second)
	require.Len(t, frames, 2)
	assert.Equal(t, EventProgress, frames[0].Event)
	assert.Equal(t, EventError, frames[1].Event)

	var payload struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[1].Data), &payload))
	assert.Equal(t, "analysis failed or connection lost", payload.Message)
}

func TestNormalEndAfterTerminalNoSyntheticError(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: result\ndata: {\"success\":true}\n\nevent: end\ndata: {}\n\n")
		flush()
	})

	client := NewClient(server.URL)
	stream, err := client.Open(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "s"})
	require.NoError(t, err)

	frames := collectFrames(t, stream, 2*time.Second)
	require.Len(t, frames, 2)
	assert.Equal(t, EventResult, frames[0].Event)
	assert.Equal(t, EventEnd, frames[1].Event)
}

func TestCloseIsIdempotentAndSuppressesSyntheticError(t *testing.T) {
	blocked := make(chan struct{})
	server := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "event: progress\ndata: {\"percent\":10}\n\n")
		flush()
		<-blocked
	})
	defer close(blocked)

	client := NewClient(server.URL)
	stream, err := client.Open(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "s"})
	require.NoError(t, err)

	// Drain the first frame so the reader is not blocked on the channel
	select {
	case <-stream.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())

	frames := collectFrames(t, stream, 2*time.Second)
	for _, frame := range frames {
		assert.NotEqual(t, EventError, frame.Event, "explicit close must not synthesize an error")
	}
}

func TestOpenNon200IsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Open(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "s"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestOpenConnectionRefusedIsTransportError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Open(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "s"})
	assert.ErrorIs(t, err, ErrTransport)
}

type stubValidator struct {
	valid bool
	err   error
	calls atomic.Int32
}

func (s *stubValidator) ValidateToken(ctx context.Context, token string) (bool, error) {
	s.calls.Add(1)
	return s.valid, s.err
}

func TestOpenAuthenticatedRejectedTokenNeverOpensTransport(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	validator := &stubValidator{valid: false}
	client := NewClient(server.URL, WithTokenValidator(validator))

	_, err := client.OpenAuthenticated(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "s"}, "bad-token")
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), validator.calls.Load())
	assert.Equal(t, int32(0), hits.Load())
}

func TestOpenAuthenticatedSendsBearerHeader(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: result\ndata: {}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, WithTokenValidator(&stubValidator{valid: true}))
	stream, err := client.OpenAuthenticated(context.Background(), StreamRequest{URL: "https://example.com", SessionID: "s"}, "tok-123")
	require.NoError(t, err)
	collectFrames(t, stream, 2*time.Second)

	assert.Equal(t, "Bearer tok-123", gotAuth.Load().(string))
}

func TestCancelPostsSessionID(t *testing.T) {
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/analysis/cancel", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.Cancel(context.Background(), "sess_9"))

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(gotBody.Load().(string)), &payload))
	assert.Equal(t, "sess_9", payload["sessionId"])
}
