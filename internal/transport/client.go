package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
)

const (
	// DefaultRequestTimeout is the timeout for non-streaming requests.
	DefaultRequestTimeout = 30 * time.Second
)

var (
	// ErrAuth indicates the bearer token was rejected before any stream was
	// opened.
	ErrAuth = errors.New("authentication token rejected")

	// ErrTransport indicates the stream could not be opened or the server
	// refused the request.
	ErrTransport = errors.New("transport failure")
)

// StreamRequest carries the parameters of one analysis stream.
type StreamRequest struct {
	URL          string
	Bots         []string
	AIEnrichment bool
	SessionID    string
	UserIP       string
}

// Client opens analysis streams and issues out-of-band requests against the
// analysis server. One client serves both the anonymous and the
// authenticated path; the only difference is token validation and the
// Authorization header.
type Client struct {
	baseURL      string
	httpClient   *http.Client // non-streaming calls
	streamClient *http.Client // no timeout, streams stay open indefinitely
	validator    interfaces.TokenValidator
	logger       arbor.ILogger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for non-streaming requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenValidator sets the validator gating the authenticated path.
func WithTokenValidator(validator interfaces.TokenValidator) ClientOption {
	return func(c *Client) {
		c.validator = validator
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an analysis server client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: DefaultRequestTimeout},
		streamClient: &http.Client{Timeout: 0},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens an anonymous analysis stream.
func (c *Client) Open(ctx context.Context, req StreamRequest) (*Stream, error) {
	return c.open(ctx, req, "")
}

// OpenAuthenticated validates the token, then opens a stream carrying it as
// a bearer header. An invalid token never opens a transport.
func (c *Client) OpenAuthenticated(ctx context.Context, req StreamRequest, token string) (*Stream, error) {
	if c.validator == nil {
		return nil, fmt.Errorf("%w: no token validator configured", ErrAuth)
	}
	valid, err := c.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if !valid {
		return nil, ErrAuth
	}
	return c.open(ctx, req, token)
}

func (c *Client) open(ctx context.Context, req StreamRequest, token string) (*Stream, error) {
	streamURL, err := c.streamURL(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: stream request returned status %d", ErrTransport, resp.StatusCode)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("session_id", req.SessionID).
			Str("url", req.URL).
			Bool("authenticated", token != "").
			Msg("Analysis stream opened")
	}

	return newStream(streamCtx, cancel, resp.Body, c.logger), nil
}

func (c *Client) streamURL(req StreamRequest) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/analysis/stream")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("url", req.URL)
	if len(req.Bots) > 0 {
		q.Set("bots", strings.Join(req.Bots, ","))
	}
	q.Set("aiEnrichment", strconv.FormatBool(req.AIEnrichment))
	q.Set("sessionId", req.SessionID)
	if req.UserIP != "" {
		q.Set("userIP", req.UserIP)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Cancel asks the server to stop work for a session. Callers treat failure
// as best-effort: local cancellation never waits on this request.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analysis/cancel", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create cancel request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cancel request returned status %d", resp.StatusCode)
	}
	return nil
}
