// Package ipinfo resolves the client's public IP used to enrich analysis
// stream requests. Lookup failure is non-fatal: the userIP field is simply
// omitted from the request.
package ipinfo

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Client looks up and caches the public IP for the process lifetime.
type Client struct {
	lookupURL  string
	httpClient *http.Client
	logger     arbor.ILogger

	mu     sync.Mutex
	cached string
}

// NewClient creates an IP lookup client. The endpoint must return the IP as
// plain text (api.ipify.org style).
func NewClient(lookupURL string, timeout time.Duration, logger arbor.ILogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		lookupURL:  lookupURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// LookupIP returns the public IP, resolving it once and caching the result.
func (c *Client) LookupIP(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != "" {
		return c.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("create ip lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("read ip lookup response: %w", err)
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("ip lookup returned invalid address %q", ip)
	}

	c.cached = ip
	c.logger.Debug().Str("ip", ip).Msg("Resolved public IP")
	return ip, nil
}
