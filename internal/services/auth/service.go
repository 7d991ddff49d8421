// Package auth validates bearer tokens against the analysis server before
// an authenticated stream is opened.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Service validates bearer tokens via the server's validation endpoint.
type Service struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewService creates a token validation service.
func NewService(baseURL string, timeout time.Duration, logger arbor.ILogger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ValidateToken returns whether the token is accepted by the server. A
// rejected token returns (false, nil); only request-level failures return an
// error.
func (s *Service) ValidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/auth/validate", nil)
	if err != nil {
		return false, fmt.Errorf("create validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("token validation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		s.logger.Debug().Int("status", resp.StatusCode).Msg("Token rejected by server")
		return false, nil
	default:
		return false, fmt.Errorf("token validation returned status %d", resp.StatusCode)
	}
}
