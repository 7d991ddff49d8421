package seo

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/models"
)

const (
	// DefaultPollInterval is the interval between status polls.
	DefaultPollInterval = 2 * time.Second

	// DefaultPollTimeout is the hard deadline after which the sub-job is
	// treated as abandoned.
	DefaultPollTimeout = 5 * time.Minute
)

// Outcome is the terminal condition of one polling run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeStopped   Outcome = "stopped"
)

// Poller drives the polling loop for one SEO job. A single poll failure is
// swallowed and the loop continues; only a definitive terminal status, the
// hard timeout, or context cancellation stops it.
type Poller struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	logger   arbor.ILogger
}

// NewPoller creates a poller. Zero interval/timeout fall back to the
// defaults (2s / 5m).
func NewPoller(client *Client, interval, timeout time.Duration, logger arbor.ILogger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{
		client:   client,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run polls until a terminal condition and returns the outcome. On
// completion the payload is handed to attach before Run returns. Run blocks;
// callers that must not wait run it on their own goroutine.
func (p *Poller) Run(ctx context.Context, seoSessionID string, attach func(*models.SEOReport)) Outcome {
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return OutcomeStopped

		case <-deadline.C:
			p.logger.Warn().
				Str("seo_session_id", seoSessionID).
				Msg("SEO polling deadline reached, abandoning sub-job")
			return OutcomeTimedOut

		case <-ticker.C:
			status, err := p.client.Status(ctx, seoSessionID)
			if err != nil {
				if ctx.Err() != nil {
					return OutcomeStopped
				}
				// Transient failures never stop the loop on their own
				p.logger.Warn().
					Err(err).
					Str("seo_session_id", seoSessionID).
					Msg("SEO status poll failed, retrying")
				continue
			}

			switch status.Status {
			case models.SEOStatusCompleted:
				if status.Data != nil && attach != nil {
					attach(status.Data)
				}
				return OutcomeCompleted

			case models.SEOStatusNotFound:
				// Definitive negative, the job no longer exists
				p.logger.Debug().
					Str("seo_session_id", seoSessionID).
					Msg("SEO job not found, stopping poller")
				return OutcomeNotFound

			case models.SEOStatusRunning:
				// Keep polling

			default:
				p.logger.Debug().
					Str("seo_session_id", seoSessionID).
					Str("status", string(status.Status)).
					Msg("Ignoring unknown SEO status")
			}
		}
	}
}
