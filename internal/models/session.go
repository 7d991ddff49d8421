package models

import "time"

// SessionState represents the lifecycle state of the primary analysis job
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionRunning   SessionState = "running"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
	SessionCancelled SessionState = "cancelled"
)

// IsTerminal returns true for absorbing states. Once a session reaches a
// terminal state, further stream events must not change it.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// Session is one client-initiated analysis run. The id is generated
// client-side before the transport opens and is the sole key the server uses
// to correlate progress, cancellation, and deferred email delivery.
type Session struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	StartedAt time.Time    `json:"started_at"`
	State     SessionState `json:"state"`
}

// HandoffDecision is the user's answer to an async handoff prompt.
type HandoffDecision string

const (
	// DecisionKeepWaiting dismisses the prompt and keeps watching the stream.
	DecisionKeepWaiting HandoffDecision = "keep_waiting"
	// DecisionLeave stops watching; the job keeps running server-side and
	// completion is delivered out-of-band (email).
	DecisionLeave HandoffDecision = "leave"
)

// AnalysisRequest is the client input that starts a session.
type AnalysisRequest struct {
	URL          string   `json:"url" validate:"required,url"`
	Bots         []string `json:"bots,omitempty"`
	AIEnrichment bool     `json:"ai_enrichment,omitempty"`
	Token        string   `json:"-"` // Bearer token; empty means anonymous transport
}

// SessionRecord is the locally persisted trace of a finished session.
type SessionRecord struct {
	SessionID   string       `json:"session_id" badgerhold:"key"`
	URL         string       `json:"url"`
	State       SessionState `json:"state"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	PageCount   int          `json:"page_count"`
	SEOAttached bool         `json:"seo_attached"`
	Error       string       `json:"error,omitempty"`
}
