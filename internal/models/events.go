package models

// ProgressEvent updates the displayed completion percentage and status
// message. Events are not guaranteed strictly monotonic; the last one
// processed wins, nothing accumulates.
type ProgressEvent struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// AsyncPrompt signals the job may outlive interactive use. Delivered at most
// once per session; it opens the handoff gate but neither cancels nor
// continues the job by itself.
type AsyncPrompt struct {
	Message string `json:"message"`
}

// SEOSessionEvent carries the side-channel correlation id for the dependent
// SEO analysis job. Receiving it starts the secondary poller; it does not
// affect the primary job's state.
type SEOSessionEvent struct {
	SEOSessionID string `json:"seoSessionId"`
}

// ErrorEvent is the terminal failure signal from the stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

// CancelledEvent is the terminal cancellation signal from the stream.
type CancelledEvent struct {
	Reason string `json:"reason"`
}

// PageMeta is optional per-page metadata extracted by the crawler.
type PageMeta struct {
	Path        string `json:"path"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
}

// AnalysisResult is the terminal successful payload of the primary job.
// The SEO field is attached after the fact by the secondary poller and is
// never part of the streamed payload.
type AnalysisResult struct {
	Success   bool       `json:"success"`
	URL       string     `json:"url"`
	Paths     []string   `json:"paths"`
	Pages     []PageMeta `json:"pages,omitempty"`
	AIContent string     `json:"aiContent,omitempty"`
	SEO       *SEOReport `json:"seo,omitempty"`
}

// SEOStatus is the state of the secondary SEO job as reported by polling.
type SEOStatus string

const (
	SEOStatusRunning   SEOStatus = "running"
	SEOStatusCompleted SEOStatus = "completed"
	SEOStatusNotFound  SEOStatus = "not_found"
)

// SEOStatusResponse is one poll response for the secondary job.
type SEOStatusResponse struct {
	Success bool       `json:"success"`
	Status  SEOStatus  `json:"status"`
	Data    *SEOReport `json:"data,omitempty"`
}

// SEOIssue is a single finding from the SEO rule engine.
type SEOIssue struct {
	Severity string `json:"severity"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
}

// SEOReport is the secondary job's result payload, merged additively into an
// already-delivered AnalysisResult.
type SEOReport struct {
	Score  int        `json:"score"`
	Issues []SEOIssue `json:"issues,omitempty"`
}
