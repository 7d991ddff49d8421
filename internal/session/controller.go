// Package session implements the streaming analysis session lifecycle: the
// primary job state machine, the cancellation coordinator, the async handoff
// gate, and the merge point for the secondary SEO result.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/dispatch"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/seo"
	"github.com/ternarybob/vigil/internal/transport"
)

var (
	// ErrValidation indicates the submitted URL was rejected locally; no
	// transport was opened.
	ErrValidation = errors.New("invalid analysis url")

	// ErrNoPrompt indicates a handoff decision was submitted while no prompt
	// was pending.
	ErrNoPrompt = errors.New("no handoff prompt pending")
)

const (
	remoteCancelTimeout = 10 * time.Second
	ipLookupTimeout     = 5 * time.Second
)

// Options configures optional controller collaborators.
type Options struct {
	IPLookup        interfaces.IPLookup        // nil omits the userIP field
	History         interfaces.HistoryStorage  // nil disables local history
	SEOPollInterval time.Duration              // 0 = seo.DefaultPollInterval
	SEOPollTimeout  time.Duration              // 0 = seo.DefaultPollTimeout
}

// Controller owns the one live analysis session. Starting a new session
// replaces the previous one; events for a replaced session are discarded by
// identity, never by asking the server to stop sending them.
type Controller struct {
	api       *transport.Client
	seoClient *seo.Client
	events    interfaces.EventService
	logger    arbor.ILogger
	validate  *validator.Validate
	opts      Options

	mu      sync.Mutex
	current *activeSession
}

// activeSession is the mutable state of one session. All fields are guarded
// by the controller mutex.
type activeSession struct {
	session     models.Session
	stream      *transport.Stream
	percent     int
	message     string
	failure     string
	result      *models.AnalysisResult
	pendingSEO  *models.SEOReport
	seoAttached bool
	seoStarted  bool
	promptSeen  bool
	gateOpen    bool
	decision    models.HandoffDecision
	done        chan struct{}
	doneOnce    sync.Once
}

func (st *activeSession) finish() {
	st.doneOnce.Do(func() {
		close(st.done)
	})
}

// NewController creates a session controller.
func NewController(api *transport.Client, seoClient *seo.Client, events interfaces.EventService, logger arbor.ILogger, opts Options) *Controller {
	return &Controller{
		api:       api,
		seoClient: seoClient,
		events:    events,
		logger:    logger,
		validate:  validator.New(),
		opts:      opts,
	}
}

// Start validates the request, opens the transport, and begins consuming the
// event stream. It returns the new session id. A malformed URL fails with
// ErrValidation before any transport is opened; transport.ErrAuth and
// transport.ErrTransport pass through from the open.
func (c *Controller) Start(ctx context.Context, req models.AnalysisRequest) (string, error) {
	if err := c.validate.Struct(&req); err != nil {
		return "", fmt.Errorf("%w: %q", ErrValidation, req.URL)
	}

	sessionID := common.NewSessionID()

	userIP := ""
	if c.opts.IPLookup != nil {
		ipCtx, cancel := context.WithTimeout(ctx, ipLookupTimeout)
		ip, err := c.opts.IPLookup.LookupIP(ipCtx)
		cancel()
		if err != nil {
			c.logger.Debug().Err(err).Msg("IP lookup failed, omitting userIP")
		} else {
			userIP = ip
		}
	}

	streamReq := transport.StreamRequest{
		URL:          req.URL,
		Bots:         req.Bots,
		AIEnrichment: req.AIEnrichment,
		SessionID:    sessionID,
		UserIP:       userIP,
	}

	var stream *transport.Stream
	var err error
	if req.Token != "" {
		stream, err = c.api.OpenAuthenticated(ctx, streamReq, req.Token)
	} else {
		stream, err = c.api.Open(ctx, streamReq)
	}
	if err != nil {
		return "", err
	}

	st := &activeSession{
		session: models.Session{
			ID:        sessionID,
			URL:       req.URL,
			StartedAt: time.Now(),
			State:     models.SessionRunning,
		},
		stream: stream,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	prev := c.current
	c.current = st
	c.mu.Unlock()

	if prev != nil {
		// The replaced session's stream closes locally; any events still in
		// flight fail the identity check and are dropped.
		prev.stream.Close()
		prev.finish()
	}

	c.logger.Info().
		Str("session_id", sessionID).
		Str("url", req.URL).
		Msg("Analysis session started")
	c.publish(interfaces.EventSessionStarted, sessionID, st.session)

	go c.readLoop(st)

	return sessionID, nil
}

func (c *Controller) readLoop(st *activeSession) {
	d := dispatch.NewDispatcher(dispatch.Handlers{
		OnProgress:    func(ev models.ProgressEvent) { c.handleProgress(st, ev) },
		OnAsyncPrompt: func(ev models.AsyncPrompt) { c.handleAsyncPrompt(st, ev) },
		OnSEOSession:  func(id string) { c.handleSEOSession(st, id) },
		OnResult:      func(result *models.AnalysisResult) { c.handleResult(st, result) },
		OnError:       func(msg string) { c.handleError(st, msg) },
		OnCancelled:   func(reason string) { c.handleCancelled(st, reason) },
		OnEnd:         func() { st.stream.Close() },
	}, c.logger)

	// Frames arrive in server-send order; the transport synthesizes an error
	// frame when the server drops the stream mid-job, so the state machine
	// can never hang waiting for a terminal event.
	for frame := range st.stream.Frames() {
		d.Dispatch(frame.Event, frame.Data)
	}
}

// Cancel forces the session into cancelled locally and fires a best-effort
// remote cancel. The remote request failing, or a result frame already
// sitting in the network buffer, never reverts the local decision.
func (c *Controller) Cancel() {
	c.mu.Lock()
	st := c.current
	if st == nil || st.session.State.IsTerminal() {
		c.mu.Unlock()
		return
	}
	st.session.State = models.SessionCancelled
	st.message = "Analysis cancelled"
	st.gateOpen = false
	sessionID := st.session.ID
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteCancelTimeout)
		defer cancel()
		if err := c.api.Cancel(ctx, sessionID); err != nil {
			c.logger.Warn().
				Err(err).
				Str("session_id", sessionID).
				Msg("Remote cancel request failed, local cancellation stands")
		}
	}()

	st.stream.Close()
	st.finish()

	c.logger.Info().Str("session_id", sessionID).Msg("Analysis session cancelled")
	c.publish(interfaces.EventSessionCancelled, sessionID, "cancelled by user")
	c.recordHistory(st)
}

// ResolveHandoff answers a pending async handoff prompt. The prompt never
// reopens for the same session. DecisionLeave stops interactive watching but
// neither cancels the server-side job nor closes the transport; completion
// is delivered out-of-band.
func (c *Controller) ResolveHandoff(decision models.HandoffDecision) error {
	c.mu.Lock()
	st := c.current
	if st == nil || !st.gateOpen {
		c.mu.Unlock()
		return ErrNoPrompt
	}
	st.gateOpen = false
	st.decision = decision
	sessionID := st.session.ID
	c.mu.Unlock()

	c.logger.Info().
		Str("session_id", sessionID).
		Str("decision", string(decision)).
		Msg("Handoff prompt resolved")
	return nil
}

// State returns the primary job state, idle before any session started.
func (c *Controller) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return models.SessionIdle
	}
	return c.current.session.State
}

// Progress returns the last displayed percent and status message.
func (c *Controller) Progress() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0, ""
	}
	return c.current.percent, c.current.message
}

// Result returns the analysis result, nil until the session completes.
func (c *Controller) Result() *models.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.result
}

// Session returns a copy of the current session, nil before the first start.
func (c *Controller) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	session := c.current.session
	return &session
}

// PromptPending reports whether an async handoff prompt awaits a decision.
func (c *Controller) PromptPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.gateOpen
}

// Decision returns the handoff decision, empty if none was made.
func (c *Controller) Decision() models.HandoffDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.decision
}

// Wait blocks until the current session reaches a terminal state or the
// context ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	st := c.current
	c.mu.Unlock()
	if st == nil {
		return fmt.Errorf("no session started")
	}
	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) handleProgress(st *activeSession, ev models.ProgressEvent) {
	c.mu.Lock()
	if c.current != st || st.session.State.IsTerminal() {
		c.mu.Unlock()
		return
	}
	// Last event wins, nothing accumulates
	st.percent = ev.Percent
	st.message = ev.Message
	sessionID := st.session.ID
	c.mu.Unlock()

	c.publish(interfaces.EventSessionProgress, sessionID, ev)
}

func (c *Controller) handleAsyncPrompt(st *activeSession, ev models.AsyncPrompt) {
	c.mu.Lock()
	if c.current != st || st.session.State.IsTerminal() || st.promptSeen {
		c.mu.Unlock()
		return
	}
	st.promptSeen = true
	st.gateOpen = true
	sessionID := st.session.ID
	c.mu.Unlock()

	c.publish(interfaces.EventAsyncPrompt, sessionID, ev)
}

func (c *Controller) handleSEOSession(st *activeSession, seoSessionID string) {
	// Secondary-job events stay valid after a primary terminal state, so the
	// only gates here are session identity and the at-most-once start.
	c.mu.Lock()
	if c.current != st || st.seoStarted || seoSessionID == "" {
		c.mu.Unlock()
		return
	}
	st.seoStarted = true
	interval := c.opts.SEOPollInterval
	timeout := c.opts.SEOPollTimeout
	c.mu.Unlock()

	c.logger.Debug().
		Str("session_id", st.session.ID).
		Str("seo_session_id", seoSessionID).
		Msg("Starting SEO poller")

	poller := seo.NewPoller(c.seoClient, interval, timeout, c.logger)
	go func() {
		// The poller's lifetime is independent of the primary stream: a
		// primary cancellation does not stop it, only its own timeout or a
		// definitive status does.
		outcome := poller.Run(context.Background(), seoSessionID, func(report *models.SEOReport) {
			c.attachSEO(st, report)
		})
		c.logger.Debug().
			Str("seo_session_id", seoSessionID).
			Str("outcome", string(outcome)).
			Msg("SEO poller finished")
	}()
}

// attachSEO merges the secondary result into the primary one. The merge is
// additive and a no-op when the originating session is no longer current.
func (c *Controller) attachSEO(st *activeSession, report *models.SEOReport) {
	c.mu.Lock()
	if c.current != st || st.seoAttached {
		c.mu.Unlock()
		return
	}
	if st.result == nil {
		// Secondary finished first; attach once the primary result exists
		st.pendingSEO = report
		c.mu.Unlock()
		return
	}
	st.result.SEO = report
	st.seoAttached = true
	sessionID := st.session.ID
	c.mu.Unlock()

	c.publish(interfaces.EventResultAugmented, sessionID, report)
	c.recordHistory(st)
}

func (c *Controller) handleResult(st *activeSession, result *models.AnalysisResult) {
	c.mu.Lock()
	if c.current != st || st.session.State.IsTerminal() {
		c.mu.Unlock()
		return
	}
	st.session.State = models.SessionCompleted
	st.percent = 100
	st.message = "Analysis complete"
	st.gateOpen = false
	st.result = result
	augmented := false
	if st.pendingSEO != nil {
		result.SEO = st.pendingSEO
		st.pendingSEO = nil
		st.seoAttached = true
		augmented = true
	}
	sessionID := st.session.ID
	seoReport := result.SEO
	c.mu.Unlock()

	st.stream.Close()
	st.finish()

	c.logger.Info().
		Str("session_id", sessionID).
		Int("paths", len(result.Paths)).
		Msg("Analysis session completed")
	c.publish(interfaces.EventSessionCompleted, sessionID, result)
	if augmented {
		c.publish(interfaces.EventResultAugmented, sessionID, seoReport)
	}
	c.recordHistory(st)
}

func (c *Controller) handleError(st *activeSession, message string) {
	if message == "" {
		message = "analysis failed or connection lost"
	}

	c.mu.Lock()
	if c.current != st || st.session.State.IsTerminal() {
		c.mu.Unlock()
		return
	}
	st.session.State = models.SessionFailed
	st.failure = message
	st.message = message
	st.gateOpen = false
	sessionID := st.session.ID
	c.mu.Unlock()

	st.stream.Close()
	st.finish()

	c.logger.Warn().
		Str("session_id", sessionID).
		Str("error", message).
		Msg("Analysis session failed")
	c.publish(interfaces.EventSessionFailed, sessionID, message)
	c.recordHistory(st)
}

func (c *Controller) handleCancelled(st *activeSession, reason string) {
	c.mu.Lock()
	if c.current != st || st.session.State.IsTerminal() {
		c.mu.Unlock()
		return
	}
	st.session.State = models.SessionCancelled
	st.message = "Analysis cancelled"
	st.gateOpen = false
	sessionID := st.session.ID
	c.mu.Unlock()

	st.stream.Close()
	st.finish()

	c.publish(interfaces.EventSessionCancelled, sessionID, reason)
	c.recordHistory(st)
}

func (c *Controller) publish(eventType interfaces.EventType, sessionID string, payload interface{}) {
	if c.events == nil {
		return
	}
	event := interfaces.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
	}
	if err := c.events.PublishSync(context.Background(), event); err != nil {
		c.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Event delivery failed")
	}
}

func (c *Controller) recordHistory(st *activeSession) {
	if c.opts.History == nil {
		return
	}

	c.mu.Lock()
	record := &models.SessionRecord{
		SessionID:   st.session.ID,
		URL:         st.session.URL,
		State:       st.session.State,
		StartedAt:   st.session.StartedAt,
		FinishedAt:  time.Now(),
		SEOAttached: st.seoAttached,
		Error:       st.failure,
	}
	if st.result != nil {
		record.PageCount = len(st.result.Paths)
	}
	c.mu.Unlock()

	if err := c.opts.History.SaveRecord(context.Background(), record); err != nil {
		c.logger.Warn().Err(err).Str("session_id", record.SessionID).Msg("Failed to save session history")
	}
}
