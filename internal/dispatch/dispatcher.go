// Package dispatch routes named stream frames to typed handlers. It is
// shared by every transport variant so session behavior stays
// transport-agnostic.
package dispatch

import (
	"encoding/json"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/transport"
)

// Handlers receives typed events. Nil handlers are skipped.
type Handlers struct {
	OnProgress    func(models.ProgressEvent)
	OnAsyncPrompt func(models.AsyncPrompt)
	OnSEOSession  func(seoSessionID string)
	OnResult      func(*models.AnalysisResult)
	OnError       func(message string)
	OnCancelled   func(reason string)
	OnEnd         func()
}

// Dispatcher parses raw frame payloads and routes them. A malformed payload
// in a single frame is discarded without affecting subsequent frames.
type Dispatcher struct {
	handlers Handlers
	logger   arbor.ILogger
}

// NewDispatcher creates a dispatcher for the given handlers.
func NewDispatcher(handlers Handlers, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		logger:   logger,
	}
}

// Dispatch routes one frame by event name.
func (d *Dispatcher) Dispatch(eventName, rawPayload string) {
	switch eventName {
	case transport.EventProgress:
		var ev models.ProgressEvent
		if !d.unmarshal(eventName, rawPayload, &ev) {
			return
		}
		if d.handlers.OnProgress != nil {
			d.handlers.OnProgress(ev)
		}

	case transport.EventAsyncPrompt:
		var ev models.AsyncPrompt
		if !d.unmarshal(eventName, rawPayload, &ev) {
			return
		}
		if d.handlers.OnAsyncPrompt != nil {
			d.handlers.OnAsyncPrompt(ev)
		}

	case transport.EventSEOSession:
		var ev models.SEOSessionEvent
		if !d.unmarshal(eventName, rawPayload, &ev) {
			return
		}
		if d.handlers.OnSEOSession != nil {
			d.handlers.OnSEOSession(ev.SEOSessionID)
		}

	case transport.EventResult:
		var result models.AnalysisResult
		if !d.unmarshal(eventName, rawPayload, &result) {
			return
		}
		if d.handlers.OnResult != nil {
			d.handlers.OnResult(&result)
		}

	case transport.EventError:
		var ev models.ErrorEvent
		if !d.unmarshal(eventName, rawPayload, &ev) {
			return
		}
		if d.handlers.OnError != nil {
			d.handlers.OnError(ev.Message)
		}

	case transport.EventCancelled:
		var ev models.CancelledEvent
		if !d.unmarshal(eventName, rawPayload, &ev) {
			return
		}
		if d.handlers.OnCancelled != nil {
			d.handlers.OnCancelled(ev.Reason)
		}

	case transport.EventEnd:
		if d.handlers.OnEnd != nil {
			d.handlers.OnEnd()
		}

	default:
		if d.logger != nil {
			d.logger.Debug().Str("event", eventName).Msg("Ignoring unknown stream event")
		}
	}
}

// unmarshal parses a frame payload. An empty payload decodes to the zero
// value; malformed JSON discards the frame.
func (d *Dispatcher) unmarshal(eventName, rawPayload string, v interface{}) bool {
	if rawPayload == "" {
		return true
	}
	if err := json.Unmarshal([]byte(rawPayload), v); err != nil {
		if d.logger != nil {
			d.logger.Debug().
				Str("event", eventName).
				Err(err).
				Msg("Discarding malformed event payload")
		}
		return false
	}
	return true
}
