package interfaces

import "context"

// EventType identifies a published notification
type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventSessionProgress  EventType = "session.progress"
	EventAsyncPrompt      EventType = "session.async_prompt"
	EventSessionCompleted EventType = "session.completed"
	EventSessionFailed    EventType = "session.failed"
	EventSessionCancelled EventType = "session.cancelled"
	// EventResultAugmented fires when the secondary SEO result attaches to an
	// existing analysis result. It is deliberately distinct from
	// EventSessionCompleted so consumers never see a duplicate completion.
	EventResultAugmented EventType = "session.result_augmented"
)

// Event is a notification published to subscribers
type Event struct {
	Type      EventType
	SessionID string
	Payload   interface{}
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event Event) error

// EventService distributes session notifications to consumers (CLI, UI)
// without the session controller knowing about them.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
