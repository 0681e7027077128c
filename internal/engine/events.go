package engine

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the kinds of session events the engine publishes.
type EventType string

const (
	EventSessionCreated  EventType = "session/created"
	EventDecisionApplied EventType = "decision/applied"
	EventRewindApplied   EventType = "rewind/applied"
	EventJumpApplied     EventType = "jump/applied"
	EventStateUpdated    EventType = "state/updated"
	EventEdgeUpdated     EventType = "edge/updated"
	EventOptionAdded     EventType = "option/added"
	EventVoteStarted     EventType = "vote/started"
	EventVoteTally       EventType = "vote/tally"
	EventVoteClosed      EventType = "vote/closed"
	EventSessionEnded    EventType = "session/ended"
)

// Event is one session-scoped notification. Payload is the
// JSON-serializable body subscribers receive.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID int64     `json:"sessionId"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

// Publisher delivers events to subscribers. Implementations must not
// block: publishing happens after commit on the request path.
type Publisher interface {
	Publish(ev Event)
}

// NopPublisher discards all events. Used in tests and in commands that
// run without a realtime layer.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

func (e *Engine) publish(typ EventType, sessionID int64, at time.Time, payload any) {
	e.pub.Publish(Event{
		ID:        uuid.NewString(),
		Type:      typ,
		SessionID: sessionID,
		At:        at.UTC(),
		Payload:   payload,
	})
}
