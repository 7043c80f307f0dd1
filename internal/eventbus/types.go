package eventbus

import (
	"time"

	"github.com/leadcheck/leadcheck/internal/types"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// Session lifecycle events, one per committed transition.
	EventSessionCreated     EventType = "session.created"
	EventSessionClaimed     EventType = "session.claimed"
	EventSessionDropped     EventType = "session.dropped"
	EventSessionFinished    EventType = "session.finished"
	EventSessionTransferred EventType = "session.transferred"
	EventSessionDeferred    EventType = "session.deferred"
	EventSessionClosed      EventType = "session.closed"

	// Item events. These change progress but never status.
	EventItemVerified EventType = "item.verified"
	EventItemUpdated  EventType = "item.updated"
)

// AllEventTypes lists every type the bus carries.
var AllEventTypes = []EventType{
	EventSessionCreated, EventSessionClaimed, EventSessionDropped,
	EventSessionFinished, EventSessionTransferred, EventSessionDeferred,
	EventSessionClosed, EventItemVerified, EventItemUpdated,
}

// FromAudit maps an audit event type to its bus counterpart.
func FromAudit(t types.EventType) EventType {
	switch t {
	case types.EventCreated:
		return EventSessionCreated
	case types.EventClaimed:
		return EventSessionClaimed
	case types.EventDropped:
		return EventSessionDropped
	case types.EventFinished:
		return EventSessionFinished
	case types.EventTransferred:
		return EventSessionTransferred
	case types.EventDeferred:
		return EventSessionDeferred
	case types.EventClosed:
		return EventSessionClosed
	case types.EventFieldVerified:
		return EventItemVerified
	case types.EventFieldUpdated:
		return EventItemUpdated
	}
	return EventType(t)
}

// IsSessionEvent reports whether the event records a status change.
func (t EventType) IsSessionEvent() bool {
	switch t {
	case EventSessionCreated, EventSessionClaimed, EventSessionDropped,
		EventSessionFinished, EventSessionTransferred, EventSessionDeferred,
		EventSessionClosed:
		return true
	}
	return false
}

// IsItemEvent reports whether the event records an item change.
func (t EventType) IsItemEvent() bool {
	return t == EventItemVerified || t == EventItemUpdated
}

// Event is published after the change it describes has committed.
type Event struct {
	Type         EventType    `json:"type"`
	SessionID    string       `json:"session_id"`
	SubmissionID string       `json:"submission_id"`
	Actor        string       `json:"actor,omitempty"`
	OldStatus    types.Status `json:"old_status,omitempty"`
	NewStatus    types.Status `json:"new_status,omitempty"`
	ItemID       int64        `json:"item_id,omitempty"`

	// Session is the post-change snapshot.
	Session *types.Session `json:"session,omitempty"`
	// Notification is set when another party must be alerted.
	Notification *types.Notification `json:"notification,omitempty"`

	At time.Time `json:"at"`
}

// Result aggregates handler responses for an event.
type Result struct {
	Warnings []string `json:"warnings,omitempty"`
}
