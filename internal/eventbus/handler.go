package eventbus

import "context"

// Handler reacts to committed session changes. The bus runs matching
// handlers one after another, lowest Priority first.
type Handler interface {
	// ID names the handler in logs and in result warnings.
	ID() string

	// Handles lists the event types the handler subscribes to.
	Handles() []EventType

	Priority() int

	// Handle runs the side effect for one event. A returned error becomes a
	// warning on the result; the transition that produced the event stays
	// committed and later handlers still run.
	Handle(ctx context.Context, event *Event, result *Result) error
}
