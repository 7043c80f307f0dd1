package eventbus

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// Bus dispatches committed session changes to registered handlers in
// process. Cross-instance fan-out is the feed relay's job, not the bus's.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler // kept sorted by Priority
	log      *slog.Logger
}

// New creates a new event bus. A nil logger discards handler errors.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{log: logger}
}

// Register adds a handler. Handlers with equal priority run in registration
// order.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	slices.SortStableFunc(b.handlers, func(x, y Handler) int {
		return cmp.Compare(x.Priority(), y.Priority())
	})
}

// Dispatch runs every handler subscribed to the event's type. A failing
// handler is logged and turned into a warning on the result; the rest of
// the chain still runs. Only a cancelled context stops dispatch early.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}

	result := &Result{}
	for _, h := range b.subscribers(event.Type) {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("eventbus: dispatch %s: %w", event.Type, err)
		}
		if err := h.Handle(ctx, event, result); err != nil {
			b.log.Warn("eventbus handler failed",
				"handler", h.ID(), "event", event.Type, "session", event.SessionID, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", h.ID(), err))
		}
	}
	return result, nil
}

func (b *Bus) subscribers(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Handler
	for _, h := range b.handlers {
		if slices.Contains(h.Handles(), t) {
			out = append(out, h)
		}
	}
	return out
}
