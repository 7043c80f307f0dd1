package eventbus

import (
	"context"
	"errors"

	"github.com/leadcheck/leadcheck/internal/types"
)

// Publisher receives every event for broadcast to watching clients.
type Publisher interface {
	Publish(ctx context.Context, event *Event)
}

// Notifier delivers a handoff alert. Warnings are channel failures that did
// not stop delivery to the remaining channels.
type Notifier interface {
	Notify(ctx context.Context, n *types.Notification) (warnings []string, err error)
}

// FeedHandler pushes every event to the change feed.
// Priority 10 (clients learn about the change first).
type FeedHandler struct {
	Feed Publisher
}

func (h *FeedHandler) ID() string           { return "feed" }
func (h *FeedHandler) Handles() []EventType { return AllEventTypes }
func (h *FeedHandler) Priority() int        { return 10 }

func (h *FeedHandler) Handle(ctx context.Context, event *Event, _ *Result) error {
	if h.Feed == nil {
		return errors.New("no feed configured")
	}
	h.Feed.Publish(ctx, event)
	return nil
}

// NotifyHandler sends the alert attached to a session event, if any.
// Priority 20.
type NotifyHandler struct {
	Notifier Notifier
}

func (h *NotifyHandler) ID() string { return "notify" }

func (h *NotifyHandler) Handles() []EventType {
	return []EventType{EventSessionClaimed, EventSessionDropped, EventSessionTransferred, EventSessionDeferred}
}

func (h *NotifyHandler) Priority() int { return 20 }

func (h *NotifyHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	if event.Notification == nil {
		return nil
	}
	if h.Notifier == nil {
		return errors.New("no notifier configured")
	}
	warnings, err := h.Notifier.Notify(ctx, event.Notification)
	result.Warnings = append(result.Warnings, warnings...)
	return err
}
