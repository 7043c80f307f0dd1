package feed

import (
	"context"
	"encoding/json"
	"fmt"
)

// Relay carries changes between leadcheck instances so a client connected
// to one instance sees changes committed on another.
type Relay interface {
	Name() string
	// Publish forwards a locally delivered change.
	Publish(ctx context.Context, c Change) error
	// Run delivers changes from other instances until ctx is cancelled.
	Run(ctx context.Context, deliver func(Change)) error
	Close() error
}

// wireChange is the relay payload. Seq is not carried; each hub numbers the
// changes it delivers.
type wireChange struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

func encodeChange(c Change) ([]byte, error) {
	event, err := json.Marshal(c.Event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return json.Marshal(wireChange{Origin: c.Origin, Event: event})
}

func decodeChange(data []byte) (Change, error) {
	var w wireChange
	if err := json.Unmarshal(data, &w); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	c := Change{Origin: w.Origin}
	if len(w.Event) > 0 && string(w.Event) != "null" {
		if err := json.Unmarshal(w.Event, &c.Event); err != nil {
			return Change{}, fmt.Errorf("decode event: %w", err)
		}
	}
	return c, nil
}
