package eventbus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamSessionEvents is the JetStream stream carrying bus events between
	// leadcheck instances.
	StreamSessionEvents = "LEADCHECK_EVENTS"

	// SubjectPrefix is the subject prefix for all bus events.
	SubjectPrefix = "leadcheck."
)

// SubjectForEvent returns the NATS subject for a given event type.
// Format: leadcheck.<event_type> (e.g., leadcheck.session.claimed).
func SubjectForEvent(eventType EventType) string {
	return SubjectPrefix + string(eventType)
}

// EnsureStreams creates the required JetStream stream if it doesn't already
// exist.
func EnsureStreams(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamSessionEvents)
	if err == nil {
		return nil
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamSessionEvents,
		Subjects: []string{SubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		// Retain last 10000 messages or 64MB, whichever comes first.
		MaxMsgs:  10000,
		MaxBytes: 64 << 20,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamSessionEvents, err)
	}

	return nil
}
