package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const handoffScopeName = "github.com/leadcheck/leadcheck/handoff"

// Transitions counts lifecycle actions by action, resulting status and outcome.
type Transitions struct {
	counter metric.Int64Counter
}

// NewTransitions builds the lc.handoff.transitions counter from the global
// meter provider; with telemetry off that is the no-op provider.
func NewTransitions() *Transitions {
	c, _ := Meter(handoffScopeName).Int64Counter("lc.handoff.transitions",
		metric.WithDescription("Lifecycle actions applied to verification sessions"),
	)
	return &Transitions{counter: c}
}

// Record counts one action. outcome is "ok", "noop" or an error class.
func (t *Transitions) Record(ctx context.Context, action, status, outcome string) {
	if t == nil || t.counter == nil {
		return
	}
	t.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lc.action", action),
		attribute.String("lc.status", status),
		attribute.String("lc.outcome", outcome),
	))
}
