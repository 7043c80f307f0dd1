package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/types"
)

const storageScopeName = "github.com/leadcheck/leadcheck/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in lc.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner  storage.Storage
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	return newInstrumentedStorage(s)
}

func newInstrumentedStorage(s storage.Storage) *InstrumentedStorage {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("lc.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("lc.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("lc.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStorage{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStorage) GetSession(ctx context.Context, id string) (*types.Session, error) {
	attr := attribute.String("db.operation", "GetSession")
	ctx, span, t := s.op(ctx, "GetSession", attribute.String("session.id", id))
	v, err := s.inner.GetSession(ctx, id)
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) GetOpenSession(ctx context.Context, submissionID string) (*types.Session, error) {
	attr := attribute.String("db.operation", "GetOpenSession")
	ctx, span, t := s.op(ctx, "GetOpenSession", attribute.String("submission.id", submissionID))
	v, err := s.inner.GetOpenSession(ctx, submissionID)
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) GetSessionBySubmission(ctx context.Context, submissionID string) (*types.Session, error) {
	attr := attribute.String("db.operation", "GetSessionBySubmission")
	ctx, span, t := s.op(ctx, "GetSessionBySubmission", attribute.String("submission.id", submissionID))
	v, err := s.inner.GetSessionBySubmission(ctx, submissionID)
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	attr := attribute.String("db.operation", "ListSessions")
	ctx, span, t := s.op(ctx, "ListSessions")
	v, err := s.inner.ListSessions(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("lc.sessions.count", len(v)))
	}
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) GetItems(ctx context.Context, sessionID string) ([]*types.Item, error) {
	attr := attribute.String("db.operation", "GetItems")
	ctx, span, t := s.op(ctx, "GetItems", attribute.String("session.id", sessionID))
	v, err := s.inner.GetItems(ctx, sessionID)
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) GetItem(ctx context.Context, itemID int64) (*types.Item, error) {
	attr := attribute.String("db.operation", "GetItem")
	ctx, span, t := s.op(ctx, "GetItem", attribute.Int64("item.id", itemID))
	v, err := s.inner.GetItem(ctx, itemID)
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) ListEvents(ctx context.Context, sessionID string, since time.Time, limit int) ([]*types.Event, error) {
	attr := attribute.String("db.operation", "ListEvents")
	ctx, span, t := s.op(ctx, "ListEvents", attribute.String("session.id", sessionID))
	v, err := s.inner.ListEvents(ctx, sessionID, since, limit)
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) ReserveNotification(ctx context.Context, key string, at time.Time) (bool, error) {
	attr := attribute.String("db.operation", "ReserveNotification")
	ctx, span, t := s.op(ctx, "ReserveNotification")
	v, err := s.inner.ReserveNotification(ctx, key, at)
	span.SetAttributes(attribute.Bool("lc.notification.reserved", v))
	s.done(ctx, span, t, err, attr)
	return v, err
}

func (s *InstrumentedStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	attr := attribute.String("db.operation", "RunInTransaction")
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err, attr)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
