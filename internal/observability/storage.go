package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"storegate/internal/models"
	"storegate/internal/storage"
)

// InstrumentedStore wraps a storage.Store implementation with OpenTelemetry
// tracing and metrics instrumentation.
type InstrumentedStore struct {
	inner    storage.Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a store wrapper that records trace spans,
// operation latency histograms, and error counters for every store method
// call.
func NewInstrumentedStore(inner storage.Store) (*InstrumentedStore, error) {
	tracer := otel.Tracer("storegate/storage")
	meter := otel.Meter("storegate/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of audit store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of audit store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	ctx, span := s.startSpan(ctx, "RecordEvent", attribute.String("event_type", event.Type))
	start := time.Now()
	err := s.inner.RecordEvent(ctx, event)
	s.record(ctx, span, "RecordEvent", start, err)
	return err
}

func (s *InstrumentedStore) Events(ctx context.Context, since time.Time, limit int) ([]*models.AuditEvent, error) {
	ctx, span := s.startSpan(ctx, "Events")
	start := time.Now()
	result, err := s.inner.Events(ctx, since, limit)
	s.record(ctx, span, "Events", start, err)
	return result, err
}

func (s *InstrumentedStore) SaveBlock(ctx context.Context, block models.BlockInfo) error {
	ctx, span := s.startSpan(ctx, "SaveBlock", attribute.String("reason", block.Reason))
	start := time.Now()
	err := s.inner.SaveBlock(ctx, block)
	s.record(ctx, span, "SaveBlock", start, err)
	return err
}

func (s *InstrumentedStore) DeleteBlock(ctx context.Context, ip string) error {
	ctx, span := s.startSpan(ctx, "DeleteBlock")
	start := time.Now()
	err := s.inner.DeleteBlock(ctx, ip)
	s.record(ctx, span, "DeleteBlock", start, err)
	return err
}

func (s *InstrumentedStore) Blocks(ctx context.Context) ([]models.BlockInfo, error) {
	ctx, span := s.startSpan(ctx, "Blocks")
	start := time.Now()
	result, err := s.inner.Blocks(ctx)
	s.record(ctx, span, "Blocks", start, err)
	return result, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
