package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdmissionRecorder exports admission decisions as OpenTelemetry counters.
// It implements the ratelimit.Recorder interface.
type AdmissionRecorder struct {
	admitted metric.Int64Counter
	rejected metric.Int64Counter
	failOpen metric.Int64Counter
}

// NewAdmissionRecorder creates the admission decision counters on the
// global meter.
func NewAdmissionRecorder() (*AdmissionRecorder, error) {
	meter := otel.Meter("storegate/admission")

	admitted, err := meter.Int64Counter(
		"admission.requests.admitted",
		metric.WithDescription("Requests admitted by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"admission.requests.rejected",
		metric.WithDescription("Requests rejected by the admission layer"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	failOpen, err := meter.Int64Counter(
		"admission.failopen",
		metric.WithDescription("Admission decisions that failed open"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &AdmissionRecorder{
		admitted: admitted,
		rejected: rejected,
		failOpen: failOpen,
	}, nil
}

// Admitted records one admitted request for the route class.
func (ar *AdmissionRecorder) Admitted(route string) {
	ar.admitted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("route", route)))
}

// Rejected records one rejected request with its rejection reason.
func (ar *AdmissionRecorder) Rejected(route, reason string) {
	ar.rejected.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("reason", reason),
		))
}

// FailOpen records one fail-open incident.
func (ar *AdmissionRecorder) FailOpen(route string) {
	ar.failOpen.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("route", route)))
}
