package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricRequestsTotal   = "http_requests_total"
	MetricRequestDuration = "http_request_duration_seconds"
)

// Attribute keys attached to every request observation.
const (
	AttrMethod   = "method"
	AttrEndpoint = "endpoint"
)

// RequestMetrics records per-request HTTP metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; recording never blocks on export.
// - Errors: implementations must not panic.
type RequestMetrics interface {
	// RecordRequest records one completed request. status is accepted for
	// future tagging and is not attached to the observations.
	RecordRequest(ctx context.Context, method, path string, duration time.Duration, status int)
}

// requestMetrics is the concrete implementation of RequestMetrics.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRequestMetrics creates the request counter and duration histogram on meter.
// It must be called once per process, before the first request is served.
// A nil meter yields a RequestMetrics that records nothing.
func NewRequestMetrics(meter metric.Meter) (RequestMetrics, error) {
	if meter == nil {
		return &noopMetrics{}, nil
	}

	requests, err := meter.Int64Counter(
		MetricRequestsTotal,
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		MetricRequestDuration,
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &requestMetrics{
		requests: requests,
		duration: duration,
	}, nil
}

// RecordRequest is a no-op on a nil receiver.
func (m *requestMetrics) RecordRequest(ctx context.Context, method, path string, duration time.Duration, status int) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(
		attribute.String(AttrMethod, method),
		attribute.String(AttrEndpoint, path),
	)

	m.requests.Add(ctx, 1, opt)
	m.duration.Record(ctx, duration.Seconds(), opt)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordRequest(ctx context.Context, method, path string, duration time.Duration, status int) {
}
