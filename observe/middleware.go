package observe

import (
	"net/http"
	"time"
)

// RouteLabelFunc maps a served request to the endpoint label recorded on
// metrics. It runs after the inner handler returns, so router state set
// during dispatch is visible. An empty result falls back to the raw path.
type RouteLabelFunc func(r *http.Request) string

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithRouteLabel replaces the raw request path with fn's label on metrics.
func WithRouteLabel(fn RouteLabelFunc) MiddlewareOption {
	return func(m *Middleware) {
		m.routeLabel = fn
	}
}

// Middleware records request metrics around an http.Handler.
//
// Contract:
//   - Concurrency: Handler() returns a handler safe for concurrent use.
//   - Ordering: the timer starts before the inner handler runs and metrics are
//     recorded only after it has returned.
//   - Ownership: the response is passed through without modification.
//   - Nil metrics: recording is skipped rather than panicking.
type Middleware struct {
	metrics    RequestMetrics
	logger     Logger
	routeLabel RouteLabelFunc
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(metrics RequestMetrics, logger Logger, opts ...MiddlewareOption) *Middleware {
	if logger == nil {
		logger = &noopLogger{}
	}
	m := &Middleware{
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps next with metrics recording.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		method := r.Method
		path := r.URL.Path

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		ctx := r.Context()

		endpoint := path
		if m.routeLabel != nil {
			if label := m.routeLabel(r); label != "" {
				endpoint = label
			}
		}

		if m.metrics != nil {
			m.metrics.RecordRequest(ctx, method, endpoint, duration, rec.status)
		}

		m.logger.Debug(ctx, "request completed",
			Field{Key: "method", Value: method},
			Field{Key: "path", Value: path},
			Field{Key: "status", Value: rec.status},
			Field{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
		)
	})
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer, opts ...MiddlewareOption) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewRequestMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(metrics, obs.Logger(), opts...), nil
}

// statusRecorder captures the status code written by the inner handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
