// Package server serves the public HTTP API and the optional admin listener.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/otelsvc/observe"
)

// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
const DefaultReadHeaderTimeout = 10 * time.Second

// Options configures the public router.
type Options struct {
	// ServiceName names the tracing layer. Default: otelsvc
	ServiceName string

	// TracerProvider creates the server spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
	// Propagator extracts incoming trace context. Nil uses the global propagator.
	Propagator propagation.TextMapPropagator
}

// NewRouter builds the public handler chain:
// CORS -> tracing -> request metrics -> routing -> handler.
func NewRouter(app *App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(tracingMiddleware(opts))
	r.Use(app.middleware.Handler)

	r.Get("/", app.Root)
	r.Get("/data", app.Data)
	r.Get("/error", app.Error)
	r.Get("/health", app.Health)

	return r
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = DefaultReadHeaderTimeout
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// tracingMiddleware opens one server span per request, except for liveness
// checks on /health. otelhttp's own metrics are disabled: request metrics come
// from observe.Middleware only.
func tracingMiddleware(opts Options) func(http.Handler) http.Handler {
	name := opts.ServiceName
	if name == "" {
		name = "otelsvc"
	}

	otelOpts := []otelhttp.Option{
		otelhttp.WithMeterProvider(noop.NewMeterProvider()),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagator != nil {
		otelOpts = append(otelOpts, otelhttp.WithPropagators(opts.Propagator))
	}

	return otelhttp.NewMiddleware(name, otelOpts...)
}

// RouteLabels tags request metrics with the matched chi route pattern
// instead of the raw path.
func RouteLabels() observe.MiddlewareOption {
	return observe.WithRouteLabel(routePattern)
}

// routePattern reports the chi route that matched r, or "" when none did.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
