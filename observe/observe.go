package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/otelsvc/observe/exporters"
)

// Export defaults applied when the corresponding Config field is zero.
const (
	DefaultEndpoint       = "http://otel-collector:4317"
	DefaultExportInterval = 5 * time.Second
	DefaultExportTimeout  = 3 * time.Second
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string
	Version     string

	// Endpoint is the OTLP/gRPC collector address shared by traces and metrics.
	Endpoint string

	Tracing TracingConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool
	Exporter  string  // otlp|stdout|none
	// SamplePct is the fraction of root traces recorded, 0.0-1.0. There is no
	// default: zero samples nothing, so set 1.0 to record every trace.
	SamplePct float64

	// Writer receives stdout exporter output.
	Writer io.Writer
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool
	Exporter string // otlp|prometheus|stdout|none

	// Interval between periodic exports. Default: 5s
	Interval time.Duration
	// Timeout bounds a single export. Default: 3s
	Timeout time.Duration

	// Prometheus adds a pull reader next to the push exporter.
	Prometheus bool
	// Registerer receives the Prometheus collector.
	Registerer promclient.Registerer

	// Writer receives stdout exporter output.
	Writer io.Writer
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool
	Level   string // debug|info|warn|error

	// Writer receives log lines. Default: os.Stderr
	Writer io.Writer
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	if c.Tracing.Enabled {
		if !slices.Contains(ValidTracingExporters, c.Tracing.Exporter) {
			return fmt.Errorf("%w: unknown tracing exporter %q", ErrInvalidTracingExporter, c.Tracing.Exporter)
		}
		if c.Tracing.SamplePct < MinSamplePct || c.Tracing.SamplePct > MaxSamplePct {
			return fmt.Errorf("%w, got: %f", ErrInvalidSamplePct, c.Tracing.SamplePct)
		}
	}

	if c.Metrics.Enabled {
		if !slices.Contains(ValidMetricsExporters, c.Metrics.Exporter) {
			return fmt.Errorf("%w: unknown metrics exporter %q", ErrInvalidMetricsExporter, c.Metrics.Exporter)
		}
		if c.Metrics.Interval < 0 || c.Metrics.Timeout < 0 {
			return ErrInvalidExportTiming
		}
	}

	if c.Logging.Enabled {
		if !slices.Contains(ValidLogLevels, c.Logging.Level) {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
		}
	}

	return nil
}

// Observer provides access to telemetry primitives.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Shutdown must honor cancellation/deadlines.
// - Errors: Shutdown should be idempotent and return the first error encountered.
type Observer interface {
	// Tracer returns the configured tracer.
	Tracer() trace.Tracer

	// TracerProvider returns the provider backing Tracer, for instrumentation libraries.
	TracerProvider() trace.TracerProvider

	// Propagator returns the installed text map propagator.
	Propagator() propagation.TextMapPropagator

	// Meter returns the configured meter.
	Meter() metric.Meter

	// Logger returns the configured logger.
	Logger() Logger

	// ExportErrors reports how many telemetry export errors have been observed.
	ExportErrors() uint64

	// Shutdown flushes pending telemetry and shuts down all providers.
	Shutdown(ctx context.Context) error
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// observer is the concrete implementation of Observer.
type observer struct {
	tracer         trace.Tracer
	tp             trace.TracerProvider
	propagator     propagation.TextMapPropagator
	meter          metric.Meter
	logger         Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	exportErrors   atomic.Uint64
	shutdownOnce   atomic.Bool
}

// NewObserver creates a new Observer with the given configuration.
//
// Global OpenTelemetry state (tracer provider, meter provider, propagator and
// error handler) is replaced for every enabled signal.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	obs := &observer{}

	if cfg.Logging.Enabled {
		obs.logger = NewLoggerWithWriter(cfg.Logging.Level, cfg.Logging.Writer).
			With(Field{Key: "service", Value: cfg.ServiceName})
	} else {
		obs.logger = &noopLogger{}
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	obs.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	if cfg.Tracing.Enabled {
		tp, err := setupTracing(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		obs.tracerProvider = tp
		obs.tp = tp
	} else {
		obs.tp = tracenoop.NewTracerProvider()
	}
	obs.tracer = obs.tp.Tracer(cfg.ServiceName)

	if cfg.Metrics.Enabled {
		mp, err := setupMetrics(ctx, cfg, res)
		if err != nil {
			if obs.tracerProvider != nil {
				_ = obs.tracerProvider.Shutdown(ctx)
			}
			return nil, fmt.Errorf("failed to setup metrics: %w", err)
		}
		obs.meterProvider = mp
		obs.meter = mp.Meter(cfg.ServiceName)
	} else {
		obs.meter = noop.NewMeterProvider().Meter(cfg.ServiceName)
	}

	if cfg.Tracing.Enabled || cfg.Metrics.Enabled {
		otel.SetTextMapPropagator(obs.propagator)
		otel.SetErrorHandler(otel.ErrorHandlerFunc(obs.handleExportError))
	}

	return obs, nil
}

func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = DefaultExportInterval
	}
	if c.Metrics.Timeout == 0 {
		c.Metrics.Timeout = DefaultExportTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = LevelInfo.String()
	}
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, exporters.Options{
		Endpoint: cfg.Endpoint,
		Writer:   cfg.Tracing.Writer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	if cfg.Tracing.SamplePct >= MaxSamplePct {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.Tracing.SamplePct <= MinSamplePct {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SamplePct))
	}

	// The SDK's default ID generator produces random trace and span IDs.
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func setupMetrics(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exportOpts := exporters.Options{
		Endpoint:   cfg.Endpoint,
		Timeout:    cfg.Metrics.Timeout,
		Interval:   cfg.Metrics.Interval,
		Writer:     cfg.Metrics.Writer,
		Registerer: cfg.Metrics.Registerer,
	}

	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, exportOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics reader: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	if cfg.Metrics.Prometheus && cfg.Metrics.Exporter != "prometheus" {
		pull, err := exporters.NewPrometheusReader(exportOpts)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(pull))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}

func (o *observer) handleExportError(err error) {
	o.exportErrors.Add(1)
	o.logger.Warn(context.Background(), "telemetry export failed", Field{Key: "error", Value: err.Error()})
}

func (o *observer) Tracer() trace.Tracer {
	return o.tracer
}

func (o *observer) TracerProvider() trace.TracerProvider {
	return o.tp
}

func (o *observer) Propagator() propagation.TextMapPropagator {
	return o.propagator
}

func (o *observer) Meter() metric.Meter {
	return o.meter
}

func (o *observer) Logger() Logger {
	return o.logger
}

func (o *observer) ExportErrors() uint64 {
	return o.exportErrors.Load()
}

func (o *observer) Shutdown(ctx context.Context) error {
	if !o.shutdownOnce.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (l *noopLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (l *noopLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (l *noopLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (l *noopLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (l *noopLogger) With(fields ...Field) Logger                            { return l }
