// Package exporters provides factory functions for creating OpenTelemetry exporters.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrEndpointNotConfigured indicates the otlp exporter was selected without a collector endpoint.
var ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")

// Options carries the settings shared by every exporter.
type Options struct {
	// Endpoint is the collector address, either a URL (http://host:4317)
	// or a bare host:port. Plain http and bare addresses use an insecure
	// gRPC connection.
	Endpoint string

	// Timeout bounds a single export call.
	Timeout time.Duration

	// Interval is the collection interval of periodic metric readers.
	Interval time.Duration

	// Writer receives stdout exporter output. Default: os.Stdout
	Writer io.Writer

	// Registerer receives the Prometheus collector.
	// Default: prometheus.DefaultRegisterer
	Registerer promclient.Registerer
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

// NewTracingExporter creates a trace span exporter based on the exporter name.
// Supported exporters: otlp, stdout, none. A nil exporter is returned for none.
func NewTracingExporter(ctx context.Context, name string, opts Options) (sdktrace.SpanExporter, error) {
	switch name {
	case "otlp":
		endpoint, err := parseEndpoint(opts.Endpoint)
		if err != nil {
			return nil, err
		}
		grpcOpts := []otlptracegrpc.Option{}
		if endpoint.url {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpointURL(endpoint.raw))
		} else {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(endpoint.raw), otlptracegrpc.WithInsecure())
		}
		if opts.Timeout > 0 {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithTimeout(opts.Timeout))
		}
		return otlptracegrpc.New(ctx, grpcOpts...)

	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(opts.writer()))

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown exporter: %q", name)
	}
}

// NewMetricsReader creates a metrics reader based on the exporter name.
// Supported exporters: otlp, stdout, prometheus, none. A nil reader is returned for none.
func NewMetricsReader(ctx context.Context, name string, opts Options) (sdkmetric.Reader, error) {
	switch name {
	case "otlp":
		endpoint, err := parseEndpoint(opts.Endpoint)
		if err != nil {
			return nil, err
		}
		grpcOpts := []otlpmetricgrpc.Option{}
		if endpoint.url {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpointURL(endpoint.raw))
		} else {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpoint(endpoint.raw), otlpmetricgrpc.WithInsecure())
		}
		if opts.Timeout > 0 {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithTimeout(opts.Timeout))
		}
		exp, err := otlpmetricgrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp, periodicOptions(opts)...), nil

	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.writer()))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp, periodicOptions(opts)...), nil

	case "prometheus":
		return NewPrometheusReader(opts)

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", name)
	}
}

// NewPrometheusReader creates a pull-based reader registered with opts.Registerer.
func NewPrometheusReader(opts Options) (sdkmetric.Reader, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	exp, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	return exp, nil
}

func periodicOptions(opts Options) []sdkmetric.PeriodicReaderOption {
	var out []sdkmetric.PeriodicReaderOption
	if opts.Interval > 0 {
		out = append(out, sdkmetric.WithInterval(opts.Interval))
	}
	if opts.Timeout > 0 {
		out = append(out, sdkmetric.WithTimeout(opts.Timeout))
	}
	return out
}

type endpoint struct {
	raw string
	url bool
}

// parseEndpoint accepts "http://host:port", "https://host:port" or "host:port".
func parseEndpoint(raw string) (endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return endpoint{}, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT", ErrEndpointNotConfigured)
	}
	if !strings.Contains(raw, "://") {
		return endpoint{raw: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("invalid collector endpoint %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return endpoint{}, fmt.Errorf("invalid collector endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("invalid collector endpoint %q: missing host", raw)
	}
	return endpoint{raw: raw, url: true}, nil
}
