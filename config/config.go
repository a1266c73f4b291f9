// Package config loads service configuration from defaults, an optional
// config file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/otelsvc/observe"
)

var (
	// ErrMissingAddr indicates server.addr is empty.
	ErrMissingAddr = errors.New("config: server address is required")

	// ErrInvalidConfigFile indicates an explicit config file could not be read.
	ErrInvalidConfigFile = errors.New("config: cannot read config file")
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// ServiceConfig identifies the service on telemetry and the health endpoint.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// ServerConfig configures the public listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AdminConfig configures the optional admin listener. Empty Addr disables it.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// TelemetryConfig configures traces and metrics export.
type TelemetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoint        string        `mapstructure:"endpoint"`
	TracesExporter  string        `mapstructure:"traces_exporter"`
	MetricsExporter string        `mapstructure:"metrics_exporter"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	MetricsTimeout  time.Duration `mapstructure:"metrics_timeout"`
	RouteLabels     bool          `mapstructure:"route_labels"`
	Prometheus      bool          `mapstructure:"prometheus"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ProfilingConfig configures continuous profiling. Empty Address disables it.
type ProfilingConfig struct {
	Address string `mapstructure:"address"`
}

// envBindings maps configuration keys to the environment variables read for them.
var envBindings = map[string][]string{
	"service.name":               {"OTEL_SERVICE_NAME"},
	"service.version":            {"SERVICE_VERSION"},
	"server.addr":                {"SERVER_ADDR"},
	"admin.addr":                 {"ADMIN_ADDR"},
	"telemetry.enabled":          {"TELEMETRY_ENABLED"},
	"telemetry.endpoint":         {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"telemetry.traces_exporter":  {"TRACES_EXPORTER"},
	"telemetry.metrics_exporter": {"METRICS_EXPORTER"},
	"telemetry.sample_ratio":     {"TRACES_SAMPLE_RATIO"},
	"telemetry.metrics_interval": {"METRICS_INTERVAL"},
	"telemetry.metrics_timeout":  {"METRICS_TIMEOUT"},
	"telemetry.route_labels":     {"METRICS_ROUTE_LABELS"},
	"telemetry.prometheus":       {"PROMETHEUS_ENABLED"},
	"log.level":                  {"LOG_LEVEL"},
	"profiling.address":          {"PYROSCOPE_ADDR"},
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "rust-service")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("admin.addr", "")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.endpoint", observe.DefaultEndpoint)
	v.SetDefault("telemetry.traces_exporter", "otlp")
	v.SetDefault("telemetry.metrics_exporter", "otlp")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metrics_interval", observe.DefaultExportInterval)
	v.SetDefault("telemetry.metrics_timeout", observe.DefaultExportTimeout)
	v.SetDefault("telemetry.route_labels", false)
	v.SetDefault("telemetry.prometheus", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("profiling.address", "")
}

// Load builds a Config from v. Flags must already be bound to v; configFile,
// when non-empty, must exist and parse.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w %s: %v", ErrInvalidConfigFile, configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the listener and the derived telemetry configuration.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrMissingAddr
	}
	obsCfg := c.Observe()
	return obsCfg.Validate()
}

// Observe derives the telemetry bootstrap configuration. Disabling telemetry
// keeps structured logging on and turns traces and metrics into no-ops.
func (c Config) Observe() observe.Config {
	return observe.Config{
		ServiceName: c.Service.Name,
		Version:     c.Service.Version,
		Endpoint:    c.Telemetry.Endpoint,
		Tracing: observe.TracingConfig{
			Enabled:   c.Telemetry.Enabled,
			Exporter:  c.Telemetry.TracesExporter,
			SamplePct: c.Telemetry.SampleRatio,
		},
		Metrics: observe.MetricsConfig{
			Enabled:    c.Telemetry.Enabled,
			Exporter:   c.Telemetry.MetricsExporter,
			Interval:   c.Telemetry.MetricsInterval,
			Timeout:    c.Telemetry.MetricsTimeout,
			Prometheus: c.Telemetry.Prometheus,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Log.Level,
		},
	}
}
