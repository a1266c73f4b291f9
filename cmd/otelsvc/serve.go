package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/otelsvc/config"
	"github.com/jonwraymond/otelsvc/health"
	"github.com/jonwraymond/otelsvc/observe"
	"github.com/jonwraymond/otelsvc/server"
)

// flagKeys maps serve flags to configuration keys.
var flagKeys = map[string]string{
	"addr":             "server.addr",
	"admin-addr":       "admin.addr",
	"log-level":        "log.level",
	"service-name":     "service.name",
	"otlp-endpoint":    "telemetry.endpoint",
	"telemetry":        "telemetry.enabled",
	"traces-exporter":  "telemetry.traces_exporter",
	"metrics-exporter": "telemetry.metrics_exporter",
	"route-labels":     "telemetry.route_labels",
	"prometheus":       "telemetry.prometheus",
}

func newServeCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			for name, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to a config file (yaml, json or toml)")
	flags.String("addr", ":8000", "public listen address")
	flags.String("admin-addr", "", "admin listen address; empty disables the admin listener")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("service-name", "rust-service", "service.name reported on telemetry and /health")
	flags.String("otlp-endpoint", observe.DefaultEndpoint, "OTLP/gRPC collector endpoint")
	flags.Bool("telemetry", true, "export traces and metrics")
	flags.String("traces-exporter", "otlp", "traces exporter: otlp, stdout, none")
	flags.String("metrics-exporter", "otlp", "metrics exporter: otlp, prometheus, stdout, none")
	flags.Bool("route-labels", false, "label metrics with the matched route instead of the raw path")
	flags.Bool("prometheus", false, "serve a Prometheus scrape endpoint on the admin listener")

	return cmd
}

// run serves until ctx is cancelled or a listener fails, then drains the
// listeners and flushes telemetry.
func run(ctx context.Context, cfg config.Config) error {
	obs, err := observe.NewObserver(ctx, cfg.Observe())
	if err != nil {
		return fmt.Errorf("telemetry bootstrap: %w", err)
	}
	logger := obs.Logger()
	slog.SetDefault(observe.Slog(logger))

	profiler := startProfiler(ctx, cfg, logger)

	var mwOpts []observe.MiddlewareOption
	if cfg.Telemetry.RouteLabels {
		mwOpts = append(mwOpts, server.RouteLabels())
	}
	app, err := server.NewApp(obs, cfg.Service.Name, mwOpts...)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return err
	}

	public := server.NewServer(cfg.Server.Addr, server.NewRouter(app, server.Options{
		ServiceName:    cfg.Service.Name,
		TracerProvider: obs.TracerProvider(),
		Propagator:     obs.Propagator(),
	}), cfg.Server.ReadHeaderTimeout)
	servers := []*http.Server{public}

	if cfg.Admin.Addr != "" {
		agg := health.NewAggregator()
		agg.Register(health.NewMemoryChecker(health.MemoryCheckerConfig{}))
		agg.Register(health.NewTelemetryChecker("telemetry", obs.ExportErrors))
		servers = append(servers, server.NewServer(cfg.Admin.Addr, server.NewAdminRouter(agg, nil), cfg.Server.ReadHeaderTimeout))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info(gctx, "listening", observe.Field{Key: "addr", Value: srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		if err := obs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		if profiler != nil {
			if err := profiler.Stop(); err != nil {
				logger.Warn(shutdownCtx, "stop profiler", observe.Field{Key: "error", Value: err.Error()})
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// startProfiler starts continuous profiling when an address is configured.
// Connection failures are logged and profiling stays off.
func startProfiler(ctx context.Context, cfg config.Config, logger observe.Logger) *pyroscope.Profiler {
	if cfg.Profiling.Address == "" {
		return nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Service.Name,
		ServerAddress:   cfg.Profiling.Address,
		Tags:            map[string]string{"version": cfg.Service.Version},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		logger.Warn(ctx, "failed to connect to profiler", observe.Field{Key: "error", Value: err.Error()})
		return nil
	}
	return profiler
}
