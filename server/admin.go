package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	pyroscope_pprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/otelsvc/health"
)

// NewAdminRouter serves operational endpoints on a listener separate from
// the public API. A nil metrics handler serves the default Prometheus registry.
func NewAdminRouter(agg *health.Aggregator, metrics http.Handler) http.Handler {
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Handle("/metrics", metrics)
	r.Get("/healthz", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler(agg))

	r.HandleFunc("/debug/pprof", pprof.Index)
	r.HandleFunc("/debug/pprof/*", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.HandleFunc("/debug/pprof/profile", pyroscope_pprof.Profile)

	return r
}
