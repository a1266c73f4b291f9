package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/otelsvc/observe"
)

type testEnv struct {
	handler http.Handler
	spans   *tracetest.SpanRecorder
	reader  *sdkmetric.ManualReader
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T, routeLabels bool) *testEnv {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := observe.NewRequestMetrics(mp.Meter("test"))
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := observe.NewLoggerWithWriter("debug", logs)

	var mwOpts []observe.MiddlewareOption
	if routeLabels {
		mwOpts = append(mwOpts, RouteLabels())
	}
	app := &App{
		serviceName: "rust-service",
		tracer:      observe.NewTracer(tp.Tracer("test")),
		middleware:  observe.NewMiddleware(metrics, logger, mwOpts...),
		logger:      logger,
		now:         time.Now,
	}

	handler := NewRouter(app, Options{
		TracerProvider: tp,
		Propagator:     propagation.TraceContext{},
	})
	return &testEnv{handler: handler, spans: spans, reader: reader, logs: logs}
}

func (e *testEnv) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) requestCounts(t *testing.T) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, e.reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != observe.MetricRequestsTotal {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				method, _ := dp.Attributes.Value(attribute.Key(observe.AttrMethod))
				endpoint, _ := dp.Attributes.Value(attribute.Key(observe.AttrEndpoint))
				counts[method.AsString()+" "+endpoint.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func spanNamed(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, false)

	before := time.Now().Unix()
	rec := env.do(http.MethodGet, "/", nil)
	after := time.Now().Unix()

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Service   string `json:"service"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rust", body.Service)
	assert.Equal(t, "Hello from Rust service!", body.Message)
	assert.GreaterOrEqual(t, body.Timestamp, before)
	assert.LessOrEqual(t, body.Timestamp, after)

	handlerSpan := spanNamed(env.spans.Ended(), "process_root_request")
	require.NotNil(t, handlerSpan)
	assert.Equal(t, trace.SpanKindInternal, handlerSpan.SpanKind())
	assert.Contains(t, handlerSpan.Attributes(), attribute.String("handler", "root"))

	serverSpan := spanNamed(env.spans.Ended(), "GET /")
	require.NotNil(t, serverSpan)
	assert.Equal(t, trace.SpanKindServer, serverSpan.SpanKind())
	assert.Equal(t, serverSpan.SpanContext().SpanID(), handlerSpan.Parent().SpanID())
}

func TestRoot_TimestampNonDecreasing(t *testing.T) {
	env := newTestEnv(t, false)

	var last int64
	for i := 0; i < 5; i++ {
		var body struct {
			Timestamp int64 `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(env.do(http.MethodGet, "/", nil).Body.Bytes(), &body))
		assert.GreaterOrEqual(t, body.Timestamp, last)
		last = body.Timestamp
	}
}

func TestRoot_LogCarriesTraceContext(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodGet, "/", nil)

	handlerSpan := spanNamed(env.spans.Ended(), "process_root_request")
	require.NotNil(t, handlerSpan)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(env.logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] != "Processing root request" {
			continue
		}
		found = true
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, handlerSpan.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, handlerSpan.SpanContext().SpanID().String(), entry["span_id"])
	}
	assert.True(t, found, "expected a Processing root request log line")
}

func TestData(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data  []DataItem `json:"data"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 10)
	assert.Equal(t, len(body.Data), body.Count)
	for i, item := range body.Data {
		assert.Equal(t, i, item.ID)
		assert.Equal(t, fmt.Sprintf("item-%d", i), item.Value)
	}

	span := spanNamed(env.spans.Ended(), "fetch_data")
	require.NotNil(t, span)
	assert.Contains(t, span.Attributes(), attribute.Int("items.count", 10))
	assert.Contains(t, env.logs.String(), `"item_count":10`)
}

func TestError(t *testing.T) {
	env := newTestEnv(t, false)

	for _, target := range []string{"/error", "/error?retry=true"} {
		header := http.Header{"X-Custom": []string{"anything"}}
		rec := env.do(http.MethodGet, target, header)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"This is a simulated error"}`, rec.Body.String())
	}

	span := spanNamed(env.spans.Ended(), "error_endpoint")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("error", "simulated"))
	assert.Contains(t, env.logs.String(), `"error_type":"SimulatedError"`)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"rust-service"}`, rec.Body.String())
	assert.Empty(t, env.spans.Ended(), "health checks must not be traced")
	assert.Equal(t, int64(1), env.requestCounts(t)["GET /health"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodOptions, "/data", http.Header{
		"Origin":                        []string{"http://example.com"},
		"Access-Control-Request-Method": []string{http.MethodGet},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, env.spans.Ended(), "preflight must not reach the handler chain")
	assert.Empty(t, env.requestCounts(t))
}

func TestCORSSimpleRequest(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/data", http.Header{"Origin": []string{"http://example.com"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouting_NotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/nonexistent", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodPost, "/", nil).Code)

	counts := env.requestCounts(t)
	assert.Equal(t, int64(1), counts["GET /nonexistent"])
	assert.Equal(t, int64(1), counts["POST /"])
}

func TestMetrics_CountsEveryRequest(t *testing.T) {
	env := newTestEnv(t, false)

	paths := []string{"/", "/data", "/error", "/health", "/data", "/data"}
	for _, p := range paths {
		env.do(http.MethodGet, p, nil)
	}

	counts := env.requestCounts(t)
	var total int64
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, int64(len(paths)), total)
	assert.Equal(t, int64(3), counts["GET /data"])
	assert.Equal(t, int64(1), counts["GET /error"])
}

func TestMetrics_RawPathLabel(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodGet, "/missing/123", nil)

	assert.Equal(t, int64(1), env.requestCounts(t)["GET /missing/123"])
}

func TestMetrics_RouteLabels(t *testing.T) {
	env := newTestEnv(t, true)
	env.do(http.MethodGet, "/data?page=2", nil)
	env.do(http.MethodGet, "/missing/123", nil)

	counts := env.requestCounts(t)
	assert.Equal(t, int64(1), counts["GET /data"])
	assert.Equal(t, int64(1), counts["GET /missing/123"], "unmatched routes fall back to the raw path")
}

func TestTracing_JoinsIncomingTrace(t *testing.T) {
	env := newTestEnv(t, false)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	env.do(http.MethodGet, "/data", http.Header{
		"Traceparent": []string{"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	serverSpan := spanNamed(env.spans.Ended(), "GET /data")
	require.NotNil(t, serverSpan)
	assert.Equal(t, traceID, serverSpan.SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", serverSpan.Parent().SpanID().String())
}

func TestNewApp(t *testing.T) {
	_, err := NewApp(nil, "svc")
	assert.ErrorIs(t, err, observe.ErrNilObserver)

	obs, err := observe.NewObserver(context.Background(), observe.Config{ServiceName: "svc"})
	require.NoError(t, err)

	app, err := NewApp(obs, "svc")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewRouter(app, Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"healthy","service":"svc"}`, rec.Body.String())
}

// recordingObserver serves a ManualReader-backed meter so the instruments
// created by NewApp can be collected.
type recordingObserver struct {
	observe.Observer
	meter metric.Meter
}

func (o recordingObserver) Meter() metric.Meter { return o.meter }

func TestNewApp_BuildsInstrumentsWithRouteLabels(t *testing.T) {
	base, err := observe.NewObserver(context.Background(), observe.Config{ServiceName: "svc"})
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	obs := recordingObserver{Observer: base, meter: mp.Meter("test")}

	app, err := NewApp(obs, "svc", RouteLabels())
	require.NoError(t, err)

	router := NewRouter(app, Options{})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/data", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing/7", nil))

	env := &testEnv{reader: reader}
	counts := env.requestCounts(t)
	assert.Equal(t, int64(1), counts["GET /data"])
	assert.Equal(t, int64(1), counts["GET /missing/7"])
}

func TestNewServer(t *testing.T) {
	srv := NewServer(":8000", http.NotFoundHandler(), 0)
	assert.Equal(t, ":8000", srv.Addr)
	assert.Equal(t, DefaultReadHeaderTimeout, srv.ReadHeaderTimeout)
}
