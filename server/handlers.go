package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jonwraymond/otelsvc/observe"
)

const (
	rootServiceLabel = "rust"
	rootMessage      = "Hello from Rust service!"
	dataItemCount    = 10
	simulatedError   = "This is a simulated error"
)

var errSimulated = errors.New("simulated")

type rootResponse struct {
	Service   string `json:"service"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// DataItem is one synthetic record returned by /data.
type DataItem struct {
	ID    int    `json:"id"`
	Value string `json:"value"`
}

type dataResponse struct {
	Data  []DataItem `json:"data"`
	Count int        `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Root answers GET / with a greeting and the current Unix time.
func (a *App) Root(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.StartSpan(r.Context(), "process_root_request", attribute.String("handler", "root"))
	defer a.tracer.EndSpan(span, nil)

	a.logger.Info(ctx, "Processing root request")

	writeJSON(w, http.StatusOK, rootResponse{
		Service:   rootServiceLabel,
		Message:   rootMessage,
		Timestamp: a.now().Unix(),
	})
}

// Data answers GET /data with ten generated records.
func (a *App) Data(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.StartSpan(r.Context(), "fetch_data", attribute.Int("items.count", dataItemCount))
	defer a.tracer.EndSpan(span, nil)

	a.logger.Info(ctx, "Fetching data")

	items := make([]DataItem, dataItemCount)
	for i := range items {
		items[i] = DataItem{ID: i, Value: fmt.Sprintf("item-%d", i)}
	}

	a.logger.Info(ctx, "Retrieved items", observe.Field{Key: "item_count", Value: len(items)})

	writeJSON(w, http.StatusOK, dataResponse{Data: items, Count: len(items)})
}

// Error always fails with a structured 500.
func (a *App) Error(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.StartSpan(r.Context(), "error_endpoint", attribute.String("error", "simulated"))
	defer a.tracer.EndSpan(span, errSimulated)

	a.logger.Error(ctx, "Simulated error occurred", observe.Field{Key: "error_type", Value: "SimulatedError"})

	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: simulatedError})
}

// Health answers liveness checks. It emits no span and no log.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Service: a.serviceName})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
