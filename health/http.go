package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// LivenessHandler reports that the process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// Response is the JSON body of the readiness endpoint.
type Response struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Checks    []CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is the JSON form of a single check.
type CheckResponse struct {
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ReadinessHandler runs every check in agg. Degraded still answers 200;
// unhealthy answers 503.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := agg.CheckAll(r.Context())
		status := OverallStatus(results)

		response := Response{
			Status:    status.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make([]CheckResponse, 0, len(results)),
		}
		for _, nr := range results {
			check := CheckResponse{
				Name:     nr.Name,
				Status:   nr.Result.Status.String(),
				Message:  nr.Result.Message,
				Duration: nr.Result.Duration.String(),
				Details:  nr.Result.Details,
			}
			if nr.Result.Error != nil {
				check.Error = nr.Result.Error.Error()
			}
			response.Checks = append(response.Checks, check)
		}

		w.Header().Set("Content-Type", "application/json")
		if status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}
