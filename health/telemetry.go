package health

import (
	"context"
	"fmt"
	"sync"
)

// TelemetryChecker reports degraded while telemetry exports keep failing.
// Export failures never make the service unhealthy: requests are still served.
type TelemetryChecker struct {
	name  string
	count func() uint64

	mu   sync.Mutex
	last uint64
}

// NewTelemetryChecker creates a checker over a monotonically increasing
// export-error counter such as observe.Observer.ExportErrors.
func NewTelemetryChecker(name string, count func() uint64) *TelemetryChecker {
	return &TelemetryChecker{name: name, count: count}
}

func (t *TelemetryChecker) Name() string {
	return t.name
}

// Check compares the counter with the value seen by the previous check.
func (t *TelemetryChecker) Check(ctx context.Context) Result {
	current := t.count()

	t.mu.Lock()
	delta := current - t.last
	t.last = current
	t.mu.Unlock()

	details := map[string]any{
		"export_errors_total": current,
		"export_errors_new":   delta,
	}
	if delta > 0 {
		return Degraded(fmt.Sprintf("%d telemetry export errors since last check", delta), ErrExportFailing).WithDetails(details)
	}
	return Healthy("telemetry exports ok").WithDetails(details)
}
