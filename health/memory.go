package health

import (
	"context"
	"fmt"
	"runtime"
)

// MemoryCheckerConfig configures the memory health checker.
type MemoryCheckerConfig struct {
	// WarningThreshold is the heap-to-limit ratio that reports degraded. Default: 0.8
	WarningThreshold float64

	// CriticalThreshold is the heap-to-limit ratio that reports unhealthy. Default: 0.95
	CriticalThreshold float64

	// MaxAlloc is the allocation limit in bytes. Zero uses the runtime's Sys.
	MaxAlloc uint64
}

// MemoryChecker reports heap usage against a limit.
type MemoryChecker struct {
	config MemoryCheckerConfig
}

// NewMemoryChecker creates a new memory health checker.
func NewMemoryChecker(config MemoryCheckerConfig) *MemoryChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold >= 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = min(config.WarningThreshold+0.1, 0.99)
	}
	return &MemoryChecker{config: config}
}

func (m *MemoryChecker) Name() string {
	return "memory"
}

func (m *MemoryChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	limit := m.config.MaxAlloc
	if limit == 0 {
		limit = stats.Sys
	}
	if limit == 0 {
		return Healthy("memory stats unavailable")
	}

	ratio := float64(stats.HeapAlloc) / float64(limit)
	details := map[string]any{
		"heap_alloc":    stats.HeapAlloc,
		"limit":         limit,
		"usage_percent": ratio * 100,
		"num_gc":        stats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	switch {
	case ratio >= m.config.CriticalThreshold:
		return Unhealthy(fmt.Sprintf("memory usage critical: %.1f%%", ratio*100), ErrCheckFailed).WithDetails(details)
	case ratio >= m.config.WarningThreshold:
		return Degraded(fmt.Sprintf("memory usage high: %.1f%%", ratio*100), nil).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("memory usage normal: %.1f%%", ratio*100)).WithDetails(details)
	}
}
