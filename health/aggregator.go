package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a full CheckAll run.
const DefaultCheckTimeout = 5 * time.Second

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout is the maximum time to wait for all checks. Default: 5s
	Timeout time.Duration
}

// NamedResult pairs a checker name with its result.
type NamedResult struct {
	Name   string
	Result Result
}

// Aggregator runs a set of checkers and combines their results.
type Aggregator struct {
	timeout  time.Duration
	mu       sync.RWMutex
	checkers []Checker
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	timeout := DefaultCheckTimeout
	if len(config) > 0 && config[0].Timeout > 0 {
		timeout = config[0].Timeout
	}
	return &Aggregator{timeout: timeout}
}

// Register adds a checker. A checker with the same name is replaced in place.
func (a *Aggregator) Register(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, c := range a.checkers {
		if c.Name() == checker.Name() {
			a.checkers[i] = checker
			return
		}
	}
	a.checkers = append(a.checkers, checker)
}

// CheckAll runs every registered checker concurrently and returns the results
// in registration order.
func (a *Aggregator) CheckAll(ctx context.Context) []NamedResult {
	a.mu.RLock()
	checkers := make([]Checker, len(a.checkers))
	copy(checkers, a.checkers)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]NamedResult, len(checkers))
	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			results[i] = NamedResult{Name: checker.Name(), Result: runCheck(ctx, checker)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// OverallStatus returns the worst status in results. No results is healthy.
func OverallStatus(results []NamedResult) Status {
	status := StatusHealthy
	for _, r := range results {
		if r.Result.Status > status {
			status = r.Result.Status
		}
	}
	return status
}

func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()
	resultCh := make(chan Result, 1)

	go func() {
		resultCh <- checker.Check(ctx)
	}()

	select {
	case result := <-resultCh:
		result.Duration = time.Since(start)
		return result
	case <-ctx.Done():
		result := Unhealthy("check timed out", ErrCheckTimeout)
		result.Duration = time.Since(start)
		return result
	}
}
