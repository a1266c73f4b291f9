package health

import "errors"

var (
	// ErrCheckFailed indicates a health check failed.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout indicates a health check did not finish before the deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrExportFailing indicates telemetry exports failed since the previous check.
	ErrExportFailing = errors.New("health: telemetry export failing")
)
