// Package observe provides the telemetry layer of the service: OpenTelemetry
// bootstrap (resource, propagation, trace and metric pipelines), the request
// instruments, a handler span helper, a trace-aware structured logger and the
// HTTP metrics middleware.
//
// The package does no routing and serves no requests. Callers build one
// Observer at startup, derive a Middleware and Tracer from it, and shut it
// down after the listener has drained.
package observe
