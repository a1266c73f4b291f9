// Package health reports the health of the running service on the admin
// listener.
//
// A Checker reports one component. The Aggregator runs every registered
// checker concurrently under a shared timeout and folds the results into a
// single Status: the worst status wins.
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewMemoryChecker(health.MemoryCheckerConfig{}))
//	agg.Register(health.NewTelemetryChecker("telemetry", obs.ExportErrors))
//
//	mux.Handle("/healthz", health.LivenessHandler())
//	mux.Handle("/readyz", health.ReadinessHandler(agg))
package health
