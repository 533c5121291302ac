// Package metrics exposes Prometheus instrumentation for the orchestrator:
// worker lifecycle counters, aggregation throughput, and run outcomes.
package metrics
