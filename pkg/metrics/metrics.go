package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker lifecycle metrics
	WorkersProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stampede_workers_provisioned_total",
			Help: "Total number of worker container groups successfully created",
		},
	)

	WorkersTerminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stampede_workers_terminal_total",
			Help: "Total number of workers reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	ProvisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stampede_worker_provision_latency_seconds",
			Help:    "Time from create request to the worker reporting running",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	CreateRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stampede_provider_create_retries_total",
			Help: "Total number of retried provider create calls",
		},
	)

	// Aggregation metrics
	SamplesAggregated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stampede_samples_aggregated_total",
			Help: "Total number of point samples folded into accumulators",
		},
	)

	MalformedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stampede_malformed_summary_lines_total",
			Help: "Total number of summary lines that failed to parse",
		},
	)

	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stampede_runs_total",
			Help: "Total number of completed runs by status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stampede_run_duration_seconds",
			Help:    "Wall-clock duration of complete runs",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WorkersProvisioned)
	prometheus.MustRegister(WorkersTerminal)
	prometheus.MustRegister(ProvisionLatency)
	prometheus.MustRegister(CreateRetries)
	prometheus.MustRegister(SamplesAggregated)
	prometheus.MustRegister(MalformedLines)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes the metrics handler on addr in the background. Errors are
// reported on the returned channel.
func Serve(addr string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", Handler())
		errCh <- http.ListenAndServe(addr, mux)
	}()
	return errCh
}
