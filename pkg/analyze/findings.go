package analyze

import "github.com/surgeworks/stampede/pkg/types"

// Finding categories
const (
	categoryServerProcessing    = "server_processing"
	categoryErrorRate           = "error_rate"
	categoryThroughput          = "throughput"
	categoryWebVitals           = "core_web_vitals"
	categoryPayloadSize         = "payload_size"
	categoryConnectionSetup     = "connection_setup"
	categoryWorkerDropout       = "worker_dropout"
	categoryNoSamples           = "no_samples"
	categoryNoSuccessfulWorkers = "no_successful_workers"
	categoryCancelled           = "cancelled"
)

// recommendations maps each finding category to its recommended action. The
// catalogue is static so two analyses of the same summary read identically.
var recommendations = map[string]string{
	categoryServerProcessing:    "profile server-side request handling; look at database queries, synchronous I/O, and missing caches on the hot path",
	categoryErrorRate:           "inspect server error logs for the failing status codes; check rate limits, connection pool exhaustion, and upstream dependency failures",
	categoryThroughput:          "check for server-side concurrency limits or connection queuing; verify the target can accept the offered parallelism",
	categoryWebVitals:           "optimize the critical rendering path: compress and preload the LCP resource, reserve layout space for late-loading content, and split long main-thread tasks",
	categoryPayloadSize:         "enable response compression and trim over-fetching; paginate large collections and strip unused fields from responses",
	categoryConnectionSetup:     "enable HTTP keep-alive and TLS session resumption; consider connection pooling or a CDN closer to clients",
	categoryWorkerDropout:       "review the logs of the failed workers; the aggregate was computed from a reduced fleet and understates the intended load",
	categoryNoSamples:           "verify the target URL is reachable from the worker network and that workers start successfully",
	categoryNoSuccessfulWorkers: "review worker logs and container exit codes; the run produced no complete workload execution",
	categoryCancelled:           "re-run the test to completion for representative results",
}

func newFinding(sev types.Severity, category, title, detail, metric string, value float64) types.Finding {
	return types.Finding{
		Severity:       sev,
		Category:       category,
		Title:          title,
		Detail:         detail,
		Metric:         metric,
		Value:          value,
		Recommendation: recommendations[category],
	}
}
