package types

import (
	"fmt"
	"time"
)

// TestKind selects the load-generation mode a run uses
type TestKind string

const (
	TestKindProtocol TestKind = "protocol" // HTTP-level load test
	TestKindBrowser  TestKind = "browser"  // real browser engine driving page timings
)

// WorkerResources defines the resource shape of a single worker container
type WorkerResources struct {
	CPUCores  float64 `json:"cpu_cores"`
	MemoryGiB float64 `json:"memory_gib"`
}

// RunPlan is the compiled, validated test plan. It is created by the plan
// compiler and immutable for the life of the run.
type RunPlan struct {
	RunID           string            `json:"run_id"`
	TargetURL       string            `json:"target_url"`
	TestKind        TestKind          `json:"test_kind"`
	TotalVUs        int               `json:"total_vus"`
	Duration        time.Duration     `json:"duration"`
	DurationSpec    string            `json:"duration_spec"` // original form, e.g. "2m", passed to workers
	PerWorkerVUs    int               `json:"per_worker_vus"`
	WorkerResources WorkerResources   `json:"worker_resources"`
	WorkerImageRef  string            `json:"worker_image_ref"`
	BlobNamespace   string            `json:"blob_namespace"`
	EnvOverrides    map[string]string `json:"env_overrides,omitempty"`
}

// WorkerAssignment carves out one worker's slice of the total VU count
type WorkerAssignment struct {
	WorkerIndex  int `json:"worker_index"`
	WorkerCount  int `json:"worker_count"`
	VUsForWorker int `json:"vus_for_worker"`
}

// WorkerState represents the lifecycle state of a worker container group
type WorkerState string

const (
	WorkerStatePending       WorkerState = "pending"
	WorkerStateProvisioning  WorkerState = "provisioning"
	WorkerStateRunning       WorkerState = "running"
	WorkerStateSucceeded     WorkerState = "succeeded"
	WorkerStateFailed        WorkerState = "failed"
	WorkerStateFailedToStart WorkerState = "failed_to_start"
	WorkerStateCancelled     WorkerState = "cancelled"
)

// Terminal reports whether no further transitions occur from this state
func (s WorkerState) Terminal() bool {
	switch s {
	case WorkerStateSucceeded, WorkerStateFailed, WorkerStateFailedToStart, WorkerStateCancelled:
		return true
	}
	return false
}

// WorkerHandle tracks one provisioned worker container group. Handles are
// owned and mutated exclusively by the container manager.
type WorkerHandle struct {
	WorkerIndex    int         `json:"worker_index"`
	ProviderID     string      `json:"provider_id,omitempty"`
	State          WorkerState `json:"state"`
	CreatedAt      time.Time   `json:"created_at"`
	LastObservedAt time.Time   `json:"last_observed_at"`
	ExitCode       *int        `json:"exit_code,omitempty"` // set on terminal states when known
	Message        string      `json:"message,omitempty"`
}

// RawSample is a single timing record emitted by a worker
type RawSample struct {
	TimestampMS int64             `json:"ts_ms"`
	Metric      string            `json:"metric"`
	Value       float64           `json:"value"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Percentiles holds the estimated distribution points of a metric series
type Percentiles struct {
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// SeriesStats is the merged statistics for one metric across all workers
type SeriesStats struct {
	Count            int64       `json:"count"`
	Sum              float64     `json:"sum"`
	Min              float64     `json:"min"`
	Max              float64     `json:"max"`
	Mean             float64     `json:"mean"`
	Percentiles      Percentiles `json:"percentiles"`
	SamplesPreserved []float64   `json:"samples_preserved,omitempty"` // bounded reservoir
}

// WorkerCompletion is the trailing record of a worker summary stream
type WorkerCompletion struct {
	WorkerIndex         int   `json:"worker_index"`
	VUsUsed             int   `json:"vus_used"`
	IterationsCompleted int   `json:"iterations"`
	WallClockMS         int64 `json:"wall_clock_ms"`
	ExitCode            int   `json:"exit_code"`
}

// CanonicalSummary is the post-aggregation, cross-worker metric snapshot
type CanonicalSummary struct {
	RunID          string                  `json:"run_id"`
	Metrics        map[string]*SeriesStats `json:"metrics"`
	Completions    []WorkerCompletion      `json:"completions,omitempty"`
	MalformedLines int64                   `json:"malformed_lines,omitempty"`
}

// SampleCount returns the total number of point samples across all metrics
func (c *CanonicalSummary) SampleCount() int64 {
	var n int64
	for _, s := range c.Metrics {
		n += s.Count
	}
	return n
}

// WorkerResultStatus describes a worker's contribution to the aggregate
type WorkerResultStatus string

const (
	WorkerResultOK      WorkerResultStatus = "ok"
	WorkerResultPartial WorkerResultStatus = "partial"
	WorkerResultMissing WorkerResultStatus = "missing"
	WorkerResultSkipped WorkerResultStatus = "skipped"
)

// ManifestEntry records one worker's source object in the run manifest
type ManifestEntry struct {
	Index       int                `json:"index"`
	Status      WorkerResultStatus `json:"status"`
	WorkerState WorkerState        `json:"worker_state"`
	SummaryBlob string             `json:"summary_blob"`
	SizeBytes   int64              `json:"size_bytes"`
	SampleCount int64              `json:"sample_count"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     time.Time          `json:"ended_at"`
}

// RunManifest lists every worker's source object and the run-level totals
type RunManifest struct {
	RunID             string          `json:"run_id"`
	Workers           []ManifestEntry `json:"workers"`
	Partial           bool            `json:"partial"`
	SuccessfulWorkers int             `json:"successful_workers"`
	WorkerCount       int             `json:"worker_count"`
}

// Severity ranks a finding
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// rank orders severities for sorting, high first
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// Finding is a single observation derived deterministically from statistics
type Finding struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	Detail         string   `json:"detail"`
	Metric         string   `json:"metric,omitempty"`
	Value          float64  `json:"value,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// TimingsBreakdown attributes mean request time to connection phases (ms)
type TimingsBreakdown struct {
	BlockedMean    float64 `json:"blocked_mean_ms"`
	ConnectingMean float64 `json:"connecting_mean_ms"`
	TLSMean        float64 `json:"tls_handshaking_mean_ms"`
	SendingMean    float64 `json:"sending_mean_ms"`
	WaitingMean    float64 `json:"waiting_mean_ms"`
	ReceivingMean  float64 `json:"receiving_mean_ms"`
	DurationMean   float64 `json:"duration_mean_ms"`
}

// ResourceBreakdown summarizes data transfer volumes
type ResourceBreakdown struct {
	DataSentBytes     float64 `json:"data_sent_bytes"`
	DataReceivedBytes float64 `json:"data_received_bytes"`
	BytesPerRequest   float64 `json:"bytes_per_request"`
}

// PerformanceReport is the graded analysis of a canonical summary
type PerformanceReport struct {
	Grade     string            `json:"grade"` // A..F
	Score     int               `json:"score"` // 0..100
	Summary   *CanonicalSummary `json:"canonical_summary"`
	Findings  []Finding         `json:"findings"`
	Timings   TimingsBreakdown  `json:"timings_breakdown"`
	Resources ResourceBreakdown `json:"resource_breakdown"`
}

// RunStatus classifies the overall outcome of a run
type RunStatus string

const (
	RunStatusOK        RunStatus = "ok"
	RunStatusDegraded  RunStatus = "degraded"  // some workers failed, some succeeded
	RunStatusFailed    RunStatus = "failed"    // no workers succeeded
	RunStatusCancelled RunStatus = "cancelled"
)

// RunOutcome is the terminal result of one orchestrated run
type RunOutcome struct {
	RunID             string             `json:"run_id"`
	Status            RunStatus          `json:"status"`
	WorkerStates      []WorkerHandle     `json:"terminal_worker_states"`
	SummaryLocation   string             `json:"canonical_summary_location,omitempty"`
	Manifest          *RunManifest       `json:"manifest,omitempty"`
	Report            *PerformanceReport `json:"report,omitempty"`
	OrchestratorError string             `json:"orchestrator_error,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	EndedAt           time.Time          `json:"ended_at"`
}

// Blob object names within a run's namespace. All worker and orchestrator
// outputs live under "<run_id>/".

func SummaryBlob(runID string, workerIndex int) string {
	return fmt.Sprintf("%s/summary_%d.json", runID, workerIndex)
}

func CompletionBlob(runID string, workerIndex int) string {
	return fmt.Sprintf("%s/completion_%d.txt", runID, workerIndex)
}

func WorkerLogBlob(runID string, workerIndex int) string {
	return fmt.Sprintf("%s/worker_%d.log", runID, workerIndex)
}

func AggregatedSummaryBlob(runID string) string {
	return runID + "/aggregated_summary.json"
}

func ManifestBlob(runID string) string {
	return runID + "/manifest.json"
}

func ReportBlob(runID string) string {
	return runID + "/performance_report.json"
}
