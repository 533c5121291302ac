package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/surgeworks/stampede/pkg/blob"
	"github.com/surgeworks/stampede/pkg/log"
	"github.com/surgeworks/stampede/pkg/metrics"
	"github.com/surgeworks/stampede/pkg/types"
)

// maxLineBytes bounds a single summary line; anything longer is malformed
const maxLineBytes = 1 << 20

// Aggregator merges per-worker result streams into a canonical summary
type Aggregator struct {
	store blob.Store
}

// New creates an Aggregator reading from store
func New(store blob.Store) *Aggregator {
	return &Aggregator{store: store}
}

// lineRecord is one NDJSON line of a worker summary stream
type lineRecord struct {
	Kind   string     `json:"kind"`
	Metric string     `json:"metric"`
	Data   *pointData `json:"data"`

	// Completion fields
	WorkerIndex int   `json:"worker_index"`
	VUsUsed     int   `json:"vus_used"`
	Iterations  int   `json:"iterations"`
	WallClockMS int64 `json:"wall_clock_ms"`
	ExitCode    int   `json:"exit_code"`
}

type pointData struct {
	Time  string            `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags"`
}

// Aggregate fetches every contributing worker's summary stream and folds it
// into per-metric accumulators. Workers are visited in ascending index order
// so output is deterministic for a given input set. Missing summaries are
// tolerated and recorded in the manifest; only the blob store being wholly
// unreachable is fatal.
func (a *Aggregator) Aggregate(ctx context.Context, plan *types.RunPlan, handles []types.WorkerHandle) (*types.CanonicalSummary, *types.RunManifest, error) {
	logger := log.WithRunID(plan.RunID)

	sorted := make([]types.WorkerHandle, len(handles))
	copy(sorted, handles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WorkerIndex < sorted[j].WorkerIndex })

	summary := &types.CanonicalSummary{
		RunID:   plan.RunID,
		Metrics: make(map[string]*types.SeriesStats),
	}
	manifest := &types.RunManifest{
		RunID:       plan.RunID,
		WorkerCount: len(sorted),
		SuccessfulWorkers: lo.CountBy(sorted, func(h types.WorkerHandle) bool {
			return h.State == types.WorkerStateSucceeded
		}),
	}

	accs := make(map[string]*accumulator)
	attempted, unreachable := 0, 0

	for _, h := range sorted {
		entry := types.ManifestEntry{
			Index:       h.WorkerIndex,
			WorkerState: h.State,
			SummaryBlob: types.SummaryBlob(plan.RunID, h.WorkerIndex),
			StartedAt:   h.CreatedAt,
			EndedAt:     h.LastObservedAt,
		}

		// Failed workers may still have flushed partial data; the rest have
		// nothing worth fetching
		if h.State != types.WorkerStateSucceeded && h.State != types.WorkerStateFailed {
			entry.Status = types.WorkerResultSkipped
			manifest.Workers = append(manifest.Workers, entry)
			continue
		}

		attempted++
		data, err := a.store.Get(ctx, plan.BlobNamespace, entry.SummaryBlob)
		if err != nil {
			if errors.Is(err, types.ErrBlobNotFound) {
				logger.Warn().Int("worker_index", h.WorkerIndex).Msg("worker summary missing")
			} else {
				logger.Error().Err(err).Int("worker_index", h.WorkerIndex).Msg("failed to fetch worker summary")
				unreachable++
			}
			entry.Status = types.WorkerResultMissing
			manifest.Workers = append(manifest.Workers, entry)
			continue
		}

		samples, completion, malformed := a.ingest(data, accs)
		summary.MalformedLines += malformed
		if completion != nil {
			summary.Completions = append(summary.Completions, *completion)
		}

		entry.SizeBytes = int64(len(data))
		entry.SampleCount = samples
		if h.State == types.WorkerStateSucceeded {
			entry.Status = types.WorkerResultOK
		} else {
			entry.Status = types.WorkerResultPartial
		}
		manifest.Workers = append(manifest.Workers, entry)
	}

	if attempted > 0 && unreachable == attempted {
		return nil, nil, fmt.Errorf("%w: blob store unreachable for all %d workers", types.ErrAggregatorFatal, attempted)
	}

	for name, acc := range accs {
		summary.Metrics[name] = acc.stats()
	}

	manifest.Partial = manifest.SuccessfulWorkers < manifest.WorkerCount ||
		lo.SomeBy(manifest.Workers, func(e types.ManifestEntry) bool {
			return e.Status == types.WorkerResultMissing
		})

	logger.Info().
		Int64("samples", summary.SampleCount()).
		Int("metrics", len(summary.Metrics)).
		Bool("partial", manifest.Partial).
		Msg("aggregation complete")
	return summary, manifest, nil
}

// ingest streams one worker's NDJSON summary into the accumulators.
// Malformed lines are counted and skipped, never fatal.
func (a *Aggregator) ingest(data []byte, accs map[string]*accumulator) (samples int64, completion *types.WorkerCompletion, malformed int64) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec lineRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			malformed++
			metrics.MalformedLines.Inc()
			continue
		}

		switch rec.Kind {
		case "Point":
			if rec.Metric == "" || rec.Data == nil {
				malformed++
				metrics.MalformedLines.Inc()
				continue
			}
			acc, ok := accs[rec.Metric]
			if !ok {
				acc = newAccumulator(rec.Metric)
				accs[rec.Metric] = acc
			}
			acc.add(rec.Data.Value)
			samples++
			metrics.SamplesAggregated.Inc()
		case "Completion":
			completion = &types.WorkerCompletion{
				WorkerIndex:         rec.WorkerIndex,
				VUsUsed:             rec.VUsUsed,
				IterationsCompleted: rec.Iterations,
				WallClockMS:         rec.WallClockMS,
				ExitCode:            rec.ExitCode,
			}
		case "Metric":
			// metric declarations carry no sample data
		default:
			malformed++
			metrics.MalformedLines.Inc()
		}
	}
	if err := scanner.Err(); err != nil {
		malformed++
	}
	return samples, completion, malformed
}

// Publish uploads the canonical summary and run manifest to the blob
// namespace
func (a *Aggregator) Publish(ctx context.Context, plan *types.RunPlan, summary *types.CanonicalSummary, manifest *types.RunManifest) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal canonical summary: %w", err)
	}
	if err := a.store.Put(ctx, plan.BlobNamespace, types.AggregatedSummaryBlob(plan.RunID), summaryJSON); err != nil {
		return fmt.Errorf("failed to upload canonical summary: %w", err)
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := a.store.Put(ctx, plan.BlobNamespace, types.ManifestBlob(plan.RunID), manifestJSON); err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	return nil
}
