package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgeworks/stampede/pkg/blob"
	"github.com/surgeworks/stampede/pkg/types"
)

func testPlan() *types.RunPlan {
	return &types.RunPlan{
		RunID:         "run_20260824_120000_aaaaaa",
		TargetURL:     "https://example.com",
		TestKind:      types.TestKindProtocol,
		TotalVUs:      10,
		Duration:      time.Minute,
		DurationSpec:  "1m",
		PerWorkerVUs:  5,
		BlobNamespace: "results",
	}
}

func handle(index int, state types.WorkerState) types.WorkerHandle {
	return types.WorkerHandle{WorkerIndex: index, State: state}
}

func pointLine(metric string, value float64) string {
	return fmt.Sprintf(`{"kind":"Point","metric":%q,"data":{"value":%g}}`, metric, value)
}

func completionLine(index, vus, iterations int) string {
	return fmt.Sprintf(`{"kind":"Completion","worker_index":%d,"vus_used":%d,"iterations":%d,"wall_clock_ms":60000,"exit_code":0}`, index, vus, iterations)
}

func putSummary(t *testing.T, store blob.Store, p *types.RunPlan, index int, lines ...string) {
	t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	require.NoError(t, store.Put(context.Background(), p.BlobNamespace, types.SummaryBlob(p.RunID, index), []byte(body)))
}

func TestAggregateTwoWorkers(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	p := testPlan()

	var w0, w1 []string
	for i := 0; i < 300; i++ {
		w0 = append(w0, pointLine("http_req_duration", float64(100+i)))
		w1 = append(w1, pointLine("http_req_duration", float64(101+i)))
	}
	w0 = append(w0, completionLine(0, 5, 300))
	w1 = append(w1, completionLine(1, 5, 300))
	putSummary(t, store, p, 0, w0...)
	putSummary(t, store, p, 1, w1...)

	summary, manifest, err := New(store).Aggregate(ctx, p, []types.WorkerHandle{
		handle(0, types.WorkerStateSucceeded),
		handle(1, types.WorkerStateSucceeded),
	})
	require.NoError(t, err)

	stats := summary.Metrics["http_req_duration"]
	require.NotNil(t, stats)
	assert.Equal(t, int64(600), stats.Count)
	assert.Equal(t, 100.0, stats.Min)
	assert.Equal(t, 400.0, stats.Max)
	assert.InDelta(t, 250.0, stats.Mean, 0.5)
	assert.InDelta(t, 385.0, stats.Percentiles.P95, 2.0)

	require.Len(t, summary.Completions, 2)
	assert.Equal(t, int64(0), summary.MalformedLines)

	assert.False(t, manifest.Partial)
	assert.Equal(t, 2, manifest.SuccessfulWorkers)
	require.Len(t, manifest.Workers, 2)
	for i, e := range manifest.Workers {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, types.WorkerResultOK, e.Status)
		assert.Equal(t, int64(300), e.SampleCount)
		assert.Greater(t, e.SizeBytes, int64(0))
	}
}

func TestAggregateAdditiveAcrossSplits(t *testing.T) {
	ctx := context.Background()
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8, 9, 7}

	// All samples in one worker
	oneStore := blob.NewMemoryStore()
	p := testPlan()
	var all []string
	for _, v := range values {
		all = append(all, pointLine("http_req_duration", v))
	}
	putSummary(t, oneStore, p, 0, all...)
	one, _, err := New(oneStore).Aggregate(ctx, p, []types.WorkerHandle{handle(0, types.WorkerStateSucceeded)})
	require.NoError(t, err)

	// Same samples split across three workers
	splitStore := blob.NewMemoryStore()
	putSummary(t, splitStore, p, 0, all[:5]...)
	putSummary(t, splitStore, p, 1, all[5:9]...)
	putSummary(t, splitStore, p, 2, all[9:]...)
	split, _, err := New(splitStore).Aggregate(ctx, p, []types.WorkerHandle{
		handle(0, types.WorkerStateSucceeded),
		handle(1, types.WorkerStateSucceeded),
		handle(2, types.WorkerStateSucceeded),
	})
	require.NoError(t, err)

	a, b := one.Metrics["http_req_duration"], split.Metrics["http_req_duration"]
	assert.Equal(t, a.Count, b.Count)
	assert.Equal(t, a.Sum, b.Sum)
	assert.Equal(t, a.Min, b.Min)
	assert.Equal(t, a.Max, b.Max)
	assert.InDelta(t, a.Mean, b.Mean, 1e-9)
}

func TestAggregateMalformedLines(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	p := testPlan()

	putSummary(t, store, p, 0,
		pointLine("http_req_duration", 120),
		`{"kind":"Point","metric":`,       // truncated JSON
		`{"kind":"Teapot"}`,               // unknown kind
		`{"kind":"Point","data":{"value":5}}`, // point without metric name
		"",
		pointLine("http_req_duration", 130),
	)

	summary, _, err := New(store).Aggregate(ctx, p, []types.WorkerHandle{handle(0, types.WorkerStateSucceeded)})
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Metrics["http_req_duration"].Count)
	assert.Equal(t, int64(3), summary.MalformedLines)
}

func TestAggregateMissingWorkerIsPartial(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	p := testPlan()

	putSummary(t, store, p, 0, pointLine("http_req_duration", 100))

	summary, manifest, err := New(store).Aggregate(ctx, p, []types.WorkerHandle{
		handle(0, types.WorkerStateSucceeded),
		handle(1, types.WorkerStateSucceeded), // no summary uploaded
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.SampleCount())
	assert.True(t, manifest.Partial)
	assert.Equal(t, types.WorkerResultOK, manifest.Workers[0].Status)
	assert.Equal(t, types.WorkerResultMissing, manifest.Workers[1].Status)
}

func TestAggregateWorkerStates(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	p := testPlan()

	putSummary(t, store, p, 0, pointLine("http_req_duration", 100))
	putSummary(t, store, p, 1, pointLine("http_req_duration", 200)) // failed worker with partial data

	summary, manifest, err := New(store).Aggregate(ctx, p, []types.WorkerHandle{
		handle(0, types.WorkerStateSucceeded),
		handle(1, types.WorkerStateFailed),
		handle(2, types.WorkerStateFailedToStart),
		handle(3, types.WorkerStateCancelled),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.SampleCount())
	assert.Equal(t, types.WorkerResultOK, manifest.Workers[0].Status)
	assert.Equal(t, types.WorkerResultPartial, manifest.Workers[1].Status)
	assert.Equal(t, types.WorkerResultSkipped, manifest.Workers[2].Status)
	assert.Equal(t, types.WorkerResultSkipped, manifest.Workers[3].Status)
	assert.True(t, manifest.Partial)
}

func TestAggregateEmptyFleet(t *testing.T) {
	summary, manifest, err := New(blob.NewMemoryStore()).Aggregate(context.Background(), testPlan(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.SampleCount())
	assert.Equal(t, 0, manifest.WorkerCount)
}

// failingStore simulates a wholly unreachable blob backend
type failingStore struct{ blob.Store }

func (failingStore) Get(ctx context.Context, namespace, name string) ([]byte, error) {
	return nil, fmt.Errorf("%w: connection refused", types.ErrBlobUnavailable)
}

func TestAggregateStoreUnreachableIsFatal(t *testing.T) {
	_, _, err := New(failingStore{}).Aggregate(context.Background(), testPlan(), []types.WorkerHandle{
		handle(0, types.WorkerStateSucceeded),
		handle(1, types.WorkerStateSucceeded),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAggregatorFatal))
}

func TestReservoirPercentileAccuracy(t *testing.T) {
	// 100k samples uniform over [0, 1000)
	acc := newAccumulator("http_req_duration")
	for i := 0; i < 100000; i++ {
		acc.add(float64(i % 1000))
	}

	stats := acc.stats()
	assert.Equal(t, int64(100000), stats.Count)
	assert.Equal(t, 0.0, stats.Min)
	assert.Equal(t, 999.0, stats.Max)
	assert.InDelta(t, 499.5, stats.Mean, 1e-6)
	assert.LessOrEqual(t, math.Abs(stats.Percentiles.P95-950), 10.0)
	assert.LessOrEqual(t, math.Abs(stats.Percentiles.P50-500), 10.0)
	assert.Len(t, stats.SamplesPreserved, reservoirSize)
}

func TestAccumulatorDeterministic(t *testing.T) {
	a, b := newAccumulator("http_req_duration"), newAccumulator("http_req_duration")
	for i := 0; i < 50000; i++ {
		v := float64((i * 7919) % 10000)
		a.add(v)
		b.add(v)
	}
	assert.Equal(t, a.stats(), b.stats())
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	assert.Equal(t, 25.0, percentile(sorted, 50))
	assert.Equal(t, 10.0, percentile(sorted, 0))
	assert.Equal(t, 40.0, percentile(sorted, 100))
	assert.Equal(t, 0.0, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 95))
}

func TestPublishUploadsSummaryAndManifest(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	p := testPlan()

	putSummary(t, store, p, 0, pointLine("http_req_duration", 100))
	agg := New(store)
	summary, manifest, err := agg.Aggregate(ctx, p, []types.WorkerHandle{handle(0, types.WorkerStateSucceeded)})
	require.NoError(t, err)

	require.NoError(t, agg.Publish(ctx, p, summary, manifest))

	for _, name := range []string{types.AggregatedSummaryBlob(p.RunID), types.ManifestBlob(p.RunID)} {
		ok, err := store.Exists(ctx, p.BlobNamespace, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
}
