package analyze

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgeworks/stampede/pkg/types"
)

func protocolContext() Context {
	return Context{
		TestKind:          types.TestKindProtocol,
		TargetURL:         "https://example.com",
		DurationSeconds:   60,
		TotalVUs:          50,
		SuccessfulWorkers: 5,
		WorkerCount:       5,
	}
}

func series(count int64, mean, p75, p95 float64) *types.SeriesStats {
	return &types.SeriesStats{
		Count: count,
		Sum:   mean * float64(count),
		Mean:  mean,
		Percentiles: types.Percentiles{
			P50: mean,
			P75: p75,
			P95: p95,
		},
	}
}

func healthySummary() *types.CanonicalSummary {
	return &types.CanonicalSummary{
		RunID: "run_x",
		Metrics: map[string]*types.SeriesStats{
			"http_req_duration": series(6000, 150, 200, 300),
			"http_req_failed":   series(6000, 0.001, 0, 0),
			"http_reqs":         series(6000, 1, 1, 1),
			"http_req_waiting":  series(6000, 120, 150, 250),
		},
	}
}

func findingCategories(report *types.PerformanceReport) []string {
	var cats []string
	for _, f := range report.Findings {
		cats = append(cats, f.Category)
	}
	return cats
}

func TestHealthyRunGradesA(t *testing.T) {
	report := Analyze(healthySummary(), protocolContext())
	assert.Equal(t, "A", report.Grade)
	assert.Equal(t, 100, report.Score)
	assert.NotContains(t, findingCategories(report), categoryServerProcessing)
}

func TestSlowLatencyTiers(t *testing.T) {
	tests := []struct {
		name      string
		p95       float64
		wantScore int
		wantSev   types.Severity
	}{
		{"slow", 2500, 80, types.SeverityHigh},
		{"very slow", 6000, 65, types.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := healthySummary()
			s.Metrics["http_req_duration"] = series(6000, 500, 800, tt.p95)

			report := Analyze(s, protocolContext())
			assert.Equal(t, tt.wantScore, report.Score, "only the larger tier deduction applies")

			require.Contains(t, findingCategories(report), categoryServerProcessing)
			for _, f := range report.Findings {
				if f.Category == categoryServerProcessing {
					assert.Equal(t, tt.wantSev, f.Severity)
					assert.Equal(t, "http_req_duration", f.Metric)
					assert.NotEmpty(t, f.Recommendation)
				}
			}
		})
	}
}

func TestErrorRateTiers(t *testing.T) {
	tests := []struct {
		rate      float64
		wantScore int
	}{
		{0.005, 100},
		{0.02, 90},
		{0.07, 75},
		{0.20, 60},
	}

	for _, tt := range tests {
		s := healthySummary()
		s.Metrics["http_req_failed"] = series(6000, tt.rate, 0, 1)
		report := Analyze(s, protocolContext())
		assert.Equal(t, tt.wantScore, report.Score, "rate %v", tt.rate)
	}
}

func TestLowThroughputNeedsEnoughVUs(t *testing.T) {
	s := healthySummary()
	s.Metrics["http_reqs"] = series(300, 1, 1, 1) // 5 rps over 60s

	ctx := protocolContext()
	ctx.TotalVUs = 50
	report := Analyze(s, ctx)
	assert.Equal(t, 85, report.Score)
	assert.Contains(t, findingCategories(report), categoryThroughput)

	// Below the VU floor the same throughput is not penalized
	ctx.TotalVUs = 10
	report = Analyze(s, ctx)
	assert.Equal(t, 100, report.Score)
}

func TestServerThinkTimeDeduction(t *testing.T) {
	s := healthySummary()
	s.Metrics["http_req_waiting"] = series(6000, 550, 600, 900)

	report := Analyze(s, protocolContext())
	assert.Equal(t, 90, report.Score)
	assert.Contains(t, findingCategories(report), categoryServerProcessing)
}

func TestHeavyPayloadDeduction(t *testing.T) {
	s := healthySummary()
	s.Metrics["data_received"] = &types.SeriesStats{Count: 6000, Sum: 6000 * 300 * 1024}

	report := Analyze(s, protocolContext())
	assert.Equal(t, 95, report.Score)
	assert.Contains(t, findingCategories(report), categoryPayloadSize)
	assert.InDelta(t, 300*1024, report.Resources.BytesPerRequest, 0.1)
}

func TestBrowserWebVitals(t *testing.T) {
	ctx := protocolContext()
	ctx.TestKind = types.TestKindBrowser

	tests := []struct {
		name      string
		lcp, cls  float64
		fid       float64
		wantScore int
		wantGrade string
	}{
		{"all healthy", 1800, 0.05, 50, 100, "A"},
		{"poor lcp", 3000, 0.05, 50, 80, "B"},
		{"very poor lcp", 5000, 0.05, 50, 65, "D"},
		{"shifting layout", 1800, 0.15, 50, 90, "A"},
		{"severe shift and slow input", 1800, 0.30, 350, 60, "D"},
		{"everything poor", 5000, 0.30, 350, 25, "F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &types.CanonicalSummary{
				RunID: "run_b",
				Metrics: map[string]*types.SeriesStats{
					"largest_contentful_paint": series(500, tt.lcp, tt.lcp, tt.lcp),
					"cumulative_layout_shift":  series(500, tt.cls, tt.cls, tt.cls),
					"first_input_delay":        series(500, tt.fid, tt.fid, tt.fid),
				},
			}
			report := Analyze(s, ctx)
			assert.Equal(t, tt.wantScore, report.Score)
			assert.Equal(t, tt.wantGrade, report.Grade)
		})
	}
}

func TestScoreFloorsAtZero(t *testing.T) {
	s := healthySummary()
	s.Metrics["http_req_duration"] = series(6000, 8000, 9000, 12000)
	s.Metrics["http_req_failed"] = series(6000, 0.5, 1, 1)
	s.Metrics["http_req_waiting"] = series(6000, 5000, 6000, 9000)
	s.Metrics["http_reqs"] = series(60, 1, 1, 1)
	s.Metrics["data_received"] = &types.SeriesStats{Count: 60, Sum: 60 * 500 * 1024}

	report := Analyze(s, protocolContext())
	assert.Equal(t, 0, report.Score)
	assert.Equal(t, "F", report.Grade)
}

func TestNoSamples(t *testing.T) {
	s := &types.CanonicalSummary{RunID: "run_x", Metrics: map[string]*types.SeriesStats{}}

	report := Analyze(s, protocolContext())
	assert.Equal(t, 0, report.Score)
	assert.Equal(t, "F", report.Grade)
	assert.Equal(t, []string{categoryNoSamples}, findingCategories(report))
}

func TestCancelledSuppressesNoSamples(t *testing.T) {
	s := &types.CanonicalSummary{RunID: "run_x", Metrics: map[string]*types.SeriesStats{}}
	ctx := protocolContext()
	ctx.Cancelled = true

	report := Analyze(s, ctx)
	assert.Equal(t, []string{categoryCancelled}, findingCategories(report))
}

func TestWorkerDropoutFinding(t *testing.T) {
	ctx := protocolContext()
	ctx.SuccessfulWorkers = 2
	ctx.WorkerCount = 3

	report := Analyze(healthySummary(), ctx)
	require.Contains(t, findingCategories(report), categoryWorkerDropout)
	for _, f := range report.Findings {
		if f.Category == categoryWorkerDropout {
			assert.Equal(t, types.SeverityMedium, f.Severity)
		}
	}
	// Dropout alone does not change the metric-derived score
	assert.Equal(t, 100, report.Score)
}

func TestNoSuccessfulWorkersFinding(t *testing.T) {
	ctx := protocolContext()
	ctx.SuccessfulWorkers = 0
	ctx.WorkerCount = 3

	s := &types.CanonicalSummary{RunID: "run_x", Metrics: map[string]*types.SeriesStats{}}
	report := Analyze(s, ctx)
	cats := findingCategories(report)
	assert.Contains(t, cats, categoryNoSuccessfulWorkers)
	assert.Contains(t, cats, categoryNoSamples)
}

func TestFindingsOrderedBySeverity(t *testing.T) {
	s := healthySummary()
	s.Metrics["http_req_duration"] = series(6000, 500, 800, 6000)          // high
	s.Metrics["http_req_waiting"] = series(6000, 550, 600, 900)            // medium
	s.Metrics["data_received"] = &types.SeriesStats{Count: 6000, Sum: 6000 * 300 * 1024} // low

	report := Analyze(s, protocolContext())
	require.GreaterOrEqual(t, len(report.Findings), 3)
	for i := 1; i < len(report.Findings); i++ {
		assert.LessOrEqual(t,
			report.Findings[i-1].Severity.Rank(),
			report.Findings[i].Severity.Rank(),
			"findings must be ordered high to low")
	}
}

func TestTimingsBreakdown(t *testing.T) {
	s := healthySummary()
	s.Metrics["http_req_blocked"] = series(6000, 5, 6, 10)
	s.Metrics["http_req_connecting"] = series(6000, 10, 12, 20)
	s.Metrics["http_req_tls_handshaking"] = series(6000, 30, 35, 60)
	s.Metrics["http_req_sending"] = series(6000, 1, 1, 2)
	s.Metrics["http_req_receiving"] = series(6000, 8, 9, 15)

	report := Analyze(s, protocolContext())
	assert.Equal(t, 5.0, report.Timings.BlockedMean)
	assert.Equal(t, 10.0, report.Timings.ConnectingMean)
	assert.Equal(t, 30.0, report.Timings.TLSMean)
	assert.Equal(t, 120.0, report.Timings.WaitingMean)
	assert.Equal(t, 150.0, report.Timings.DurationMean)
}

func TestAnalyzeIdempotent(t *testing.T) {
	s := healthySummary()
	s.Metrics["http_req_duration"] = series(6000, 500, 800, 2500)
	ctx := protocolContext()
	ctx.SuccessfulWorkers = 4

	first, err := json.Marshal(Analyze(s, ctx))
	require.NoError(t, err)
	second, err := json.Marshal(Analyze(s, ctx))
	require.NoError(t, err)
	assert.Equal(t, first, second, "same summary must produce a byte-identical report")
}
