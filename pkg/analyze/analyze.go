package analyze

import (
	"fmt"
	"sort"

	"github.com/surgeworks/stampede/pkg/types"
)

// Context carries the run facts the analyzer grades against
type Context struct {
	TestKind          types.TestKind
	TargetURL         string
	DurationSeconds   float64
	TotalVUs          int
	Cancelled         bool
	SuccessfulWorkers int
	WorkerCount       int
}

// Grading thresholds. Each tiered pair applies the larger deduction only.
const (
	durationP95SlowMS     = 2000
	durationP95VerySlowMS = 5000

	failRateNoticeable = 0.01
	failRateSerious    = 0.05
	failRateSevere     = 0.10

	lowThroughputRPS    = 10
	lowThroughputMinVUs = 25

	waitingMeanHeavyMS = 400

	heavyPayloadBytes = 200 * 1024

	lcpP75SlowMS     = 2500
	lcpP75VerySlowMS = 4000

	clsP75Poor    = 0.1
	clsP75Serious = 0.25

	fidP75SlowMS     = 100
	fidP75VerySlowMS = 300
)

// Analyze grades a canonical summary against fixed performance thresholds
// and returns the report. The output is a pure function of its inputs:
// the same summary and context always produce a byte-identical report.
func Analyze(summary *types.CanonicalSummary, ctx Context) *types.PerformanceReport {
	report := &types.PerformanceReport{
		Summary:   summary,
		Timings:   timingsBreakdown(summary),
		Resources: resourceBreakdown(summary),
	}

	if summary.SampleCount() == 0 {
		report.Score = 0
		report.Grade = "F"
		// Cancellation already explains the absent samples
		if !ctx.Cancelled {
			report.Findings = append(report.Findings, newFinding(types.SeverityHigh, categoryNoSamples,
				"no samples collected",
				"no worker produced any metric samples; the target may be unreachable or workers may have failed before generating load",
				"", 0))
		}
		report.Findings = append(report.Findings, fleetFindings(ctx)...)
		sortFindings(report.Findings)
		return report
	}

	score := 100
	var findings []types.Finding

	switch ctx.TestKind {
	case types.TestKindBrowser:
		score, findings = gradeBrowser(summary)
	default:
		score, findings = gradeProtocol(summary, ctx)
	}

	findings = append(findings, fleetFindings(ctx)...)
	findings = append(findings, advisoryFindings(summary)...)

	if score < 0 {
		score = 0
	}
	report.Score = score
	report.Grade = gradeFor(score)
	sortFindings(findings)
	report.Findings = findings
	return report
}

func gradeProtocol(summary *types.CanonicalSummary, ctx Context) (int, []types.Finding) {
	score := 100
	var findings []types.Finding

	if dur, ok := summary.Metrics["http_req_duration"]; ok && dur.Count > 0 {
		p95 := dur.Percentiles.P95
		switch {
		case p95 > durationP95VerySlowMS:
			score -= 35
			findings = append(findings, newFinding(types.SeverityHigh, categoryServerProcessing,
				"very slow request latency",
				fmt.Sprintf("p95 request duration is %.1f ms, above the %d ms threshold", p95, durationP95VerySlowMS),
				"http_req_duration", p95))
		case p95 > durationP95SlowMS:
			score -= 20
			findings = append(findings, newFinding(types.SeverityHigh, categoryServerProcessing,
				"slow request latency",
				fmt.Sprintf("p95 request duration is %.1f ms, above the %d ms threshold", p95, durationP95SlowMS),
				"http_req_duration", p95))
		}
	}

	if failed, ok := summary.Metrics["http_req_failed"]; ok && failed.Count > 0 {
		rate := failed.Mean
		switch {
		case rate > failRateSevere:
			score -= 40
			findings = append(findings, newFinding(types.SeverityHigh, categoryErrorRate,
				"severe error rate",
				fmt.Sprintf("%.2f%% of requests failed", rate*100),
				"http_req_failed", rate))
		case rate > failRateSerious:
			score -= 25
			findings = append(findings, newFinding(types.SeverityHigh, categoryErrorRate,
				"high error rate",
				fmt.Sprintf("%.2f%% of requests failed", rate*100),
				"http_req_failed", rate))
		case rate > failRateNoticeable:
			score -= 10
			findings = append(findings, newFinding(types.SeverityMedium, categoryErrorRate,
				"elevated error rate",
				fmt.Sprintf("%.2f%% of requests failed", rate*100),
				"http_req_failed", rate))
		}
	}

	if reqs, ok := summary.Metrics["http_reqs"]; ok && ctx.DurationSeconds > 0 && ctx.TotalVUs >= lowThroughputMinVUs {
		rps := float64(reqs.Count) / ctx.DurationSeconds
		if rps < lowThroughputRPS {
			score -= 15
			findings = append(findings, newFinding(types.SeverityMedium, categoryThroughput,
				"low throughput under load",
				fmt.Sprintf("%.1f requests/s sustained with %d virtual users", rps, ctx.TotalVUs),
				"http_reqs", rps))
		}
	}

	if waiting, ok := summary.Metrics["http_req_waiting"]; ok && waiting.Count > 0 {
		if waiting.Mean > waitingMeanHeavyMS {
			score -= 10
			findings = append(findings, newFinding(types.SeverityMedium, categoryServerProcessing,
				"high server think time",
				fmt.Sprintf("mean time to first byte is %.1f ms; request time is dominated by server-side processing", waiting.Mean),
				"http_req_waiting", waiting.Mean))
		}
	}

	if bpr := bytesPerRequest(summary); bpr > heavyPayloadBytes {
		score -= 5
		findings = append(findings, newFinding(types.SeverityLow, categoryPayloadSize,
			"heavy response payloads",
			fmt.Sprintf("average response is %.0f KiB per request", bpr/1024),
			"data_received", bpr))
	}

	return score, findings
}

func gradeBrowser(summary *types.CanonicalSummary) (int, []types.Finding) {
	score := 100
	var findings []types.Finding

	if lcp, ok := summary.Metrics["largest_contentful_paint"]; ok && lcp.Count > 0 {
		p75 := lcp.Percentiles.P75
		switch {
		case p75 > lcpP75VerySlowMS:
			score -= 35
			findings = append(findings, newFinding(types.SeverityHigh, categoryWebVitals,
				"very poor largest contentful paint",
				fmt.Sprintf("p75 LCP is %.0f ms, above the %d ms threshold", p75, lcpP75VerySlowMS),
				"largest_contentful_paint", p75))
		case p75 > lcpP75SlowMS:
			score -= 20
			findings = append(findings, newFinding(types.SeverityHigh, categoryWebVitals,
				"poor largest contentful paint",
				fmt.Sprintf("p75 LCP is %.0f ms, above the %d ms threshold", p75, lcpP75SlowMS),
				"largest_contentful_paint", p75))
		}
	}

	if cls, ok := summary.Metrics["cumulative_layout_shift"]; ok && cls.Count > 0 {
		p75 := cls.Percentiles.P75
		switch {
		case p75 > clsP75Serious:
			score -= 20
			findings = append(findings, newFinding(types.SeverityHigh, categoryWebVitals,
				"severe layout instability",
				fmt.Sprintf("p75 CLS is %.3f", p75),
				"cumulative_layout_shift", p75))
		case p75 > clsP75Poor:
			score -= 10
			findings = append(findings, newFinding(types.SeverityMedium, categoryWebVitals,
				"noticeable layout instability",
				fmt.Sprintf("p75 CLS is %.3f", p75),
				"cumulative_layout_shift", p75))
		}
	}

	if fid, ok := summary.Metrics["first_input_delay"]; ok && fid.Count > 0 {
		p75 := fid.Percentiles.P75
		switch {
		case p75 > fidP75VerySlowMS:
			score -= 20
			findings = append(findings, newFinding(types.SeverityHigh, categoryWebVitals,
				"very slow input responsiveness",
				fmt.Sprintf("p75 first input delay is %.0f ms", p75),
				"first_input_delay", p75))
		case p75 > fidP75SlowMS:
			score -= 10
			findings = append(findings, newFinding(types.SeverityMedium, categoryWebVitals,
				"slow input responsiveness",
				fmt.Sprintf("p75 first input delay is %.0f ms", p75),
				"first_input_delay", p75))
		}
	}

	return score, findings
}

// fleetFindings reports run-level conditions that are independent of the
// metric values. They carry no score deduction.
func fleetFindings(ctx Context) []types.Finding {
	var findings []types.Finding

	if ctx.Cancelled {
		findings = append(findings, newFinding(types.SeverityLow, categoryCancelled,
			"run cancelled",
			"the run was cancelled before completion; collected metrics cover only the time before cancellation",
			"", 0))
		return findings
	}

	switch {
	case ctx.WorkerCount > 0 && ctx.SuccessfulWorkers == 0:
		findings = append(findings, newFinding(types.SeverityHigh, categoryNoSuccessfulWorkers,
			"no workers succeeded",
			fmt.Sprintf("all %d workers ended without completing their workload", ctx.WorkerCount),
			"", float64(ctx.WorkerCount)))
	case ctx.SuccessfulWorkers < ctx.WorkerCount:
		findings = append(findings, newFinding(types.SeverityMedium, categoryWorkerDropout,
			"worker dropout",
			fmt.Sprintf("%d of %d workers did not complete; aggregate statistics cover a reduced load level", ctx.WorkerCount-ctx.SuccessfulWorkers, ctx.WorkerCount),
			"", float64(ctx.WorkerCount-ctx.SuccessfulWorkers)))
	}
	return findings
}

// advisoryFindings surface patterns worth a look without affecting the grade
func advisoryFindings(summary *types.CanonicalSummary) []types.Finding {
	var findings []types.Finding

	var setup float64
	for _, name := range []string{"http_req_blocked", "http_req_connecting", "http_req_tls_handshaking"} {
		if s, ok := summary.Metrics[name]; ok && s.Count > 0 {
			setup += s.Mean
		}
	}
	if setup > 100 {
		findings = append(findings, newFinding(types.SeverityLow, categoryConnectionSetup,
			"slow connection setup",
			fmt.Sprintf("mean connection setup (DNS, TCP, TLS) is %.1f ms per request", setup),
			"http_req_blocked", setup))
	}
	return findings
}

func bytesPerRequest(summary *types.CanonicalSummary) float64 {
	received, ok := summary.Metrics["data_received"]
	if !ok || received.Count == 0 {
		return 0
	}
	reqs, ok := summary.Metrics["http_reqs"]
	if !ok || reqs.Count == 0 {
		return 0
	}
	return received.Sum / float64(reqs.Count)
}

func timingsBreakdown(summary *types.CanonicalSummary) types.TimingsBreakdown {
	mean := func(name string) float64 {
		if s, ok := summary.Metrics[name]; ok && s.Count > 0 {
			return s.Mean
		}
		return 0
	}
	return types.TimingsBreakdown{
		BlockedMean:    mean("http_req_blocked"),
		ConnectingMean: mean("http_req_connecting"),
		TLSMean:        mean("http_req_tls_handshaking"),
		SendingMean:    mean("http_req_sending"),
		WaitingMean:    mean("http_req_waiting"),
		ReceivingMean:  mean("http_req_receiving"),
		DurationMean:   mean("http_req_duration"),
	}
}

func resourceBreakdown(summary *types.CanonicalSummary) types.ResourceBreakdown {
	sum := func(name string) float64 {
		if s, ok := summary.Metrics[name]; ok {
			return s.Sum
		}
		return 0
	}
	return types.ResourceBreakdown{
		DataSentBytes:     sum("data_sent"),
		DataReceivedBytes: sum("data_received"),
		BytesPerRequest:   bytesPerRequest(summary),
	}
}

func gradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	}
	return "F"
}

// sortFindings orders high severity first, then by category within a
// severity, so output is stable.
func sortFindings(findings []types.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() < findings[j].Severity.Rank()
		}
		return findings[i].Category < findings[j].Category
	})
}
