package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/surgeworks/stampede/pkg/aggregate"
	"github.com/surgeworks/stampede/pkg/analyze"
	"github.com/surgeworks/stampede/pkg/blob"
	"github.com/surgeworks/stampede/pkg/distribute"
	"github.com/surgeworks/stampede/pkg/history"
	"github.com/surgeworks/stampede/pkg/log"
	"github.com/surgeworks/stampede/pkg/manager"
	"github.com/surgeworks/stampede/pkg/metrics"
	"github.com/surgeworks/stampede/pkg/plan"
	"github.com/surgeworks/stampede/pkg/provider"
	"github.com/surgeworks/stampede/pkg/types"
)

// minHardDeadline floors the run's hard deadline for very short tests
const minHardDeadline = 10 * time.Minute

// Orchestrator wires the run pipeline together: compile, distribute,
// provision, aggregate, analyze.
type Orchestrator struct {
	provider   provider.Provider
	store      blob.Store
	managerCfg manager.Config
	history    *history.Store // optional
}

// New creates an Orchestrator. history may be nil to skip run recording.
func New(p provider.Provider, store blob.Store, managerCfg manager.Config, hist *history.Store) *Orchestrator {
	return &Orchestrator{
		provider:   p,
		store:      store,
		managerCfg: managerCfg,
		history:    hist,
	}
}

// Run executes one load test end to end and returns its outcome. A non-nil
// error is returned only when no run could be attempted at all (invalid
// plan or distribution); once workers launch, failures are reported inside
// the outcome instead.
func (o *Orchestrator) Run(ctx context.Context, in plan.Input) (*types.RunOutcome, error) {
	runPlan, err := plan.Compile(in)
	if err != nil {
		return nil, err
	}

	assignments, err := distribute.Distribute(runPlan.TotalVUs, runPlan.PerWorkerVUs)
	if err != nil {
		return nil, err
	}

	logger := log.WithRunID(runPlan.RunID)
	logger.Info().
		Str("target", runPlan.TargetURL).
		Str("kind", string(runPlan.TestKind)).
		Int("total_vus", runPlan.TotalVUs).
		Int("workers", len(assignments)).
		Str("duration", runPlan.DurationSpec).
		Msg("starting run")

	hardDeadline := runPlan.Duration * 4
	if hardDeadline < minHardDeadline {
		hardDeadline = minHardDeadline
	}
	runCtx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	outcome := &types.RunOutcome{
		RunID:     runPlan.RunID,
		StartedAt: time.Now().UTC(),
	}

	mgr := manager.New(o.provider, o.store, o.managerCfg)

	// Terminal events are logged in arrival order, which can differ from the
	// index order of the final handle table
	events := make(chan types.WorkerHandle, len(assignments))
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for h := range events {
			logger.Info().
				Int("worker_index", h.WorkerIndex).
				Str("state", string(h.State)).
				Msg("worker terminal")
		}
	}()

	handles, err := mgr.Run(runCtx, runPlan, assignments, events)
	close(events)
	<-drained
	if err != nil {
		// Run only fails wholesale, individual workers never surface here
		outcome.Status = types.RunStatusFailed
		outcome.OrchestratorError = err.Error()
		outcome.EndedAt = time.Now().UTC()
		o.record(outcome)
		return outcome, nil
	}
	outcome.WorkerStates = handles

	// Hard-deadline expiry counts as cancellation
	cancelled := runCtx.Err() != nil
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		logger.Error().Dur("deadline", hardDeadline).Msg("run exceeded hard deadline")
		outcome.OrchestratorError = fmt.Errorf("%w: run exceeded %s", types.ErrDeadlineExceeded, hardDeadline).Error()
	}
	successful := 0
	for _, h := range handles {
		if h.State == types.WorkerStateSucceeded {
			successful++
		}
	}

	// Aggregation still runs after cancellation so partial data is reported;
	// it gets a fresh bounded context because runCtx is already done then.
	aggCtx := runCtx
	if runCtx.Err() != nil {
		var aggCancel context.CancelFunc
		aggCtx, aggCancel = context.WithTimeout(context.Background(), 2*time.Minute)
		defer aggCancel()
	}

	agg := aggregate.New(o.store)
	summary, manifest, err := agg.Aggregate(aggCtx, runPlan, handles)
	if err != nil {
		logger.Error().Err(err).Msg("aggregation failed")
		outcome.Status = classify(cancelled, successful, len(handles))
		outcome.OrchestratorError = err.Error()
		outcome.EndedAt = time.Now().UTC()
		o.finishMetrics(outcome)
		o.record(outcome)
		return outcome, nil
	}
	outcome.Manifest = manifest
	outcome.SummaryLocation = types.AggregatedSummaryBlob(runPlan.RunID)

	report := analyze.Analyze(summary, analyze.Context{
		TestKind:          runPlan.TestKind,
		TargetURL:         runPlan.TargetURL,
		DurationSeconds:   runPlan.Duration.Seconds(),
		TotalVUs:          runPlan.TotalVUs,
		Cancelled:         cancelled,
		SuccessfulWorkers: successful,
		WorkerCount:       len(handles),
	})
	outcome.Report = report

	// Publishing is best-effort: the caller still gets the in-memory report
	// when the blob store degrades after the run itself finished.
	if err := agg.Publish(aggCtx, runPlan, summary, manifest); err != nil {
		logger.Error().Err(err).Msg("failed to publish aggregated results")
		outcome.OrchestratorError = fmt.Errorf("%w: %v", types.ErrBlobUnavailable, err).Error()
	} else if err := o.publishReport(aggCtx, runPlan, report); err != nil {
		logger.Error().Err(err).Msg("failed to publish performance report")
		outcome.OrchestratorError = fmt.Errorf("%w: %v", types.ErrBlobUnavailable, err).Error()
	}

	outcome.Status = classify(cancelled, successful, len(handles))
	outcome.EndedAt = time.Now().UTC()

	logger.Info().
		Str("status", string(outcome.Status)).
		Str("grade", report.Grade).
		Int("score", report.Score).
		Int("successful_workers", successful).
		Msg("run complete")

	o.finishMetrics(outcome)
	o.record(outcome)
	return outcome, nil
}

func (o *Orchestrator) publishReport(ctx context.Context, runPlan *types.RunPlan, report *types.PerformanceReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return o.store.Put(ctx, runPlan.BlobNamespace, types.ReportBlob(runPlan.RunID), data)
}

func classify(cancelled bool, successful, total int) types.RunStatus {
	switch {
	case cancelled:
		return types.RunStatusCancelled
	case successful == 0:
		return types.RunStatusFailed
	case successful < total:
		return types.RunStatusDegraded
	default:
		return types.RunStatusOK
	}
}

func (o *Orchestrator) finishMetrics(outcome *types.RunOutcome) {
	metrics.RunsTotal.WithLabelValues(string(outcome.Status)).Inc()
	metrics.RunDuration.Observe(outcome.EndedAt.Sub(outcome.StartedAt).Seconds())
}

// record persists the outcome to run history, best-effort
func (o *Orchestrator) record(outcome *types.RunOutcome) {
	if o.history == nil {
		return
	}
	if err := o.history.Record(outcome); err != nil {
		l := log.WithRunID(outcome.RunID)
		l.Warn().Err(err).Msg("failed to record run history")
	}
}
