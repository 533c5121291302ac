package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"golang.org/x/sync/semaphore"

	"github.com/surgeworks/stampede/pkg/blob"
	"github.com/surgeworks/stampede/pkg/log"
	"github.com/surgeworks/stampede/pkg/metrics"
	"github.com/surgeworks/stampede/pkg/provider"
	"github.com/surgeworks/stampede/pkg/types"
)

// Config holds the manager's timeouts and concurrency limits
type Config struct {
	ProvisionTimeout  time.Duration // provisioning -> failed_to_start after this
	CompletionTimeout time.Duration // running -> failed after this; 0 derives duration*3 + 10m
	TeardownGrace     time.Duration // how long cancellation waits for deletes to be accepted
	CallTimeout       time.Duration // inner timeout on every provider/blob call
	CreateConcurrency int64         // simultaneous in-flight Create calls
	PollInitial       time.Duration // status poll backoff start
	PollMax           time.Duration // status poll backoff cap
	RetryDelay        time.Duration // first retry delay for create/delete (doubles each retry)
	RetryAttempts     uint          // total attempts per create/delete (1 initial + retries)
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ProvisionTimeout:  5 * time.Minute,
		TeardownGrace:     60 * time.Second,
		CallTimeout:       30 * time.Second,
		CreateConcurrency: 32,
		PollInitial:       5 * time.Second,
		PollMax:           30 * time.Second,
		RetryDelay:        2 * time.Second,
		RetryAttempts:     4,
	}
}

// Manager drives every worker assignment through the lifecycle state
// machine: pending -> provisioning -> running -> terminal. It exclusively
// owns the worker handle table.
type Manager struct {
	provider provider.Provider
	store    blob.Store
	cfg      Config

	mu      sync.Mutex
	handles map[int]*types.WorkerHandle
}

// New creates a Manager
func New(p provider.Provider, store blob.Store, cfg Config) *Manager {
	return &Manager{
		provider: p,
		store:    store,
		cfg:      cfg,
		handles:  make(map[int]*types.WorkerHandle),
	}
}

// Run provisions one container group per assignment and drives each to a
// terminal state. It returns once every worker is terminal; the returned
// handles are sorted by worker index. Terminal events are additionally sent
// to events in arrival order when it is non-nil; the channel must have
// capacity for every assignment.
//
// Every container group created here is deleted before Run returns,
// best-effort, regardless of how the run ends.
func (m *Manager) Run(ctx context.Context, plan *types.RunPlan, assignments []types.WorkerAssignment, events chan<- types.WorkerHandle) ([]types.WorkerHandle, error) {
	logger := log.WithRunID(plan.RunID)
	logger.Info().Int("workers", len(assignments)).Msg("provisioning worker fleet")

	completionTimeout := m.cfg.CompletionTimeout
	if completionTimeout == 0 {
		completionTimeout = plan.Duration*3 + 10*time.Minute
	}

	sem := semaphore.NewWeighted(m.cfg.CreateConcurrency)

	var wg sync.WaitGroup
	for _, a := range assignments {
		m.mu.Lock()
		m.handles[a.WorkerIndex] = &types.WorkerHandle{
			WorkerIndex: a.WorkerIndex,
			State:       types.WorkerStatePending,
			CreatedAt:   time.Now().UTC(),
		}
		m.mu.Unlock()

		wg.Add(1)
		go func(a types.WorkerAssignment) {
			defer wg.Done()
			m.runWorker(ctx, plan, a, sem, completionTimeout, events)
		}(a)
	}
	wg.Wait()

	m.mu.Lock()
	out := make([]types.WorkerHandle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, *h)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerIndex < out[j].WorkerIndex })

	succeeded := 0
	for _, h := range out {
		if h.State == types.WorkerStateSucceeded {
			succeeded++
		}
	}
	logger.Info().Int("succeeded", succeeded).Int("workers", len(out)).Msg("all workers terminal")
	return out, nil
}

// runWorker drives a single worker to a terminal state
func (m *Manager) runWorker(ctx context.Context, plan *types.RunPlan, a types.WorkerAssignment, sem *semaphore.Weighted, completionTimeout time.Duration, events chan<- types.WorkerHandle) {
	logger := log.WithWorker(plan.RunID, a.WorkerIndex)

	if err := sem.Acquire(ctx, 1); err != nil {
		m.finish(a.WorkerIndex, types.WorkerStateCancelled, nil, "cancelled before create", events)
		return
	}
	providerID, err := m.createWorker(ctx, plan, a)
	sem.Release(1)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.finish(a.WorkerIndex, types.WorkerStateCancelled, nil, "cancelled during create", events)
			return
		}
		logger.Error().Err(err).Msg("failed to create worker")
		m.finish(a.WorkerIndex, types.WorkerStateFailedToStart, nil, err.Error(), events)
		return
	}

	m.setState(a.WorkerIndex, types.WorkerStateProvisioning, providerID)
	metrics.WorkersProvisioned.Inc()
	provisionStart := time.Now()

	// The group is always torn down, whatever happens from here on
	defer m.deleteWorker(ctx, plan.RunID, a.WorkerIndex, providerID)

	status, err := m.waitRunning(ctx, providerID)
	if err != nil {
		if ctx.Err() != nil {
			m.finish(a.WorkerIndex, types.WorkerStateCancelled, nil, "cancelled while provisioning", events)
			return
		}
		logger.Error().Err(err).Msg("worker never reached running")
		m.captureLogs(plan, a.WorkerIndex, providerID)
		m.finish(a.WorkerIndex, types.WorkerStateFailedToStart, nil, err.Error(), events)
		return
	}
	metrics.ProvisionLatency.Observe(time.Since(provisionStart).Seconds())

	if status.State == provider.StateRunning {
		m.setState(a.WorkerIndex, types.WorkerStateRunning, providerID)
		logger.Info().Int("vus", a.VUsForWorker).Msg("worker running")
	}
	// Also covers workers that terminate faster than we can observe running:
	// the first completion poll sees the terminal status and the marker.
	status, err = m.waitCompletion(ctx, plan, a.WorkerIndex, providerID, completionTimeout)

	switch {
	case ctx.Err() != nil:
		m.finish(a.WorkerIndex, types.WorkerStateCancelled, status.ExitCode, "cancelled while running", events)
	case err != nil:
		logger.Error().Err(err).Msg("worker failed")
		m.captureLogs(plan, a.WorkerIndex, providerID)
		m.finish(a.WorkerIndex, types.WorkerStateFailed, status.ExitCode, err.Error(), events)
	case status.ExitCode != nil && *status.ExitCode != 0:
		logger.Error().Int("exit_code", *status.ExitCode).Msg("worker exited non-zero")
		m.captureLogs(plan, a.WorkerIndex, providerID)
		m.finish(a.WorkerIndex, types.WorkerStateFailed, status.ExitCode, fmt.Sprintf("exit code %d", *status.ExitCode), events)
	default:
		m.finish(a.WorkerIndex, types.WorkerStateSucceeded, status.ExitCode, "", events)
	}
}

// createWorker issues the provider Create with retries on throttling
func (m *Manager) createWorker(ctx context.Context, plan *types.RunPlan, a types.WorkerAssignment) (string, error) {
	spec := provider.CreateSpec{
		GroupName: GroupName(plan.RunID, a.WorkerIndex),
		Image:     plan.WorkerImageRef,
		Env:       workerEnv(plan, a),
		CPUCores:  plan.WorkerResources.CPUCores,
		MemoryGiB: plan.WorkerResources.MemoryGiB,
	}

	var providerID string
	err := retry.Do(
		func() error {
			cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
			defer cancel()
			id, err := m.provider.Create(cctx, spec)
			if err != nil {
				return err
			}
			providerID = id
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(m.cfg.RetryAttempts),
		retry.Delay(m.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return provider.IsThrottled(err) || errors.Is(err, types.ErrProviderThrottled) || errors.Is(err, types.ErrProviderUnavailable)
		}),
		retry.OnRetry(func(n uint, err error) {
			metrics.CreateRetries.Inc()
			l := log.WithWorker(plan.RunID, a.WorkerIndex)
			l.Warn().Uint("attempt", n+1).Err(err).Msg("retrying create")
		}),
	)
	if err != nil {
		return "", err
	}
	return providerID, nil
}

// waitRunning polls until the provider reports the group running (or already
// terminated, for workers that finish faster than we can observe them)
func (m *Manager) waitRunning(ctx context.Context, providerID string) (provider.Status, error) {
	deadline := time.Now().Add(m.cfg.ProvisionTimeout)
	backoff := m.cfg.PollInitial

	for {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		status, err := m.provider.Status(cctx, providerID)
		cancel()

		if err == nil {
			switch status.State {
			case provider.StateRunning, provider.StateTerminated:
				return status, nil
			}
		}

		if time.Now().After(deadline) {
			return provider.Status{State: provider.StateUnknown}, fmt.Errorf("%w: not running after %s", types.ErrWorkerFailedToStart, m.cfg.ProvisionTimeout)
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return provider.Status{State: provider.StateUnknown}, err
		}
		if backoff *= 2; backoff > m.cfg.PollMax {
			backoff = m.cfg.PollMax
		}
	}
}

// waitCompletion watches for the worker's completion marker blob, falling
// back to provider status polling, until the group terminates
func (m *Manager) waitCompletion(ctx context.Context, plan *types.RunPlan, workerIndex int, providerID string, timeout time.Duration) (provider.Status, error) {
	deadline := time.Now().Add(timeout)
	backoff := m.cfg.PollInitial
	marker := types.CompletionBlob(plan.RunID, workerIndex)
	markerSeen := false

	for {
		if !markerSeen {
			cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
			ok, err := m.store.Exists(cctx, plan.BlobNamespace, marker)
			cancel()
			if err == nil && ok {
				markerSeen = true
			}
		}

		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		status, err := m.provider.Status(cctx, providerID)
		cancel()

		if err == nil && status.State == provider.StateTerminated {
			if status.ExitCode != nil && *status.ExitCode != 0 {
				return status, nil
			}
			if markerSeen {
				return status, nil
			}
			// Terminated cleanly but the marker has not landed yet; give the
			// blob one more propagation window before declaring success void
			cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
			ok, exErr := m.store.Exists(cctx, plan.BlobNamespace, marker)
			cancel()
			if exErr == nil && ok {
				return status, nil
			}
			return status, fmt.Errorf("%w: terminated without completion marker", types.ErrWorkerFailed)
		}

		if time.Now().After(deadline) {
			return provider.Status{State: provider.StateUnknown}, fmt.Errorf("%w: no completion after %s", types.ErrWorkerFailed, timeout)
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return provider.Status{State: provider.StateUnknown}, err
		}
		if backoff *= 2; backoff > m.cfg.PollMax {
			backoff = m.cfg.PollMax
		}
	}
}

// deleteWorker tears down the container group with bounded retries. It runs
// on a fresh context so cleanup survives run cancellation; failures are
// logged and never change the run outcome.
func (m *Manager) deleteWorker(ctx context.Context, runID string, workerIndex int, providerID string) {
	dctx := context.Background()
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, m.cfg.TeardownGrace)
		defer cancel()
	}

	err := retry.Do(
		func() error {
			cctx, cancel := context.WithTimeout(dctx, m.cfg.CallTimeout)
			defer cancel()
			return m.provider.Delete(cctx, providerID)
		},
		retry.Context(dctx),
		retry.Attempts(m.cfg.RetryAttempts),
		retry.Delay(m.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		l := log.WithWorker(runID, workerIndex)
		l.Error().Err(err).Str("provider_id", providerID).Msg("failed to delete container group")
	}
}

// captureLogs best-effort uploads provider logs for a misbehaving worker
func (m *Manager) captureLogs(plan *types.RunPlan, workerIndex int, providerID string) {
	cctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()

	data, err := m.provider.Logs(cctx, providerID)
	if err != nil || len(data) == 0 {
		return
	}
	name := types.WorkerLogBlob(plan.RunID, workerIndex)
	if err := m.store.Put(cctx, plan.BlobNamespace, name, data); err != nil {
		l := log.WithWorker(plan.RunID, workerIndex)
		l.Debug().Err(err).Msg("failed to upload worker logs")
	}
}

func (m *Manager) setState(workerIndex int, state types.WorkerState, providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handles[workerIndex]
	h.State = state
	h.LastObservedAt = time.Now().UTC()
	if providerID != "" {
		h.ProviderID = providerID
	}
}

// finish records a terminal state and emits the terminal event
func (m *Manager) finish(workerIndex int, state types.WorkerState, exitCode *int, message string, events chan<- types.WorkerHandle) {
	m.mu.Lock()
	h := m.handles[workerIndex]
	h.State = state
	h.LastObservedAt = time.Now().UTC()
	h.ExitCode = exitCode
	h.Message = message
	snapshot := *h
	m.mu.Unlock()

	metrics.WorkersTerminal.WithLabelValues(string(state)).Inc()
	if events != nil {
		events <- snapshot
	}
}

// GroupName names the container group for a worker. The run-id prefix lets
// leaked groups be found and reaped by prefix.
func GroupName(runID string, workerIndex int) string {
	return fmt.Sprintf("%s-worker-%d", runID, workerIndex)
}

// workerEnv builds the environment contract every worker is launched with
func workerEnv(plan *types.RunPlan, a types.WorkerAssignment) map[string]string {
	env := map[string]string{
		"WORKER_INDEX":   strconv.Itoa(a.WorkerIndex),
		"WORKER_COUNT":   strconv.Itoa(a.WorkerCount),
		"TOTAL_VUS":      strconv.Itoa(plan.TotalVUs),
		"VUS":            strconv.Itoa(a.VUsForWorker),
		"DURATION":       plan.DurationSpec,
		"RUN_ID":         plan.RunID,
		"TEST_TYPE":      string(plan.TestKind),
		"TARGET_URL":     plan.TargetURL,
		"BLOB_NAMESPACE": plan.BlobNamespace,
		"K6_VUS":         strconv.Itoa(a.VUsForWorker),
		"K6_DURATION":    plan.DurationSpec,
		"K6_OUT":         fmt.Sprintf("json=summary_%d.json", a.WorkerIndex),
	}
	for k, v := range plan.EnvOverrides {
		env[k] = v
	}
	return env
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
