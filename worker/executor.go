// Package worker implements the Worker Executor and its paired Heartbeat:
// dequeue a run id, acquire a lease via a conditional update against the
// Run Store, run the model, store the result reference, and finalize.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kessler-dev/runctl/internal/canonicalize"
	"github.com/kessler-dev/runctl/internal/modelrunner"
	"github.com/kessler-dev/runctl/internal/observability"
	"github.com/kessler-dev/runctl/internal/resultsink"
	"github.com/kessler-dev/runctl/store"
)

// LeaseStore is the subset of the Run Store the Executor drives directly.
type LeaseStore interface {
	LeaseRenewer
	Get(ctx context.Context, id string) (store.Run, error)
	TryAcquireLease(ctx context.Context, id, workerID string, now time.Time, ttl time.Duration) (store.Run, bool, error)
	FinalizeSuccess(ctx context.Context, id, workerID, resultRef string, now time.Time) (bool, error)
	FinalizeFailure(ctx context.Context, id, workerID, lastError string, now time.Time) (bool, error)
	FinalizeFailureUnconditional(ctx context.Context, id, lastError string, now time.Time) error
}

// Config controls lease timing and attempt budget. HeartbeatInterval must
// be < LeaseTTL/2. MaxAttempts <= 0 means unlimited attempts.
type Config struct {
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
}

// Executor runs one model computation per Execute call, under an
// exclusive lease.
type Executor struct {
	store   LeaseStore
	runners *modelrunner.Registry
	sink    resultsink.Sink
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewExecutor(st LeaseStore, runners *modelrunner.Registry, sink resultsink.Sink, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 60 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger("worker", "INFO")
	}
	return &Executor{store: st, runners: runners, sink: sink, cfg: cfg, logger: logger, metrics: metrics}
}

// Execute is the entry point invoked by the queue consumer (or the polling
// fallback) for a single run id.
func (e *Executor) Execute(ctx context.Context, runID string) error {
	workerID := newWorkerID()
	logger := observability.WithRun(observability.WithLeaseOwner(e.logger, workerID), runID)

	if e.cfg.MaxAttempts > 0 {
		exhausted, err := e.checkAttemptsExhausted(ctx, runID)
		if err != nil {
			return fmt.Errorf("check attempts: %w", err)
		}
		if exhausted {
			logger.Warn("attempts exhausted", "event", "attempts_exhausted")
			return nil
		}
	}

	now := time.Now().UTC()
	run, acquired, err := e.store.TryAcquireLease(ctx, runID, workerID, now, e.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		// Another worker owns the run, or it is already terminal. Quiet
		// return per the documented lease protocol.
		e.metrics.IncLease("not_acquired")
		return nil
	}
	e.metrics.IncLease("acquired")
	logger.Info("lease acquired", "event", "lease_acquired", "attempt_count", run.AttemptCount)

	hb := startHeartbeat(e.store, runID, workerID, e.cfg.HeartbeatInterval, e.cfg.LeaseTTL, logger)
	defer hb.Stop()

	started := time.Now()
	resultRef, runErr := e.runModel(ctx, run)
	duration := time.Since(started).Seconds()

	if runErr != nil {
		if ctx.Err() != nil {
			// The caller's deadline (job_timeout) or cancellation fired
			// mid-run. A finalize attempt on this context would just fail
			// immediately, so skip it: the lease is left to expire and the
			// sweep reclaims the run rather than this worker marking it
			// failed on a dead context.
			hb.Stop()
			logger.Warn("execution aborted before finalize; lease left for reclamation",
				"event", "execute_aborted", "reason", ctx.Err())
			return ctx.Err()
		}
		e.finalizeFailure(ctx, logger, runID, workerID, runErr, duration)
		return nil
	}
	e.finalizeSuccess(ctx, logger, runID, workerID, resultRef, duration)
	return nil
}

// checkAttemptsExhausted terminates a run whose attempt_count has already
// reached the configured budget, rather than acquiring yet another lease.
// The check is advisory: a concurrent acquisition can still race it, which
// is harmless since the conditional finalize operations remain authoritative.
func (e *Executor) checkAttemptsExhausted(ctx context.Context, runID string) (bool, error) {
	run, err := e.store.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if run.Status.Terminal() {
		return false, nil
	}
	if run.AttemptCount < e.cfg.MaxAttempts {
		return false, nil
	}
	if err := e.store.FinalizeFailureUnconditional(ctx, runID, "attempts exhausted", time.Now().UTC()); err != nil {
		return false, err
	}
	e.metrics.IncRun(string(store.StatusFailed))
	return true, nil
}

func (e *Executor) runModel(ctx context.Context, run store.Run) (string, error) {
	parametersValue, err := canonicalize.DecodePreservingNumbers(run.Parameters)
	if err != nil {
		return "", fmt.Errorf("decode parameters: %w", err)
	}
	parameters, ok := parametersValue.(map[string]any)
	if !ok {
		return "", errors.New("parameters is not an object")
	}

	modelType, _ := parameters["model_type"].(string)
	runner, err := e.runners.Lookup(modelType)
	if err != nil {
		return "", err
	}

	result, err := runner.Run(ctx, parameters)
	if err != nil {
		return "", fmt.Errorf("model runner: %w", err)
	}

	resultRef, err := e.sink.Put(ctx, run.ID, result)
	if err != nil {
		return "", fmt.Errorf("result sink: %w", err)
	}
	return resultRef, nil
}

func (e *Executor) finalizeSuccess(ctx context.Context, logger *slog.Logger, runID, workerID, resultRef string, duration float64) {
	ok, err := e.store.FinalizeSuccess(ctx, runID, workerID, resultRef, time.Now().UTC())
	if err != nil {
		logger.Error("finalize success failed", "event", "finalize_error", "error", err)
		return
	}
	if !ok {
		// Lease was lost between the model call and finalization; never
		// overwrite whatever the next owner has done.
		logger.Warn("finalize skipped: lease no longer held", "event", "finalize_skipped")
		return
	}
	e.metrics.IncRun(string(store.StatusSucceeded))
	e.metrics.ObserveRunDuration(string(store.StatusSucceeded), duration)
	logger.Info("run succeeded", "event", "run_succeeded")
}

func (e *Executor) finalizeFailure(ctx context.Context, logger *slog.Logger, runID, workerID string, runErr error, duration float64) {
	e.metrics.IncFailure(failureKind(runErr))
	ok, err := e.store.FinalizeFailure(ctx, runID, workerID, runErr.Error(), time.Now().UTC())
	if err != nil {
		logger.Error("finalize failure failed", "event", "finalize_error", "error", err)
		return
	}
	if !ok {
		// Do not retry unconditionally: leave the row for the next lease
		// holder once this lease expires naturally.
		logger.Warn("finalize skipped: lease no longer held", "event", "finalize_skipped")
		return
	}
	e.metrics.IncRun(string(store.StatusFailed))
	e.metrics.ObserveRunDuration(string(store.StatusFailed), duration)
	logger.Warn("run failed", "event", "run_failed", "error", runErr)
}

func failureKind(err error) string {
	if errors.Is(err, modelrunner.ErrSimulatedFailure) {
		return "model_runner_simulated"
	}
	return "model_runner"
}
