package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kessler-dev/runctl/internal/queue"
	"github.com/kessler-dev/runctl/store"
)

// PollBackoff bounds how long the dequeue loop waits before retrying after
// a poll finds no candidate or a transient error.
const PollBackoff = 1 * time.Second

// LoopConfig is the scheduling surface of a worker process, sourced from
// internal/config.Config so every duration here is operator-tunable
// without a code change.
type LoopConfig struct {
	// ConsumeTimeout bounds each queue poll before falling back to
	// scanning the Run Store directly (internal/config's
	// VISIBILITY_TIMEOUT_SECONDS: how long the worker waits for a hint
	// before the poll fallback takes over).
	ConsumeTimeout time.Duration
	// LeaseSweepInterval is how often the lease sweep scans for expired
	// or stranded leases independent of the dequeue path.
	LeaseSweepInterval time.Duration
	// JobTimeout is the hard outer deadline placed on a single run
	// execution. A model runner that blocks past it is cancelled via
	// context, leaving its lease to expire and be reclaimed by the sweep
	// rather than held forever. Zero disables the deadline.
	JobTimeout time.Duration
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.ConsumeTimeout <= 0 {
		c.ConsumeTimeout = 2 * time.Second
	}
	if c.LeaseSweepInterval <= 0 {
		c.LeaseSweepInterval = 15 * time.Second
	}
	return c
}

// Scanner finds runs eligible for a lease acquisition attempt when no queue
// hint is available.
type Scanner interface {
	ScanCandidate(ctx context.Context, now time.Time) (string, error)
}

// Loop drives one worker process: a dequeue loop consuming queue hints (with
// a scan-based poll fallback) and a periodic lease sweep that catches runs
// whose queue hint was lost entirely, feeding both into the same Executor.
type Loop struct {
	queue    *queue.Adapter
	scanner  Scanner
	executor *Executor
	logger   *slog.Logger
	cfg      LoopConfig
}

func NewLoop(q *queue.Adapter, scanner Scanner, executor *Executor, cfg LoopConfig, logger *slog.Logger) *Loop {
	return &Loop{queue: q, scanner: scanner, executor: executor, cfg: cfg.withDefaults(), logger: logger}
}

// Run blocks until ctx is cancelled, running the dequeue loop and the lease
// sweep concurrently under one cancellation.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.dequeueLoop(ctx) })
	g.Go(func() error { return l.sweepLoop(ctx) })
	return g.Wait()
}

func (l *Loop) dequeueLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		runID, err := l.queue.Consume(ctx, l.cfg.ConsumeTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				runID, err = l.pollOnce(ctx)
				if err != nil {
					if errors.Is(err, store.ErrNoCandidates) {
						l.sleep(ctx, PollBackoff)
						continue
					}
					l.logger.Error("poll fallback failed", "event", "dequeue_error", "error", err)
					l.sleep(ctx, PollBackoff)
					continue
				}
			} else {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Error("queue consume failed", "event", "dequeue_error", "error", err)
				l.sleep(ctx, PollBackoff)
				continue
			}
		}

		l.execute(ctx, runID)
	}
}

func (l *Loop) pollOnce(ctx context.Context) (string, error) {
	return l.scanner.ScanCandidate(ctx, time.Now().UTC())
}

// sweepLoop periodically scans for stale-leased or stranded runs independent
// of the dequeue path, so a dropped queue hint never permanently strands a
// run whose lease has expired.
func (l *Loop) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.LeaseSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runID, err := l.scanner.ScanCandidate(ctx, time.Now().UTC())
			if err != nil {
				if !errors.Is(err, store.ErrNoCandidates) {
					l.logger.Error("lease sweep failed", "event", "sweep_error", "error", err)
				}
				continue
			}
			l.execute(ctx, runID)
		}
	}
}

// execute runs one job under the configured JobTimeout, if any, so a
// stalled model runner never holds a worker goroutine (and its lease)
// indefinitely.
func (l *Loop) execute(ctx context.Context, runID string) {
	runCtx := ctx
	if l.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.cfg.JobTimeout)
		defer cancel()
	}

	if err := l.executor.Execute(runCtx, runID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			l.logger.Error("execute timed out; lease left to expire for reclamation",
				"event", "execute_timeout", "run_id", runID, "job_timeout", l.cfg.JobTimeout)
			return
		}
		l.logger.Error("execute failed", "event", "execute_error", "run_id", runID, "error", err)
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
