package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kessler-dev/runctl/internal/modelrunner"
	"github.com/kessler-dev/runctl/internal/observability"
	"github.com/kessler-dev/runctl/internal/queue"
	"github.com/kessler-dev/runctl/store"
)

// blockingRunner simulates a model runner that never returns on its own,
// only in response to context cancellation.
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// onceScanner hands out a single candidate, then reports none available.
type onceScanner struct {
	runID string
	taken atomic.Bool
}

func (s *onceScanner) ScanCandidate(ctx context.Context, now time.Time) (string, error) {
	if s.taken.CompareAndSwap(false, true) {
		return s.runID, nil
	}
	return "", store.ErrNoCandidates
}

func TestLoopKillsHungRunOnJobTimeoutAndLeavesLeaseForReclamation(t *testing.T) {
	ls := &fakeLeaseStore{run: newRun("run-1", "mock"), acquireAllowed: true}
	runners := modelrunner.NewRegistry(map[string]modelrunner.Runner{"mock": blockingRunner{}})
	sink := &fakeSink{}
	logger := observability.NewLogger("test", "INFO")
	metrics := observability.NewMetrics(nil)

	exec := NewExecutor(ls, runners, sink, Config{LeaseTTL: time.Minute, HeartbeatInterval: time.Millisecond}, logger, metrics)

	// No GroupID means the queue adapter's reader is nil, so Consume
	// always reports ErrEmpty and the loop falls back to the scanner --
	// no broker connection is needed for this test.
	q := queue.New(queue.Config{})
	scanner := &onceScanner{runID: "run-1"}

	loop := NewLoop(q, scanner, exec, LoopConfig{
		ConsumeTimeout:     5 * time.Millisecond,
		LeaseSweepInterval: time.Hour,
		JobTimeout:         15 * time.Millisecond,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.After(250 * time.Millisecond)
	for {
		ls.mu.Lock()
		renewed := ls.renewed
		finalized := ls.finalizedOK
		ls.mu.Unlock()
		if renewed > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the lease to be acquired and heartbeat to start")
		case <-time.After(time.Millisecond):
		}
		_ = finalized
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("loop.Run: %v", err)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.finalizedOK != "" {
		t.Fatalf("finalizedOK = %q, want the run left unfinalized so its lease can be reclaimed", ls.finalizedOK)
	}
}
