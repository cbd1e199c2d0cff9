package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LeaseRenewer is the subset of the Run Store the Heartbeat needs.
type LeaseRenewer interface {
	TryRenewLease(ctx context.Context, id, workerID string, now time.Time, ttl time.Duration) (bool, error)
}

// heartbeat is the cooperative task paired with each executing run. Every
// interval (strictly less than ttl/2) it renews the lease; a failed
// renewal marks the lease lost. The executor is not required to
// pre-emptively stop the running model on lease loss — it must only avoid
// treating a subsequent finalize as authoritative, which the conditional
// store operations already guarantee by construction.
type heartbeat struct {
	store    LeaseRenewer
	runID    string
	workerID string
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	lost     atomic.Bool
	stopOnce sync.Once
}

func startHeartbeat(store LeaseRenewer, runID, workerID string, interval, ttl time.Duration, logger *slog.Logger) *heartbeat {
	hb := &heartbeat{
		store:    store,
		runID:    runID,
		workerID: workerID,
		interval: interval,
		ttl:      ttl,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go hb.run()
	return hb
}

func (h *heartbeat) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			renewed, err := h.store.TryRenewLease(context.Background(), h.runID, h.workerID, now, h.ttl)
			if err != nil {
				h.logger.Error("lease renewal failed", "event", "heartbeat_error", "error", err)
				continue
			}
			if !renewed {
				h.lost.Store(true)
				h.logger.Warn("lease lost during heartbeat", "event", "lease_lost")
				return
			}
		}
	}
}

// LeaseLost reports whether a renewal was refused because the lease is no
// longer held. Renewal errors do not set it, and once set it stays set.
func (h *heartbeat) LeaseLost() bool {
	return h.lost.Load()
}

// Stop signals the heartbeat to exit and waits for it to do so.
func (h *heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}
