package store

import (
	"context"
	"database/sql"
	"time"
)

// TryAcquireLease is the compare-and-swap at the center of at-most-once
// execution. It succeeds iff the row is PENDING, or RUNNING with an
// expired lease, and atomically claims ownership:
//
//	status = RUNNING, lease_owner = workerID, lease_expires_at = now + ttl,
//	started_at = coalesce(started_at, now), attempt_count += 1.
//
// Returns the row's new state and whether the acquisition succeeded; a
// false result means another worker holds the run, or it is already
// terminal — the caller must return quietly, never retry unconditionally.
func (s *Store) TryAcquireLease(ctx context.Context, id, workerID string, now time.Time, ttl time.Duration) (Run, bool, error) {
	var run Run
	acquired := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, runColumns+`FROM runs WHERE id = $1 FOR UPDATE`, id)
		current, err := s.scanRun(row, id)
		if err != nil {
			return err
		}
		run = current

		eligible := current.Status == StatusPending ||
			(current.Status == StatusRunning && current.LeaseExpiresAt != nil && current.LeaseExpiresAt.Before(now))
		if !eligible {
			return nil
		}

		expiresAt := now.Add(ttl)
		startedAt := now
		if current.StartedAt != nil {
			startedAt = *current.StartedAt
		}

		res, err := tx.ExecContext(ctx, `
UPDATE runs
SET status = 'RUNNING',
    lease_owner = $2,
    lease_expires_at = $3,
    started_at = $4,
    attempt_count = attempt_count + 1
WHERE id = $1
  AND (status = 'PENDING' OR (status = 'RUNNING' AND lease_expires_at < $5))
`, id, workerID, expiresAt, startedAt, now)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}

		acquired = true
		run.Status = StatusRunning
		run.LeaseOwner = &workerID
		run.LeaseExpiresAt = &expiresAt
		run.StartedAt = &startedAt
		run.AttemptCount++
		return nil
	})

	return run, acquired, err
}

// TryRenewLease extends the lease of a run the caller still owns. Succeeds
// iff lease_owner = workerID AND status = RUNNING.
func (s *Store) TryRenewLease(ctx context.Context, id, workerID string, now time.Time, ttl time.Duration) (bool, error) {
	expiresAt := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET lease_expires_at = $3
WHERE id = $1 AND lease_owner = $2 AND status = 'RUNNING'
`, id, workerID, expiresAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// FinalizeSuccess conditionally transitions a run to SUCCEEDED. Returns
// false (lease lost) if the caller no longer owns the row; callers must
// not retry unconditionally on false.
func (s *Store) FinalizeSuccess(ctx context.Context, id, workerID, resultRef string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = 'SUCCEEDED', result_ref = $3, finished_at = $4
WHERE id = $1 AND lease_owner = $2 AND status = 'RUNNING'
`, id, workerID, resultRef, now)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// FinalizeFailure conditionally transitions a run to FAILED. See
// FinalizeSuccess for the lease-ownership contract.
func (s *Store) FinalizeFailure(ctx context.Context, id, workerID, lastError string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = 'FAILED', last_error = $3, finished_at = $4
WHERE id = $1 AND lease_owner = $2 AND status = 'RUNNING'
`, id, workerID, lastError, now)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// FinalizeFailureUnconditional force-fails a run regardless of current
// lease ownership. Reserved for paths where there is no lease to verify
// against (the worker's attempts-exhausted check, made before any lease is
// acquired); code that holds a lease must always prefer the conditional form.
func (s *Store) FinalizeFailureUnconditional(ctx context.Context, id, lastError string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = 'FAILED', last_error = $2, finished_at = $3
WHERE id = $1 AND status NOT IN ('SUCCEEDED', 'FAILED', 'CANCELLED')
`, id, lastError, now)
	return err
}
