package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertRun creates a run with status PENDING, attempt_count 0, and
// created_at set by the store's clock.
func (s *Store) InsertRun(ctx context.Context, id string, parameters []byte, payloadHash string) (Run, error) {
	run := Run{
		ID:          id,
		Parameters:  parameters,
		PayloadHash: payloadHash,
		Status:      StatusPending,
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO runs (id, parameters, payload_hash, status, attempt_count)
VALUES ($1, $2, $3, $4, 0)
RETURNING created_at, attempt_count
`, run.ID, run.Parameters, run.PayloadHash, run.Status).Scan(&run.CreatedAt, &run.AttemptCount)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// Get returns a single run by id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, runColumns+`FROM runs WHERE id = $1`, id), id)
}

// FindActiveByHash returns the earliest-created active run (PENDING or
// RUNNING) matching the payload hash, if any.
func (s *Store) FindActiveByHash(ctx context.Context, payloadHash string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, runColumns+`
FROM runs
WHERE payload_hash = $1 AND status IN ('PENDING', 'RUNNING')
ORDER BY created_at ASC
LIMIT 1
`, payloadHash)

	run, err := s.scanRun(row, "")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return run, true, nil
}

// BindIdempotencyKey inserts the key -> run_id mapping. Returns
// ErrDuplicateIdempotencyKey if a concurrent request bound the key first.
func (s *Store) BindIdempotencyKey(ctx context.Context, key, runID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO idempotency_keys (key, run_id) VALUES ($1, $2)
`, key, runID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

// FindByIdempotencyKey returns the run id bound to key, if any.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM idempotency_keys WHERE key = $1`, key).Scan(&runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return runID, true, nil
}

// InsertRunWithIdempotencyKey creates a run and binds an idempotency key to
// it in one transaction. If the key is already bound by a concurrent
// request, the new run is rolled back and the winner's run id is returned
// instead, with created=false.
func (s *Store) InsertRunWithIdempotencyKey(ctx context.Context, id string, parameters []byte, payloadHash, key string) (Run, bool, error) {
	var run Run
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		run = Run{ID: id, Parameters: parameters, PayloadHash: payloadHash, Status: StatusPending}
		if err := tx.QueryRowContext(ctx, `
INSERT INTO runs (id, parameters, payload_hash, status, attempt_count)
VALUES ($1, $2, $3, $4, 0)
RETURNING created_at, attempt_count
`, run.ID, run.Parameters, run.PayloadHash, run.Status).Scan(&run.CreatedAt, &run.AttemptCount); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO idempotency_keys (key, run_id) VALUES ($1, $2)
`, key, run.ID); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateIdempotencyKey
			}
			return err
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			winnerID, found, lookupErr := s.FindByIdempotencyKey(ctx, key)
			if lookupErr != nil {
				return Run{}, false, lookupErr
			}
			if !found {
				return Run{}, false, fmt.Errorf("%w: idempotency key %s vanished after conflict", ErrNotFound, key)
			}
			winner, getErr := s.Get(ctx, winnerID)
			if getErr != nil {
				return Run{}, false, getErr
			}
			return winner, false, nil
		}
		return Run{}, false, err
	}

	return run, true, nil
}

const runColumns = `
SELECT id, parameters, payload_hash, status, created_at, started_at, finished_at,
       attempt_count, lease_owner, lease_expires_at, result_ref, last_error
`

func (s *Store) scanRun(row *sql.Row, id string) (Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.Parameters, &run.PayloadHash, &run.Status, &run.CreatedAt,
		&run.StartedAt, &run.FinishedAt, &run.AttemptCount,
		&run.LeaseOwner, &run.LeaseExpiresAt, &run.ResultRef, &run.LastError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if id != "" {
				return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
			}
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}
