package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNoCandidates signals the scan found nothing eligible for lease
// acquisition.
var ErrNoCandidates = errors.New("store: no candidate runs")

// ScanCandidate returns one run id eligible for a lease acquisition
// attempt: PENDING, or RUNNING with an expired lease. This is the fallback
// path required by the Queue Adapter contract so that a dropped enqueue
// hint can never permanently strand a run. SKIP LOCKED lets many worker
// processes poll the same table concurrently without serializing on each
// other.
func (s *Store) ScanCandidate(ctx context.Context, now time.Time) (string, error) {
	var id string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
SELECT id
FROM runs
WHERE status = 'PENDING' OR (status = 'RUNNING' AND lease_expires_at < $1)
ORDER BY created_at ASC
FOR UPDATE SKIP LOCKED
LIMIT 1
`, now)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoCandidates
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
