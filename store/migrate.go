package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kessler-dev/runctl/store/migrations"
)

// ErrSchemaDrift is returned when a migration already recorded as applied
// no longer matches the checksum of its embedded script, meaning the run
// store's schema was altered out of band.
var ErrSchemaDrift = fmt.Errorf("store: schema drift detected")

// ApplyMigrations brings the run store's schema up to date. Each migration
// is applied at most once, recorded with the checksum of the script that
// produced it; a later run whose embedded script no longer matches the
// recorded checksum for an already-applied ID fails closed with
// ErrSchemaDrift rather than silently trusting a schema runctl did not
// create.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureSchemaMigrationsTable(ctx, tx); err != nil {
		return err
	}

	applied, err := loadAppliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	for _, migration := range migrations.All {
		recordedChecksum, alreadyApplied := applied[migration.ID]
		if alreadyApplied {
			if recordedChecksum != "" && recordedChecksum != migration.Checksum {
				return fmt.Errorf("%w: migration %s recorded checksum %s, embedded script is %s",
					ErrSchemaDrift, migration.ID, recordedChecksum, migration.Checksum)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, migration.Script); err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (id, checksum, applied_at) VALUES ($1, $2, NOW())`,
			migration.ID, migration.Checksum); err != nil {
			return fmt.Errorf("record migration %s: %w", migration.ID, err)
		}
		slog.Default().Info("run store migration applied", "event", "migration_applied", "migration_id", migration.ID)
	}

	return tx.Commit()
}

func ensureSchemaMigrationsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id         TEXT PRIMARY KEY,
    checksum   TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`)
	if err != nil {
		return err
	}
	// schema_migrations predates the checksum column in earlier deploys;
	// add it defensively so drift detection works after an in-place upgrade.
	_, err = tx.ExecContext(ctx, `ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`)
	return err
}

func loadAppliedMigrations(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, checksum FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var id, checksum string
		if err := rows.Scan(&id, &checksum); err != nil {
			return nil, err
		}
		applied[id] = checksum
	}

	return applied, rows.Err()
}
