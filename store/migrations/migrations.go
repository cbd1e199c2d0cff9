// Package migrations embeds the run-store schema as a sequence of
// checksummed SQL scripts, applied in order by store.ApplyMigrations.
package migrations

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
)

//go:embed 0001_initial.sql
var scripts embed.FS

// Migration is one SQL script applied against the run store, plus the
// checksum of its contents at embed time. The checksum lets
// ApplyMigrations detect drift: a migration ID whose recorded checksum no
// longer matches the embedded script means the schema was hand-edited
// after deploy, which would silently corrupt lease and dedup semantics.
type Migration struct {
	ID       string
	Script   string
	Checksum string
}

// All lists the runs/idempotency_keys schema migrations in application
// order.
var All = mustLoad([]string{"0001_initial.sql"})

func mustLoad(files []string) []Migration {
	out := make([]Migration, 0, len(files))
	for _, name := range files {
		raw, err := scripts.ReadFile(name)
		if err != nil {
			panic("migrations: embedded script missing: " + name)
		}
		sum := sha256.Sum256(raw)
		out = append(out, Migration{
			ID:       name[:len(name)-len(".sql")],
			Script:   string(raw),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	return out
}
