package admission

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kessler-dev/runctl/internal/modelrunner"
	"github.com/kessler-dev/runctl/store"
)

func setupTestStore(t *testing.T, ctx context.Context) *store.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}

	st := store.NewStore(db)
	if err := st.ApplyMigrations(ctx); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	rows, err := db.QueryContext(ctx, `
SELECT tablename FROM pg_tables
WHERE schemaname = 'public' AND tablename <> 'schema_migrations'
`)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table name: %v", err)
		}
		tables = append(tables, name)
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, `TRUNCATE TABLE `+table+` CASCADE`); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}

	return st
}

type recordingEnqueuer struct {
	enqueued []string
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, runID string) error {
	e.enqueued = append(e.enqueued, runID)
	return nil
}

func newTestService(t *testing.T, ctx context.Context) (*Service, *recordingEnqueuer) {
	t.Helper()
	st := setupTestStore(t, ctx)
	runners := modelrunner.NewRegistry(map[string]modelrunner.Runner{"mock": modelrunner.MockRunner{}})
	enqueuer := &recordingEnqueuer{}
	return NewService(st, enqueuer, runners, nil, nil), enqueuer
}

func TestCreateRunIsCreatedOnFirstCall(t *testing.T) {
	ctx := context.Background()
	service, enqueuer := newTestService(t, ctx)

	req := CreateRunRequest{Parameters: map[string]any{"model_type": "mock", "duration_seconds": 0}}
	view, created, err := service.CreateRun(ctx, req, "")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if !created {
		t.Fatal("expected the first call to create a new run")
	}
	if view.Status != string(store.StatusPending) {
		t.Fatalf("status = %s, want PENDING", view.Status)
	}
	if len(enqueuer.enqueued) != 1 || enqueuer.enqueued[0] != view.ID {
		t.Fatalf("expected the run to be enqueued exactly once, got %v", enqueuer.enqueued)
	}
}

func TestCreateRunDefaultsMissingModelType(t *testing.T) {
	ctx := context.Background()
	service, enqueuer := newTestService(t, ctx)

	// Matches the request bodies from the end-to-end scenarios: no
	// model_type at all.
	req := CreateRunRequest{Parameters: map[string]any{"x": 1}}
	view, created, err := service.CreateRun(ctx, req, "")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if !created {
		t.Fatal("expected the first call to create a new run")
	}
	if len(enqueuer.enqueued) != 1 {
		t.Fatalf("expected the run to be enqueued, got %v", enqueuer.enqueued)
	}
	params, ok := view.Parameters.(map[string]any)
	if !ok || params["model_type"] != "mock" {
		t.Fatalf("parameters = %#v, want model_type defaulted to mock", view.Parameters)
	}
}

func TestCreateRunRejectsUnknownModelType(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, ctx)

	req := CreateRunRequest{Parameters: map[string]any{"model_type": "does-not-exist"}}
	_, _, err := service.CreateRun(ctx, req, "")
	if err == nil {
		t.Fatal("expected an error for an unknown model_type")
	}
}

func TestCreateRunDedupesByIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	service, enqueuer := newTestService(t, ctx)

	req := CreateRunRequest{Parameters: map[string]any{"model_type": "mock"}}
	first, created, err := service.CreateRun(ctx, req, "client-key")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Fatal("expected the first call to create a new run")
	}

	second, created, err := service.CreateRun(ctx, req, "client-key")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("expected the second call with the same key to return the existing run")
	}
	if second.ID != first.ID {
		t.Fatalf("second.ID = %s, want %s", second.ID, first.ID)
	}
	if len(enqueuer.enqueued) != 1 {
		t.Fatalf("expected exactly one enqueue across both calls, got %d", len(enqueuer.enqueued))
	}
}

func TestCreateRunDedupesByImplicitPayloadHash(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, ctx)

	req := CreateRunRequest{Parameters: map[string]any{"model_type": "mock", "seed": 42}}
	first, created, err := service.CreateRun(ctx, req, "")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Fatal("expected the first call to create a new run")
	}

	second, created, err := service.CreateRun(ctx, req, "")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("expected the second call with identical parameters to dedupe implicitly")
	}
	if second.ID != first.ID {
		t.Fatalf("second.ID = %s, want %s", second.ID, first.ID)
	}
}

func TestGetResultBeforeCompletionIsConflict(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, ctx)

	req := CreateRunRequest{Parameters: map[string]any{"model_type": "mock"}}
	view, _, err := service.CreateRun(ctx, req, "")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	_, status, err := service.GetResult(ctx, view.ID)
	if err == nil {
		t.Fatal("expected an error for a not-yet-succeeded run")
	}
	if status != string(store.StatusPending) {
		t.Fatalf("status = %s, want PENDING", status)
	}
}

func TestGetRunNotFound(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, ctx)

	_, err := service.GetRun(ctx, "00000000-0000-0000-0000-000000000000")
	if err == nil {
		t.Fatal("expected an error for a missing run")
	}
}
