// Command worker runs the Worker Executor fleet: one process consumes
// queue hints (falling back to polling the Run Store), acquires a lease per
// run, executes it against the Model Runner registry, and finalizes.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kessler-dev/runctl/internal/config"
	"github.com/kessler-dev/runctl/internal/modelrunner"
	"github.com/kessler-dev/runctl/internal/observability"
	"github.com/kessler-dev/runctl/internal/queue"
	"github.com/kessler-dev/runctl/internal/resultsink"
	"github.com/kessler-dev/runctl/store"
	"github.com/kessler-dev/runctl/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger("worker", cfg.LogLevel)
	metrics := observability.NewMetrics(nil)
	logger.Info("starting", "event", "worker_starting", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.NewStore(db)
	if err := st.ApplyMigrations(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	groupID := fmt.Sprintf("%s-workers", cfg.QueueTopic)
	q := queue.New(queue.Config{Brokers: cfg.QueueBrokers, Topic: cfg.QueueTopic, GroupID: groupID})
	defer q.Close()

	sink, err := resultsink.NewS3Sink(ctx, resultsink.S3Config{
		Bucket: cfg.S3Bucket,
		Prefix: cfg.S3Prefix,
		Region: cfg.S3Region,
	})
	if err != nil {
		return fmt.Errorf("construct result sink: %w", err)
	}

	runners := modelrunner.NewRegistry(map[string]modelrunner.Runner{
		"mock": modelrunner.MockRunner{},
	})

	executor := worker.NewExecutor(st, runners, sink, worker.Config{
		LeaseTTL:          cfg.LeaseTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxAttempts:       cfg.MaxAttempts,
	}, logger, metrics)

	loop := worker.NewLoop(q, st, executor, worker.LoopConfig{
		ConsumeTimeout:     cfg.VisibilityTimeout,
		LeaseSweepInterval: cfg.LeaseSweepInterval,
		JobTimeout:         cfg.JobTimeout,
	}, logger)
	return loop.Run(ctx)
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
