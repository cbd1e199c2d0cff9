// Command apiserver runs the Admission Service and Query/Inspection HTTP
// surface: POST /runs, GET /runs/{id}, GET /runs/{id}/result, plus /healthz
// and /metrics.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kessler-dev/runctl/admission"
	"github.com/kessler-dev/runctl/internal/config"
	"github.com/kessler-dev/runctl/internal/modelrunner"
	"github.com/kessler-dev/runctl/internal/observability"
	"github.com/kessler-dev/runctl/internal/queue"
	"github.com/kessler-dev/runctl/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger("apiserver", cfg.LogLevel)
	metrics := observability.NewMetrics(nil)
	logger.Info("starting", "event", "apiserver_starting", "config", cfg.String())

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

	q := queue.New(queue.Config{Brokers: cfg.QueueBrokers, Topic: cfg.QueueTopic})
	defer q.Close()

	runners := modelrunner.NewRegistry(map[string]modelrunner.Runner{
		"mock": modelrunner.MockRunner{},
	})

	service := admission.NewService(st, q, runners, logger, metrics)
	handler := admission.NewHTTPHandler(service, logger, admission.HTTPConfig{Database: st})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "event", "apiserver_stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
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
