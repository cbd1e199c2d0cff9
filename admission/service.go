// Package admission implements the Admission Service: the HTTP-facing
// operation that turns a possibly-duplicate client request into at most
// one durable run, handling explicit idempotency-key dedup, implicit
// payload-hash dedup, transactional creation, and best-effort dispatch.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kessler-dev/runctl/internal/canonicalize"
	"github.com/kessler-dev/runctl/internal/modelrunner"
	"github.com/kessler-dev/runctl/internal/observability"
	"github.com/kessler-dev/runctl/store"
)

// defaultModelType is assigned to a run whose request never named one.
// There is no model factory: the worker has exactly one runner today, and
// model_type exists so a registry can grow behind it later.
const defaultModelType = "mock"

// Enqueuer is the Queue Adapter's write side, as seen by the Admission
// Service. It is a hint, never authoritative: enqueue failures here are
// logged, not surfaced to the client.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID string) error
}

// noopEnqueuer is used when no queue is configured (tests, or a
// poll-only deployment).
type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(context.Context, string) error { return nil }

// Service implements POST /runs, GET /runs/{id}, and GET /runs/{id}/result.
type Service struct {
	store   *store.Store
	queue   Enqueuer
	runners *modelrunner.Registry
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService constructs an Admission Service with sensible defaults for
// optional collaborators.
func NewService(st *store.Store, queue Enqueuer, runners *modelrunner.Registry, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if queue == nil {
		queue = noopEnqueuer{}
	}
	if logger == nil {
		logger = observability.NewLogger("admission", "INFO")
	}
	return &Service{store: st, queue: queue, runners: runners, logger: logger, metrics: metrics}
}

// CreateRun implements the full POST /runs algorithm. created reports
// whether this call produced a brand-new row (201) versus returning an
// existing one (200).
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest, idempotencyKey string) (RunView, bool, error) {
	if req.Parameters == nil {
		return RunView{}, false, fmt.Errorf("%w: parameters is required", ErrValidation)
	}
	// model_type is optional; a request that omits it defaults to the mock
	// runner, same as the worker always did before any runner selection
	// existed. A request that names a type explicitly must name a
	// registered one.
	modelType, _ := req.Parameters["model_type"].(string)
	if modelType == "" {
		req.Parameters["model_type"] = defaultModelType
	} else if s.runners != nil && !s.runners.Known(modelType) {
		return RunView{}, false, fmt.Errorf("%w: unknown model_type %q", ErrValidation, modelType)
	}

	canon, err := canonicalize.Parameters(req.Parameters)
	if err != nil {
		return RunView{}, false, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	if idempotencyKey != "" {
		if runID, found, err := s.store.FindByIdempotencyKey(ctx, idempotencyKey); err != nil {
			return RunView{}, false, err
		} else if found {
			run, err := s.store.Get(ctx, runID)
			if err != nil {
				return RunView{}, false, err
			}
			s.metrics.IncAdmission("idempotency_key_hit")
			return toView(run), false, nil
		}
	}

	if active, found, err := s.store.FindActiveByHash(ctx, canon.Hash); err != nil {
		return RunView{}, false, err
	} else if found {
		s.metrics.IncAdmission("implicit_dedup_hit")
		return toView(active), false, nil
	}

	runID := uuid.NewString()

	var run store.Run
	created := true
	if idempotencyKey != "" {
		run, created, err = s.store.InsertRunWithIdempotencyKey(ctx, runID, canon.Canonical, canon.Hash, idempotencyKey)
	} else {
		run, err = s.store.InsertRun(ctx, runID, canon.Canonical, canon.Hash)
	}
	if err != nil {
		return RunView{}, false, err
	}

	if created {
		s.metrics.IncAdmission("created")
		s.metrics.IncRun(string(run.Status))
		if err := s.queue.Enqueue(ctx, run.ID); err != nil {
			observability.WithRun(s.logger, run.ID).Warn("enqueue hint failed; run will be picked up by poll fallback",
				"event", "enqueue_failed", "error", err)
		}
	} else {
		s.metrics.IncAdmission("idempotency_key_race_resolved")
	}

	return toView(run), created, nil
}

// GetRun implements GET /runs/{id}.
func (s *Service) GetRun(ctx context.Context, id string) (RunView, error) {
	run, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RunView{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return RunView{}, err
	}
	return toView(run), nil
}

// GetResult implements GET /runs/{id}/result.
func (s *Service) GetResult(ctx context.Context, id string) (ResultView, string, error) {
	run, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ResultView{}, "", fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return ResultView{}, "", err
	}
	if run.Status != store.StatusSucceeded {
		return ResultView{}, string(run.Status), fmt.Errorf("%w: run %s is %s", ErrStateConflict, id, run.Status)
	}
	ref := ""
	if run.ResultRef != nil {
		ref = *run.ResultRef
	}
	return ResultView{RunID: run.ID, ResultReference: ref}, string(run.Status), nil
}

func toView(run store.Run) RunView {
	// Stored parameters are already canonical JSON; decoding errors here
	// would mean the store holds a row this process never wrote.
	params, _ := canonicalize.DecodePreservingNumbers(run.Parameters)
	return RunView{
		ID:           run.ID,
		Status:       string(run.Status),
		CreatedAt:    run.CreatedAt,
		Parameters:   params,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		AttemptCount: run.AttemptCount,
	}
}
