package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kessler-dev/runctl/internal/observability"
)

// HealthChecker reports the health of a dependency for GET /healthz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HTTPConfig controls public HTTP handling.
type HTTPConfig struct {
	MaxBodyBytes int64
	Database     HealthChecker
}

// NewHTTPHandler wires the Admission Service's public endpoints.
func NewHTTPHandler(service *Service, logger *slog.Logger, config HTTPConfig) http.Handler {
	if logger == nil {
		logger = observability.NewLogger("admission.http", "INFO")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handleHealthz(w, r, config)
	})

	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handleCreateRun(w, r, service, logger, config.MaxBodyBytes)
	})

	mux.HandleFunc("/runs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, isResult, ok := parseRunPath(r.URL.Path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if isResult {
			handleGetResult(w, r, service, id)
			return
		}
		handleGetRun(w, r, service, id)
	})

	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request, config HTTPConfig) {
	status := map[string]string{"status": "ok"}
	degraded := false

	if config.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := config.Database.Ping(ctx); err != nil {
			status["database"] = "error"
			degraded = true
		} else {
			status["database"] = "ok"
		}
	}
	status["queue"] = "unknown" // best-effort hint; never actively probed

	if degraded {
		status["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func handleCreateRun(w http.ResponseWriter, r *http.Request, service *Service, logger *slog.Logger, maxBytes int64) {
	body, err := readBody(r, maxBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req CreateRunRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		// Well-formed JSON of the wrong shape is a schema violation (422);
		// anything else is malformed syntax (400).
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) || strings.HasPrefix(err.Error(), "json: unknown field") {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("malformed JSON body"))
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	view, created, err := service.CreateRun(r.Context(), req, idempotencyKey)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
}

func handleGetRun(w http.ResponseWriter, r *http.Request, service *Service, id string) {
	view, err := service.GetRun(r.Context(), id)
	if err != nil {
		writeServiceError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func handleGetResult(w http.ResponseWriter, r *http.Request, service *Service, id string) {
	result, status, err := service.GetResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": status})
			return
		}
		writeServiceError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrStateConflict):
		writeError(w, http.StatusConflict, err)
	default:
		if logger != nil {
			logger.Error("admission request failed", "event", "admission_error", "error", err)
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}

// parseRunPath parses "/runs/{id}" and "/runs/{id}/result".
func parseRunPath(path string) (id string, isResult bool, ok bool) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/runs/"), "/")
	if trimmed == "" {
		return "", false, false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		return parts[0], false, true
	case 2:
		if parts[1] != "result" {
			return "", false, false
		}
		return parts[0], true, true
	default:
		return "", false, false
	}
}

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	limit := maxBytes + 1
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, errors.New("payload too large")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
