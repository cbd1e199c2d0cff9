// Package observability provides the structured logging and metrics used
// across the admission service and worker processes.
package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON logger with a component field attached. level is
// one of DEBUG, INFO, WARN, ERROR (case-insensitive); unrecognized values
// fall back to INFO.
func NewLogger(component, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun attaches the run id to a logger.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil || runID == "" {
		return logger
	}
	return logger.With("run_id", runID)
}

// WithLeaseOwner attaches a truncated hash of the lease owner token rather
// than the raw token, so worker identity strings never land in plaintext
// logs.
func WithLeaseOwner(logger *slog.Logger, owner string) *slog.Logger {
	if logger == nil || owner == "" {
		return logger
	}
	return logger.With("lease_owner_hash", hashToken(owner))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
