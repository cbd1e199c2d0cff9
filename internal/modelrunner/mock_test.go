package modelrunner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMockRunnerProducesPlausibleResult(t *testing.T) {
	runner := MockRunner{}
	ctx := context.Background()

	result, err := runner.Run(ctx, map[string]any{
		"model_type":       "mock",
		"duration_seconds": json.Number("0"),
		"fail_probability": json.Number("0"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	accuracy, ok := result["accuracy"].(float64)
	if !ok || accuracy < 0.8 || accuracy > 1.0 {
		t.Fatalf("accuracy = %v, want a float64 in [0.8, 1.0]", result["accuracy"])
	}
	processed, ok := result["processed_items"].(int)
	if !ok || processed < 100 || processed >= 1000 {
		t.Fatalf("processed_items = %v, want an int in [100, 1000)", result["processed_items"])
	}
}

func TestMockRunnerAlwaysFailsAtFullProbability(t *testing.T) {
	runner := MockRunner{}
	ctx := context.Background()

	_, err := runner.Run(ctx, map[string]any{
		"duration_seconds": json.Number("0"),
		"fail_probability": json.Number("1"),
	})
	if !errors.Is(err, ErrSimulatedFailure) {
		t.Fatalf("expected ErrSimulatedFailure, got %v", err)
	}
}

func TestMockRunnerRespectsContextCancellation(t *testing.T) {
	runner := MockRunner{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, map[string]any{
		"duration_seconds": json.Number("5"),
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestParamFloatHandlesJSONNumber(t *testing.T) {
	params := map[string]any{"duration_seconds": json.Number("3.5")}
	if got := paramFloat(params, "duration_seconds", 0); got != 3.5 {
		t.Fatalf("paramFloat = %v, want 3.5", got)
	}
	if got := paramFloat(params, "missing", 7); got != 7 {
		t.Fatalf("paramFloat fallback = %v, want 7", got)
	}
}
