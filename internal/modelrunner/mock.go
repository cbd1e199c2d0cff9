package modelrunner

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"
)

// ErrSimulatedFailure is raised by MockRunner when its random roll lands
// below fail_probability.
var ErrSimulatedFailure = errors.New("modelrunner: simulated random failure in mock runner")

// MockRunner simulates work by sleeping for duration_seconds and then
// either failing or producing a plausible-looking result. Supported
// parameters:
//
//	duration_seconds (number): seconds to simulate work for. Default 5.
//	fail_probability (number): 0.0-1.0 chance of failing. Default 0.
type MockRunner struct{}

func (MockRunner) Run(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	duration := paramFloat(parameters, "duration_seconds", 5)
	failProb := paramFloat(parameters, "fail_probability", 0)

	select {
	case <-time.After(time.Duration(duration * float64(time.Second))):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if randFloat64() < failProb {
		return nil, ErrSimulatedFailure
	}

	accuracy := roundTo(0.8+randFloat64()*0.2, 4)
	processedItems := 100 + int(randFloat64()*900)

	return map[string]any{
		"accuracy":                   accuracy,
		"processed_items":            processedItems,
		"simulated_duration_seconds": duration,
	}, nil
}

// paramFloat reads a numeric parameter. Callers that decode with
// UseNumber() (the HTTP body decoder and the canonical-JSON round trip
// both do) produce json.Number rather than float64, so both are handled.
func paramFloat(parameters map[string]any, key string, fallback float64) float64 {
	v, ok := parameters[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return fallback
		}
		return f
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

func roundTo(v float64, decimals int) float64 {
	mult := 1.0
	for i := 0; i < decimals; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}

// randFloat64 returns a cryptographically-sourced value in [0, 1). The mock
// runner has no correctness requirement on its randomness source, but using
// crypto/rand avoids seeding math/rand globally from a library package.
func randFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	u := binary.BigEndian.Uint64(buf[:]) >> 11 // top 53 bits
	return float64(u) / (1 << 53)
}
