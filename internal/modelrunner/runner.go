// Package modelrunner defines the Model Runner collaborator contract and a
// small registry of implementations selected by a parameter field, plus the
// in-tree mock runner used for tests and local development.
package modelrunner

import (
	"context"
	"fmt"
)

// Runner is the external Model Runner collaborator: a single synchronous
// operation that turns request parameters into a JSON-serializable result
// or fails with an arbitrary error.
type Runner interface {
	Run(ctx context.Context, parameters map[string]any) (map[string]any, error)
}

// Registry selects a Runner by the "model_type" parameter field. The
// admission service validates model_type against this registry up front
// (Validation on an unknown type) so the worker never discovers an
// unsupported model mid-execution.
type Registry struct {
	runners map[string]Runner
}

// NewRegistry builds a registry from a name -> Runner mapping.
func NewRegistry(runners map[string]Runner) *Registry {
	return &Registry{runners: runners}
}

// Known reports whether modelType has a registered Runner.
func (r *Registry) Known(modelType string) bool {
	_, ok := r.runners[modelType]
	return ok
}

// Lookup returns the Runner registered for modelType.
func (r *Registry) Lookup(modelType string) (Runner, error) {
	runner, ok := r.runners[modelType]
	if !ok {
		return nil, fmt.Errorf("modelrunner: unknown model_type %q", modelType)
	}
	return runner, nil
}
