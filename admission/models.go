package admission

import "time"

// CreateRunRequest is the decoded body of POST /runs.
type CreateRunRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// RunView is the serialized run body returned by the Admission Service and
// Query/Inspection endpoints.
type RunView struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	Parameters   any        `json:"parameters"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	AttemptCount int        `json:"attempt_count"`
}

// ResultView is the body of GET /runs/{id}/result.
type ResultView struct {
	RunID           string `json:"run_id"`
	ResultReference string `json:"result_reference"`
}
