package admission

import "errors"

// Error taxonomy surfaced by the Admission Service, per the documented
// mapping to HTTP status codes.
var (
	// ErrBadRequest: malformed input syntax. 400.
	ErrBadRequest = errors.New("admission: bad request")
	// ErrValidation: well-formed input violating schema. 422.
	ErrValidation = errors.New("admission: validation failed")
	// ErrNotFound: lookup miss. 404.
	ErrNotFound = errors.New("admission: not found")
	// ErrStateConflict: operation valid only in a specific run state. 409.
	ErrStateConflict = errors.New("admission: state conflict")
)
