package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// NotFoundError indicates an unknown task id, action id or agent name
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NotFound creates a NotFoundError for the given entity kind and id
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError indicates malformed input or a non-triggerable target
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Msg
}

// Validation creates a ValidationError with a formatted message
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CircuitOpenError rejects remediation while the breaker is tripped.
// ResetAt is the computed time after which remediation may be retried.
type CircuitOpenError struct {
	ResetAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// CircuitOpen creates a CircuitOpenError with the computed reset time
func CircuitOpen(resetAt time.Time) error {
	return &CircuitOpenError{ResetAt: resetAt}
}

// IsCircuitOpen reports whether err is a CircuitOpenError
func IsCircuitOpen(err error) bool {
	var co *CircuitOpenError
	return errors.As(err, &co)
}

// DownstreamError wraps a failed collaborator call. It is recorded into
// the affected entity and never re-thrown past the component boundary.
type DownstreamError struct {
	Op  string
	Err error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream %s unavailable: %v", e.Op, e.Err)
}

func (e *DownstreamError) Unwrap() error {
	return e.Err
}

// Downstream wraps err as a DownstreamError for the named collaborator op
func Downstream(op string, err error) error {
	return &DownstreamError{Op: op, Err: err}
}

// IsDownstream reports whether err is a DownstreamError
func IsDownstream(err error) bool {
	var de *DownstreamError
	return errors.As(err, &de)
}

// HTTPStatus maps a taxonomy error to its HTTP status code.
// Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	case IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	case IsDownstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
