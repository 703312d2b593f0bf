package domain

import "errors"

// Common domain errors.
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNetworkOrServer covers every failure of a remote operation:
	// transport errors, timeouts, non-2xx responses and malformed bodies.
	ErrNetworkOrServer = errors.New("network or server error")

	// ErrOperationInFlight is returned when an operation is triggered while
	// another one is still pending.
	ErrOperationInFlight = errors.New("operation already in flight")

	// ErrNoResult is returned when a result is required but none was received yet.
	ErrNoResult = errors.New("no optimization result")
)

// User-facing messages stored in the workflow state on failure.
const (
	MsgOptimizeFailed = "Failed to fetch optimization results. Please try again."

	// MsgRecommendFailed is used when recommendations come from a dedicated GET endpoint.
	MsgRecommendFailed = "Failed to fetch recommended portfolio."

	// MsgRecommendUnavailable is used when recommendations are requested by POST.
	MsgRecommendUnavailable = "Could not fetch recommended portfolio."
)

// OperationError is the single error kind surfaced by a failed remote operation.
// It matches ErrNetworkOrServer and still exposes the underlying cause.
type OperationError struct {
	Op      Operation
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Err == nil {
		return string(e.Op) + ": " + ErrNetworkOrServer.Error()
	}
	return string(e.Op) + ": " + e.Err.Error()
}

func (e *OperationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNetworkOrServer}
	}
	return []error{ErrNetworkOrServer, e.Err}
}

// NewOperationError creates a new OperationError.
func NewOperationError(op Operation, message string, err error) *OperationError {
	return &OperationError{Op: op, Message: message, Err: err}
}

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

func (e NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) NotFoundError {
	return NotFoundError{Resource: resource, ID: id}
}
