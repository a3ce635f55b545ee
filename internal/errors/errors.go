package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Stage identifies one step of the recomputation pipeline
type Stage string

const (
	StageFiltering   Stage = "filtering"
	StageMetrics     Stage = "metrics"
	StageAggregating Stage = "aggregating"
	StageCharts      Stage = "charts"
)

// StageError is an error raised inside one pipeline stage. Stage errors
// are absorbed into engine state; they never cross the engine's public
// API boundary.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Timeout bool   `json:"timeout,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *StageError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("stage %s timed out: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err as a failure of the given stage.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Message: err.Error(), Err: err}
}

// NewTimeoutError marks a calculation that exceeded its budget. The
// message identifies the timeout so event consumers can tell the two
// apart without inspecting flags.
func NewTimeoutError(stage Stage, name string, err error) *StageError {
	return &StageError{
		Stage:   stage,
		Message: fmt.Sprintf("calculation %q exceeded its time budget", name),
		Timeout: true,
		Err:     err,
	}
}

// IsTimeout reports whether err is a timeout stage error.
func IsTimeout(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Timeout
}

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for common scenarios
var (
	ErrInvalidRequest = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrNotFound       = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationErrors creates a 400 error from field validation failures
func NewValidationErrors(errs []ValidationError) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", errs)
}

// InvalidRequestWithError creates an invalid request error with details
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// NotFoundError creates a not found error naming the resource
func NotFoundError(resource string) *APIError {
	return NewWithDetails(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource), resource)
}
