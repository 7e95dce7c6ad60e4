package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes
const (
	// ErrValidation indicates a structurally invalid graph. Fatal at load
	// time, never raised at run time.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrRouting indicates an unresolvable edge or empty edge set. Fatal:
	// it means a graph escaped validation.
	ErrRouting ErrorCode = "ROUTING"
	// ErrNodeExecution indicates a dispatched node handler returned an
	// error. Recoverable via continue_on_failure, otherwise fails the task.
	ErrNodeExecution ErrorCode = "NODE_EXECUTION"
	// ErrLineage indicates an attempt to read or mutate a task or child
	// that does not exist.
	ErrLineage ErrorCode = "LINEAGE"
	// ErrTaskCancelled indicates the task was cancelled by its caller or
	// by a parent cancellation cascade.
	ErrTaskCancelled ErrorCode = "TASK_CANCELLED"
	// ErrCheckpoint indicates a checkpoint persistence failure. Always
	// non-fatal to execution.
	ErrCheckpoint ErrorCode = "CHECKPOINT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	TaskID    string    `json:"task_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithTask tags the error with the task it occurred on.
func (e *Error) WithTask(taskID string) *Error {
	e.TaskID = taskID
	return e
}

// WithNode tags the error with the node it occurred on.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from err, unwrapping as needed.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
