package errors

import (
	"fmt"
	"time"
)

// StructuredError is the interface for all structured errors in mediatorkit.
// It extends the standard error interface with the classification the task
// runner needs to decide between retrying, failing and reconnecting.
type StructuredError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of StructuredError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
	taskType  string
}

var _ StructuredError = (*Error)(nil)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error's category is retried by the runner.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// TaskType returns the type tag of the task that produced the error, if set.
func (e *Error) TaskType() string {
	return e.taskType
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithTaskType records the type tag of the failing task.
func WithTaskType(taskType string) Option {
	return func(e *Error) {
		e.taskType = taskType
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// Assertion creates an error for a violated internal invariant.
func Assertion(message string, opts ...Option) *Error {
	return New(ErrCodeAssertion, message, opts...)
}

// ConnectionStopped creates the error a running task sees when the runner is
// stopped. The reason is the close reason passed to the runner.
func ConnectionStopped(reason string, opts ...Option) *Error {
	if reason == "" {
		reason = ErrCodeConnectionStopped.Description()
	}
	return New(ErrCodeConnectionStopped, reason, opts...)
}

// ConnectionUnavailable creates the error returned for drop-on-disconnect
// tasks scheduled while no connection is attached.
func ConnectionUnavailable(opts ...Option) *Error {
	return FromCode(ErrCodeConnectionUnavailable, opts...)
}

// ProtocolViolation creates the error a task returns to force a reconnect.
func ProtocolViolation(message string, opts ...Option) *Error {
	return New(ErrCodeProtocolViolation, message, opts...)
}

// TransactionAborted creates the error returned when a transaction
// precondition does not hold.
func TransactionAborted(message string, opts ...Option) *Error {
	return New(ErrCodeTransactionAborted, message, opts...)
}
