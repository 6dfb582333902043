package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, an aborted transaction.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryNetwork indicates that the mediator connection is gone, was
	// never there, or has to be torn down. The task runner never retries
	// these in place; they end the current executor run.
	CategoryNetwork ErrorCategory = "network"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: recovered panics, assertion failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable reports whether errors in this category may succeed when the
// same task is invoked again on the same connection.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryInternal:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Dependency temporarily unavailable

	// Permanent errors
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"       // Malformed or invalid input
	ErrCodeUnsupported        ErrorCode = "UNSUPPORTED"         // Operation not supported
	ErrCodeCanceled           ErrorCode = "CANCELED"            // Operation was canceled
	ErrCodeTransactionAborted ErrorCode = "TRANSACTION_ABORTED" // Transaction precondition no longer holds
	ErrCodeBypassRestricted   ErrorCode = "BYPASS_RESTRICTED"   // Bypass codec cannot read or reflect

	// Network errors
	ErrCodeConnectionStopped     ErrorCode = "CONNECTION_STOPPED"     // Connection ended or superseded
	ErrCodeConnectionUnavailable ErrorCode = "CONNECTION_UNAVAILABLE" // No connection for a drop-on-disconnect task
	ErrCodeProtocolViolation     ErrorCode = "PROTOCOL_VIOLATION"     // Peer broke the protocol, reconnect needed

	// Internal errors
	ErrCodeInternal  ErrorCode = "INTERNAL"  // Unexpected internal error
	ErrCodeAssertion ErrorCode = "ASSERTION" // Assertion/invariant violation
	ErrCodePanic     ErrorCode = "PANIC"     // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient

	case ErrCodeInvalidInput, ErrCodeUnsupported, ErrCodeCanceled,
		ErrCodeTransactionAborted, ErrCodeBypassRestricted:
		return CategoryPermanent

	case ErrCodeConnectionStopped, ErrCodeConnectionUnavailable, ErrCodeProtocolViolation:
		return CategoryNetwork

	case ErrCodeInternal, ErrCodeAssertion, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:               "operation timed out",
	ErrCodeUnavailable:           "dependency temporarily unavailable",
	ErrCodeInvalidInput:          "invalid input provided",
	ErrCodeUnsupported:           "operation not supported",
	ErrCodeCanceled:              "operation canceled",
	ErrCodeTransactionAborted:    "transaction aborted",
	ErrCodeBypassRestricted:      "operation not allowed while bypassing",
	ErrCodeConnectionStopped:     "connection stopped",
	ErrCodeConnectionUnavailable: "connection unavailable",
	ErrCodeProtocolViolation:     "protocol violation",
	ErrCodeInternal:              "internal error",
	ErrCodeAssertion:             "assertion failed",
	ErrCodePanic:                 "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
