// Package errors provides the structured error taxonomy shared by the task
// manager, the transport and the archive backends.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: temporary failures where invoking the task again may succeed
//   - Permanent: failures where a retry will not help (aborted transaction, bad input)
//   - Network: the mediator connection is stopped, unavailable, or must be restarted
//   - Internal: unexpected errors such as recovered panics and failed assertions
//
// The task runner retries transient and internal failures up to the queue
// element's execution limit. Network errors are never retried in place; they
// end the executor run and, for protocol violations, trigger a reconnect.
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.ErrCodeUnsupported, "csp payload not handled")
//
// Network errors have dedicated constructors:
//
//	err := errors.ConnectionStopped("server closed the connection")
//	if errors.IsNetwork(err) {
//	    return err // never swallow
//	}
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "replaying archived task")
package errors
