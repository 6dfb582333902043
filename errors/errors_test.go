package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, CategoryTransient},
		{"invalid_input", ErrCodeInvalidInput, CategoryPermanent},
		{"transaction_aborted", ErrCodeTransactionAborted, CategoryPermanent},
		{"connection_stopped", ErrCodeConnectionStopped, CategoryNetwork},
		{"connection_unavailable", ErrCodeConnectionUnavailable, CategoryNetwork},
		{"protocol_violation", ErrCodeProtocolViolation, CategoryNetwork},
		{"panic", ErrCodePanic, CategoryInternal},
		{"unknown", ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "message")
			assert.Equal(t, tt.code, err.Code())
			assert.Equal(t, tt.wantCategory, err.Category())
			assert.Equal(t, "message", err.Error())
			assert.False(t, err.Timestamp().IsZero())
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeConnectionUnavailable)
	assert.Equal(t, "connection unavailable", err.Error())
	assert.Equal(t, "unknown error", ErrorCode("NOPE").Description())
}

func TestNetworkConstructors(t *testing.T) {
	stopped := ConnectionStopped("server closed")
	assert.Equal(t, "server closed", stopped.Error())
	assert.True(t, IsNetwork(stopped))
	assert.False(t, stopped.Retryable())

	assert.Equal(t, "connection stopped", ConnectionStopped("").Error())
	assert.True(t, IsNetwork(ConnectionUnavailable()))
	assert.True(t, Is(ProtocolViolation("unexpected ack"), ErrCodeProtocolViolation))

	aborted := TransactionAborted("precondition failed")
	assert.False(t, IsNetwork(aborted))
	assert.True(t, IsCategory(aborted, CategoryPermanent))
}

func TestRetryable(t *testing.T) {
	assert.True(t, New(ErrCodeTimeout, "t").Retryable())
	assert.True(t, RecoverPanic("p").Retryable())
	assert.False(t, InvalidInput("i").Retryable())
	assert.True(t, IsRetryable(fmt.Errorf("outer: %w", Assertion("a"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCategoryIsRetryable(t *testing.T) {
	assert.True(t, CategoryTransient.IsRetryable())
	assert.True(t, CategoryInternal.IsRetryable())
	assert.False(t, CategoryPermanent.IsRetryable())
	assert.False(t, CategoryNetwork.IsRetryable())
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(ErrCodeInternal, "test", WithMetadata("k", "v"))
	meta := err.Metadata()
	meta["injected"] = "x"

	assert.Equal(t, map[string]string{"k": "v"}, err.Metadata())
	assert.NotNil(t, New(ErrCodeInternal, "bare").Metadata())
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(cause, "archive task")

	assert.Equal(t, "archive task: disk full", err.Error())
	assert.Equal(t, ErrCodeInternal, err.Code())
	assert.Same(t, cause, err.Unwrap())
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWrapKeepsClassification(t *testing.T) {
	original := ProtocolViolation("unexpected reflect-ack", WithTaskType("reflect"), WithMetadata("id", "7"))
	wrapped := Wrap(original, "awaiting ack")

	assert.Equal(t, ErrCodeProtocolViolation, wrapped.Code())
	assert.True(t, IsNetwork(wrapped))
	assert.Equal(t, "reflect", wrapped.TaskType())
	assert.Equal(t, "7", wrapped.Metadata()["id"])
	assert.True(t, errors.Is(wrapped, original))
}

func TestWrapContextErrors(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, Wrap(context.DeadlineExceeded, "read").Code())
	assert.Equal(t, ErrCodeCanceled, Wrap(context.Canceled, "read").Code())
}

func TestIsThroughStdlibWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", ConnectionStopped("gone"))
	assert.True(t, Is(err, ErrCodeConnectionStopped))
	assert.True(t, IsNetwork(err))
	assert.Equal(t, CategoryNetwork, Category(err))
	assert.Equal(t, ErrCodeConnectionStopped, Code(err))

	plain := errors.New("plain")
	assert.False(t, IsNetwork(plain))
	assert.Equal(t, ErrorCode(""), Code(plain))
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("nil map write")
	assert.Equal(t, ErrCodePanic, err.Code())
	assert.Equal(t, "nil map write", err.Error())
	assert.Equal(t, "string", err.Metadata()["panic_value"])

	assert.Equal(t, "42", RecoverPanic(42).Error())
	assert.Equal(t, "wrapped", RecoverPanic(errors.New("wrapped")).Error())
}
