package taskmanager

import (
	"context"

	"github.com/vinayprograms/mediatorkit/protocol"
)

// Task is a unit of work run by the task manager.
type Task[R any] interface {
	// Type names the task in logs and spans.
	Type() string

	// Invoke runs the task. It may be invoked more than once if an earlier
	// attempt failed with an error that is not a network error.
	Invoke(ctx context.Context, codec TaskCodec) (R, error)
}

// DropOnDisconnect is implemented by tasks that must not outlive the
// connection they were scheduled on.
type DropOnDisconnect interface {
	DropOnDisconnect() bool
}

// PersistableTask is implemented by local tasks that survive a restart.
// Kind selects the decoder registered with WithTaskDecoder.
type PersistableTask interface {
	Kind() string
	Payload() ([]byte, error)
}

// TaskDecoder rebuilds an archived task from its payload.
type TaskDecoder func(payload []byte) (Task[any], error)

// MessageFilterInstruction tells a read what to do with an inbound message.
type MessageFilterInstruction int

const (
	// BypassOrBacklog leaves the message to its default handling.
	BypassOrBacklog MessageFilterInstruction = iota

	// Accept hands the message to the reading task.
	Accept

	// Reject drops the message and fails the read with a protocol
	// violation, which restarts the connection.
	Reject
)

func (i MessageFilterInstruction) String() string {
	switch i {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "bypass-or-backlog"
	}
}

// MessageFilter classifies inbound messages during a read.
type MessageFilter func(protocol.InboundMessage) MessageFilterInstruction

// NonceScope partitions stored nonces.
type NonceScope string

// NonceScopeD2D holds nonces of device-to-device envelopes.
const NonceScopeD2D NonceScope = "d2d"

// NonceStore remembers nonces so that a replayed envelope can be detected.
type NonceStore interface {
	Store(scope NonceScope, nonce []byte) error
}

// EncryptedEnvelope is an envelope ready to be reflected.
type EncryptedEnvelope struct {
	Envelope []byte
	Nonce    []byte
	Flags    protocol.ReflectFlags

	// DebugName names the envelope content in logs.
	DebugName string
}

// PassiveTaskCodec is the read side of a task codec.
type PassiveTaskCodec interface {
	// Read returns the next inbound message the filter accepts.
	Read(ctx context.Context, filter MessageFilter) (protocol.InboundMessage, error)
}

// ActiveTaskCodec adds the write side.
type ActiveTaskCodec interface {
	PassiveTaskCodec

	// Write sends a message. It blocks while no connection is attached.
	Write(ctx context.Context, msg protocol.OutboundMessage) error

	// Reflect sends the envelope to the other devices and returns its id.
	Reflect(ctx context.Context, envelope EncryptedEnvelope) (protocol.ReflectID, error)

	// ReflectAndAwaitAck reflects the envelope and reads until the matching
	// ReflectAck arrives. If storeNonce is set, the envelope nonce is stored
	// once the ack has been received. Returns the ack timestamp.
	ReflectAndAwaitAck(ctx context.Context, envelope EncryptedEnvelope, storeNonce bool, nonces NonceStore) (uint64, error)
}

// TaskCodec is the codec every task is invoked with.
type TaskCodec interface {
	ActiveTaskCodec
}

// AwaitReflectAck reads until the ReflectAck for id is accepted and returns
// its timestamp.
func AwaitReflectAck(ctx context.Context, codec PassiveTaskCodec, id protocol.ReflectID) (uint64, error) {
	msg, err := codec.Read(ctx, func(m protocol.InboundMessage) MessageFilterInstruction {
		if ack, ok := m.(*protocol.ReflectAck); ok && ack.ReflectID == id {
			return Accept
		}
		return BypassOrBacklog
	})
	if err != nil {
		return 0, err
	}
	return msg.(*protocol.ReflectAck).Timestamp, nil
}

// TaskFunc adapts a function to a Task.
type TaskFunc[R any] struct {
	Name string
	Fn   func(ctx context.Context, codec TaskCodec) (R, error)
}

// Type implements Task.
func (f TaskFunc[R]) Type() string { return f.Name }

// Invoke implements Task.
func (f TaskFunc[R]) Invoke(ctx context.Context, codec TaskCodec) (R, error) {
	return f.Fn(ctx, codec)
}

// erasedTask is a Task with its result type erased so that one queue can
// hold tasks of any result type.
type erasedTask interface {
	Type() string
	invoke(ctx context.Context, codec TaskCodec) (any, error)
	dropOnDisconnect() bool
	persistable() (PersistableTask, bool)
}

type typedTask[R any] struct {
	task Task[R]
}

func (t typedTask[R]) Type() string { return t.task.Type() }

func (t typedTask[R]) invoke(ctx context.Context, codec TaskCodec) (any, error) {
	return t.task.Invoke(ctx, codec)
}

func (t typedTask[R]) dropOnDisconnect() bool {
	d, ok := any(t.task).(DropOnDisconnect)
	return ok && d.DropOnDisconnect()
}

func (t typedTask[R]) persistable() (PersistableTask, bool) {
	p, ok := any(t.task).(PersistableTask)
	return p, ok
}

func erase[R any](task Task[R]) typedTask[R] {
	return typedTask[R]{task: task}
}
