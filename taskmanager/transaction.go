package taskmanager

import (
	"context"
	"time"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/protocol"
	"github.com/vinayprograms/mediatorkit/telemetry"
)

// TransactionScope runs a block while this device holds the device group
// lock for one encrypted scope.
type TransactionScope struct {
	codec        ActiveTaskCodec
	scope        []byte
	name         string
	ttl          time.Duration
	precondition func() bool
	tracer       *telemetry.Tracer
}

// TransactionOption configures a TransactionScope.
type TransactionOption func(*TransactionScope)

// WithPrecondition sets a check that must hold before the lock is requested
// and again once it has been granted.
func WithPrecondition(fn func() bool) TransactionOption {
	return func(s *TransactionScope) { s.precondition = fn }
}

// WithTTL bounds how long the mediator keeps the lock.
func WithTTL(ttl time.Duration) TransactionOption {
	return func(s *TransactionScope) { s.ttl = ttl }
}

// WithScopeName names the scope in logs and spans.
func WithScopeName(name string) TransactionOption {
	return func(s *TransactionScope) { s.name = name }
}

// WithTransactionTracer sets the tracer for the transaction span.
func WithTransactionTracer(t *telemetry.Tracer) TransactionOption {
	return func(s *TransactionScope) { s.tracer = t }
}

// NewTransactionScope creates a scope for encryptedScope.
func NewTransactionScope(codec ActiveTaskCodec, encryptedScope []byte, opts ...TransactionOption) *TransactionScope {
	s := &TransactionScope{
		codec:  codec,
		scope:  encryptedScope,
		name:   "transaction",
		tracer: telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute acquires the lock, runs block and commits. Once the lock is held,
// CommitTransaction is always sent and acknowledged before Execute returns,
// unless the connection itself is gone.
func (s *TransactionScope) Execute(ctx context.Context, block func(ctx context.Context) error) (err error) {
	if !s.holds() {
		return errors.TransactionAborted("precondition of " + s.name + " does not hold")
	}

	ctx, span := s.tracer.StartTransactionSpan(ctx, s.name)
	rejections := 0
	defer func() { s.tracer.EndTransactionSpan(span, rejections, err) }()

	for {
		rejected, err := s.begin(ctx)
		if err != nil {
			return err
		}
		if rejected == nil {
			break
		}
		rejections++
		if err := s.awaitEnded(ctx, rejected.DeviceID); err != nil {
			return err
		}
	}

	blockErr := s.runHeld(ctx, block)
	if errors.IsNetwork(blockErr) {
		return blockErr
	}

	if err := s.commit(ctx); err != nil {
		return err
	}
	return blockErr
}

// runHeld re-checks the precondition and runs block while the lock is held.
// A panic in either comes back as a PANIC error so that the lock is still
// committed.
func (s *TransactionScope) runHeld(ctx context.Context, block func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(errors.RecoverPanic(r), "transaction "+s.name+" panicked")
		}
	}()
	if !s.holds() {
		return errors.TransactionAborted("precondition of " + s.name + " no longer holds")
	}
	return block(ctx)
}

// RunTransaction is Execute for blocks with a result.
func RunTransaction[R any](ctx context.Context, s *TransactionScope, block func(ctx context.Context) (R, error)) (R, error) {
	var result R
	err := s.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = block(ctx)
		return err
	})
	return result, err
}

func (s *TransactionScope) holds() bool {
	return s.precondition == nil || s.precondition()
}

// begin requests the lock. It returns the rejection if another device
// holds it.
func (s *TransactionScope) begin(ctx context.Context) (*protocol.TransactionRejected, error) {
	err := s.codec.Write(ctx, &protocol.BeginTransaction{EncryptedScope: s.scope, TTL: s.ttl})
	if err != nil {
		return nil, err
	}

	msg, err := s.codec.Read(ctx, func(m protocol.InboundMessage) MessageFilterInstruction {
		switch m.(type) {
		case *protocol.BeginTransactionAck, *protocol.TransactionRejected:
			return Accept
		default:
			return BypassOrBacklog
		}
	})
	if err != nil {
		return nil, err
	}
	if rejected, ok := msg.(*protocol.TransactionRejected); ok {
		return rejected, nil
	}
	return nil, nil
}

// awaitEnded reads until the device holding the lock releases it.
func (s *TransactionScope) awaitEnded(ctx context.Context, holder protocol.DeviceID) error {
	_, err := s.codec.Read(ctx, func(m protocol.InboundMessage) MessageFilterInstruction {
		if ended, ok := m.(*protocol.TransactionEnded); ok && ended.DeviceID == holder {
			return Accept
		}
		return BypassOrBacklog
	})
	return err
}

func (s *TransactionScope) commit(ctx context.Context) error {
	if err := s.codec.Write(ctx, &protocol.CommitTransaction{}); err != nil {
		return err
	}
	_, err := s.codec.Read(ctx, func(m protocol.InboundMessage) MessageFilterInstruction {
		if _, ok := m.(*protocol.CommitTransactionAck); ok {
			return Accept
		}
		return BypassOrBacklog
	})
	return err
}
