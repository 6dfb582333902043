package taskmanager

import (
	"context"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/protocol"
)

// stopCause returns the network error a cancelled executor context carries.
func stopCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.IsNetwork(cause) {
		return cause
	}
	return errors.ConnectionStopped("", errors.WithCause(cause))
}

// runnerCodec is the codec tasks run with.
type runnerCodec struct {
	runner *taskRunner
}

func (c *runnerCodec) Read(ctx context.Context, filter MessageFilter) (protocol.InboundMessage, error) {
	return c.runner.queue.readMessage(ctx, filter, c.runner.runBypass)
}

func (c *runnerCodec) Write(ctx context.Context, msg protocol.OutboundMessage) error {
	return c.runner.write(ctx, msg)
}

func (c *runnerCodec) Reflect(ctx context.Context, envelope EncryptedEnvelope) (protocol.ReflectID, error) {
	id := c.runner.nextReflectID()
	c.runner.log.Debug("reflecting envelope", map[string]interface{}{
		"reflect_id": uint32(id),
		"flags":      uint16(envelope.Flags),
		"content":    envelope.DebugName,
	})
	err := c.Write(ctx, &protocol.Reflect{
		Flags:     envelope.Flags,
		ReflectID: id,
		Envelope:  envelope.Envelope,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *runnerCodec) ReflectAndAwaitAck(ctx context.Context, envelope EncryptedEnvelope, storeNonce bool, nonces NonceStore) (uint64, error) {
	id, err := c.Reflect(ctx, envelope)
	if err != nil {
		return 0, err
	}

	spanCtx, span := c.runner.tracer.StartReflectSpan(ctx, uint32(id))
	ts, err := AwaitReflectAck(spanCtx, c, id)
	c.runner.tracer.EndReflectSpan(span, ts, err)
	if err != nil {
		return 0, err
	}

	if storeNonce && nonces != nil {
		if err := nonces.Store(NonceScopeD2D, envelope.Nonce); err != nil {
			return 0, errors.Wrap(err, "store reflected nonce")
		}
	}
	return ts, nil
}

// bypassCodec is handed to bypassed messages. It can write but not wait,
// since the task that holds the executor is itself waiting in a read.
type bypassCodec struct {
	runner *taskRunner
}

func bypassRestricted(op string) error {
	return errors.New(errors.ErrCodeBypassRestricted, op+" is not allowed while bypassing",
		errors.WithMetadata("operation", op))
}

func (c *bypassCodec) Read(ctx context.Context, filter MessageFilter) (protocol.InboundMessage, error) {
	return nil, bypassRestricted("read")
}

func (c *bypassCodec) Write(ctx context.Context, msg protocol.OutboundMessage) error {
	return c.runner.write(ctx, msg)
}

func (c *bypassCodec) Reflect(ctx context.Context, envelope EncryptedEnvelope) (protocol.ReflectID, error) {
	return 0, bypassRestricted("reflect")
}

func (c *bypassCodec) ReflectAndAwaitAck(ctx context.Context, envelope EncryptedEnvelope, storeNonce bool, nonces NonceStore) (uint64, error) {
	return 0, bypassRestricted("reflect-and-await-ack")
}
