package taskmanager

import (
	"context"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/protocol"
)

// IncomingMessageProcessor interprets inbound messages. The task manager
// decides when a message is processed; the processor decides what it means.
// Acknowledging a message is the processor's job.
type IncomingMessageProcessor interface {
	// ProcessIncomingCspMessage handles a csp message from the ordered
	// queue, or one that was bypassed.
	ProcessIncomingCspMessage(ctx context.Context, msg *protocol.CspMessage, codec TaskCodec) error

	// ProcessIncomingD2mMessage handles a d2m message that no task read:
	// Reflected, and anything bypassed or left over in the queue.
	ProcessIncomingD2mMessage(ctx context.Context, msg protocol.InboundMessage, codec TaskCodec) error

	// ProcessIncomingServerAlert is called synchronously for csp alerts.
	ProcessIncomingServerAlert(alert string)

	// ProcessIncomingServerError is called synchronously for csp close errors.
	ProcessIncomingServerError(canReconnect bool, message string)
}

// incomingMessageTask hands one queued inbound message to the processor.
type incomingMessageTask struct {
	msg       protocol.InboundMessage
	processor IncomingMessageProcessor
}

func newIncomingTask(msg protocol.InboundMessage, processor IncomingMessageProcessor) erasedTask {
	return erase[any](&incomingMessageTask{msg: msg, processor: processor})
}

func (t *incomingMessageTask) Type() string {
	if _, ok := t.msg.(*protocol.CspMessage); ok {
		return "incoming-csp-message"
	}
	return "incoming-d2m-message"
}

func (t *incomingMessageTask) Invoke(ctx context.Context, codec TaskCodec) (any, error) {
	if t.processor == nil {
		return nil, errors.Internal("no incoming message processor for " + t.msg.Name())
	}
	if csp, ok := t.msg.(*protocol.CspMessage); ok {
		return nil, t.processor.ProcessIncomingCspMessage(ctx, csp, codec)
	}
	return nil, t.processor.ProcessIncomingD2mMessage(ctx, t.msg, codec)
}

// isControlPlane reports whether msg is handled synchronously on arrival
// instead of through the queue.
func isControlPlane(msg protocol.InboundMessage) bool {
	csp, ok := msg.(*protocol.CspMessage)
	if !ok {
		return false
	}
	switch csp.PayloadType {
	case protocol.CspCloseError,
		protocol.CspAlert,
		protocol.CspQueueSendComplete,
		protocol.CspDeviceCookieChangeIndication:
		return true
	default:
		return false
	}
}
