package taskmanager

import (
	"context"
	"sync"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
)

// UnsoughtMessageResolution is what happens to an inbound message that the
// reading task did not accept.
type UnsoughtMessageResolution int

const (
	// Bypass runs the message's default handling inline.
	Bypass UnsoughtMessageResolution = iota

	// Backlog keeps the message, in order, for a later read or for the
	// queue itself.
	Backlog
)

func (r UnsoughtMessageResolution) String() string {
	if r == Bypass {
		return "bypass"
	}
	return "backlog"
}

// UnsoughtResolution returns the fixed resolution for a message type.
func UnsoughtResolution(msg protocol.InboundMessage) UnsoughtMessageResolution {
	switch msg.(type) {
	case *protocol.Reflected,
		*protocol.BeginTransactionAck,
		*protocol.CommitTransactionAck,
		*protocol.ReflectionQueueDry,
		*protocol.RolePromotedToLeader,
		*protocol.TransactionEnded,
		*protocol.TransactionRejected:
		return Bypass
	default:
		// csp messages, ReflectAck, DevicesInfo, DropDeviceAck, ServerHello,
		// ServerInfo
		return Backlog
	}
}

type inboundEntry struct {
	msg     protocol.InboundMessage
	element *queueElement
}

// IncomingMessageTaskQueue holds the inbound messages of one connection:
// fresh arrivals and the backlog of messages a read passed over.
type IncomingMessageTaskQueue struct {
	processor IncomingMessageProcessor
	log       *logging.Logger

	mu      sync.Mutex
	backlog []inboundEntry
	fresh   []inboundEntry

	// arrived wakes a blocked read. Capacity one, sends never block.
	arrived chan struct{}
}

func newIncomingMessageTaskQueue(processor IncomingMessageProcessor, log *logging.Logger) *IncomingMessageTaskQueue {
	return &IncomingMessageTaskQueue{
		processor: processor,
		log:       log,
		arrived:   make(chan struct{}, 1),
	}
}

// add queues a fresh inbound message.
func (q *IncomingMessageTaskQueue) add(msg protocol.InboundMessage) {
	el := newInboundElement(newIncomingTask(msg, q.processor), msg)

	q.mu.Lock()
	q.fresh = append(q.fresh, inboundEntry{msg: msg, element: el})
	q.mu.Unlock()

	select {
	case q.arrived <- struct{}{}:
	default:
	}
}

// next pops the next element to run: backlog first, then fresh arrivals.
func (q *IncomingMessageTaskQueue) next() *queueElement {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.backlog) > 0 {
		e := q.backlog[0]
		q.backlog = q.backlog[1:]
		return e.element
	}
	if len(q.fresh) > 0 {
		e := q.fresh[0]
		q.fresh = q.fresh[1:]
		return e.element
	}
	return nil
}

func (q *IncomingMessageTaskQueue) hasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)+len(q.fresh) > 0
}

// BacklogLen returns the number of backlogged messages.
func (q *IncomingMessageTaskQueue) BacklogLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// bypassFunc runs a bypassed element. It returns only network errors.
type bypassFunc func(ctx context.Context, el *queueElement) error

// readMessage returns the first message the filter accepts. The backlog is
// rescanned in order before any fresh message is looked at. Fresh messages
// the filter passes over are bypassed or backlogged according to
// UnsoughtResolution.
func (q *IncomingMessageTaskQueue) readMessage(ctx context.Context, filter MessageFilter, bypass bypassFunc) (protocol.InboundMessage, error) {
	if msg, found, err := q.scanBacklog(filter); found || err != nil {
		return msg, err
	}

	for {
		entry, ok := q.popFresh()
		if !ok {
			select {
			case <-q.arrived:
				continue
			case <-ctx.Done():
				return nil, stopCause(ctx)
			}
		}

		switch filter(entry.msg) {
		case Accept:
			entry.element.finish(nil, nil)
			return entry.msg, nil

		case Reject:
			entry.element.finish(nil, nil)
			return nil, errors.ProtocolViolation("rejected inbound "+entry.msg.Name(),
				errors.WithMetadata("message", entry.msg.Name()))

		default:
			switch UnsoughtResolution(entry.msg) {
			case Bypass:
				q.log.Bypass(entry.msg.Name())
				if err := bypass(ctx, entry.element); err != nil {
					return nil, err
				}
			case Backlog:
				q.mu.Lock()
				q.backlog = append(q.backlog, entry)
				size := len(q.backlog)
				q.mu.Unlock()
				q.log.Backlog(entry.msg.Name(), size)
			}
		}
	}
}

func (q *IncomingMessageTaskQueue) scanBacklog(filter MessageFilter) (protocol.InboundMessage, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.backlog {
		switch filter(entry.msg) {
		case Accept:
			q.backlog = append(q.backlog[:i:i], q.backlog[i+1:]...)
			entry.element.finish(nil, nil)
			return entry.msg, true, nil

		case Reject:
			q.backlog = append(q.backlog[:i:i], q.backlog[i+1:]...)
			entry.element.finish(nil, nil)
			return nil, true, errors.ProtocolViolation("rejected backlogged "+entry.msg.Name(),
				errors.WithMetadata("message", entry.msg.Name()))

		default:
			if r := UnsoughtResolution(entry.msg); r != Backlog {
				return nil, true, errors.Assertion("backlog holds "+entry.msg.Name()+" with resolution "+r.String(),
					errors.WithMetadata("message", entry.msg.Name()))
			}
		}
	}
	return nil, false, nil
}

func (q *IncomingMessageTaskQueue) popFresh() (inboundEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.fresh) == 0 {
		return inboundEntry{}, false
	}
	e := q.fresh[0]
	q.fresh = q.fresh[1:]
	return e, true
}
