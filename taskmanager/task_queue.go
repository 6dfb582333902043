package taskmanager

import (
	"context"
	"sync"

	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
)

// TaskQueue merges the local and the incoming queue behind one poll.
type TaskQueue struct {
	local *LocalTaskQueue
	log   *logging.Logger

	mu       sync.Mutex
	incoming *IncomingMessageTaskQueue

	// notify signals that work may be available. Capacity one, sends never
	// block, so several signals coalesce into one wakeup.
	notify chan struct{}
}

func newTaskQueue(local *LocalTaskQueue, log *logging.Logger) *TaskQueue {
	return &TaskQueue{
		local:    local,
		log:      log,
		incoming: newIncomingMessageTaskQueue(nil, log),
		notify:   make(chan struct{}, 1),
	}
}

func (q *TaskQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *TaskQueue) incomingQueue() *IncomingMessageTaskQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.incoming
}

func (q *TaskQueue) addLocal(ctx context.Context, el *queueElement) error {
	if err := q.local.add(ctx, el); err != nil {
		return err
	}
	q.signal()
	return nil
}

func (q *TaskQueue) addInbound(msg protocol.InboundMessage) {
	q.incomingQueue().add(msg)
	q.signal()
}

// getNextTask returns the next element to run, preferring local tasks. It
// blocks until one is available or ctx is done.
func (q *TaskQueue) getNextTask(ctx context.Context) (*queueElement, error) {
	for {
		if el := q.local.next(); el != nil {
			return el, nil
		}
		if el := q.incomingQueue().next(); el != nil {
			return el, nil
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, stopCause(ctx)
		}
	}
}

func (q *TaskQueue) readMessage(ctx context.Context, filter MessageFilter, bypass bypassFunc) (protocol.InboundMessage, error) {
	return q.incomingQueue().readMessage(ctx, filter, bypass)
}

// recreateIncomingMessageQueue discards everything received on the previous
// connection. Unacknowledged messages are redelivered by the server.
func (q *TaskQueue) recreateIncomingMessageQueue(processor IncomingMessageProcessor) {
	q.mu.Lock()
	old := q.incoming
	q.incoming = newIncomingMessageTaskQueue(processor, q.log)
	q.mu.Unlock()

	if old.hasPending() {
		q.log.Info("flushed incoming message queue", map[string]interface{}{"backlog": old.BacklogLen()})
	}
}

func (q *TaskQueue) hasPendingTasks() bool {
	return q.local.hasPending() || q.incomingQueue().hasPending()
}

func (q *TaskQueue) dropOnDisconnect(err error) int {
	return q.local.dropOnDisconnect(err)
}
