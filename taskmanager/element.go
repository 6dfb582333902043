package taskmanager

import (
	"context"
	"sync"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/protocol"
)

const (
	// DefaultLocalMaxExecutions is how often a local task is attempted.
	DefaultLocalMaxExecutions = 5

	// inboundMaxExecutions is 1: replaying an inbound message is unsafe.
	inboundMaxExecutions = 1
)

// queueElement wraps a task while it waits in, and runs from, a queue.
type queueElement struct {
	task          erasedTask
	maxExecutions int
	drop          bool

	// archiveID is set for local tasks that were archived.
	archiveID string

	// inbound is set for elements built from an inbound message.
	inbound protocol.InboundMessage

	mu         sync.Mutex
	completed  bool
	onComplete func(result any, err error)
}

func newLocalElement(task erasedTask, maxExecutions int, onComplete func(any, error)) *queueElement {
	if maxExecutions <= 0 {
		maxExecutions = DefaultLocalMaxExecutions
	}
	return &queueElement{
		task:          task,
		maxExecutions: maxExecutions,
		drop:          task.dropOnDisconnect(),
		onComplete:    onComplete,
	}
}

func newInboundElement(task erasedTask, msg protocol.InboundMessage) *queueElement {
	return &queueElement{
		task:          task,
		maxExecutions: inboundMaxExecutions,
		inbound:       msg,
	}
}

// run invokes the task once. A successful invocation completes the element.
// Panics are returned as PANIC errors.
func (e *queueElement) run(ctx context.Context, codec TaskCodec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(errors.RecoverPanic(r), "task panicked", errors.WithTaskType(e.task.Type()))
		}
	}()

	result, err := e.task.invoke(ctx, codec)
	if err != nil {
		return err
	}
	e.finish(result, nil)
	return nil
}

func (e *queueElement) completeExceptionally(err error) {
	e.finish(nil, err)
}

func (e *queueElement) finish(result any, err error) {
	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		return
	}
	e.completed = true
	cb := e.onComplete
	e.mu.Unlock()

	if cb != nil {
		cb(result, err)
	}
}

func (e *queueElement) isCompleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

func (e *queueElement) Type() string {
	return e.task.Type()
}
