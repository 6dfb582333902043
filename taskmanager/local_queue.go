package taskmanager

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/vinayprograms/mediatorkit/archive"
	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
)

// LocalTaskQueue is the durable FIFO of tasks scheduled on this device.
// Persistable tasks are archived when added and removed from the archive
// once they complete.
type LocalTaskQueue struct {
	archiver      archive.TaskArchiver
	log           *logging.Logger
	maxExecutions int

	// dispatch runs archive removals. The manager points it at the schedule
	// worker so that the archive is only touched from there.
	dispatch func(func())

	mu       sync.Mutex
	elements []*queueElement
}

func newLocalTaskQueue(archiver archive.TaskArchiver, log *logging.Logger, maxExecutions int) *LocalTaskQueue {
	return &LocalTaskQueue{
		archiver:      archiver,
		log:           log,
		maxExecutions: maxExecutions,
		dispatch:      func(fn func()) { fn() },
	}
}

// replay loads the archive and queues every decodable task in its original
// order. Records without a decoder are logged and removed; corrupt records
// have already been removed by the archiver.
func (q *LocalTaskQueue) replay(ctx context.Context, decoders map[string]TaskDecoder) error {
	tasks, err := q.archiver.LoadAllTasks(ctx)
	switch {
	case stderrors.Is(err, archive.ErrCorruptRecord):
		q.log.Error("dropped corrupt archive records", map[string]interface{}{"error": err.Error()})
	case err != nil:
		return errors.Wrap(err, "load archived tasks")
	}

	for _, archived := range tasks {
		decode, ok := decoders[archived.Kind]
		if !ok {
			q.log.Warn("dropping archived task without decoder", map[string]interface{}{
				"kind": archived.Kind,
				"id":   archived.ID,
			})
			q.unarchive(ctx, archived.ID)
			continue
		}

		task, err := decode(archived.Payload)
		if err != nil {
			q.log.Error("dropping undecodable archived task", map[string]interface{}{
				"kind":  archived.Kind,
				"id":    archived.ID,
				"error": err.Error(),
			})
			q.unarchive(ctx, archived.ID)
			continue
		}

		t := erase(task)
		el := newLocalElement(t, q.maxExecutions, nil)
		el.archiveID = archived.ID
		q.watch(el, func(result any, err error) {
			if err != nil {
				q.log.Warn("replayed task failed", map[string]interface{}{
					"task":  t.Type(),
					"error": err.Error(),
				})
			}
		})

		q.mu.Lock()
		q.elements = append(q.elements, el)
		q.mu.Unlock()
	}

	if len(tasks) > 0 {
		q.log.Info("replayed archived tasks", map[string]interface{}{"count": len(tasks)})
	}
	return nil
}

// add appends an element, archiving it first if its task is persistable.
func (q *LocalTaskQueue) add(ctx context.Context, el *queueElement) error {
	if p, ok := el.task.persistable(); ok {
		kind, payload, err := encodePersistable(p)
		if err != nil {
			return errors.Wrap(err, "encode task for archive", errors.WithTaskType(el.Type()))
		}
		id := archive.NewTaskID()
		err = q.archiver.AddTask(ctx, archive.ArchivedTask{
			ID:         id,
			Kind:       kind,
			Payload:    payload,
			ArchivedAt: time.Now(),
		})
		if err != nil {
			return errors.Wrap(err, "archive task", errors.WithTaskType(el.Type()))
		}
		el.archiveID = id
	}

	q.watch(el, nil)

	q.mu.Lock()
	q.elements = append(q.elements, el)
	q.mu.Unlock()
	return nil
}

// encodePersistable calls into the task's own serialization. Panics come
// back as PANIC errors.
func encodePersistable(p PersistableTask) (kind string, payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	payload, err = p.Payload()
	if err != nil {
		return "", nil, err
	}
	return p.Kind(), payload, nil
}

// watch chains the unarchive step in front of the element's completion.
func (q *LocalTaskQueue) watch(el *queueElement, fallback func(any, error)) {
	el.mu.Lock()
	next := el.onComplete
	if next == nil {
		next = fallback
	}
	el.onComplete = func(result any, err error) {
		if el.archiveID != "" {
			id := el.archiveID
			q.dispatch(func() { q.unarchive(context.Background(), id) })
		}
		if next != nil {
			next(result, err)
		}
	}
	el.mu.Unlock()
}

func (q *LocalTaskQueue) unarchive(ctx context.Context, id string) {
	if err := q.archiver.RemoveTask(ctx, id); err != nil {
		q.log.Error("failed to remove archived task", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}
}

// next drops completed elements from the head and returns the new head
// without removing it, or nil if the queue is empty. The head stays queued
// until it completes.
func (q *LocalTaskQueue) next() *queueElement {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.elements) > 0 {
		head := q.elements[0]
		if !head.isCompleted() {
			return head
		}
		q.elements[0] = nil
		q.elements = q.elements[1:]
	}
	return nil
}

func (q *LocalTaskQueue) hasPending() bool {
	return q.next() != nil
}

// Len returns the number of queued, not yet completed, elements.
func (q *LocalTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, el := range q.elements {
		if !el.isCompleted() {
			n++
		}
	}
	return n
}

// dropOnDisconnect completes every drop-on-disconnect element with err and
// removes it. Completed elements are removed as well.
func (q *LocalTaskQueue) dropOnDisconnect(err error) int {
	q.mu.Lock()
	var (
		kept    []*queueElement
		dropped []*queueElement
	)
	for _, el := range q.elements {
		switch {
		case el.isCompleted():
		case el.drop:
			dropped = append(dropped, el)
		default:
			kept = append(kept, el)
		}
	}
	q.elements = kept
	q.mu.Unlock()

	for _, el := range dropped {
		el.completeExceptionally(err)
	}
	return len(dropped)
}

// abandon completes every pending element with err and empties the queue.
// Archived tasks keep their record so the next manager replays them.
// Callers stop the runner and the schedule worker first.
func (q *LocalTaskQueue) abandon(err error) int {
	q.mu.Lock()
	pending := q.elements
	q.elements = nil
	q.mu.Unlock()

	n := 0
	for _, el := range pending {
		if el.isCompleted() {
			continue
		}
		el.archiveID = ""
		el.completeExceptionally(err)
		n++
	}
	return n
}
