package archive

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryArchiver keeps archived tasks in process memory.
// Useful for testing and for clients that accept losing queued work on exit.
type MemoryArchiver struct {
	mu     sync.Mutex
	tasks  []ArchivedTask
	closed atomic.Bool
}

// NewMemoryArchiver creates an empty in-memory archiver.
func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{}
}

// AddTask appends a task.
func (a *MemoryArchiver) AddTask(ctx context.Context, task ArchivedTask) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := task.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range a.tasks {
		if t.ID == task.ID {
			return ErrDuplicateTask
		}
	}
	task.Payload = append([]byte(nil), task.Payload...)
	a.tasks = append(a.tasks, task)
	return nil
}

// RemoveTask deletes a task by id.
func (a *MemoryArchiver) RemoveTask(ctx context.Context, id string) error {
	if a.closed.Load() {
		return ErrClosed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, t := range a.tasks {
		if t.ID == id {
			a.tasks = append(a.tasks[:i], a.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

// LoadAllTasks returns a copy of the archived tasks in insertion order.
func (a *MemoryArchiver) LoadAllTasks(ctx context.Context) ([]ArchivedTask, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ArchivedTask, len(a.tasks))
	copy(out, a.tasks)
	return out, nil
}

// Len returns the number of archived tasks.
func (a *MemoryArchiver) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

// Close marks the archiver closed. The contents are dropped.
func (a *MemoryArchiver) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.mu.Lock()
	a.tasks = nil
	a.mu.Unlock()
	return nil
}
