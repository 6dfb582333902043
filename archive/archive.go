package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrClosed        = errors.New("archive closed")
	ErrInvalidTask   = errors.New("invalid archived task")
	ErrDuplicateTask = errors.New("task already archived")
	ErrCorruptRecord = errors.New("corrupt archive record")
)

// ArchivedTask is the persisted form of a local task.
type ArchivedTask struct {
	// ID is unique per scheduled task.
	ID string

	// Kind selects the decoder that turns Payload back into a task.
	Kind string

	// Payload is the task's own serialization.
	Payload []byte

	// ArchivedAt is when the task was added.
	ArchivedAt time.Time
}

// Validate checks that the task can be stored.
func (t ArchivedTask) Validate() error {
	if t.ID == "" || t.Kind == "" {
		return ErrInvalidTask
	}
	return nil
}

// NewTaskID returns a fresh archive id.
func NewTaskID() string {
	return uuid.NewString()
}

// TaskArchiver is a durable log of incomplete local tasks.
type TaskArchiver interface {
	// AddTask appends a task. Returns ErrDuplicateTask if the id exists.
	AddTask(ctx context.Context, task ArchivedTask) error

	// RemoveTask deletes a task. Removing an unknown id is not an error.
	RemoveTask(ctx context.Context, id string) error

	// LoadAllTasks returns every archived task in the order it was added.
	// Records that cannot be decoded are deleted and skipped; the decodable
	// tasks are then returned together with an error wrapping
	// ErrCorruptRecord.
	LoadAllTasks(ctx context.Context) ([]ArchivedTask, error)

	// Close releases the backend.
	Close() error
}

// corruptRecords reports the records a load skipped. Returns nil if none.
func corruptRecords(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d skipped: %w", ErrCorruptRecord, len(errs), errors.Join(errs...))
}
