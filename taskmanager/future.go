package taskmanager

import (
	"context"
	"sync"
)

// Future is the pending result of a scheduled task.
type Future[R any] struct {
	done   chan struct{}
	once   sync.Once
	result R
	err    error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// complete settles the future. Only the first call has an effect.
func (f *Future[R]) complete(result R, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Done is closed once the task has completed.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the task completes or ctx is done.
func (f *Future[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Err returns the task error once completed, or nil while pending.
func (f *Future[R]) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
