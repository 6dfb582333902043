package taskmanager

import (
	"sync"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
)

// scheduleWorker runs submitted jobs one at a time in submission order.
// Submitting never blocks. A panicking job is logged and the worker moves on.
type scheduleWorker struct {
	log *logging.Logger

	mu     sync.Mutex
	jobs   []func()
	closed bool

	wake   chan struct{}
	doneCh chan struct{}
}

func newScheduleWorker(log *logging.Logger) *scheduleWorker {
	w := &scheduleWorker{
		log:    log,
		wake:   make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	go w.run()
	return w
}

// submit queues fn. Returns false once the worker is closed.
func (w *scheduleWorker) submit(fn func()) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.jobs = append(w.jobs, fn)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

func (w *scheduleWorker) run() {
	defer close(w.doneCh)
	for {
		w.mu.Lock()
		jobs := w.jobs
		w.jobs = nil
		closed := w.closed
		w.mu.Unlock()

		for _, job := range jobs {
			w.runJob(job)
		}
		if closed && len(jobs) == 0 {
			return
		}
		if len(jobs) == 0 {
			<-w.wake
		}
	}
}

func (w *scheduleWorker) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("schedule job panicked", map[string]interface{}{
				"error": errors.RecoverPanic(r).Error(),
			})
		}
	}()
	job()
}

// sync waits until every job submitted before the call has run.
func (w *scheduleWorker) sync() {
	done := make(chan struct{})
	if !w.submit(func() { close(done) }) {
		return
	}
	<-done
}

// close runs the remaining jobs and stops the worker.
func (w *scheduleWorker) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.doneCh
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.doneCh
}
