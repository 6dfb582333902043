package transport

import (
	"sync/atomic"
	"time"
)

// idleWatchdog calls onIdle once the session has seen no traffic for
// timeout while busy reports false.
type idleWatchdog struct {
	timeout       time.Duration
	checkInterval time.Duration
	busy          func() bool
	onIdle        func(idle time.Duration)

	lastActivity atomic.Int64
	fired        atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func newIdleWatchdog(timeout time.Duration, busy func() bool, onIdle func(time.Duration)) *idleWatchdog {
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	w := &idleWatchdog{
		timeout:       timeout,
		checkInterval: interval,
		busy:          busy,
		onIdle:        onIdle,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	w.Touch()
	return w
}

// Touch records traffic.
func (w *idleWatchdog) Touch() {
	w.lastActivity.Store(time.Now().UnixNano())
}

func (w *idleWatchdog) Start() {
	go w.run()
}

func (w *idleWatchdog) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

func (w *idleWatchdog) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case now := <-ticker.C:
			if w.check(now) {
				return
			}
		}
	}
}

// check fires onIdle at most once and reports whether it did.
func (w *idleWatchdog) check(now time.Time) bool {
	idle := now.Sub(time.Unix(0, w.lastActivity.Load()))
	if idle <= w.timeout || w.busy() {
		return false
	}
	if w.fired.Swap(true) {
		return false
	}
	w.onIdle(idle)
	return true
}
