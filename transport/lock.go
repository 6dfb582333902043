package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lock is a connection lock handed out with every inbound message. The
// session is not closed for idleness while a lock is held.
type Lock struct {
	released atomic.Bool
	expires  time.Time
	set      *lockSet
}

// IsHeld reports whether the lock is neither released nor expired.
func (l *Lock) IsHeld() bool {
	if l.released.Load() {
		return false
	}
	return l.expires.IsZero() || time.Now().Before(l.expires)
}

// Release releases the lock. Only the first call has an effect.
func (l *Lock) Release() {
	if l.released.Swap(true) {
		return
	}
	if l.set != nil {
		l.set.remove(l)
	}
}

// lockSet tracks the locks of one session.
type lockSet struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[*Lock]struct{}
}

func newLockSet(timeout time.Duration) *lockSet {
	return &lockSet{timeout: timeout, locks: make(map[*Lock]struct{})}
}

func (s *lockSet) acquire() *Lock {
	l := &Lock{set: s}
	if s.timeout > 0 {
		l.expires = time.Now().Add(s.timeout)
	}
	s.mu.Lock()
	s.locks[l] = struct{}{}
	s.mu.Unlock()
	return l
}

func (s *lockSet) remove(l *Lock) {
	s.mu.Lock()
	delete(s.locks, l)
	s.mu.Unlock()
}

// held reports whether any lock is held and forgets expired ones.
func (s *lockSet) held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := false
	for l := range s.locks {
		if l.IsHeld() {
			held = true
			continue
		}
		delete(s.locks, l)
	}
	return held
}
