package taskmanager

import "sync"

// ConnectionLock keeps the connection alive while an inbound message is
// being routed.
type ConnectionLock interface {
	IsHeld() bool
	Release()
}

// ConnectionLockManager tracks the locks of messages that have not been
// enqueued yet.
type ConnectionLockManager struct {
	mu    sync.Mutex
	locks []ConnectionLock
}

// NewConnectionLockManager creates an empty lock manager.
func NewConnectionLockManager() *ConnectionLockManager {
	return &ConnectionLockManager{}
}

// AddConnectionLock appends lock and drops locks that are no longer held.
func (m *ConnectionLockManager) AddConnectionLock(lock ConnectionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.locks = append(m.locks, lock)
	kept := m.locks[:0]
	for _, l := range m.locks {
		if l.IsHeld() {
			kept = append(kept, l)
		}
	}
	for i := len(kept); i < len(m.locks); i++ {
		m.locks[i] = nil
	}
	m.locks = kept
}

// ReleaseConnectionLocks releases and forgets every tracked lock.
// Safe to call repeatedly.
func (m *ConnectionLockManager) ReleaseConnectionLocks() {
	m.mu.Lock()
	locks := m.locks
	m.locks = nil
	m.mu.Unlock()

	for _, l := range locks {
		l.Release()
	}
}

// Len returns the number of tracked locks.
func (m *ConnectionLockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

type releasedLock struct{}

func (releasedLock) IsHeld() bool { return false }
func (releasedLock) Release()     {}
