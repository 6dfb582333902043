package taskmanager

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/mediatorkit/archive"
	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
	"github.com/vinayprograms/mediatorkit/telemetry"
)

// QueueSendCompleteListener is notified when the server has delivered every
// queued message of the current connection. Listeners are called in the
// order they were added.
type QueueSendCompleteListener interface {
	OnQueueSendComplete() error
}

// DeviceCookieManager reacts to device cookie change indications.
type DeviceCookieManager interface {
	// ChangeIndicationReceived is called for every indication. Returning
	// true clears the indication on the server.
	ChangeIndicationReceived() (clearIndication bool, err error)
}

// Manager is the task manager facade.
type Manager struct {
	cfg      Config
	log      *logging.Logger
	tracer   *telemetry.Tracer
	archiver archive.TaskArchiver
	decoders map[string]TaskDecoder
	cookies  DeviceCookieManager

	worker *scheduleWorker
	queue  *TaskQueue
	runner *taskRunner
	locks  *ConnectionLockManager

	processor atomic.Pointer[processorBox]

	listenersMu sync.Mutex
	listeners   []QueueSendCompleteListener

	closed atomic.Bool
}

type processorBox struct {
	p IncomingMessageProcessor
}

// New creates a manager and replays the archived local tasks.
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	m := &Manager{
		cfg:       cfg,
		decoders:  make(map[string]TaskDecoder),
		locks:     NewConnectionLockManager(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.New()
	}
	m.log = m.log.WithComponent("taskmanager")
	if m.tracer == nil {
		m.tracer = telemetry.GetTracer()
	}
	if m.archiver == nil {
		m.archiver = archive.NewMemoryArchiver()
	}

	m.worker = newScheduleWorker(m.log)

	local := newLocalTaskQueue(m.archiver, m.log, cfg.LocalMaxExecutions)
	local.dispatch = m.onScheduleWorker

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ReplayTimeout)
	defer cancel()
	if err := local.replay(ctx, m.decoders); err != nil {
		m.worker.close()
		return nil, err
	}

	m.queue = newTaskQueue(local, m.log)
	m.runner = newTaskRunner(cfg, m.queue, m.log, m.tracer)
	return m, nil
}

// onScheduleWorker runs fn on the schedule worker, or inline once the
// worker is closed.
func (m *Manager) onScheduleWorker(fn func()) {
	if !m.worker.submit(fn) {
		fn()
	}
}

// Schedule queues task and returns its future immediately. A drop-on-
// disconnect task scheduled while the runner is not running fails with
// CONNECTION_UNAVAILABLE and is never queued.
func Schedule[R any](m *Manager, task Task[R]) *Future[R] {
	f := newFuture[R]()
	t := erase(task)

	if t.dropOnDisconnect() && m.State() != StateRunning {
		var zero R
		f.complete(zero, errors.ConnectionUnavailable(errors.WithTaskType(t.Type())))
		return f
	}

	el := newLocalElement(t, m.cfg.LocalMaxExecutions, func(result any, err error) {
		r, _ := result.(R)
		f.complete(r, err)
	})

	ok := m.worker.submit(func() {
		if err := m.queue.addLocal(context.Background(), el); err != nil {
			m.log.Error("failed to queue task", map[string]interface{}{
				"task":  t.Type(),
				"error": err.Error(),
			})
			el.completeExceptionally(err)
		}
	})
	if !ok {
		var zero R
		f.complete(zero, errors.New(errors.ErrCodeUnavailable, "task manager closed", errors.WithTaskType(t.Type())))
	}
	return f
}

// ProcessInboundMessage routes one inbound message. Control-plane messages
// are handled before it returns and lock is released right away. Every
// other message is queued in arrival order; lock is held until the message
// has been enqueued.
func (m *Manager) ProcessInboundMessage(msg protocol.InboundMessage, lock ConnectionLock) {
	if lock == nil {
		lock = releasedLock{}
	}
	if isControlPlane(msg) {
		m.handleControlPlane(msg.(*protocol.CspMessage))
		lock.Release()
		return
	}

	m.locks.AddConnectionLock(lock)
	ok := m.worker.submit(func() {
		m.queue.addInbound(msg)
		lock.Release()
	})
	if !ok {
		lock.Release()
	}
}

func (m *Manager) handleControlPlane(msg *protocol.CspMessage) {
	switch msg.PayloadType {
	case protocol.CspCloseError:
		canReconnect, text, err := msg.ServerError()
		if err != nil {
			m.log.Warn("malformed close error", map[string]interface{}{"error": err.Error()})
			return
		}
		m.log.Warn("server close error", map[string]interface{}{
			"message":       text,
			"can_reconnect": canReconnect,
		})
		if p := m.currentProcessor(); p != nil {
			p.ProcessIncomingServerError(canReconnect, text)
		}

	case protocol.CspAlert:
		text, err := msg.AlertMessage()
		if err != nil {
			m.log.Warn("malformed alert", map[string]interface{}{"error": err.Error()})
			return
		}
		m.log.Info("server alert", map[string]interface{}{"message": text})
		if p := m.currentProcessor(); p != nil {
			p.ProcessIncomingServerAlert(text)
		}

	case protocol.CspQueueSendComplete:
		m.notifyQueueSendComplete()

	case protocol.CspDeviceCookieChangeIndication:
		m.handleDeviceCookieChange()
	}
}

func (m *Manager) handleDeviceCookieChange() {
	if m.cookies == nil {
		m.log.Warn("device cookie change indication received")
		return
	}
	clearIndication, err := m.cookies.ChangeIndicationReceived()
	if err != nil {
		m.log.Error("device cookie change handler failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if clearIndication {
		err := m.runner.sendImmediately(&protocol.OutboundCspMessage{
			PayloadType: protocol.CspClearDeviceCookieChangeIndication,
		})
		if err != nil {
			m.log.Warn("failed to clear device cookie change indication", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (m *Manager) currentProcessor() IncomingMessageProcessor {
	if b := m.processor.Load(); b != nil {
		return b.p
	}
	return nil
}

// AddQueueSendCompleteListener registers l. Adding a listener twice has no
// effect. Listeners whose dynamic type is not comparable, such as func
// types, are always added and cannot be removed.
func (m *Manager) AddQueueSendCompleteListener(l QueueSendCompleteListener) {
	if l == nil {
		return
	}
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for _, existing := range m.listeners {
		if sameListener(existing, l) {
			return
		}
	}
	m.listeners = append(m.listeners, l)
}

// RemoveQueueSendCompleteListener unregisters l.
func (m *Manager) RemoveQueueSendCompleteListener(l QueueSendCompleteListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for i, existing := range m.listeners {
		if sameListener(existing, l) {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

// sameListener compares listeners by identity without panicking on
// non-comparable dynamic types.
func sameListener(a, b QueueSendCompleteListener) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}

func (m *Manager) notifyQueueSendComplete() {
	m.listenersMu.Lock()
	listeners := append([]QueueSendCompleteListener(nil), m.listeners...)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		if err := callListener(l); err != nil {
			m.log.Error("queue send complete listener failed", map[string]interface{}{
				"listener": fmt.Sprintf("%T", l),
				"error":    err.Error(),
			})
		}
	}
}

func callListener(l QueueSendCompleteListener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return l.OnQueueSendComplete()
}

// HasPendingTasks reports whether the local or the incoming queue holds work.
func (m *Manager) HasPendingTasks() bool {
	return m.queue.hasPendingTasks()
}

// StartTaskRunner attaches conn and starts executing tasks. Call it once the
// connection has been established.
func (m *Manager) StartTaskRunner(conn Connection, processor IncomingMessageProcessor) error {
	if m.closed.Load() {
		return errors.New(errors.ErrCodeUnavailable, "task manager closed")
	}
	m.processor.Store(&processorBox{p: processor})
	return m.runner.start(conn, processor)
}

// StopTaskRunner detaches the connection, cancels the running task with a
// CONNECTION_STOPPED error carrying reason and fails every queued
// drop-on-disconnect task. Must not be called from inside a task.
func (m *Manager) StopTaskRunner(reason string) {
	m.runner.stop(reason)
	m.locks.ReleaseConnectionLocks()

	if n := m.queue.dropOnDisconnect(errors.ConnectionStopped(reason)); n > 0 {
		m.log.Info("dropped tasks on disconnect", map[string]interface{}{"count": n})
	}
}

// State returns the runner state.
func (m *Manager) State() RunnerState {
	return m.runner.State()
}

// ReconnectDelay returns the delay the next protocol violation will use.
func (m *Manager) ReconnectDelay() time.Duration {
	return m.runner.ReconnectDelay()
}

// Close stops the runner and the schedule worker and closes the archiver.
// Local tasks that never completed fail with UNAVAILABLE. Persistable ones
// stay archived and are replayed by the next manager on the same archive.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.runner.executorActive() || m.State() != StateStopped {
		m.StopTaskRunner("task manager closed")
	}
	m.worker.close()
	if n := m.queue.local.abandon(errors.New(errors.ErrCodeUnavailable, "task manager closed")); n > 0 {
		m.log.Info("abandoned pending tasks on close", map[string]interface{}{"count": n})
	}
	return m.archiver.Close()
}
