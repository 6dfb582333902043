package taskmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
	"github.com/vinayprograms/mediatorkit/telemetry"
)

// Connection is the transport the runner writes to.
type Connection interface {
	// SendOutbound writes one message.
	SendOutbound(ctx context.Context, msg protocol.OutboundMessage) error

	// RestartConnection tears the connection down and reconnects after
	// delay. It must not block on StopTaskRunner: it is called from the
	// executor goroutine that StopTaskRunner joins.
	RestartConnection(delay time.Duration)
}

// RunnerState is the lifecycle state of the task runner.
type RunnerState int32

const (
	// StateStopped means no connection is attached.
	StateStopped RunnerState = iota

	// StateRunning means a connection is attached and the executor runs.
	StateRunning

	// StateStopping means the executor is being cancelled.
	StateStopping
)

func (s RunnerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// taskRunner owns the single executor goroutine.
type taskRunner struct {
	cfg    Config
	queue  *TaskQueue
	log    *logging.Logger
	tracer *telemetry.Tracer

	// sem makes starts single-flight.
	sem *semaphore.Weighted

	reflectIDs atomic.Uint32

	mu             sync.Mutex
	conn           Connection
	state          RunnerState
	reconnectDelay time.Duration
	cancel         context.CancelCauseFunc
	done           chan struct{}
	healTimer      *time.Timer
}

func newTaskRunner(cfg Config, queue *TaskQueue, log *logging.Logger, tracer *telemetry.Tracer) *taskRunner {
	return &taskRunner{
		cfg:            cfg,
		queue:          queue,
		log:            log,
		tracer:         tracer,
		sem:            semaphore.NewWeighted(1),
		reconnectDelay: cfg.ReconnectMinDelay,
	}
}

func (r *taskRunner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *taskRunner) connection() Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *taskRunner) setState(s RunnerState) {
	from := r.state
	r.state = s
	if from != s {
		r.log.RunnerState(from.String(), s.String())
	}
}

func (r *taskRunner) executorActive() bool {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// start attaches conn and launches the executor. A still active executor is
// stopped first, both before and after the start semaphore is acquired.
func (r *taskRunner) start(conn Connection, processor IncomingMessageProcessor) error {
	r.log.Info("starting task runner")

	if r.executorActive() {
		r.log.Info("stopping previous executor")
		r.stop("superseded by a new connection")
	}

	if err := r.sem.Acquire(context.Background(), 1); err != nil {
		return errors.Wrap(err, "acquire start semaphore")
	}
	defer r.sem.Release(1)

	if r.executorActive() {
		r.log.Info("executor started while waiting, stopping it")
		r.stop("superseded by a new connection")
	}

	r.queue.recreateIncomingMessageQueue(processor)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.conn = conn
	r.cancel = cancel
	r.done = done
	if r.healTimer != nil {
		r.healTimer.Stop()
		r.healTimer = nil
	}
	r.setState(StateRunning)
	r.mu.Unlock()

	go r.execute(ctx, done, conn, processor)

	r.log.Info("task runner started")
	return nil
}

// stop detaches the connection, cancels the executor with a
// CONNECTION_STOPPED error carrying reason and waits for it to exit.
func (r *taskRunner) stop(reason string) {
	r.mu.Lock()
	r.conn = nil
	if r.healTimer != nil {
		r.healTimer.Stop()
		r.healTimer = nil
	}
	cancel, done := r.cancel, r.done
	if done == nil {
		r.mu.Unlock()
		r.log.Warn("tried to stop task runner before starting it")
		return
	}
	r.setState(StateStopping)
	r.mu.Unlock()

	r.log.Info("stopping task runner", map[string]interface{}{"reason": reason})
	cancel(errors.ConnectionStopped(reason))
	<-done

	r.mu.Lock()
	if r.done == done {
		r.setState(StateStopped)
	}
	r.mu.Unlock()
	r.log.Info("executor cancelled and joined")
}

func (r *taskRunner) execute(ctx context.Context, done chan struct{}, conn Connection, processor IncomingMessageProcessor) {
	defer close(done)

	err := r.loop(ctx)

	switch {
	case err == nil, errors.Is(err, errors.ErrCodeConnectionStopped), errors.Is(err, errors.ErrCodeConnectionUnavailable):
		// The connection ended or was superseded. The next connection
		// starts the runner again.
		r.log.Info("task executor stopped", errFields(err))

	case errors.Is(err, errors.ErrCodeProtocolViolation):
		r.restartConnection(conn, err)

	default:
		r.log.Error("task executor failed, restarting", map[string]interface{}{
			"error": err.Error(),
			"delay": r.cfg.SelfHealDelay.String(),
		})
		r.scheduleSelfHeal(conn, processor)
	}
}

func (r *taskRunner) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return stopCause(ctx)
		}
		if err := r.runNextTask(ctx); err != nil {
			return err
		}
		// The task that just succeeded need not be the one that caused
		// earlier reconnects.
		r.resetReconnectDelay()
	}
}

// runNextTask runs the next element until it completes. Errors other than
// network errors are retried up to the element's execution limit. A network
// error is returned and ends the executor run.
func (r *taskRunner) runNextTask(ctx context.Context) error {
	el, err := r.queue.getNextTask(ctx)
	if err != nil {
		return err
	}

	codec := &runnerCodec{runner: r}
	attempts := 0
	for !el.isCompleted() {
		attempts++
		r.log.TaskStart(el.Type(), attempts)

		started := time.Now()
		spanCtx, span := r.tracer.StartTaskSpan(ctx, el.Type(), attempts)
		err := el.run(spanCtx, codec)
		if err != nil && ctx.Err() != nil && !errors.IsNetwork(err) {
			err = stopCause(ctx)
		}
		r.tracer.EndTaskSpan(span, err)

		if err == nil {
			r.log.TaskComplete(el.Type(), time.Since(started))
			continue
		}

		if errors.IsNetwork(err) {
			if el.drop {
				el.completeExceptionally(err)
			}
			return err
		}

		final := attempts >= el.maxExecutions
		r.log.TaskFailed(el.Type(), attempts, err, final)
		if final {
			el.completeExceptionally(err)
		}
	}
	return nil
}

// runBypass runs a bypassed element inline on the bypass codec. Only network
// errors are returned; anything else completes the element and is logged.
func (r *taskRunner) runBypass(ctx context.Context, el *queueElement) error {
	err := el.run(ctx, &bypassCodec{runner: r})
	if err == nil {
		return nil
	}
	if errors.IsNetwork(err) {
		return err
	}
	r.log.TaskFailed(el.Type(), 1, err, true)
	el.completeExceptionally(err)
	return nil
}

func (r *taskRunner) write(ctx context.Context, msg protocol.OutboundMessage) error {
	conn := r.connection()
	if conn == nil {
		<-ctx.Done()
		return stopCause(ctx)
	}
	if err := conn.SendOutbound(ctx, msg); err != nil {
		if errors.IsNetwork(err) {
			return err
		}
		if ctx.Err() != nil {
			return stopCause(ctx)
		}
		return errors.ConnectionStopped("send "+msg.Name()+" failed", errors.WithCause(err))
	}
	return nil
}

// sendImmediately writes outside of any task. Only the manager uses it, for
// replies the protocol requires without a task.
func (r *taskRunner) sendImmediately(msg protocol.OutboundMessage) error {
	conn := r.connection()
	if conn == nil {
		return errors.ConnectionUnavailable()
	}
	return conn.SendOutbound(context.Background(), msg)
}

func (r *taskRunner) nextReflectID() protocol.ReflectID {
	return protocol.ReflectID(r.reflectIDs.Add(1) - 1)
}

func (r *taskRunner) resetReconnectDelay() {
	r.mu.Lock()
	r.reconnectDelay = r.cfg.ReconnectMinDelay
	r.mu.Unlock()
}

// ReconnectDelay returns the delay the next protocol violation will use.
func (r *taskRunner) ReconnectDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnectDelay
}

func (r *taskRunner) restartConnection(conn Connection, cause error) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	delay := r.reconnectDelay
	r.reconnectDelay *= 2
	if r.reconnectDelay > r.cfg.ReconnectMaxDelay {
		r.reconnectDelay = r.cfg.ReconnectMaxDelay
	}
	r.mu.Unlock()

	r.log.Reconnect(delay, cause)
	conn.RestartConnection(delay)
}

func (r *taskRunner) scheduleSelfHeal(conn Connection, processor IncomingMessageProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != conn {
		return
	}
	if r.healTimer != nil {
		r.healTimer.Stop()
	}
	r.healTimer = time.AfterFunc(r.cfg.SelfHealDelay, func() {
		if r.connection() != conn {
			return
		}
		if err := r.start(conn, processor); err != nil {
			r.log.Error("self-heal restart failed", map[string]interface{}{"error": err.Error()})
		}
	})
}

func errFields(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"reason": err.Error()}
	if code := errors.Code(err); code != "" {
		fields["code"] = code.String()
		fields["category"] = errors.Category(err).String()
	}
	return fields
}
