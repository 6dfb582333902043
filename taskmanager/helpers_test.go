package taskmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
)

const waitFor = 2 * time.Second

// fakeConn records what the runner writes.
type fakeConn struct {
	mu       sync.Mutex
	sent     []protocol.OutboundMessage
	restarts []time.Duration

	restartCh chan time.Duration

	// onSend runs on the executor goroutine for every write.
	onSend func(protocol.OutboundMessage)
}

func newFakeConn() *fakeConn {
	return &fakeConn{restartCh: make(chan time.Duration, 64)}
}

func (c *fakeConn) SendOutbound(ctx context.Context, msg protocol.OutboundMessage) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	onSend := c.onSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(msg)
	}
	return nil
}

func (c *fakeConn) RestartConnection(delay time.Duration) {
	c.mu.Lock()
	c.restarts = append(c.restarts, delay)
	c.mu.Unlock()
	c.restartCh <- delay
}

func (c *fakeConn) Sent() []protocol.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.OutboundMessage(nil), c.sent...)
}

func (c *fakeConn) awaitRestart(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.restartCh:
		return d
	case <-time.After(waitFor):
		t.Fatal("no connection restart")
		return 0
	}
}

// fakeLock is a connection lock that only records its release.
type fakeLock struct {
	released atomic.Int32
}

func (l *fakeLock) IsHeld() bool { return l.released.Load() == 0 }
func (l *fakeLock) Release()     { l.released.Add(1) }

// recordingProcessor records every message it is handed.
type recordingProcessor struct {
	mu       sync.Mutex
	csp      []*protocol.CspMessage
	d2m      []protocol.InboundMessage
	bypassed []bool
	alerts   []string
	errs     []string
	handled  chan protocol.InboundMessage
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{handled: make(chan protocol.InboundMessage, 64)}
}

func (p *recordingProcessor) ProcessIncomingCspMessage(ctx context.Context, msg *protocol.CspMessage, codec TaskCodec) error {
	p.mu.Lock()
	p.csp = append(p.csp, msg)
	p.mu.Unlock()
	p.handled <- msg
	return nil
}

func (p *recordingProcessor) ProcessIncomingD2mMessage(ctx context.Context, msg protocol.InboundMessage, codec TaskCodec) error {
	_, bypassed := codec.(*bypassCodec)
	p.mu.Lock()
	p.d2m = append(p.d2m, msg)
	p.bypassed = append(p.bypassed, bypassed)
	p.mu.Unlock()
	p.handled <- msg
	return nil
}

func (p *recordingProcessor) ProcessIncomingServerAlert(alert string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
}

func (p *recordingProcessor) ProcessIncomingServerError(canReconnect bool, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, message)
}

func (p *recordingProcessor) cspCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.csp)
}

func (p *recordingProcessor) d2mMessages() ([]protocol.InboundMessage, []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.InboundMessage(nil), p.d2m...), append([]bool(nil), p.bypassed...)
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	m, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func deliver(m *Manager, msgs ...protocol.InboundMessage) {
	for _, msg := range msgs {
		m.ProcessInboundMessage(msg, &fakeLock{})
	}
}

func await[R any](t *testing.T, f *Future[R]) (R, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	r, err := f.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task did not complete")
	return r, err
}

// dropTask is dropped when the connection goes away.
type dropTask struct {
	TaskFunc[int]
}

func (dropTask) DropOnDisconnect() bool { return true }

// persistedTask archives its name.
type persistedTask struct {
	name string
	ran  chan string
}

func (p *persistedTask) Type() string             { return "persisted" }
func (p *persistedTask) Kind() string             { return "persisted" }
func (p *persistedTask) Payload() ([]byte, error) { return []byte(p.name), nil }

func (p *persistedTask) Invoke(ctx context.Context, codec TaskCodec) (any, error) {
	p.ran <- p.name
	return p.name, nil
}

func blockingRead(ctx context.Context, codec TaskCodec) error {
	_, err := codec.Read(ctx, func(protocol.InboundMessage) MessageFilterInstruction { return BypassOrBacklog })
	return err
}

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, code), "want %s, got %v", code, err)
}
