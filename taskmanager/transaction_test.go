package taskmanager

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/protocol"
)

// scriptedCodec answers reads from a fixed list of inbound messages. Every
// message the filter passes over is skipped.
type scriptedCodec struct {
	inbound []protocol.InboundMessage
	written []protocol.OutboundMessage
	readErr error
}

func (c *scriptedCodec) Read(ctx context.Context, filter MessageFilter) (protocol.InboundMessage, error) {
	for len(c.inbound) > 0 {
		msg := c.inbound[0]
		c.inbound = c.inbound[1:]
		switch filter(msg) {
		case Accept:
			return msg, nil
		case Reject:
			return nil, errors.ProtocolViolation("rejected " + msg.Name())
		}
	}
	if c.readErr != nil {
		return nil, c.readErr
	}
	return nil, fmt.Errorf("script exhausted")
}

func (c *scriptedCodec) Write(ctx context.Context, msg protocol.OutboundMessage) error {
	c.written = append(c.written, msg)
	return nil
}

func (c *scriptedCodec) Reflect(ctx context.Context, envelope EncryptedEnvelope) (protocol.ReflectID, error) {
	return 0, nil
}

func (c *scriptedCodec) ReflectAndAwaitAck(ctx context.Context, envelope EncryptedEnvelope, storeNonce bool, nonces NonceStore) (uint64, error) {
	return 0, nil
}

func (c *scriptedCodec) count() (begins, commits int) {
	for _, m := range c.written {
		switch m.(type) {
		case *protocol.BeginTransaction:
			begins++
		case *protocol.CommitTransaction:
			commits++
		}
	}
	return begins, commits
}

func TestTransaction_Commits(t *testing.T) {
	codec := &scriptedCodec{inbound: []protocol.InboundMessage{
		&protocol.BeginTransactionAck{},
		&protocol.CommitTransactionAck{},
	}}

	ran := false
	err := NewTransactionScope(codec, []byte("contacts")).Execute(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	require.Len(t, codec.written, 2)
	begin := codec.written[0].(*protocol.BeginTransaction)
	assert.Equal(t, []byte("contacts"), begin.EncryptedScope)
	assert.IsType(t, &protocol.CommitTransaction{}, codec.written[1])
}

func TestTransaction_RetriesAfterRejection(t *testing.T) {
	const rejections = 3
	var script []protocol.InboundMessage
	for i := 0; i < rejections; i++ {
		script = append(script,
			&protocol.TransactionRejected{DeviceID: 9},
			// Another device's end does not release the lock held by 9.
			&protocol.TransactionEnded{DeviceID: 4},
			&protocol.TransactionEnded{DeviceID: 9},
		)
	}
	script = append(script, &protocol.BeginTransactionAck{}, &protocol.CommitTransactionAck{})
	codec := &scriptedCodec{inbound: script}

	result, err := RunTransaction(context.Background(), NewTransactionScope(codec, []byte("s")), func(ctx context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)

	begins, commits := codec.count()
	assert.Equal(t, rejections+1, begins)
	assert.Equal(t, 1, commits)
	assert.Empty(t, codec.inbound)
}

func TestTransaction_PreconditionFailsBeforeBegin(t *testing.T) {
	codec := &scriptedCodec{}

	err := NewTransactionScope(codec, []byte("s"), WithPrecondition(func() bool { return false })).
		Execute(context.Background(), func(ctx context.Context) error {
			t.Fatal("block must not run")
			return nil
		})
	requireCode(t, err, errors.ErrCodeTransactionAborted)
	assert.Empty(t, codec.written)
}

func TestTransaction_PreconditionFailsAfterAck(t *testing.T) {
	codec := &scriptedCodec{inbound: []protocol.InboundMessage{
		&protocol.BeginTransactionAck{},
		&protocol.CommitTransactionAck{},
	}}

	checks := 0
	precondition := func() bool {
		checks++
		return checks == 1
	}
	err := NewTransactionScope(codec, []byte("s"), WithPrecondition(precondition)).
		Execute(context.Background(), func(ctx context.Context) error {
			t.Fatal("block must not run")
			return nil
		})
	requireCode(t, err, errors.ErrCodeTransactionAborted)

	begins, commits := codec.count()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, commits, "the lock is released even when aborting")
}

func TestTransaction_BlockErrorStillCommits(t *testing.T) {
	codec := &scriptedCodec{inbound: []protocol.InboundMessage{
		&protocol.BeginTransactionAck{},
		&protocol.CommitTransactionAck{},
	}}

	err := NewTransactionScope(codec, []byte("s")).Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("block failed")
	})
	assert.EqualError(t, err, "block failed")
	_, commits := codec.count()
	assert.Equal(t, 1, commits)
}

func TestTransaction_PanicStillCommits(t *testing.T) {
	t.Run("block", func(t *testing.T) {
		codec := &scriptedCodec{inbound: []protocol.InboundMessage{
			&protocol.BeginTransactionAck{},
			&protocol.CommitTransactionAck{},
		}}

		err := NewTransactionScope(codec, []byte("s")).Execute(context.Background(), func(ctx context.Context) error {
			panic("block exploded")
		})
		requireCode(t, err, errors.ErrCodePanic)
		begins, commits := codec.count()
		assert.Equal(t, 1, begins)
		assert.Equal(t, 1, commits)
	})

	t.Run("precondition re-check", func(t *testing.T) {
		codec := &scriptedCodec{inbound: []protocol.InboundMessage{
			&protocol.BeginTransactionAck{},
			&protocol.CommitTransactionAck{},
		}}

		checks := 0
		precondition := func() bool {
			checks++
			if checks > 1 {
				panic("state gone")
			}
			return true
		}
		err := NewTransactionScope(codec, []byte("s"), WithPrecondition(precondition)).
			Execute(context.Background(), func(ctx context.Context) error {
				t.Fatal("block must not run")
				return nil
			})
		requireCode(t, err, errors.ErrCodePanic)
		_, commits := codec.count()
		assert.Equal(t, 1, commits)
	})
}

// TestTransaction_PanicRetriedInsideTask checks that a retried task never
// begins a second transaction while the first is uncommitted.
func TestTransaction_PanicRetriedInsideTask(t *testing.T) {
	m := newTestManager(t)
	conn := newFakeConn()
	conn.onSend = func(msg protocol.OutboundMessage) {
		switch msg.(type) {
		case *protocol.BeginTransaction:
			deliver(m, &protocol.BeginTransactionAck{})
		case *protocol.CommitTransaction:
			deliver(m, &protocol.CommitTransactionAck{})
		}
	}
	require.NoError(t, m.StartTaskRunner(conn, newRecordingProcessor()))

	attempts := 0
	f := Schedule[string](m, TaskFunc[string]{
		Name: "transaction",
		Fn: func(ctx context.Context, codec TaskCodec) (string, error) {
			return RunTransaction(ctx, NewTransactionScope(codec, []byte("s")), func(ctx context.Context) (string, error) {
				attempts++
				if attempts == 1 {
					panic("first attempt")
				}
				return "ok", nil
			})
		},
	})

	r, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "ok", r)

	var names []string
	for _, msg := range conn.Sent() {
		names = append(names, msg.Name())
	}
	assert.Equal(t, []string{
		"begin-transaction", "commit-transaction",
		"begin-transaction", "commit-transaction",
	}, names)
}

func TestTransaction_NetworkErrorSkipsCommit(t *testing.T) {
	codec := &scriptedCodec{inbound: []protocol.InboundMessage{&protocol.BeginTransactionAck{}}}

	err := NewTransactionScope(codec, []byte("s")).Execute(context.Background(), func(ctx context.Context) error {
		return errors.ConnectionStopped("gone")
	})
	requireCode(t, err, errors.ErrCodeConnectionStopped)
	_, commits := codec.count()
	assert.Zero(t, commits)
}

func TestTransaction_ReadErrorDuringBegin(t *testing.T) {
	codec := &scriptedCodec{readErr: errors.ConnectionStopped("gone")}

	err := NewTransactionScope(codec, []byte("s")).Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("block must not run")
		return nil
	})
	requireCode(t, err, errors.ErrCodeConnectionStopped)
}

// TestTransaction_InsideTask runs a transaction through the manager with the
// mediator replies arriving as inbound messages.
func TestTransaction_InsideTask(t *testing.T) {
	m := newTestManager(t)
	conn := newFakeConn()
	conn.onSend = func(msg protocol.OutboundMessage) {
		switch msg.(type) {
		case *protocol.BeginTransaction:
			deliver(m, &protocol.BeginTransactionAck{})
		case *protocol.CommitTransaction:
			deliver(m, &protocol.CommitTransactionAck{})
		}
	}
	proc := newRecordingProcessor()
	require.NoError(t, m.StartTaskRunner(conn, proc))

	f := Schedule[int](m, TaskFunc[int]{
		Name: "transaction",
		Fn: func(ctx context.Context, codec TaskCodec) (int, error) {
			return RunTransaction(ctx, NewTransactionScope(codec, []byte("s"), WithScopeName("contacts")), func(ctx context.Context) (int, error) {
				return 42, codec.Write(ctx, &protocol.SetSharedDeviceData{Data: []byte{1}})
			})
		},
	})

	r, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, 42, r)

	sent := conn.Sent()
	require.Len(t, sent, 3)
	assert.IsType(t, &protocol.BeginTransaction{}, sent[0])
	assert.IsType(t, &protocol.SetSharedDeviceData{}, sent[1])
	assert.IsType(t, &protocol.CommitTransaction{}, sent[2])
	assert.Zero(t, proc.cspCount())
}
