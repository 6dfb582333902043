package taskmanager

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/mediatorkit/archive"
	"github.com/vinayprograms/mediatorkit/errors"
	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/protocol"
)

func newTestQueue(a archive.TaskArchiver) *TaskQueue {
	log := logging.Nop()
	return newTaskQueue(newLocalTaskQueue(a, log, DefaultLocalMaxExecutions), log)
}

func localElement(name string, onComplete func(any, error)) *queueElement {
	return newLocalElement(erase[int](TaskFunc[int]{Name: name}), DefaultLocalMaxExecutions, onComplete)
}

func TestTaskQueue_PrefersLocalTasks(t *testing.T) {
	q := newTestQueue(archive.NewMemoryArchiver())
	ctx := context.Background()

	msg := &protocol.CspMessage{PayloadType: protocol.CspIncomingMessage}
	q.addInbound(msg)
	local := localElement("local", nil)
	require.NoError(t, q.addLocal(ctx, local))

	el, err := q.getNextTask(ctx)
	require.NoError(t, err)
	assert.Same(t, local, el)

	// The head stays queued until it completes.
	el, err = q.getNextTask(ctx)
	require.NoError(t, err)
	assert.Same(t, local, el)

	local.finish(nil, nil)
	el, err = q.getNextTask(ctx)
	require.NoError(t, err)
	assert.Same(t, msg, el.inbound)
	assert.False(t, q.hasPendingTasks())
}

func TestTaskQueue_GetNextTaskWaits(t *testing.T) {
	q := newTestQueue(archive.NewMemoryArchiver())

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.addInbound(&protocol.DevicesInfo{})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	el, err := q.getNextTask(ctx)
	require.NoError(t, err)
	assert.IsType(t, &protocol.DevicesInfo{}, el.inbound)

	stopped, stop := context.WithCancelCause(context.Background())
	stop(errors.ConnectionStopped("bye"))
	_, err = q.getNextTask(stopped)
	requireCode(t, err, errors.ErrCodeConnectionStopped)
}

func TestTaskQueue_RecreateFlushesIncoming(t *testing.T) {
	q := newTestQueue(archive.NewMemoryArchiver())
	q.addInbound(&protocol.DevicesInfo{})
	require.True(t, q.hasPendingTasks())

	q.recreateIncomingMessageQueue(newRecordingProcessor())
	assert.False(t, q.hasPendingTasks())
}

func TestLocalQueue_DropOnDisconnect(t *testing.T) {
	q := newTestQueue(archive.NewMemoryArchiver())
	ctx := context.Background()

	var dropErr error
	dropped := newLocalElement(erase[int](dropTask{TaskFunc[int]{Name: "drop"}}), DefaultLocalMaxExecutions, func(_ any, err error) {
		dropErr = err
	})
	kept := localElement("kept", nil)
	require.NoError(t, q.addLocal(ctx, dropped))
	require.NoError(t, q.addLocal(ctx, kept))

	n := q.dropOnDisconnect(errors.ConnectionStopped("lost"))
	assert.Equal(t, 1, n)
	requireCode(t, dropErr, errors.ErrCodeConnectionStopped)
	assert.Equal(t, 1, q.local.Len())
}

type failingPayload struct{ persistedTask }

func (failingPayload) Payload() ([]byte, error) { return nil, fmt.Errorf("not encodable") }

type panickingPayload struct{ persistedTask }

func (panickingPayload) Payload() ([]byte, error) { panic("payload exploded") }

func TestLocalQueue_ArchivesPersistableTasks(t *testing.T) {
	a := archive.NewMemoryArchiver()
	q := newTestQueue(a)
	ctx := context.Background()

	el := newLocalElement(erase[any](&persistedTask{name: "p"}), DefaultLocalMaxExecutions, nil)
	require.NoError(t, q.addLocal(ctx, el))
	assert.Equal(t, 1, a.Len())
	assert.NotEmpty(t, el.archiveID)

	el.finish("p", nil)
	assert.Zero(t, a.Len())

	bad := newLocalElement(erase[any](&failingPayload{}), DefaultLocalMaxExecutions, nil)
	assert.Error(t, q.addLocal(ctx, bad))
	assert.Zero(t, a.Len())

	panicky := newLocalElement(erase[any](&panickingPayload{}), DefaultLocalMaxExecutions, nil)
	requireCode(t, q.addLocal(ctx, panicky), errors.ErrCodePanic)
	assert.Zero(t, a.Len())
	assert.Zero(t, q.local.Len())
}

func TestLocalQueue_ReplayDropsUndecodable(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchiver()
	require.NoError(t, a.AddTask(ctx, archive.ArchivedTask{ID: "1", Kind: "broken", Payload: []byte("x")}))

	q := newLocalTaskQueue(a, logging.Nop(), DefaultLocalMaxExecutions)
	err := q.replay(ctx, map[string]TaskDecoder{
		"broken": func([]byte) (Task[any], error) { return nil, fmt.Errorf("bad payload") },
	})
	require.NoError(t, err)
	assert.Zero(t, a.Len())
	assert.Zero(t, q.Len())
}

// corruptArchive returns its tasks together with a corrupt-record error, the
// way a persistent archiver reports records it had to skip.
type corruptArchive struct {
	*archive.MemoryArchiver
}

func (a corruptArchive) LoadAllTasks(ctx context.Context) ([]archive.ArchivedTask, error) {
	tasks, err := a.MemoryArchiver.LoadAllTasks(ctx)
	if err != nil {
		return nil, err
	}
	return tasks, fmt.Errorf("%w: record 63", archive.ErrCorruptRecord)
}

func TestLocalQueue_ReplaySurvivesCorruptRecords(t *testing.T) {
	ctx := context.Background()
	a := corruptArchive{archive.NewMemoryArchiver()}
	require.NoError(t, a.AddTask(ctx, archive.ArchivedTask{ID: "1", Kind: "persisted", Payload: []byte("first")}))
	require.NoError(t, a.AddTask(ctx, archive.ArchivedTask{ID: "2", Kind: "persisted", Payload: []byte("second")}))

	q := newLocalTaskQueue(a, logging.Nop(), DefaultLocalMaxExecutions)
	err := q.replay(ctx, map[string]TaskDecoder{
		"persisted": func(payload []byte) (Task[any], error) {
			return &persistedTask{name: string(payload)}, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, q.Len())
	assert.Equal(t, "persisted", q.next().Type())
}

func TestLocalQueue_ReplayFailsOnLoadError(t *testing.T) {
	ctx := context.Background()
	a := archive.NewMemoryArchiver()
	require.NoError(t, a.Close())

	q := newLocalTaskQueue(a, logging.Nop(), DefaultLocalMaxExecutions)
	assert.ErrorIs(t, q.replay(ctx, nil), archive.ErrClosed)
}
