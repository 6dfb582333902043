package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTask(i int) ArchivedTask {
	return ArchivedTask{
		ID:         NewTaskID(),
		Kind:       "reflect",
		Payload:    []byte(fmt.Sprintf("payload-%d", i)),
		ArchivedAt: time.UnixMilli(1700000000000 + int64(i)),
	}
}

// corruptFunc writes an undecodable record into a's backend, after the
// records already there.
type corruptFunc func(t *testing.T, a TaskArchiver)

// testArchiver runs the behaviour every TaskArchiver must share. Backends
// without an encoded form pass a nil corrupt.
func testArchiver(t *testing.T, newArchiver func(t *testing.T) TaskArchiver, corrupt corruptFunc) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		a := newArchiver(t)
		tasks, err := a.LoadAllTasks(ctx)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("insertion order", func(t *testing.T) {
		a := newArchiver(t)
		var want []ArchivedTask
		for i := 0; i < 5; i++ {
			task := sampleTask(i)
			require.NoError(t, a.AddTask(ctx, task))
			want = append(want, task)
		}

		got, err := a.LoadAllTasks(ctx)
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID)
			assert.Equal(t, want[i].Kind, got[i].Kind)
			assert.Equal(t, want[i].Payload, got[i].Payload)
			assert.True(t, want[i].ArchivedAt.Equal(got[i].ArchivedAt))
		}
	})

	t.Run("remove keeps order of the rest", func(t *testing.T) {
		a := newArchiver(t)
		tasks := []ArchivedTask{sampleTask(0), sampleTask(1), sampleTask(2)}
		for _, task := range tasks {
			require.NoError(t, a.AddTask(ctx, task))
		}
		require.NoError(t, a.RemoveTask(ctx, tasks[1].ID))
		require.NoError(t, a.RemoveTask(ctx, "unknown"))

		got, err := a.LoadAllTasks(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, tasks[0].ID, got[0].ID)
		assert.Equal(t, tasks[2].ID, got[1].ID)
	})

	t.Run("duplicate", func(t *testing.T) {
		a := newArchiver(t)
		task := sampleTask(0)
		require.NoError(t, a.AddTask(ctx, task))
		assert.ErrorIs(t, a.AddTask(ctx, task), ErrDuplicateTask)
	})

	t.Run("invalid", func(t *testing.T) {
		a := newArchiver(t)
		assert.ErrorIs(t, a.AddTask(ctx, ArchivedTask{Kind: "x"}), ErrInvalidTask)
		assert.ErrorIs(t, a.AddTask(ctx, ArchivedTask{ID: "x"}), ErrInvalidTask)
	})

	t.Run("corrupt record is skipped and deleted", func(t *testing.T) {
		if corrupt == nil {
			t.Skip("no encoded records")
		}
		a := newArchiver(t)
		first, second := sampleTask(0), sampleTask(1)
		require.NoError(t, a.AddTask(ctx, first))
		corrupt(t, a)
		require.NoError(t, a.AddTask(ctx, second))

		got, err := a.LoadAllTasks(ctx)
		assert.ErrorIs(t, err, ErrCorruptRecord)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)

		got, err = a.LoadAllTasks(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("closed", func(t *testing.T) {
		a := newArchiver(t)
		require.NoError(t, a.Close())
		assert.NoError(t, a.Close())
		assert.ErrorIs(t, a.AddTask(ctx, sampleTask(0)), ErrClosed)
		_, err := a.LoadAllTasks(ctx)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestRecordRoundTrip(t *testing.T) {
	task := sampleTask(3)
	data, err := encodeRecord(task, 17)
	require.NoError(t, err)

	got, seq, err := decodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), seq)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Payload, got.Payload)

	_, _, err = decodeRecord([]byte{0xff})
	assert.Error(t, err)

	empty, err := encMode.Marshal(record{})
	require.NoError(t, err)
	_, _, err = decodeRecord(empty)
	assert.ErrorIs(t, err, ErrInvalidTask)
}
