package taskmanager

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/mediatorkit/logging"
)

func TestScheduleWorker_RunsInOrder(t *testing.T) {
	w := newScheduleWorker(logging.Nop())
	defer w.close()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, w.submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	w.sync()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestScheduleWorker_CloseDrains(t *testing.T) {
	w := newScheduleWorker(logging.Nop())

	ran := 0
	block := make(chan struct{})
	w.submit(func() { <-block })
	for i := 0; i < 5; i++ {
		w.submit(func() { ran++ })
	}
	close(block)
	w.close()

	assert.Equal(t, 5, ran)
	assert.False(t, w.submit(func() {}))
	w.sync()
	w.close()
}

func TestScheduleWorker_JobCanSubmit(t *testing.T) {
	w := newScheduleWorker(logging.Nop())
	defer w.close()

	done := make(chan struct{})
	w.submit(func() {
		w.submit(func() { close(done) })
	})
	<-done
}

func TestScheduleWorker_SurvivesPanickingJob(t *testing.T) {
	w := newScheduleWorker(logging.Nop())
	defer w.close()

	ran := false
	w.submit(func() { panic("job exploded") })
	w.submit(func() { ran = true })
	w.sync()
	assert.True(t, ran)
}
