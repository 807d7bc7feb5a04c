package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(3, time.Second, zerolog.Nop())
	pool.Start()

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.True(t, pool.Submit(func() {
			defer wg.Done()
			done.Add(1)
		}))
	}

	wg.Wait()
	pool.Stop()

	assert.Equal(t, int32(20), done.Load())
}

func TestWorkerPoolSurvivesPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(1, time.Second, zerolog.Nop())
	pool.Start()

	ran := make(chan struct{})
	require.True(t, pool.Submit(func() { panic("boom") }))
	require.True(t, pool.Submit(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task after panic never ran")
	}

	pool.Stop()
	assert.Equal(t, 0, pool.Stats().BusyWorkers)
}

func TestWorkerPoolRejectsAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(2, time.Second, zerolog.Nop())
	pool.Start()
	pool.Stop()
	pool.Stop()

	assert.False(t, pool.Submit(func() {}))
}

func TestWorkerPoolSubmitTimesOutWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(1, 20*time.Millisecond, zerolog.Nop())
	pool.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// Воркер занят, буфер на 10 задач заполняем до отказа.
	for i := 0; i < 10; i++ {
		require.True(t, pool.Submit(func() {}))
	}

	assert.False(t, pool.Submit(func() {}))

	stats := pool.Stats()
	assert.Equal(t, 1, stats.BusyWorkers)
	assert.Equal(t, 10, stats.QueueLength)
	assert.Equal(t, 10, stats.QueueCapacity)

	close(release)
	pool.Stop()
}

func TestWorkerPoolStopDrainsAcceptedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(1, time.Second, zerolog.Nop())
	pool.Start()

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, pool.Submit(func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
		}))
	}

	pool.Stop()
	assert.Equal(t, int32(5), done.Load())
}
