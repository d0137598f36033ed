package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStopMultiThread(t *testing.T) {
	pool := NewPool(logrus.New(), 4)

	pool.Start()

	pool.Stop(context.Background())

	assert.False(t, pool.running)
}

func TestStopCancelledContext(t *testing.T) {
	pool := NewPool(logrus.New(), DefaultPoolSize)

	pool.Start()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	require.NoError(t, pool.Enqueue(Job{
		Service: "test",
		Executor: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))
	<-started

	cancelledCtx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := pool.Stop(cancelledCtx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopWaitsForRunningExecutors(t *testing.T) {
	pool := NewPool(logrus.New(), 1)

	pool.Start()

	var done atomic.Bool
	started := make(chan struct{})

	pool.Enqueue(Job{
		Service: "test",
		Executor: func(ctx context.Context) error {
			close(started)
			time.Sleep(200 * time.Millisecond)
			done.Store(true)
			return nil
		},
	})
	<-started

	timeout, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, pool.Stop(timeout))

	assert.True(t, done.Load())
}

func TestStopCancelsExecutorContext(t *testing.T) {
	pool := NewPool(logrus.New(), 1)

	pool.Start()

	started := make(chan struct{})
	cancelled := make(chan error, 1)

	pool.Enqueue(Job{
		Service: "test",
		Executor: func(ctx context.Context) error {
			close(started)
			select {
			case <-ctx.Done():
				cancelled <- ctx.Err()
			case <-time.After(3 * time.Second):
				cancelled <- nil
			}
			return nil
		},
	})
	<-started

	timeout, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, pool.Stop(timeout))
	assert.ErrorIs(t, <-cancelled, context.Canceled)
}

func TestStopDiscardsQueuedJobs(t *testing.T) {
	pool := NewPool(logrus.New(), 1)
	pool.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Int32

	pool.Enqueue(Job{Service: "test", Executor: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	for i := 0; i < 5; i++ {
		pool.Enqueue(Job{Service: "test", Executor: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
	}
	assert.Equal(t, 5, pool.Pending())

	stopped := make(chan error)
	go func() {
		stopped <- pool.Stop(context.Background())
	}()

	//Stop is waiting on the running job
	<-time.After(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	assert.Equal(t, int32(0), ran.Load())
	assert.ErrorIs(t, pool.Enqueue(Job{}), ErrPoolStopped)
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	pool := NewPool(logrus.New(), 1)
	pool.Start()
	defer pool.Stop(context.Background())

	var mu sync.Mutex
	var order []int
	wg := sync.WaitGroup{}

	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		pool.Enqueue(Job{Service: "order", Executor: func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}})
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	pool := NewPool(logrus.New(), 1)
	assert.ErrorIs(t, pool.Enqueue(Job{}), ErrNotStarted)
	assert.NoError(t, pool.Stop(context.Background()))
}

func TestExecutorCanError(t *testing.T) {
	pool := NewPool(logrus.New(), 1)
	pool.Start()
	defer pool.Stop(context.Background())

	failed := make(chan struct{})
	pool.Enqueue(Job{
		Service: "test",
		Executor: func(ctx context.Context) error {
			defer close(failed)
			return errors.New("Woopsie")
		},
	})
	<-failed

	ran := make(chan struct{})
	require.NoError(t, pool.Enqueue(Job{Service: "test", Executor: func(ctx context.Context) error {
		close(ran)
		return nil
	}}))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Pool stopped executing after an error")
	}
}

func TestExecutorRecover(t *testing.T) {
	pool := NewPool(logrus.New(), 1)
	pool.Start()
	defer pool.Stop(context.Background())

	pool.Enqueue(Job{
		Service: "panic",
		Executor: func(ctx context.Context) error {
			panic("Panicking!")
		},
	})

	ran := make(chan struct{})
	pool.Enqueue(Job{Service: "test", Executor: func(ctx context.Context) error {
		close(ran)
		return nil
	}})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Panic was not contained to the job")
	}
}
