package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrPoolStopped = errors.New("Pool has been stopped")
	ErrNotStarted  = errors.New("Pool has not been started")
)

// DefaultPoolSize is a single worker, which runs jobs strictly in the order
// they were enqueued
const DefaultPoolSize = 1

// Executor is a unit of work. Errors are logged by the pool. ctx is
// cancelled once the pool is stopped.
type Executor func(ctx context.Context) error

// Job is an Executor tagged with the service it runs on behalf of
type Job struct {
	Service  string
	Name     string
	Executor Executor
}

// Pool runs jobs on a fixed number of workers. The queue is unbounded so
// Enqueue never blocks the producer.
//
// Stopping the pool lets jobs that are already executing finish; jobs still
// waiting in the queue are discarded.
type Pool struct {
	logger logrus.FieldLogger

	runningMu sync.Mutex
	running   bool
	stopped   bool
	wg        sync.WaitGroup
	quit      chan struct{}

	queueMu sync.Mutex
	queue   []Job
	ready   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	size int
}

func NewPool(logger logrus.FieldLogger, size int) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger: logger,
		size:   size,
		quit:   make(chan struct{}),
		ready:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers
func (pool *Pool) Start() {
	pool.runningMu.Lock()
	defer pool.runningMu.Unlock()

	if pool.running || pool.stopped {
		return
	}
	pool.running = true

	pool.wg.Add(pool.size)
	for i := 0; i < pool.size; i++ {
		go pool.work()
	}
}

func (pool *Pool) work() {
	defer pool.wg.Done()

	for {
		select {
		case <-pool.quit:
			return
		case <-pool.ready:
		}

		for {
			select {
			case <-pool.quit:
				return
			default:
			}

			job, ok := pool.next()
			if !ok {
				break
			}
			pool.execute(job)
		}
	}
}

// next pops the oldest job, leaving a wakeup behind for other workers if
// more remain
func (pool *Pool) next() (Job, bool) {
	pool.queueMu.Lock()
	defer pool.queueMu.Unlock()

	if len(pool.queue) == 0 {
		return Job{}, false
	}

	job := pool.queue[0]
	pool.queue[0] = Job{}
	pool.queue = pool.queue[1:]

	if len(pool.queue) > 0 {
		pool.signal()
	}
	return job, true
}

func (pool *Pool) signal() {
	select {
	case pool.ready <- struct{}{}:
	default:
	}
}

// execute runs a single job, containing any panic to the job itself
func (pool *Pool) execute(job Job) {
	logger := pool.logger.WithField("service", job.Service)
	if job.Name != "" {
		logger = logger.WithField("job", job.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("Job panicked")
		}
	}()

	if err := job.Executor(pool.ctx); err != nil {
		logger.WithError(err).Error("Job failed")
	}
}

// Enqueue adds the job to the back of the queue
func (pool *Pool) Enqueue(job Job) error {
	pool.runningMu.Lock()
	defer pool.runningMu.Unlock()

	if pool.stopped {
		return ErrPoolStopped
	}
	if !pool.running {
		return ErrNotStarted
	}

	pool.queueMu.Lock()
	pool.queue = append(pool.queue, job)
	pool.queueMu.Unlock()

	pool.signal()
	return nil
}

// Pending is the number of jobs waiting to start
func (pool *Pool) Pending() int {
	pool.queueMu.Lock()
	defer pool.queueMu.Unlock()
	return len(pool.queue)
}

// Stop prevents new jobs from starting and waits for running jobs to
// finish, or for ctx to be done
func (pool *Pool) Stop(ctx context.Context) error {
	pool.runningMu.Lock()
	if pool.stopped {
		pool.runningMu.Unlock()
		return nil
	}
	pool.stopped = true
	wasRunning := pool.running
	pool.running = false
	pool.runningMu.Unlock()

	close(pool.quit)
	pool.cancel()

	pool.queueMu.Lock()
	if dropped := len(pool.queue); dropped > 0 {
		pool.logger.WithField("dropped", dropped).Debug("Discarding queued jobs")
	}
	pool.queue = nil
	pool.queueMu.Unlock()

	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
