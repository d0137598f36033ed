package watcher

import (
	"context"

	internal "github.com/robfig/cron/v3"
)

// Cron is a decorator of the cron lib
// this allows the `HandleFunc(schedule, handler)` pattern to be shared
// with the other watchers
type Cron struct {
	inner *internal.Cron
}

// NewCron constructs a new cron schedule watcher. Schedules take a leading
// seconds field.
func NewCron() *Cron {
	return &Cron{
		inner: internal.New(internal.WithSeconds()),
	}
}

// HandleFunc registers a function to be executed on the provided schedule.
func (cron *Cron) HandleFunc(schedule string, handler func()) error {
	_, err := cron.inner.AddFunc(schedule, handler)
	return err
}

// Start runs the scheduler on its own goroutine
func (cron *Cron) Start() { cron.inner.Start() }

// Stop shuts down the cron watcher and attempts to wait for any currently
// running functions attached to the scheduler to exit before the provided
// context is done.
func (cron *Cron) Stop(ctx context.Context) error {
	runningJobsCtx := cron.inner.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-runningJobsCtx.Done():
		return nil
	}
}
