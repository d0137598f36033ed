package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/sirupsen/logrus"
)

// DefaultProcessInterval is how often the process table is sampled
const DefaultProcessInterval = time.Second

type processEntry struct {
	executable string
	isRunning  bool
	//handler fires each time executable goes from running to not running
	handler func()
}

// Process watches the process table for executables exiting
type Process struct {
	runningMu sync.Mutex
	isRunning bool
	stopped   bool
	close     chan struct{}
	done      chan struct{}

	logger   logrus.FieldLogger
	interval time.Duration
	//source is the process table, replaced in tests
	source func() ([]ps.Process, error)

	entries []*processEntry
}

func NewProcess(logger logrus.FieldLogger) *Process {
	return &Process{
		close:    make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
		interval: DefaultProcessInterval,
		source:   ps.Processes,
	}
}

// OnExit registers handler to run whenever executable stops running.
// Must be called before Run.
func (p *Process) OnExit(executable string, handler func()) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	p.entries = append(p.entries, &processEntry{
		executable: executable,
		handler:    handler,
	})
}

func (p *Process) snapshot() (map[string]struct{}, error) {
	processes, err := p.source()
	if err != nil {
		return nil, err
	}

	running := make(map[string]struct{}, len(processes))
	for _, process := range processes {
		running[process.Executable()] = struct{}{}
	}
	return running, nil
}

// Run samples the process table until Stop is called. The state at the time
// Run starts is the baseline, so a process that is already running fires
// its handler when it exits.
func (p *Process) Run() error {
	p.runningMu.Lock()
	if p.stopped {
		p.runningMu.Unlock()
		return nil
	}
	if p.isRunning {
		p.runningMu.Unlock()
		return ErrAlreadyRunning
	}
	p.isRunning = true
	p.runningMu.Unlock()

	defer close(p.done)

	running, err := p.snapshot()
	if err != nil {
		return err
	}
	for _, entry := range p.entries {
		_, entry.isRunning = running[entry.executable]
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.close:
			return nil
		case <-ticker.C:
		}

		running, err := p.snapshot()
		if err != nil {
			p.logger.WithError(err).Warn("Failed to read process table")
			continue
		}

		for _, entry := range p.entries {
			_, isRunning := running[entry.executable]

			if !isRunning && entry.isRunning {
				entry.handler()
			}

			entry.isRunning = isRunning
		}
	}
}

// Stop ends Run and waits for it to return, or for ctx to be done
func (p *Process) Stop(ctx context.Context) error {
	p.runningMu.Lock()
	if !p.isRunning || p.stopped {
		p.stopped = true
		p.runningMu.Unlock()
		return ErrNotRunning
	}
	p.stopped = true
	p.runningMu.Unlock()

	close(p.close)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return nil
	}
}
