// Package session wires a directory watch to the transform policy.
//
// Each Session owns its watcher, its key and a single worker, so events
// for one session are transformed strictly one at a time and in arrival
// order, while separate sessions run independently. Sessions share no
// mutable state.
//
// An encrypting and a decrypting session watching the same files will
// pass them back and forth forever: decryption produces an unmarked file,
// which is exactly what the encrypting session reacts to. The Manager
// refuses to start such a pair unless overlap is explicitly allowed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/mickyco94/labyrinth/internal/crypto"
	"github.com/mickyco94/labyrinth/internal/executor"
	"github.com/mickyco94/labyrinth/internal/policy"
	"github.com/mickyco94/labyrinth/internal/transform"
	"github.com/mickyco94/labyrinth/internal/watcher"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle position of a session
type State int

const (
	Idle State = iota
	Monitoring
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

type Session struct {
	id     uuid.UUID
	config config.Session
	rules  policy.Rules
	logger logrus.FieldLogger

	transformer *transform.Transformer
	source      watcher.Source
	cron        *watcher.Cron
	process     *watcher.Process
	pool        *executor.Pool

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}

	//sweepQueued is set while a sweep is waiting in the queue
	sweepQueued atomic.Bool

	onFailure func(*Session, error)
}

// New validates cfg and prepares a session without starting it.
// Every error is a *StartError.
func New(cfg config.Session, logger logrus.FieldLogger) (*Session, error) {
	label := cfg.Label()
	fail := func(err error) (*Session, error) {
		return nil, &StartError{Session: label, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	root, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return fail(err)
	}
	cfg.Directory = root

	if err := checkDirectory(root); err != nil {
		return fail(err)
	}

	provider, err := crypto.Load(cfg.Cipher, cfg.Key)
	if err != nil {
		return fail(err)
	}

	id := uuid.New()
	logger = logger.
		WithField("session", label).
		WithField("id", id.String())

	if cfg.Mode == config.Group && !hasGroups(cfg.Groups) {
		logger.Warn("Group mode without any groups will never transform a file")
	}

	source, err := newSource(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrWatcher, err))
	}

	s := &Session{
		id:     id,
		config: cfg,
		rules:  policy.RulesFor(cfg),
		logger: logger,
		transformer: transform.New(provider, logger, transform.Options{
			Ignore: cfg.Ignore,
			Verify: cfg.Verify,
			Settle: cfg.SettlePeriod(),
		}),
		source: source,
		pool:   executor.NewPool(logger, executor.DefaultPoolSize),
		state:  Idle,
		done:   make(chan struct{}),
	}

	if cfg.Schedule != "" {
		s.cron = watcher.NewCron()
		err := s.cron.HandleFunc(cfg.Schedule, func() {
			s.enqueueSweep("schedule")
		})
		if err != nil {
			return fail(fmt.Errorf("%w %q: %v", config.ErrInvalidSchedule, cfg.Schedule, err))
		}
	}

	if cfg.SweepOnExit != "" {
		s.process = watcher.NewProcess(logger)
		s.process.OnExit(cfg.SweepOnExit, func() {
			s.enqueueSweep("process exit")
		})
	}

	return s, nil
}

func hasGroups(groups []string) bool {
	for _, g := range groups {
		if strings.TrimSpace(g) != "" {
			return true
		}
	}
	return false
}

func checkDirectory(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDirectoryMissing, root)
		}
		return fmt.Errorf("%w: %v", ErrDirectoryUnreadable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrDirectoryMissing, root)
	}

	dir, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnreadable, err)
	}
	defer dir.Close()

	if _, err := dir.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrDirectoryUnreadable, err)
	}
	return nil
}

func newSource(cfg config.Session, logger logrus.FieldLogger) (watcher.Source, error) {
	if cfg.Watcher == config.Notify {
		return watcher.NewNotify(logger)
	}
	return watcher.NewFile(logger, cfg.PollInterval()), nil
}

// Start subscribes to the directory and begins transforming files
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return &StartError{Session: s.config.Label(), Err: fmt.Errorf("session is %s", s.state)}
	}

	s.pool.Start()

	if err := s.source.Add(s.config.Directory, s.OnEvent); err != nil {
		s.pool.Stop(context.Background())
		return &StartError{Session: s.config.Label(), Err: fmt.Errorf("%w: %v", ErrWatcher, err)}
	}

	s.state = Monitoring

	go s.watch()

	if s.cron != nil {
		s.cron.Start()
	}

	if s.process != nil {
		go func() {
			if err := s.process.Run(); err != nil {
				s.logger.WithError(err).Warn("Process watcher stopped, exit sweeps are disabled")
			}
		}()
	}

	s.logger.
		WithField("direction", s.config.Direction.String()).
		WithField("trigger", s.config.Trigger.String()).
		WithField("mode", s.config.Mode.String()).
		WithField("directory", s.config.Directory).
		Info("Session started")

	return nil
}

// watch runs the directory watch, failing the session if it dies
func (s *Session) watch() {
	err := s.source.Run()
	if err == nil {
		return
	}

	s.mu.Lock()
	if s.state != Monitoring {
		s.mu.Unlock()
		return
	}
	s.state = Failed
	s.err = fmt.Errorf("%w: %v", ErrWatcher, err)
	s.mu.Unlock()

	s.logger.WithError(err).Error("Directory watch failed, session stopped")

	s.shutdown(context.Background())
	close(s.done)

	if s.onFailure != nil {
		s.onFailure(s, s.err)
	}
}

// OnEvent decides what the event means for this session and queues the
// resulting work. It never blocks on disk I/O.
func (s *Session) OnEvent(event watcher.Event) {
	if s.State() != Monitoring {
		return
	}

	decision := policy.Decide(event, s.rules)

	s.logger.
		WithField("path", event.Path).
		WithField("trigger", event.Trigger.String()).
		WithField("action", decision.Action.String()).
		Debug("Event received")

	switch decision.Action {
	case policy.TransformOne:
		s.enqueueTransform(decision.Path, 1)
	case policy.TransformAll:
		s.enqueueSweep("event")
	}
}

//transformAttempts bounds how often a source that changed mid transform is
//put back in the queue
const transformAttempts = 3

// enqueueTransform queues a transform of one file once it has stopped
// changing. A source written to while it was transformed is left in place
// and queued again.
func (s *Session) enqueueTransform(path string, attempt int) {
	err := s.pool.Enqueue(executor.Job{
		Service: s.config.Label(),
		Name:    "transform",
		Executor: func(ctx context.Context) error {
			err := s.transformer.Settle(ctx, path, s.config.Direction)
			if err == nil {
				_, err = s.transformer.One(path, s.config.Direction)
			}

			switch {
			case err == nil:
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, transform.ErrChanged) && attempt < transformAttempts:
				s.logger.
					WithField("path", path).
					WithField("attempt", attempt).
					Info("File changed while it was transformed, queued again")
				s.enqueueTransform(path, attempt+1)
				return nil
			}
			return err
		},
	})
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Debug("Transform not queued")
	}
}

// enqueueSweep queues a full sweep unless one is already waiting to start,
// in which case that sweep covers this request too
func (s *Session) enqueueSweep(reason string) {
	if s.State() != Monitoring {
		return
	}

	if !s.sweepQueued.CompareAndSwap(false, true) {
		s.logger.WithField("reason", reason).Debug("Sweep already queued")
		return
	}

	err := s.pool.Enqueue(executor.Job{
		Service: s.config.Label(),
		Name:    "sweep",
		Executor: func(ctx context.Context) error {
			s.sweepQueued.Store(false)
			//Per file failures are logged by the sweep itself
			_, err := s.transformer.All(ctx, s.config.Directory, s.config.Direction)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	})
	if err != nil {
		s.sweepQueued.Store(false)
		s.logger.WithError(err).Debug("Sweep not queued")
		return
	}

	s.logger.WithField("reason", reason).Debug("Sweep queued")
}

// Stop ends monitoring. A transform already underway finishes; queued work
// is discarded. Stopping a session that is not monitoring does nothing.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Monitoring {
		state := s.state
		s.mu.Unlock()
		s.logger.WithField("state", state.String()).Info("Nothing to stop")
		return nil
	}
	s.state = Stopped
	s.mu.Unlock()

	err := s.shutdown(ctx)
	close(s.done)

	s.logger.Info("Session stopped")
	return err
}

// shutdown stops every producer before the pool, so nothing new arrives
// while the pool drains
func (s *Session) shutdown(ctx context.Context) error {
	var errs []error

	if err := s.source.Stop(ctx); err != nil && !errors.Is(err, watcher.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("stopping watcher: %w", err))
	}

	if s.cron != nil {
		if err := s.cron.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping schedule: %w", err))
		}
	}

	if s.process != nil {
		if err := s.process.Stop(ctx); err != nil && !errors.Is(err, watcher.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("stopping process watcher: %w", err))
		}
	}

	if err := s.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for transforms: %w", err))
	}

	return errors.Join(errs...)
}

// ID is the handle identifying this session
func (s *Session) ID() uuid.UUID { return s.id }

// Config returns the session's configuration, with the directory made absolute
func (s *Session) Config() config.Session { return s.config }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the reason a Failed session stopped
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has stopped or failed
func (s *Session) Done() <-chan struct{} { return s.done }
