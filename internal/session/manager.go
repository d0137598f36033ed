package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/sirupsen/logrus"
)

// Failure reports a session that stopped on its own
type Failure struct {
	Session *Session
	Err     error
}

const failureBuffer = 16

// Manager starts and stops sessions and keeps track of the ones that are
// monitoring
type Manager struct {
	logger       logrus.FieldLogger
	allowOverlap bool

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	failures chan Failure
}

// NewManager creates a manager. Unless allowOverlap is set, an encrypting
// and a decrypting session may not watch overlapping directories.
func NewManager(logger logrus.FieldLogger, allowOverlap bool) *Manager {
	return &Manager{
		logger:       logger,
		allowOverlap: allowOverlap,
		sessions:     make(map[uuid.UUID]*Session),
		failures:     make(chan Failure, failureBuffer),
	}
}

// Start validates cfg and begins monitoring. On error nothing is left
// running.
func (m *Manager) Start(cfg config.Session) (*Session, error) {
	s, err := New(cfg, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.allowOverlap {
		if other := m.conflicting(s.config); other != nil {
			return nil, &StartError{
				Session: cfg.Label(),
				Err:     fmt.Errorf("%w: %s", ErrOverlappingSession, other.config.Label()),
			}
		}
	}

	s.onFailure = m.failed

	if err := s.Start(); err != nil {
		return nil, err
	}

	m.sessions[s.ID()] = s
	return s, nil
}

// conflicting returns a running session of the opposite direction whose
// directory contains, or is contained by, the directory of cfg
func (m *Manager) conflicting(cfg config.Session) *Session {
	for _, other := range m.sessions {
		if other.config.Direction != cfg.Direction.Opposite() {
			continue
		}
		if contains(other.config.Directory, cfg.Directory) || contains(cfg.Directory, other.config.Directory) {
			return other
		}
	}
	return nil
}

func contains(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (m *Manager) failed(s *Session, err error) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	select {
	case m.failures <- Failure{Session: s, Err: err}:
	default:
		m.logger.
			WithField("session", s.config.Label()).
			WithError(err).
			Warn("Failure not delivered, nobody is listening")
	}
}

// Failures delivers sessions that stopped because their watch died
func (m *Manager) Failures() <-chan Failure {
	return m.failures
}

// Stop stops the session with the given id. An unknown id, or a session
// that already stopped, is not an error.
func (m *Manager) Stop(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	s, exists := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !exists {
		m.logger.WithField("id", id.String()).Info("Nothing to stop")
		return nil
	}

	return s.Stop(ctx)
}

// StopAll stops every running session
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			errs[i] = s.Stop(ctx)
		}(i, s)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Sessions returns the sessions currently monitoring
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
