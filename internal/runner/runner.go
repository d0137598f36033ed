package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/mickyco94/labyrinth/internal/session"
	"github.com/sirupsen/logrus"
)

var (
	ErrLogFormat         = errors.New("Unknown log format")
	ErrAllSessionsFailed = errors.New("Every session has failed")
)

var shutdownDelay = time.Second * 5

// Runner hosts the sessions of one config file until it is interrupted
type Runner struct {
	logger  logrus.FieldLogger
	manager *session.Manager
}

func New(logger logrus.FieldLogger, allowOverlap bool) *Runner {
	return &Runner{
		logger:  logger,
		manager: session.NewManager(logger, allowOverlap),
	}
}

// NewLogger builds the process logger from the log section of the config.
// The returned closer releases the log file, if one was opened.
func NewLogger(cfg config.Log) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrLogFormat, cfg.Format)
	}

	if cfg.File == "" {
		return logger, io.NopCloser(nil), nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger.SetOutput(file)

	return logger, file, nil
}

// Run loads the config at configPath and monitors its sessions until
// SIGINT is received
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	go func() {
		select {
		case <-sig:
			logger.Debug("Received SIGINT, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return New(logger, cfg.AllowOverlap).Serve(ctx, cfg.Sessions)
}

// Serve starts every session and blocks until ctx is done or no session is
// left monitoring. If any session fails to start, the ones already started
// are stopped and the start error is returned.
func (runner *Runner) Serve(ctx context.Context, sessions []config.Session) error {
	for _, cfg := range sessions {
		if _, err := runner.manager.Start(cfg); err != nil {
			runner.shutdown()
			return err
		}
	}

	runner.logger.WithField("sessions", len(sessions)).Info("Monitoring")

	defer runner.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case failure := <-runner.manager.Failures():
			runner.logger.
				WithField("session", failure.Session.Config().Label()).
				WithError(failure.Err).
				Error("Session failed unexpectedly")

			if len(runner.manager.Sessions()) == 0 {
				return ErrAllSessionsFailed
			}
		}
	}
}

func (runner *Runner) shutdown() {
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownDelay)
	defer done()

	if err := runner.manager.StopAll(shutdownCtx); err != nil {
		runner.logger.WithError(err).Error("Sessions failed to shutdown")
	}
}
