package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mickyco94/labyrinth/internal/config"
	filewatcher "github.com/radovskyb/watcher"
	"github.com/sirupsen/logrus"
)

var _ Source = (*File)(nil)

// NewFile constructs a polling watcher. Polling sees removed files with
// their last known FileInfo, so deletions of directories are reported as
// such.
func NewFile(logger logrus.FieldLogger, pollingInterval time.Duration) *File {

	watcher := filewatcher.New()
	watcher.IgnoreHiddenFiles(false)
	watcher.FilterOps(
		filewatcher.Create,
		filewatcher.Write,
		filewatcher.Remove,
		filewatcher.Rename,
		filewatcher.Move,
	)

	if pollingInterval <= 0 {
		pollingInterval = config.DefaultPollInterval
	}

	return &File{
		runningMu: sync.Mutex{},
		isRunning: false,
		close:     make(chan struct{}),
		done:      make(chan struct{}),
		interval:  pollingInterval,

		logger:  logger,
		watcher: watcher,
	}
}

type File struct {
	runningMu sync.Mutex
	isRunning bool
	stopped   bool
	close     chan struct{}
	done      chan struct{}
	interval  time.Duration

	logger logrus.FieldLogger

	entries []fileEntry
	watcher *filewatcher.Watcher
}

// Add watches root and everything below it. Events are delivered to handler
// once Run has been called.
func (file *File) Add(root string, handler Handler) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	if err := file.watcher.AddRecursive(root); err != nil {
		return err
	}

	file.runningMu.Lock()
	defer file.runningMu.Unlock()

	file.entries = append(file.entries, fileEntry{
		root:    root,
		handler: handler,
	})

	return nil
}

// translate maps a polling event onto zero or more Events. A rename is
// the old path disappearing and the new one appearing.
func translate(event filewatcher.Event) []Event {
	dir := event.FileInfo != nil && event.IsDir()

	switch event.Op {
	case filewatcher.Create:
		return []Event{{Path: event.Path, Trigger: config.Create, Dir: dir}}
	case filewatcher.Write:
		return []Event{{Path: event.Path, Trigger: config.Modify, Dir: dir}}
	case filewatcher.Remove:
		return []Event{{Path: event.Path, Trigger: config.Delete, Dir: dir}}
	case filewatcher.Rename, filewatcher.Move:
		return []Event{
			{Path: event.OldPath, Trigger: config.Delete, Dir: dir},
			{Path: event.Path, Trigger: config.Create, Dir: dir},
		}
	}

	return nil
}

// Run polls until Stop is called. The watched root being deleted ends the
// run with ErrRootDeleted.
func (file *File) Run() error {
	file.runningMu.Lock()

	if file.stopped {
		file.runningMu.Unlock()
		return nil
	}
	if file.isRunning {
		file.runningMu.Unlock()
		return ErrAlreadyRunning
	}

	started := make(chan error, 1)
	go func() {
		started <- file.watcher.Start(file.interval)
	}()

	//Start only returns early on a misconfigured interval, which NewFile prevents
	file.watcher.Wait()

	file.isRunning = true
	entries := file.entries
	file.runningMu.Unlock()

	defer close(file.done)

	for {
		select {
		case <-file.close:
			file.shutdown()
			return nil
		case err := <-started:
			return err
		case event := <-file.watcher.Event:
			for _, e := range translate(event) {
				dispatch(entries, e)
			}
		case err := <-file.watcher.Error:
			if errors.Is(err, filewatcher.ErrWatchedFileDeleted) {
				file.shutdown()
				return fmt.Errorf("%w: %v", ErrRootDeleted, err)
			}
			file.logger.WithError(err).Warn("Polling watcher error")
		}
	}
}

// shutdown closes the underlying watcher. The watcher blocks while
// delivering, so its channels are drained until it confirms the close.
func (file *File) shutdown() {
	go file.watcher.Close()
	for {
		select {
		case <-file.watcher.Event:
		case <-file.watcher.Error:
		case <-file.watcher.Closed:
			return
		}
	}
}

// Stop ends Run and waits for it to return, or for ctx to be done
func (file *File) Stop(ctx context.Context) error {
	file.runningMu.Lock()

	if !file.isRunning || file.stopped {
		file.stopped = true
		file.runningMu.Unlock()
		return ErrNotRunning
	}
	file.stopped = true
	file.runningMu.Unlock()

	select {
	case file.close <- struct{}{}:
	case <-file.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-file.done:
		return nil
	}
}
