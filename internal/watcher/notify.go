package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/sirupsen/logrus"
)

var _ Source = (*Notify)(nil)

// Notify watches directories with native filesystem notifications.
//
// Native watches are not recursive, so every directory below a root is
// added individually and new directories are added as they appear. The
// set of known directories is kept so that a removal, which carries no
// file information, can still be reported as a directory.
type Notify struct {
	runningMu sync.Mutex
	isRunning bool
	stopped   bool
	close     chan struct{}
	done      chan struct{}

	logger logrus.FieldLogger

	mu      sync.Mutex
	roots   map[string]struct{}
	dirs    map[string]struct{}
	entries []fileEntry
	watcher *fsnotify.Watcher
}

// NewNotify constructs a notification based watcher
func NewNotify(logger logrus.FieldLogger) (*Notify, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Notify{
		close:   make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		roots:   make(map[string]struct{}),
		dirs:    make(map[string]struct{}),
		watcher: watcher,
	}, nil
}

// Add watches root and every directory below it
func (n *Notify) Add(root string, handler Handler) error {
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

	if _, err := n.addTree(root); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.roots[root] = struct{}{}
	n.entries = append(n.entries, fileEntry{
		root:    root,
		handler: handler,
	})

	return nil
}

// addTree watches dir and its subdirectories, returning the regular files
// found along the way
func (n *Notify) addTree(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			//Vanished between the event and the walk
			if errors.Is(err, fs.ErrNotExist) && path != dir {
				return nil
			}
			return err
		}

		if !d.IsDir() {
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		}

		if err := n.watcher.Add(path); err != nil {
			return err
		}

		n.mu.Lock()
		n.dirs[path] = struct{}{}
		n.mu.Unlock()

		return nil
	})

	return files, err
}

func (n *Notify) forget(path string) (wasDir, wasRoot bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, wasDir = n.dirs[path]
	_, wasRoot = n.roots[path]
	delete(n.dirs, path)

	//A removed directory takes its subdirectories with it
	prefix := path + string(filepath.Separator)
	for dir := range n.dirs {
		if strings.HasPrefix(dir, prefix) {
			delete(n.dirs, dir)
		}
	}
	return wasDir, wasRoot
}

// translate turns a notification into Events, extending the watch when a
// directory appears. Files already inside a directory that was moved in
// produce no notifications of their own, so they are reported as created.
func (n *Notify) translate(event fsnotify.Event) ([]Event, error) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(event.Name)
		if err != nil {
			return nil, nil
		}
		if !info.IsDir() {
			return []Event{{Path: event.Name, Trigger: config.Create}}, nil
		}

		files, err := n.addTree(event.Name)
		if err != nil {
			n.logger.WithError(err).WithField("path", event.Name).Warn("Failed to watch new directory")
		}

		events := []Event{{Path: event.Name, Trigger: config.Create, Dir: true}}
		for _, f := range files {
			events = append(events, Event{Path: f, Trigger: config.Create})
		}
		return events, nil

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		dir, root := n.forget(event.Name)
		if root {
			return nil, fmt.Errorf("%w: %s", ErrRootDeleted, event.Name)
		}
		return []Event{{Path: event.Name, Trigger: config.Delete, Dir: dir}}, nil

	case event.Has(fsnotify.Write):
		n.mu.Lock()
		_, dir := n.dirs[event.Name]
		n.mu.Unlock()
		return []Event{{Path: event.Name, Trigger: config.Modify, Dir: dir}}, nil
	}

	return nil, nil
}

// Run delivers notifications until Stop is called or a root disappears
func (n *Notify) Run() error {
	n.runningMu.Lock()
	if n.stopped {
		n.runningMu.Unlock()
		return nil
	}
	if n.isRunning {
		n.runningMu.Unlock()
		return ErrAlreadyRunning
	}
	n.isRunning = true
	n.runningMu.Unlock()

	defer close(n.done)
	defer n.watcher.Close()

	for {
		select {
		case <-n.close:
			return nil
		case event, open := <-n.watcher.Events:
			if !open {
				return errors.New("Notification channel closed unexpectedly")
			}

			events, err := n.translate(event)
			if err != nil {
				return err
			}

			n.mu.Lock()
			entries := n.entries
			n.mu.Unlock()

			for _, e := range events {
				dispatch(entries, e)
			}
		case err, open := <-n.watcher.Errors:
			if !open {
				return errors.New("Notification error channel closed unexpectedly")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				n.logger.WithError(err).Error("Notification queue overflowed, events were lost")
				continue
			}
			n.logger.WithError(err).Warn("Notification watcher error")
		}
	}
}

// Stop ends Run and waits for it to return, or for ctx to be done
func (n *Notify) Stop(ctx context.Context) error {
	n.runningMu.Lock()
	if !n.isRunning || n.stopped {
		n.stopped = true
		n.runningMu.Unlock()
		n.watcher.Close()
		return ErrNotRunning
	}
	n.stopped = true
	n.runningMu.Unlock()

	close(n.close)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return nil
	}
}
