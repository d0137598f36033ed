package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/mickyco94/labyrinth/internal/config"
)

var (
	ErrAlreadyRunning = errors.New("Already running")
	ErrNotRunning     = errors.New("Not running")
	ErrNotDirectory   = errors.New("Watched path is not a directory")
	ErrRootDeleted    = errors.New("Watched directory was deleted")
)

// Event is a single filesystem change below a watched root
type Event struct {
	Path    string
	Trigger config.Trigger
	Dir     bool
}

// Handler receives events. It is invoked on the watcher's own goroutine,
// so it must return quickly and leave slow work to someone else.
type Handler func(Event)

// Source is a recursive directory watcher.
//
// Run blocks until Stop is called, returning nil, or until the watch can
// no longer be maintained, returning the cause.
type Source interface {
	Add(root string, handler Handler) error
	Run() error
	Stop(ctx context.Context) error
}

type fileEntry struct {
	//root is the directory being watched, recursively
	root string
	//handler will be executed for every event below root
	handler Handler
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func dispatch(entries []fileEntry, event Event) {
	for _, entry := range entries {
		if within(entry.root, event.Path) {
			entry.handler(event)
		}
	}
}
