package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mickyco94/labyrinth/internal/config"
	filewatcher "github.com/radovskyb/watcher"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 10 * time.Millisecond

func createDummyFile(t *testing.T, base, name string) string {
	t.Helper()
	path := filepath.Join(base, name)
	require.NoError(t, os.WriteFile(path, []byte("foo_bar"), 0644))
	return path
}

func collect(events chan Event) Handler {
	return func(e Event) {
		events <- e
	}
}

// waitFor returns the first event satisfying match, skipping others
func waitFor(t *testing.T, events chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("Timed out")
			return Event{}
		}
	}
}

// collectPaths gathers the first event for each of paths, in any order
func collectPaths(t *testing.T, events chan Event, paths ...string) map[string]Event {
	t.Helper()
	want := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		want[p] = struct{}{}
	}

	seen := make(map[string]Event, len(paths))
	timeout := time.After(3 * time.Second)
	for len(seen) < len(want) {
		select {
		case e := <-events:
			if _, ok := want[e.Path]; !ok {
				continue
			}
			if _, dup := seen[e.Path]; !dup {
				seen[e.Path] = e
			}
		case <-timeout:
			t.Fatalf("Timed out, saw %d of %d paths", len(seen), len(want))
		}
	}
	return seen
}

func startFile(t *testing.T, root string, events chan Event) *File {
	t.Helper()
	listener := NewFile(logrus.New(), testInterval)
	require.NoError(t, listener.Add(root, collect(events)))

	go listener.Run()
	t.Cleanup(func() {
		listener.Stop(context.Background())
	})
	return listener
}

func TestFileCreate(t *testing.T) {
	basePath := t.TempDir()
	events := make(chan Event, 16)
	startFile(t, basePath, events)

	path := createDummyFile(t, basePath, "create.txt")

	e := waitFor(t, events, func(e Event) bool { return e.Path == path })
	assert.Equal(t, config.Create, e.Trigger)
	assert.False(t, e.Dir)
}

func TestFileRecursive(t *testing.T) {
	basePath := t.TempDir()
	nested := filepath.Join(basePath, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	events := make(chan Event, 16)
	startFile(t, basePath, events)

	path := createDummyFile(t, nested, "deep.txt")

	e := waitFor(t, events, func(e Event) bool { return e.Path == path })
	assert.Equal(t, config.Create, e.Trigger)
}

func TestFileModify(t *testing.T) {
	basePath := t.TempDir()
	path := createDummyFile(t, basePath, "modify.txt")

	events := make(chan Event, 16)
	startFile(t, basePath, events)

	require.NoError(t, os.WriteFile(path, []byte("a much longer body than before"), 0644))

	e := waitFor(t, events, func(e Event) bool { return e.Path == path })
	assert.Equal(t, config.Modify, e.Trigger)
}

func TestFileRemoval(t *testing.T) {
	basePath := t.TempDir()
	path := createDummyFile(t, basePath, "delete_me.txt")
	dir := filepath.Join(basePath, "dir")
	require.NoError(t, os.Mkdir(dir, 0755))

	events := make(chan Event, 16)
	startFile(t, basePath, events)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Remove(dir))

	//Removals arrive in no particular order
	seen := collectPaths(t, events, path, dir)

	assert.Equal(t, config.Delete, seen[path].Trigger)
	assert.False(t, seen[path].Dir)

	assert.Equal(t, config.Delete, seen[dir].Trigger)
	assert.True(t, seen[dir].Dir)
}

func TestFileRootDeletedEndsRun(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "root")
	require.NoError(t, os.Mkdir(basePath, 0755))

	listener := NewFile(logrus.New(), testInterval)
	require.NoError(t, listener.Add(basePath, func(Event) {}))

	result := make(chan error, 1)
	go func() {
		result <- listener.Run()
	}()

	<-time.After(5 * testInterval)
	require.NoError(t, os.RemoveAll(basePath))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrRootDeleted)
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out")
	}
}

func TestFileAddRejectsFiles(t *testing.T) {
	basePath := t.TempDir()
	path := createDummyFile(t, basePath, "exists.txt")

	listener := NewFile(logrus.New(), testInterval)

	assert.ErrorIs(t, listener.Add(path, func(Event) {}), ErrNotDirectory)
	assert.Error(t, listener.Add(filepath.Join(basePath, "absent"), func(Event) {}))
	assert.Len(t, listener.entries, 0)
}

func TestFileStopBeforeRun(t *testing.T) {
	listener := NewFile(logrus.New(), testInterval)

	assert.ErrorIs(t, listener.Stop(context.Background()), ErrNotRunning)
	assert.NoError(t, listener.Run())
}

func TestFileStop(t *testing.T) {
	basePath := t.TempDir()
	listener := NewFile(logrus.New(), testInterval)
	require.NoError(t, listener.Add(basePath, func(Event) {}))

	result := make(chan error, 1)
	go func() {
		result <- listener.Run()
	}()
	<-time.After(5 * testInterval)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, listener.Stop(ctx))

	assert.NoError(t, <-result)
}

func TestTranslateRename(t *testing.T) {
	events := translate(filewatcher.Event{
		Op:      filewatcher.Rename,
		Path:    "/r/new.txt",
		OldPath: "/r/old.txt",
	})

	assert.Equal(t, []Event{
		{Path: "/r/old.txt", Trigger: config.Delete},
		{Path: "/r/new.txt", Trigger: config.Create},
	}, events)

	assert.Nil(t, translate(filewatcher.Event{Op: filewatcher.Chmod, Path: "/r/x"}))
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/r", "/r"))
	assert.True(t, within("/r", "/r/a/b"))
	assert.False(t, within("/r", "/rr/a"))
	assert.False(t, within("/r/a", "/r"))
}
