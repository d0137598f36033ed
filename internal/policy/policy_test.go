package policy

import (
	"testing"

	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/mickyco94/labyrinth/internal/watcher"
	"github.com/stretchr/testify/assert"
)

func TestMatchesGroup(t *testing.T) {
	assert.True(t, MatchesGroup("/a/b/c.txt", []string{"b"}))
	assert.False(t, MatchesGroup("/a/b/c.txt", []string{"z"}))
	assert.False(t, MatchesGroup("/a/b/c.txt", []string{}))
	assert.False(t, MatchesGroup("/a/b/c.txt", nil))

	assert.True(t, MatchesGroup("/a/b/c.txt", []string{"z", "  c.txt "}))
	assert.False(t, MatchesGroup("/a/b/c.txt", []string{"", "   "}))
}

func TestEligibility(t *testing.T) {
	cases := []struct {
		direction config.Direction
		trigger   config.Trigger
		marked    bool
		plain     bool
	}{
		{config.Encrypt, config.Create, false, true},
		{config.Encrypt, config.Modify, false, true},
		{config.Encrypt, config.Delete, true, false},
		{config.Decrypt, config.Create, true, false},
		{config.Decrypt, config.Modify, true, false},
		{config.Decrypt, config.Delete, false, true},
	}

	for _, c := range cases {
		assert.Equal(t, c.marked, Eligible("/r/f.txt.encrypted", c.direction, c.trigger), "%s/%s marked", c.direction, c.trigger)
		assert.Equal(t, c.plain, Eligible("/r/f.txt", c.direction, c.trigger), "%s/%s plain", c.direction, c.trigger)
	}
}

func TestMarkerExclusivity(t *testing.T) {
	paths := []string{"/r/a.txt", "/r/a.txt.encrypted", "/r/.encrypted", "/r/a.encrypted.txt"}

	for _, p := range paths {
		if HasMarker(p) {
			assert.False(t, Encryptable(p, config.Encrypt), p)
		} else {
			assert.False(t, Encryptable(p, config.Decrypt), p)
		}
	}
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "/r/notes.txt.encrypted", Target("/r/notes.txt", config.Encrypt))
	assert.Equal(t, "/r/notes.txt", Target("/r/notes.txt.encrypted", config.Decrypt))
	assert.Equal(t, "/r/x.encrypted", Target("/r/x.encrypted.encrypted", config.Decrypt))
}

func TestScratchFilesAreNeverEligible(t *testing.T) {
	scratch := "/r/notes.txt.encrypted.labyrinth-tmp-1234"
	assert.True(t, IsScratch(scratch))

	for _, d := range []config.Direction{config.Encrypt, config.Decrypt} {
		for _, tr := range []config.Trigger{config.Create, config.Delete, config.Modify} {
			assert.False(t, Eligible(scratch, d, tr))
		}
		assert.False(t, Encryptable(scratch, d))
	}
}

func TestIgnored(t *testing.T) {
	patterns := []string{"**/*.swp", "build/**"}

	assert.True(t, Ignored("/r", "/r/a/.notes.txt.swp", patterns))
	assert.True(t, Ignored("/r", "/r/build/out/bin", patterns))
	assert.False(t, Ignored("/r", "/r/src/build.go", patterns))
	assert.False(t, Ignored("/r", "/r/a.txt", nil))
	assert.False(t, Ignored("/r", "/r/a.txt", []string{"[unterminated"}))
}

func TestDecide(t *testing.T) {
	encryptOnCreate := Rules{
		Direction: config.Encrypt,
		Trigger:   config.Create,
		Mode:      config.Individual,
		Root:      "/r",
	}

	file := watcher.Event{Path: "/r/notes.txt", Trigger: config.Create}

	t.Run("individual", func(t *testing.T) {
		d := Decide(file, encryptOnCreate)
		assert.Equal(t, Decision{Action: TransformOne, Path: "/r/notes.txt"}, d)
	})

	t.Run("directories never transform", func(t *testing.T) {
		dir := watcher.Event{Path: "/r/sub", Trigger: config.Create, Dir: true}
		assert.Equal(t, NoOp, Decide(dir, encryptOnCreate).Action)
	})

	t.Run("trigger mismatch", func(t *testing.T) {
		modified := watcher.Event{Path: "/r/notes.txt", Trigger: config.Modify}
		assert.Equal(t, NoOp, Decide(modified, encryptOnCreate).Action)
	})

	t.Run("already encrypted", func(t *testing.T) {
		marked := watcher.Event{Path: "/r/notes.txt.encrypted", Trigger: config.Create}
		assert.Equal(t, NoOp, Decide(marked, encryptOnCreate).Action)
	})

	t.Run("group", func(t *testing.T) {
		rules := encryptOnCreate
		rules.Mode = config.Group
		rules.Groups = []string{"taxes"}

		assert.Equal(t, NoOp, Decide(file, rules).Action)

		inGroup := watcher.Event{Path: "/r/taxes/2024.pdf", Trigger: config.Create}
		assert.Equal(t, Decision{Action: TransformOne, Path: inGroup.Path}, Decide(inGroup, rules))

		rules.Groups = nil
		assert.Equal(t, NoOp, Decide(inGroup, rules).Action)
	})

	t.Run("all", func(t *testing.T) {
		rules := encryptOnCreate
		rules.Mode = config.All
		assert.Equal(t, Decision{Action: TransformAll}, Decide(file, rules))
	})

	t.Run("ignored", func(t *testing.T) {
		rules := encryptOnCreate
		rules.Ignore = []string{"*.txt"}
		assert.Equal(t, NoOp, Decide(file, rules).Action)
	})

	t.Run("decrypt on delete of plaintext", func(t *testing.T) {
		rules := Rules{Direction: config.Decrypt, Trigger: config.Delete, Mode: config.All, Root: "/r"}

		deleted := watcher.Event{Path: "/r/scratch.txt", Trigger: config.Delete}
		assert.Equal(t, TransformAll, Decide(deleted, rules).Action)

		deletedMarked := watcher.Event{Path: "/r/old.txt.encrypted", Trigger: config.Delete}
		assert.Equal(t, NoOp, Decide(deletedMarked, rules).Action)
	})
}

func TestDecideIsDeterministic(t *testing.T) {
	rules := Rules{
		Direction: config.Decrypt,
		Trigger:   config.Modify,
		Mode:      config.Group,
		Root:      "/r",
		Groups:    []string{"a"},
	}
	events := []watcher.Event{
		{Path: "/r/a/x.encrypted", Trigger: config.Modify},
		{Path: "/r/b/x.encrypted", Trigger: config.Modify},
		{Path: "/r/a/x", Trigger: config.Modify},
		{Path: "/r/a", Trigger: config.Modify, Dir: true},
	}

	for _, e := range events {
		first := Decide(e, rules)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Decide(e, rules))
		}
	}
}

func TestRulesFor(t *testing.T) {
	s := config.Session{
		Direction: config.Decrypt,
		Trigger:   config.Delete,
		Mode:      config.Group,
		Directory: "/r",
		Groups:    []string{"g"},
		Ignore:    []string{"*.tmp"},
	}

	assert.Equal(t, Rules{
		Direction: config.Decrypt,
		Trigger:   config.Delete,
		Mode:      config.Group,
		Root:      "/r",
		Groups:    []string{"g"},
		Ignore:    []string{"*.tmp"},
	}, RulesFor(s))
}
