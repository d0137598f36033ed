// Package policy decides, for every filesystem event a session receives,
// whether a transform should fire and on which files. Everything here is
// pure: no I/O, no clocks, the same inputs always give the same Decision.
package policy

import (
	"fmt"

	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/mickyco94/labyrinth/internal/watcher"
)

// Action is the outcome of a decision
type Action int

const (
	NoOp Action = iota
	TransformOne
	TransformAll
)

func (a Action) String() string {
	switch a {
	case NoOp:
		return "noop"
	case TransformOne:
		return "transform-one"
	case TransformAll:
		return "transform-all"
	}
	return fmt.Sprintf("unknown(%d)", int(a))
}

// Decision is what a session should do about an event.
// Path is only set for TransformOne.
type Decision struct {
	Action Action
	Path   string
}

// Rules is the slice of session configuration the policy reads
type Rules struct {
	Direction config.Direction
	Trigger   config.Trigger
	Mode      config.Mode
	Root      string
	Groups    []string
	Ignore    []string
}

// RulesFor extracts the policy rules from a session configuration
func RulesFor(s config.Session) Rules {
	return Rules{
		Direction: s.Direction,
		Trigger:   s.Trigger,
		Mode:      s.Mode,
		Root:      s.Directory,
		Groups:    s.Groups,
		Ignore:    s.Ignore,
	}
}

var noop = Decision{Action: NoOp}

// Decide maps an event onto a Decision. Directories never transform
// directly, and group matching and marker inspection both happen here,
// before any cipher is involved.
func Decide(event watcher.Event, rules Rules) Decision {
	if event.Dir {
		return noop
	}

	if event.Trigger != rules.Trigger {
		return noop
	}

	if Ignored(rules.Root, event.Path, rules.Ignore) {
		return noop
	}

	if !Eligible(event.Path, rules.Direction, rules.Trigger) {
		return noop
	}

	switch rules.Mode {
	case config.Individual:
		return Decision{Action: TransformOne, Path: event.Path}
	case config.Group:
		if MatchesGroup(event.Path, rules.Groups) {
			return Decision{Action: TransformOne, Path: event.Path}
		}
		return noop
	case config.All:
		return Decision{Action: TransformAll}
	}

	return noop
}
