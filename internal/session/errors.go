package session

import (
	"errors"
	"fmt"
)

var (
	ErrDirectoryMissing    = errors.New("Directory does not exist")
	ErrDirectoryUnreadable = errors.New("Directory is not readable")
	ErrWatcher             = errors.New("Directory watch failed")
	ErrOverlappingSession  = errors.New("Directory overlaps a running session of the opposite direction")
)

// StartError is returned when a session cannot begin monitoring. The
// underlying cause is one of the package sentinels, a crypto key error or a
// config validation error.
type StartError struct {
	Session string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting session %s: %v", e.Session, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }
