package transform

import (
	"errors"
	"fmt"

	"github.com/mickyco94/labyrinth/internal/config"
)

var (
	ErrIneligible   = errors.New("File is not in the state this direction consumes")
	ErrNotRegular   = errors.New("Not a regular file")
	ErrNotDirectory = errors.New("Not a directory")
	ErrVerify       = errors.New("Sealed output does not open to the original content")
	ErrChanged      = errors.New("Source changed while it was being transformed")
	ErrUnsettled    = errors.New("Source kept changing")
)

// Op is the step of a transform that failed
type Op string

const (
	OpSettle  Op = "settle"
	OpStat    Op = "stat"
	OpRead    Op = "read"
	OpEncrypt Op = "encrypt"
	OpDecrypt Op = "decrypt"
	OpVerify  Op = "verify"
	OpWrite   Op = "write"
	OpRemove  Op = "remove"
)

// Error is a failure to transform a single file
type Error struct {
	Path      string
	Direction config.Direction
	Op        Op
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Direction, e.Path, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
