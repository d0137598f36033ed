// Package transform encrypts and decrypts files in place on disk.
//
// A transform reads the whole source, seals or opens it, writes the result
// next to the source under its complementary name and only then removes
// the source. Output is written to a scratch file and renamed into place,
// so a failure at any step leaves the source untouched and no partial
// output behind.
//
// A file that is still being written must not be read half way. Settle
// waits for the source to go quiet, and One checks the source is unchanged
// before removing it, reporting ErrChanged with the source left in place.
package transform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/mickyco94/labyrinth/internal/crypto"
	"github.com/mickyco94/labyrinth/internal/policy"
	"github.com/sirupsen/logrus"
)

// Options tune a Transformer
type Options struct {
	// Ignore holds doublestar patterns, relative to the sweep root, that
	// sweeps skip
	Ignore []string
	// Verify opens freshly sealed output and compares it to the source
	// before anything is written
	Verify bool
	// Settle is how long a source must go unmodified before it is read.
	// Zero or less reads it straight away.
	Settle time.Duration
}

//settleRounds bounds how long Settle waits, in quiet periods
const settleRounds = 30

// Transformer applies a crypto.Provider to files
type Transformer struct {
	provider crypto.Provider
	logger   logrus.FieldLogger
	options  Options

	//write is replaced in tests to simulate I/O faults
	write func(f *os.File, data []byte) (int, error)
}

func New(provider crypto.Provider, logger logrus.FieldLogger, options Options) *Transformer {
	return &Transformer{
		provider: provider,
		logger:   logger,
		options:  options,
		write: func(f *os.File, data []byte) (int, error) {
			return f.Write(data)
		},
	}
}

// One transforms the file at path in the given direction and returns the
// path of the result.
func (t *Transformer) One(path string, direction config.Direction) (string, error) {
	fail := func(op Op, err error) (string, error) {
		return "", &Error{Path: path, Direction: direction, Op: op, Err: err}
	}

	if !policy.Encryptable(path, direction) {
		return fail(OpStat, ErrIneligible)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return fail(OpStat, err)
	}
	if !info.Mode().IsRegular() {
		return fail(OpStat, ErrNotRegular)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(OpRead, err)
	}

	var out []byte
	if direction == config.Encrypt {
		if out, err = t.provider.Encrypt(data); err != nil {
			return fail(OpEncrypt, err)
		}
		if t.options.Verify {
			if err := t.verify(data, out); err != nil {
				return fail(OpVerify, err)
			}
		}
	} else {
		if out, err = t.provider.Decrypt(data); err != nil {
			return fail(OpDecrypt, err)
		}
	}

	target := policy.Target(path, direction)

	if err := t.replace(target, out, info.Mode().Perm()); err != nil {
		return fail(OpWrite, err)
	}

	//Anything written to the source since it was read would be lost with it
	current, err := os.Lstat(path)
	if err != nil || current.Size() != info.Size() || !current.ModTime().Equal(info.ModTime()) {
		if rollbackErr := os.Remove(target); rollbackErr != nil {
			t.logger.
				WithError(rollbackErr).
				WithField("path", target).
				Error("Failed to remove output of a changed source")
		}
		if err != nil {
			return fail(OpStat, err)
		}
		return fail(OpSettle, ErrChanged)
	}

	if err := os.Remove(path); err != nil {
		//Put the tree back the way it was found
		if rollbackErr := os.Remove(target); rollbackErr != nil {
			t.logger.
				WithError(rollbackErr).
				WithField("path", target).
				Error("Failed to remove output after the source could not be removed")
		}
		return fail(OpRemove, err)
	}

	t.logger.
		WithField("path", path).
		WithField("target", target).
		WithField("direction", direction.String()).
		Info("Transformed file")

	return target, nil
}

// Settle blocks until the file at path has gone unmodified for the quiet
// period set in Options. It gives up with ErrUnsettled if the file is still
// changing after many periods, and returns early once ctx is done.
func (t *Transformer) Settle(ctx context.Context, path string, direction config.Direction) error {
	quiet := t.options.Settle
	if quiet <= 0 {
		return nil
	}

	fail := func(op Op, err error) error {
		return &Error{Path: path, Direction: direction, Op: op, Err: err}
	}

	deadline := time.Now().Add(quiet * settleRounds)

	for {
		info, err := os.Lstat(path)
		if err != nil {
			return fail(OpStat, err)
		}

		age := time.Since(info.ModTime())
		if age >= quiet {
			return nil
		}
		if time.Now().After(deadline) {
			return fail(OpSettle, ErrUnsettled)
		}

		//A modification time in the future still waits one period at a time
		wait := quiet - age
		if wait > quiet {
			wait = quiet
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fail(OpSettle, ctx.Err())
		case <-timer.C:
		}
	}
}

func (t *Transformer) verify(plaintext, sealed []byte) error {
	opened, err := t.provider.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerify, err)
	}
	if xxhash.Sum64(opened) != xxhash.Sum64(plaintext) || len(opened) != len(plaintext) {
		return ErrVerify
	}
	return nil
}

// replace writes data to a scratch file beside target and renames it over
// target. The scratch file is removed on any failure.
func (t *Transformer) replace(target string, data []byte, perm fs.FileMode) (err error) {
	scratch, err := os.CreateTemp(filepath.Dir(target), policy.ScratchPattern(target))
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			scratch.Close()
			os.Remove(scratch.Name())
		}
	}()

	if _, err = t.write(scratch, data); err != nil {
		return err
	}
	if err = scratch.Sync(); err != nil {
		return err
	}
	if err = scratch.Close(); err != nil {
		return err
	}
	if err = os.Chmod(scratch.Name(), perm); err != nil {
		return err
	}

	return os.Rename(scratch.Name(), target)
}

// Summary is the outcome of a sweep
type Summary struct {
	Transformed int
	Skipped     int
	Failures    []*Error
}

// All transforms every eligible file below root. A failure on one file is
// recorded and the sweep carries on; the returned error is reserved for a
// root that cannot be swept at all, or for ctx ending the sweep early.
func (t *Transformer) All(ctx context.Context, root string, direction config.Direction) (Summary, error) {
	summary := Summary{}

	info, err := os.Stat(root)
	if err != nil {
		return summary, err
	}
	if !info.IsDir() {
		return summary, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	logger := t.logger.
		WithField("root", root).
		WithField("direction", direction.String())

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			failure := &Error{Path: path, Direction: direction, Op: OpStat, Err: err}
			summary.Failures = append(summary.Failures, failure)
			logger.WithError(failure).Error("Sweep could not read path")
			return nil
		}

		if d.IsDir() {
			return nil
		}

		if !d.Type().IsRegular() ||
			policy.Ignored(root, path, t.options.Ignore) ||
			!policy.Encryptable(path, direction) {
			summary.Skipped++
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		err = t.Settle(ctx, path, direction)
		if err == nil {
			_, err = t.One(path, direction)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var failure *Error
			if !errors.As(err, &failure) {
				failure = &Error{Path: path, Direction: direction, Op: OpWrite, Err: err}
			}
			summary.Failures = append(summary.Failures, failure)
			logger.WithError(failure).Error("Failed to transform file")
			return nil
		}

		summary.Transformed++
		return nil
	})

	logger.
		WithField("transformed", summary.Transformed).
		WithField("skipped", summary.Skipped).
		WithField("failed", len(summary.Failures)).
		Info("Sweep complete")

	return summary, err
}
