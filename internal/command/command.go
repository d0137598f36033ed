// Package command defines the labyrinth command line
package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mickyco94/labyrinth/internal/config"
	"github.com/mickyco94/labyrinth/internal/crypto"
	"github.com/mickyco94/labyrinth/internal/runner"
	"github.com/mickyco94/labyrinth/internal/transform"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	ErrKeyExists       = errors.New("Key file already exists")
	ErrSweepIncomplete = errors.New("Sweep finished with failures")
)

var (
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
	muted   = color.New(color.Faint).SprintFunc()
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "path to a .yml or .toml config file",
	Required: true,
}

var cipherFlag = &cli.StringFlag{
	Name:  "cipher",
	Value: config.Fernet.String(),
	Usage: "fernet, secretbox or age",
}

// New builds the labyrinth application
func New() *cli.App {
	return &cli.App{
		Name:  "labyrinth",
		Usage: "encrypt and decrypt files as they change",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "monitor every session in a config file until interrupted",
				Flags:  []cli.Flag{configFlag},
				Action: run,
			},
			sweepCommand(config.Encrypt),
			sweepCommand(config.Decrypt),
			{
				Name:  "keygen",
				Usage: "write a new key file",
				Flags: []cli.Flag{
					cipherFlag,
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "path of the key file to create",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "overwrite an existing key file",
					},
				},
				Action: keygen,
			},
			{
				Name:   "check",
				Usage:  "validate a config file without starting anything",
				Flags:  []cli.Flag{configFlag},
				Action: check,
			},
		},
	}
}

func run(ctx *cli.Context) error {
	return runner.Run(config.ExpandHome(ctx.String("config")))
}

func sweepCommand(direction config.Direction) *cli.Command {
	return &cli.Command{
		Name:  direction.String(),
		Usage: fmt.Sprintf("%s every eligible file below a directory once", direction),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dir",
				Aliases:  []string{"d"},
				Usage:    "directory to sweep",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "key",
				Aliases:  []string{"k"},
				Usage:    "key file",
				Required: true,
			},
			cipherFlag,
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "check sealed output opens before replacing the source",
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "wait for each file to go this long unmodified first",
			},
			&cli.StringSliceFlag{
				Name:  "ignore",
				Usage: "doublestar pattern, relative to dir, to leave alone",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log every file",
			},
		},
		Action: func(ctx *cli.Context) error {
			return sweep(ctx, direction)
		},
	}
}

func parseCipher(ctx *cli.Context) (config.Cipher, error) {
	var cipher config.Cipher
	err := cipher.UnmarshalText([]byte(ctx.String("cipher")))
	return cipher, err
}

func sweep(ctx *cli.Context, direction config.Direction) error {
	cipher, err := parseCipher(ctx)
	if err != nil {
		return err
	}

	provider, err := crypto.Load(cipher, config.ExpandHome(ctx.String("key")))
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(ctx.App.ErrWriter)
	logger.SetLevel(logrus.WarnLevel)
	if ctx.Bool("verbose") {
		logger.SetLevel(logrus.InfoLevel)
	}

	transformer := transform.New(provider, logger, transform.Options{
		Ignore: ctx.StringSlice("ignore"),
		Verify: ctx.Bool("verify"),
		Settle: ctx.Duration("settle"),
	})

	summary, err := transformer.All(ctx.Context, config.ExpandHome(ctx.String("dir")), direction)
	if err != nil {
		return err
	}

	printSummary(ctx.App.Writer, direction, summary)

	if len(summary.Failures) > 0 {
		return fmt.Errorf("%w: %d of %d", ErrSweepIncomplete, len(summary.Failures), len(summary.Failures)+summary.Transformed)
	}
	return nil
}

func printSummary(w io.Writer, direction config.Direction, summary transform.Summary) {
	for _, f := range summary.Failures {
		fmt.Fprintf(w, "%s %s: %s: %v\n", failure("✗"), f.Path, f.Op, f.Err)
	}

	fmt.Fprintf(w, "%s %d %sed, %s\n",
		success("✓"),
		summary.Transformed,
		direction,
		muted(fmt.Sprintf("%d skipped", summary.Skipped)),
	)

	if len(summary.Failures) > 0 {
		fmt.Fprintf(w, "%s %d failed\n", failure("✗"), len(summary.Failures))
	}
}

func keygen(ctx *cli.Context) error {
	cipher, err := parseCipher(ctx)
	if err != nil {
		return err
	}

	out := config.ExpandHome(ctx.String("out"))

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !ctx.Bool("force") {
		flags |= os.O_EXCL
	}

	key, err := crypto.Generate(cipher)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
		return err
	}

	file, err := os.OpenFile(out, flags, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, out)
		}
		return err
	}

	if _, err := file.Write(key); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	fmt.Fprintf(ctx.App.Writer, "%s %s key written to %s\n", success("✓"), cipher, out)
	return nil
}

func check(ctx *cli.Context) error {
	path := config.ExpandHome(ctx.String("config"))

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if _, _, err := runner.NewLogger(config.Log{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return err
	}

	for _, s := range cfg.Sessions {
		fmt.Fprintf(ctx.App.Writer, "%s %s: %s on %s, %s mode, %s\n",
			success("✓"),
			s.Label(),
			s.Direction,
			s.Trigger,
			s.Mode,
			muted(s.Directory),
		)
	}
	return nil
}
