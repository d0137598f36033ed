package config

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the transform a session applies. It is fixed for the
// lifetime of a session.
type Direction int

const (
	Encrypt Direction = iota
	Decrypt
)

// Trigger refers to the file operation that activates a session's policy
type Trigger int

const (
	Create Trigger = iota
	Delete
	Modify
)

// Mode is the scope of a transform once a trigger has fired.
//
//   - Individual transforms exactly the file named by the event
//   - Group transforms the file only if it matches one of the configured groups
//   - All sweeps every eligible file under the watched directory
type Mode int

const (
	Individual Mode = iota
	Group
	All
)

// Cipher selects the symmetric scheme used to seal files
type Cipher int

const (
	Fernet Cipher = iota
	Secretbox
	Age
)

// Backend selects the implementation used to watch the directory tree
type Backend int

const (
	Poll Backend = iota
	Notify
)

var (
	directionNames = []string{"encrypt", "decrypt"}
	triggerNames   = []string{"create", "delete", "modify"}
	modeNames      = []string{"individual", "group", "all"}
	cipherNames    = []string{"fernet", "secretbox", "age"}
	backendNames   = []string{"poll", "notify"}
)

func nameOf(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("unknown(%d)", i)
	}
	return names[i]
}

func indexOf(names []string, kind string, text []byte) (int, error) {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w %s %q, expected one of %s", ErrUnknownValue, kind, s, strings.Join(names, ", "))
}

func (d Direction) String() string { return nameOf(directionNames, int(d)) }
func (t Trigger) String() string   { return nameOf(triggerNames, int(t)) }
func (m Mode) String() string      { return nameOf(modeNames, int(m)) }
func (c Cipher) String() string    { return nameOf(cipherNames, int(c)) }
func (b Backend) String() string   { return nameOf(backendNames, int(b)) }

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
func (t Trigger) MarshalText() ([]byte, error)   { return []byte(t.String()), nil }
func (m Mode) MarshalText() ([]byte, error)      { return []byte(m.String()), nil }
func (c Cipher) MarshalText() ([]byte, error)    { return []byte(c.String()), nil }
func (b Backend) MarshalText() ([]byte, error)   { return []byte(b.String()), nil }

func (d *Direction) UnmarshalText(text []byte) error {
	i, err := indexOf(directionNames, "direction", text)
	*d = Direction(i)
	return err
}

func (t *Trigger) UnmarshalText(text []byte) error {
	i, err := indexOf(triggerNames, "trigger", text)
	*t = Trigger(i)
	return err
}

func (m *Mode) UnmarshalText(text []byte) error {
	i, err := indexOf(modeNames, "mode", text)
	*m = Mode(i)
	return err
}

func (c *Cipher) UnmarshalText(text []byte) error {
	i, err := indexOf(cipherNames, "cipher", text)
	*c = Cipher(i)
	return err
}

func (b *Backend) UnmarshalText(text []byte) error {
	i, err := indexOf(backendNames, "watcher", text)
	*b = Backend(i)
	return err
}

// Opposite returns the other direction
func (d Direction) Opposite() Direction {
	if d == Encrypt {
		return Decrypt
	}
	return Encrypt
}

// DefaultPollInterval is used by the polling watcher when no interval is set
const DefaultPollInterval = 100 * time.Millisecond

// DefaultSettle is how long a file must go unmodified before it is transformed
const DefaultSettle = time.Second

// Log configures the logrus sink for the process
type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// Session is the configuration of a single monitored directory.
// Optional fields:
//   - Groups is only consulted in Group mode
//   - Ignore holds doublestar globs, relative to Directory, that are never transformed
//   - Verify decrypts freshly encrypted output and compares digests before the source is removed
//   - Settle is how long a file must go unmodified before it is read; negative disables the wait
//   - Schedule is a cron spec (with seconds) on which a full sweep is queued
//   - SweepOnExit names an executable; a full sweep is queued whenever it exits
type Session struct {
	Name        string        `yaml:"name" toml:"name"`
	Direction   Direction     `yaml:"direction" toml:"direction"`
	Trigger     Trigger       `yaml:"trigger" toml:"trigger"`
	Mode        Mode          `yaml:"mode" toml:"mode"`
	Directory   string        `yaml:"directory" toml:"directory"`
	Key         string        `yaml:"key" toml:"key"`
	Cipher      Cipher        `yaml:"cipher" toml:"cipher"`
	Watcher     Backend       `yaml:"watcher" toml:"watcher"`
	Interval    time.Duration `yaml:"interval" toml:"interval"`
	Settle      time.Duration `yaml:"settle" toml:"settle"`
	Groups      []string      `yaml:"groups" toml:"groups"`
	Ignore      []string      `yaml:"ignore" toml:"ignore"`
	Verify      bool          `yaml:"verify" toml:"verify"`
	Schedule    string        `yaml:"schedule" toml:"schedule"`
	SweepOnExit string        `yaml:"sweep_on_exit" toml:"sweep_on_exit"`
}

// PollInterval returns the configured interval or the default
func (s Session) PollInterval() time.Duration {
	if s.Interval <= 0 {
		return DefaultPollInterval
	}
	return s.Interval
}

// SettlePeriod returns the configured quiet period, the default when unset,
// or zero when waiting is disabled
func (s Session) SettlePeriod() time.Duration {
	switch {
	case s.Settle < 0:
		return 0
	case s.Settle == 0:
		return DefaultSettle
	}
	return s.Settle
}

// Label identifies the session in logs
func (s Session) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s:%s", s.Direction, s.Directory)
}
