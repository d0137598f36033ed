package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownValue     = errors.New("Unknown")
	ErrUnknownFormat    = errors.New("Unsupported config format")
	ErrNoSessions       = errors.New("No sessions defined")
	ErrMissingDirectory = errors.New("Session has no directory")
	ErrMissingKey       = errors.New("Session has no key file")
	ErrDuplicateName    = errors.New("Duplicate session name")
	ErrInvalidSchedule  = errors.New("Invalid schedule")
	ErrInvalidGroups    = errors.New("Malformed group list")
)

// Format is the encoding of a config file
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// Raw is the unprocessed configuration for the labyrinth daemon
type Raw struct {
	Log          Log       `yaml:"log" toml:"log"`
	AllowOverlap bool      `yaml:"allow_overlap" toml:"allow_overlap"`
	Sessions     []Session `yaml:"sessions" toml:"sessions"`
}

// FormatOf determines the config format from a file extension
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Load reads, parses and validates the config at path
func Load(path string) (*Raw, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := &Raw{}
	if err := r.Parse(file, format); err != nil {
		return nil, err
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// Parse reads config from the specified reader into the struct
func (r *Raw) Parse(reader io.Reader, format Format) error {
	switch format {
	case YAML:
		decoder := yaml.NewDecoder(reader)
		decoder.KnownFields(true)
		if err := decoder.Decode(r); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	case TOML:
		if _, err := toml.NewDecoder(reader).Decode(r); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	for i := range r.Sessions {
		r.Sessions[i].Directory = ExpandHome(r.Sessions[i].Directory)
		r.Sessions[i].Key = ExpandHome(r.Sessions[i].Key)
		//Entries may themselves be comma separated lists
		r.Sessions[i].Groups = SplitGroups(strings.Join(r.Sessions[i].Groups, ","))
	}
	r.Log.File = ExpandHome(r.Log.File)

	return nil
}

// Validate checks that every session is logically complete.
// Filesystem state is not inspected here, that happens when a session starts.
func (r *Raw) Validate() error {
	if len(r.Sessions) == 0 {
		return ErrNoSessions
	}

	seen := make(map[string]struct{})
	for i, s := range r.Sessions {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("session %d (%s): %w", i, s.Label(), err)
		}
		if s.Name == "" {
			continue
		}
		if _, exists := seen[s.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	return nil
}

var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron spec in the seconds-first format used by sessions
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

// Validate checks a single session
func (s Session) Validate() error {
	if strings.TrimSpace(s.Directory) == "" {
		return ErrMissingDirectory
	}
	if strings.TrimSpace(s.Key) == "" {
		return ErrMissingKey
	}
	for _, g := range s.Groups {
		if strings.Contains(g, "\x00") {
			return fmt.Errorf("%w: %q", ErrInvalidGroups, g)
		}
	}
	if s.Schedule != "" {
		if _, err := ParseSchedule(s.Schedule); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, s.Schedule, err)
		}
	}
	return nil
}

// SplitGroups turns a comma separated group list, as typed by a user,
// into a GroupSet
func SplitGroups(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	var groups []string
	for _, g := range strings.Split(list, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
